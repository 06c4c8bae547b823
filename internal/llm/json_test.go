package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare", input: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced with prose", input: "Here you go:\n```json\n{\"a\":{\"b\":2}}\n```\nthanks", want: `{"a":{"b":2}}`},
		{name: "braces inside strings", input: `{"text":"a } and { b","n":1} trailing`, want: `{"text":"a } and { b","n":1}`},
		{name: "escaped quote", input: `{"text":"say \"}\" now"}`, want: `{"text":"say \"}\" now"}`},
		{name: "missing", input: "no json here", wantErr: true},
		{name: "unterminated", input: `{"a": {"b": 1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSONObject(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSONObject(t *testing.T) {
	t.Parallel()

	var target struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	require.NoError(t, DecodeJSONObject("result: {\"name\": \"Maya\", \"age\": 29}", &target))
	assert.Equal(t, "Maya", target.Name)
	assert.Equal(t, 29, target.Age)

	assert.Error(t, DecodeJSONObject(`{"age": "old"}`, &target))
}

func TestParseProviderAliases(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Provider{
		"":       ProviderAnthropic,
		"claude": ProviderAnthropic,
		"GPT":    ProviderOpenAI,
		"google": ProviderGemini,
		"gemini": ProviderGemini,
	} {
		got, err := ParseProvider(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseProvider("mistral")
	assert.Error(t, err)
}
