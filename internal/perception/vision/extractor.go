// Package vision reads subject content out of a screenshot with a hosted
// multimodal model.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/feedpilot/feedpilot/internal/llm"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/perception/uixml"
)

const extractSystemPrompt = `You read one screenshot of a dating profile.
Answer with a single JSON object and nothing else:
{"name": "", "age": 0, "height": "", "location": "", "interests": [], "text": "", "attributes": {}}
Copy values exactly as shown. Leave a field empty when it is not visible.
"text" holds prompts and answers, one "prompt: answer" pair per line.
"attributes" holds other labelled facts such as job, education, hometown, religion, drinking or smoking, keyed in snake_case.`

// Extractor implements perception.ContentExtractor.
type Extractor struct {
	client    llm.Client
	maxTokens int
}

// New builds an extractor around client.
func New(client llm.Client) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	return &Extractor{client: client, maxTokens: 800}, nil
}

type extractReply struct {
	Name       string            `json:"name"`
	Age        flexibleInt       `json:"age"`
	Height     flexibleString    `json:"height"`
	Location   string            `json:"location"`
	Interests  []string          `json:"interests"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
}

// Extract sends the screenshot to the model and parses its answer.
func (e *Extractor) Extract(ctx context.Context, image []byte) (perception.Content, error) {
	if len(image) == 0 {
		return perception.Content{}, errors.New("screenshot is empty")
	}
	resp, err := e.client.Complete(ctx, llm.Request{
		Operation: "extract_content",
		System:    extractSystemPrompt,
		Prompt:    "Extract the profile shown in this screenshot.",
		Images:    [][]byte{image},
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return perception.Content{}, fmt.Errorf("extract content: %w", err)
	}
	var reply extractReply
	if err := llm.DecodeJSONObject(resp.Text, &reply); err != nil {
		return perception.Content{}, fmt.Errorf("decode content: %w", err)
	}
	return reply.content(), nil
}

func (r extractReply) content() perception.Content {
	content := perception.Content{
		Name:     strings.TrimSpace(r.Name),
		Age:      int(r.Age),
		HeightCM: uixml.ParseHeight(string(r.Height)),
		Location: strings.TrimSpace(r.Location),
		Text:     strings.TrimSpace(r.Text),
	}
	if content.Age < 18 || content.Age > 99 {
		content.Age = 0
	}
	for _, interest := range r.Interests {
		if interest = strings.TrimSpace(interest); interest != "" {
			content.Interests = append(content.Interests, interest)
		}
	}
	for key, value := range r.Attributes {
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if content.Attributes == nil {
			content.Attributes = make(map[string]string)
		}
		content.Attributes[key] = value
	}
	return content
}

// flexibleInt accepts 29 and "29".
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		parsed, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return fmt.Errorf("not a number: %s", raw)
		}
		value = int(parsed)
	}
	*f = flexibleInt(value)
	return nil
}

// flexibleString accepts "5'9\"" and 175.
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		*f = flexibleString(unquoted)
		return nil
	}
	*f = flexibleString(raw)
	return nil
}
