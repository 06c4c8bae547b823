package llm

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Claude completes prompts through the Anthropic Messages API.
type Claude struct {
	client *anthropic.Client
	model  string
}

// NewClaude creates a Claude client.
func NewClaude(apiKey, model string) *Claude {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if strings.TrimSpace(model) == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &Claude{client: &client, model: model}
}

// Model returns the configured model name.
func (c *Claude) Model() string {
	return c.model
}

// Complete implements Client.
func (c *Claude) Complete(ctx context.Context, req Request) (Response, error) {
	return traced(ctx, ProviderAnthropic, c.model, req, c.complete)
}

func (c *Claude) complete(ctx context.Context, req Request) (Response, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, image := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(image)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	tokens := int(resp.Usage.OutputTokens)
	return Response{Text: text.String(), ResponseTokens: &tokens}, nil
}
