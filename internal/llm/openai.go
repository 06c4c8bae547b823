package llm

import (
	"context"
	"encoding/base64"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI completes prompts through the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(apiKey, model string) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClient(apiKey), model: model}
}

// Model returns the configured model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Complete implements Client.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	return traced(ctx, ProviderOpenAI, o.model, req, o.complete)
}

func (o *OpenAI) complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		user.Content = req.Prompt
	} else {
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
		for _, image := range req.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
					Detail: openai.ImageURLDetailLow,
				},
			})
		}
		user.MultiContent = parts
	}
	messages = append(messages, user)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrEmptyResponse
	}
	tokens := resp.Usage.CompletionTokens
	return Response{Text: resp.Choices[0].Message.Content, ResponseTokens: &tokens}, nil
}
