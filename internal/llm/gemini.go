package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini completes prompts through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.model
}

// Complete implements Client.
func (g *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	return traced(ctx, ProviderGemini, g.model, req, g.complete)
}

func (g *Gemini) complete(ctx context.Context, req Request) (Response, error) {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, image := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(image, "image/png"))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return Response{}, err
	}
	out := Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		tokens := int(resp.UsageMetadata.CandidatesTokenCount)
		out.ResponseTokens = &tokens
	}
	return out, nil
}
