package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/feedpilot/feedpilot/internal/llm"
	"github.com/feedpilot/feedpilot/internal/perception"
)

// Style is the tone requested from the comment generator.
type Style string

const (
	StyleBalanced        Style = "balanced"
	StyleComedic         Style = "comedic"
	StyleFlirty          Style = "flirty"
	StyleStraightforward Style = "straightforward"
)

// ParseStyle normalizes a configured comment style.
func ParseStyle(value string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(value))) {
	case "", StyleBalanced:
		return StyleBalanced, nil
	case StyleComedic:
		return StyleComedic, nil
	case StyleFlirty:
		return StyleFlirty, nil
	case StyleStraightforward:
		return StyleStraightforward, nil
	default:
		return "", fmt.Errorf("unsupported comment style %q", value)
	}
}

const generatorSystemPrompt = `You review one dating profile at a time and decide how to respond.
Answer with a single JSON object and nothing else:
{"verdict": "like" | "reject" | "pass", "comment": "<one short opener, or empty>", "reason": "<few words>"}
Use "reject" only when the profile clearly conflicts with the stated preferences.
Use "pass" when there is not enough information.
Keep the comment under 140 characters, specific to the profile, without emojis.`

// LLMGenerator proposes verdicts with a hosted model.
type LLMGenerator struct {
	client      llm.Client
	style       Style
	preferences string
	maxTokens   int
}

// NewLLMGenerator constructs a model-backed generator.
func NewLLMGenerator(client llm.Client, style Style, preferences string) (*LLMGenerator, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if style == "" {
		style = StyleBalanced
	}
	return &LLMGenerator{
		client:      client,
		style:       style,
		preferences: strings.TrimSpace(preferences),
		maxTokens:   300,
	}, nil
}

type generatorReply struct {
	Verdict string `json:"verdict"`
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

// Propose implements Generator.
func (g *LLMGenerator) Propose(ctx context.Context, content perception.Content) (Proposal, error) {
	resp, err := g.client.Complete(ctx, llm.Request{
		Operation: "propose_intent",
		System:    generatorSystemPrompt,
		Prompt:    g.prompt(content),
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("propose intent: %w", err)
	}
	var reply generatorReply
	if err := llm.DecodeJSONObject(resp.Text, &reply); err != nil {
		return Proposal{}, fmt.Errorf("decode proposal: %w", err)
	}
	verdict, err := ParseVerdict(reply.Verdict)
	if err != nil {
		return Proposal{}, err
	}
	return Proposal{
		Verdict: verdict,
		Comment: strings.TrimSpace(reply.Comment),
		Reason:  strings.TrimSpace(reply.Reason),
	}, nil
}

// Comment lets the generator serve as the deterministic strategy's
// Commenter.
func (g *LLMGenerator) Comment(ctx context.Context, content perception.Content) (string, error) {
	proposal, err := g.Propose(ctx, content)
	if err != nil {
		return "", err
	}
	if proposal.Comment == "" {
		return "", errors.New("generator returned no comment")
	}
	return proposal.Comment, nil
}

func (g *LLMGenerator) prompt(content perception.Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comment style: %s\n", g.style)
	if g.preferences != "" {
		fmt.Fprintf(&b, "Preferences: %s\n", g.preferences)
	}
	b.WriteString("Profile:\n")
	for _, field := range []string{"name", "age", "height_cm", "location", "interests"} {
		if value := content.Field(field); value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", field, value)
		}
	}
	keys := make([]string, 0, len(content.Attributes))
	for key := range content.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if value := strings.TrimSpace(content.Attributes[key]); value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", key, value)
		}
	}
	if text := content.Field("text"); text != "" {
		fmt.Fprintf(&b, "Prompts and answers:\n%s\n", text)
	}
	return b.String()
}
