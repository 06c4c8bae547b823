package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/session"
)

// Verdict is a generator's judgement of a subject.
type Verdict string

const (
	VerdictLike   Verdict = "like"
	VerdictReject Verdict = "reject"
	VerdictPass   Verdict = "pass"
)

// ParseVerdict normalizes a verdict string.
func ParseVerdict(value string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(VerdictLike), "yes":
		return VerdictLike, nil
	case string(VerdictReject), "no", "dislike":
		return VerdictReject, nil
	case string(VerdictPass), "skip", "":
		return VerdictPass, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", value)
	}
}

// Proposal is what a generator suggests for one subject.
type Proposal struct {
	Verdict Verdict
	Comment string
	Reason  string
}

// Generator proposes a verdict and comment from extracted content.
type Generator interface {
	Propose(ctx context.Context, content perception.Content) (Proposal, error)
}

// ContentDriven asks a generator what to do and falls back to the
// deterministic strategy when it cannot answer.
type ContentDriven struct {
	generator Generator
	fallback  *Deterministic
	options
}

// NewContentDriven constructs the content-driven strategy.
func NewContentDriven(generator Generator, opts ...Option) (*ContentDriven, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	resolved := buildOptions(opts)
	return &ContentDriven{
		generator: generator,
		fallback:  &Deterministic{options: resolved},
		options:   resolved,
	}, nil
}

// Decide implements session.Policy.
func (c *ContentDriven) Decide(ctx context.Context, snapshot perception.Snapshot, view session.View) action.Intent {
	if intent, ok := preflight(snapshot, view); ok {
		return intent
	}
	if !snapshot.Content.HasIdentity() && strings.TrimSpace(snapshot.Content.Text) == "" {
		return gate(c.fallback.decide(ctx, snapshot, view), view)
	}

	proposal, err := c.generator.Propose(ctx, snapshot.Content)
	if err != nil {
		c.logger.Warn("generator failed; using deterministic decision", "error", err)
		return gate(c.fallback.decide(ctx, snapshot, view), view)
	}
	return gate(c.fromProposal(snapshot, view, proposal), view)
}

func (c *ContentDriven) fromProposal(snapshot perception.Snapshot, view session.View, proposal Proposal) action.Intent {
	reason := strings.TrimSpace(proposal.Reason)
	switch proposal.Verdict {
	case VerdictReject:
		if reason == "" {
			reason = "generator rejected subject"
		}
		return action.Reject(reason)
	case VerdictLike:
		variant, ok := c.fallback.likeVariant(snapshot, view)
		if !ok {
			return action.Scroll("generator liked subject but no like target located")
		}
		if reason == "" {
			reason = "generator liked subject"
		}
		comment := strings.TrimSpace(proposal.Comment)
		if comment != "" && snapshot.Located(perception.ElementCommentEntry, view.ConfidenceThreshold) {
			return action.LikeWithComment(variant, comment, reason)
		}
		return action.LikeOnly(variant, reason)
	default:
		if reason == "" {
			reason = "generator passed"
		}
		return action.Scroll(reason)
	}
}
