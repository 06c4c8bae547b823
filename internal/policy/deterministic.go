// Package policy implements the decision strategies that turn a perceived
// snapshot into the next action intent.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/session"
)

// DefaultComment is sent when no other comment source is configured.
const DefaultComment = "Hey, I'd love to meet up!"

// Commenter composes comment text for a subject.
type Commenter interface {
	Comment(ctx context.Context, content perception.Content) (string, error)
}

// Template is a Commenter that fills {name}, {age} and {location}
// placeholders.
type Template string

// Comment renders the template for content.
func (t Template) Comment(_ context.Context, content perception.Content) (string, error) {
	text := strings.TrimSpace(string(t))
	if text == "" {
		text = DefaultComment
	}
	replacer := strings.NewReplacer(
		"{name}", content.Field("name"),
		"{age}", content.Field("age"),
		"{location}", content.Field("location"),
	)
	rendered := strings.Join(strings.Fields(replacer.Replace(text)), " ")
	rendered = strings.TrimSpace(strings.ReplaceAll(rendered, " ,", ","))
	if rendered == "" {
		return "", errors.New("template rendered empty comment")
	}
	return rendered, nil
}

// Option configures a strategy.
type Option func(*options)

type options struct {
	commenter     Commenter
	scorer        *Scorer
	priorityQuota int
	logger        *log.Logger
}

// WithCommenter sets the comment source for like-with-comment intents.
func WithCommenter(commenter Commenter) Option {
	return func(o *options) {
		if commenter != nil {
			o.commenter = commenter
		}
	}
}

// WithScorer sets the explicit negative-signal rules.
func WithScorer(scorer *Scorer) Option {
	return func(o *options) {
		o.scorer = scorer
	}
}

// WithPriorityQuota caps priority likes per session; zero means unlimited.
func WithPriorityQuota(quota int) Option {
	return func(o *options) {
		if quota > 0 {
			o.priorityQuota = quota
		}
	}
}

// WithLogger sets the strategy logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	resolved := options{
		commenter: Template(DefaultComment),
		logger:    log.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&resolved)
	}
	return resolved
}

// Deterministic decides from located elements and explicit rules only.
type Deterministic struct {
	options
}

// NewDeterministic constructs the rule-table strategy.
func NewDeterministic(opts ...Option) *Deterministic {
	return &Deterministic{options: buildOptions(opts)}
}

// Decide implements session.Policy.
func (d *Deterministic) Decide(ctx context.Context, snapshot perception.Snapshot, view session.View) action.Intent {
	if intent, ok := preflight(snapshot, view); ok {
		return intent
	}
	return gate(d.decide(ctx, snapshot, view), view)
}

func (d *Deterministic) decide(ctx context.Context, snapshot perception.Snapshot, view session.View) action.Intent {
	if reason, reject := d.scorer.Reject(snapshot.Content); reject {
		return action.Reject(reason)
	}
	variant, ok := d.likeVariant(snapshot, view)
	if !ok {
		return action.Scroll("no like target located")
	}
	if !snapshot.Located(perception.ElementCommentEntry, view.ConfidenceThreshold) {
		return action.LikeOnly(variant, "comment entry not located")
	}
	comment, err := d.commenter.Comment(ctx, snapshot.Content)
	if err != nil || strings.TrimSpace(comment) == "" {
		d.logger.Warn("comment unavailable; liking only", "error", err)
		return action.LikeOnly(variant, "comment unavailable")
	}
	return action.LikeWithComment(variant, comment, "like target and comment entry located")
}

// likeVariant applies the priority tie-break: the preferred variant wins
// when located, otherwise the other located variant is used.
func (d *Deterministic) likeVariant(snapshot perception.Snapshot, view session.View) (action.LikeVariant, bool) {
	preferred := view.LikeVariant
	if preferred == "" {
		preferred = action.VariantPriority
	}
	if preferred == action.VariantPriority && d.priorityQuota > 0 && view.PriorityLikes >= d.priorityQuota {
		preferred = action.VariantNormal
	}
	if snapshot.Located(elementFor(preferred), view.ConfidenceThreshold) {
		return preferred, true
	}
	other := preferred.Other()
	if other == action.VariantPriority && d.priorityQuota > 0 && view.PriorityLikes >= d.priorityQuota {
		return "", false
	}
	if snapshot.Located(elementFor(other), view.ConfidenceThreshold) {
		return other, true
	}
	return "", false
}

func elementFor(variant action.LikeVariant) perception.ElementKind {
	if variant == action.VariantPriority {
		return perception.ElementLikePriority
	}
	return perception.ElementLike
}

// preflight handles the rows of the rule table that do not depend on the
// strategy.
func preflight(snapshot perception.Snapshot, view session.View) (action.Intent, bool) {
	if snapshot.Located(perception.ElementEndOfFeed, view.ConfidenceThreshold) {
		return action.Terminate("end of feed"), true
	}
	if snapshot.Blank() {
		return action.RetryCapture("nothing perceived"), true
	}
	if view.Mode == session.ModeScrapeOnly {
		return action.Scroll("scrape only"), true
	}
	return action.Intent{}, false
}

// gate applies the mode constraint to an intent.
func gate(intent action.Intent, view session.View) action.Intent {
	if !intent.Irreversible() {
		return intent
	}
	switch view.Mode {
	case session.ModeNormal:
		return intent
	case session.ModeDryRun:
		return intent.AsSimulated()
	default:
		return action.Scroll(fmt.Sprintf("%s suppressed in %s mode", intent.Kind, view.Mode))
	}
}
