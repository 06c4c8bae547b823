package device

import (
	"context"
	"fmt"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/perception"
)

// Surface is the element-level control a target exposes to the shared
// gesture flows.
type Surface interface {
	// Find returns the first of kinds located on the current screen.
	Find(ctx context.Context, kinds ...perception.ElementKind) (perception.Element, bool, error)
	Tap(ctx context.Context, element perception.Element) error
	// TypeText enters text into the focused field and dismisses any keyboard.
	TypeText(ctx context.Context, text string) error
	// Settle waits for the screen to react to the previous input.
	Settle(ctx context.Context)
}

// LikeTargets returns the like and send affordances for variant, most
// preferred first. The normal variant never falls back to priority.
func LikeTargets(variant action.LikeVariant) (like, send []perception.ElementKind) {
	if variant == action.VariantPriority {
		return []perception.ElementKind{perception.ElementLikePriority, perception.ElementLike},
			[]perception.ElementKind{perception.ElementSendPriority, perception.ElementSend}
	}
	return []perception.ElementKind{perception.ElementLike}, []perception.ElementKind{perception.ElementSend}
}

// Like taps the like affordance, optionally types comment, then sends. A send
// control that is already visible means the like dialog is open from an
// earlier attempt, so the like tap is skipped.
func Like(ctx context.Context, s Surface, variant action.LikeVariant, comment string) action.Result {
	likeKinds, sendKinds := LikeTargets(variant)

	target, ok, err := s.Find(ctx, likeKinds...)
	if err != nil {
		return action.Failed(err.Error())
	}
	if ok {
		if err := s.Tap(ctx, target); err != nil {
			return action.Failed(err.Error())
		}
		s.Settle(ctx)
	} else if _, open, err := s.Find(ctx, sendKinds...); err != nil || !open {
		return action.Failed(missing(likeKinds[0], err).Error())
	}

	if comment != "" {
		entry, ok, err := s.Find(ctx, perception.ElementCommentEntry)
		if err != nil || !ok {
			return action.Failed(missing(perception.ElementCommentEntry, err).Error())
		}
		if err := s.Tap(ctx, entry); err != nil {
			return action.Failed(err.Error())
		}
		s.Settle(ctx)
		if err := s.TypeText(ctx, comment); err != nil {
			return action.Failed(fmt.Sprintf("type comment: %v", err))
		}
		s.Settle(ctx)
	}

	send, ok, err := s.Find(ctx, sendKinds...)
	if err != nil || !ok {
		return action.Failed(missing(sendKinds[0], err).Error())
	}
	if err := s.Tap(ctx, send); err != nil {
		return action.Failed(err.Error())
	}
	sent := action.VariantNormal
	if send.Kind == perception.ElementSendPriority {
		sent = action.VariantPriority
	}
	if comment != "" {
		return action.Succeeded("liked with comment via " + send.Label).Sent(sent)
	}
	return action.Succeeded("liked via " + send.Label).Sent(sent)
}

// Reject taps the reject affordance.
func Reject(ctx context.Context, s Surface) action.Result {
	target, ok, err := s.Find(ctx, perception.ElementReject)
	if err != nil || !ok {
		return action.Failed(missing(perception.ElementReject, err).Error())
	}
	if err := s.Tap(ctx, target); err != nil {
		return action.Failed(err.Error())
	}
	return action.Succeeded("rejected via " + target.Label)
}

func missing(kind perception.ElementKind, err error) error {
	if err != nil {
		return fmt.Errorf("locate %s: %w", kind, err)
	}
	return fmt.Errorf("%w: %s", ErrElementNotFound, kind)
}
