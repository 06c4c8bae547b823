package action

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies an ActionIntent variant.
type Kind string

const (
	// KindLikeWithComment sends a like together with a comment.
	KindLikeWithComment Kind = "like_with_comment"
	// KindLikeOnly sends a like without a comment.
	KindLikeOnly Kind = "like_only"
	// KindReject skips the current subject.
	KindReject Kind = "reject"
	// KindScroll issues a neutral navigation gesture.
	KindScroll Kind = "scroll"
	// KindRetryCapture asks for a fresh capture without acting.
	KindRetryCapture Kind = "retry_capture"
	// KindReset force-closes and relaunches the target application.
	KindReset Kind = "reset"
	// KindTerminate ends the session.
	KindTerminate Kind = "terminate"
)

// Irreversible reports whether the kind sends something that cannot be undone.
func (k Kind) Irreversible() bool {
	switch k {
	case KindLikeWithComment, KindLikeOnly, KindReject:
		return true
	default:
		return false
	}
}

// Valid reports whether k is a known intent kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLikeWithComment, KindLikeOnly, KindReject, KindScroll, KindRetryCapture, KindReset, KindTerminate:
		return true
	default:
		return false
	}
}

// LikeVariant selects which like affordance a like intent targets.
type LikeVariant string

const (
	// VariantPriority targets the priority send affordance.
	VariantPriority LikeVariant = "priority"
	// VariantNormal targets the regular like affordance.
	VariantNormal LikeVariant = "normal"
)

// ParseLikeVariant normalizes a configured like mode.
func ParseLikeVariant(value string) (LikeVariant, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(VariantPriority):
		return VariantPriority, nil
	case string(VariantNormal):
		return VariantNormal, nil
	default:
		return "", fmt.Errorf("unsupported like variant %q", value)
	}
}

// Other returns the alternate variant.
func (v LikeVariant) Other() LikeVariant {
	if v == VariantNormal {
		return VariantPriority
	}
	return VariantNormal
}

// Intent is an immutable description of one proposed action. Target
// coordinates are never part of an intent; executors resolve them.
type Intent struct {
	Kind    Kind
	Variant LikeVariant
	Comment string
	Reason  string
	// Pattern selects the navigation gesture for scroll intents.
	Pattern int
	// Simulated marks an irreversible intent that must not be sent physically.
	Simulated bool
}

// LikeWithComment builds a like-with-comment intent.
func LikeWithComment(variant LikeVariant, comment, reason string) Intent {
	return Intent{Kind: KindLikeWithComment, Variant: variant, Comment: strings.TrimSpace(comment), Reason: reason}
}

// LikeOnly builds a like-only intent.
func LikeOnly(variant LikeVariant, reason string) Intent {
	return Intent{Kind: KindLikeOnly, Variant: variant, Reason: reason}
}

// Reject builds a reject intent.
func Reject(reason string) Intent {
	return Intent{Kind: KindReject, Reason: reason}
}

// Scroll builds a neutral navigation intent using the default gesture.
func Scroll(reason string) Intent {
	return Intent{Kind: KindScroll, Reason: reason}
}

// ScrollPattern builds a navigation intent for a specific gesture.
func ScrollPattern(pattern int, reason string) Intent {
	return Intent{Kind: KindScroll, Pattern: pattern, Reason: reason}
}

// RetryCapture builds a retry-capture intent.
func RetryCapture(reason string) Intent {
	return Intent{Kind: KindRetryCapture, Reason: reason}
}

// Reset builds a relaunch intent.
func Reset(reason string) Intent {
	return Intent{Kind: KindReset, Reason: reason}
}

// Terminate builds a terminate intent.
func Terminate(reason string) Intent {
	return Intent{Kind: KindTerminate, Reason: reason}
}

// Irreversible reports whether executing the intent cannot be undone.
func (i Intent) Irreversible() bool {
	return i.Kind.Irreversible()
}

// AsSimulated returns a copy marked as simulated.
func (i Intent) AsSimulated() Intent {
	i.Simulated = true
	return i
}

// Degrade returns the lesser fallback intent, if one exists.
func (i Intent) Degrade() (Intent, bool) {
	if i.Kind != KindLikeWithComment {
		return Intent{}, false
	}
	return Intent{
		Kind:      KindLikeOnly,
		Variant:   i.Variant,
		Reason:    "comment send failed; degraded to like only",
		Simulated: i.Simulated,
	}, true
}

// Validate checks that the intent carries the parameters its kind requires.
func (i Intent) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("unknown intent kind %q", i.Kind)
	}
	switch i.Kind {
	case KindLikeWithComment:
		if strings.TrimSpace(i.Comment) == "" {
			return errors.New("like with comment requires comment text")
		}
		fallthrough
	case KindLikeOnly:
		if i.Variant != VariantPriority && i.Variant != VariantNormal {
			return fmt.Errorf("like intent requires a variant, got %q", i.Variant)
		}
	case KindScroll:
		if i.Pattern < 0 {
			return fmt.Errorf("scroll pattern must be >= 0, got %d", i.Pattern)
		}
	}
	return nil
}

func (i Intent) String() string {
	var b strings.Builder
	b.WriteString(string(i.Kind))
	if i.Variant != "" {
		b.WriteString("(")
		b.WriteString(string(i.Variant))
		b.WriteString(")")
	}
	if i.Simulated {
		b.WriteString("[simulated]")
	}
	return b.String()
}
