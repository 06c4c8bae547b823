// Package verify decides whether an action moved the feed to a new subject by
// comparing the snapshots taken before and after it.
package verify

import (
	"fmt"
	"strings"

	"github.com/feedpilot/feedpilot/internal/perception"
)

// Outcome classifies a verification.
type Outcome string

const (
	// Progressed means a new subject is on screen.
	Progressed Outcome = "progressed"
	// NoChange means the same subject is still on screen.
	NoChange Outcome = "no_change"
	// Ambiguous means the evidence could not decide either way.
	Ambiguous Outcome = "ambiguous"
)

// Basis names the signal that decided a verification.
type Basis string

const (
	BasisDuplicateGuard Basis = "duplicate_guard"
	BasisFingerprint    Basis = "fingerprint"
	BasisLayout         Basis = "layout"
	BasisSynthetic      Basis = "synthetic"
	BasisNone           Basis = "none"
)

// Result is the immutable outcome of comparing two snapshots.
type Result struct {
	Outcome Outcome
	Basis   Basis
	Detail  string
}

// Progressed reports whether the result counts as progress.
func (r Result) Progressed() bool {
	return r.Outcome == Progressed
}

// Config holds comparison tolerances.
type Config struct {
	// AgeTolerance is the largest age delta still treated as the same subject.
	AgeTolerance int
	// TextOverlapThreshold is the word-set Jaccard below which free text
	// counts as different.
	TextOverlapThreshold float64
	// InterestOverlapThreshold is the interest-set Jaccard below which
	// interests count as different.
	InterestOverlapThreshold float64
	// FrameDistance is the largest average-hash Hamming distance still
	// treated as the same frame.
	FrameDistance int
}

// DefaultConfig returns the standard tolerances.
func DefaultConfig() Config {
	return Config{
		AgeTolerance:             5,
		TextOverlapThreshold:     0.3,
		InterestOverlapThreshold: 0.2,
		FrameDistance:            10,
	}
}

// Verifier compares pre/post snapshots.
type Verifier struct {
	cfg Config
}

// New creates a verifier. Zero config fields take their defaults.
func New(cfg Config) *Verifier {
	defaults := DefaultConfig()
	if cfg.AgeTolerance <= 0 {
		cfg.AgeTolerance = defaults.AgeTolerance
	}
	if cfg.TextOverlapThreshold <= 0 {
		cfg.TextOverlapThreshold = defaults.TextOverlapThreshold
	}
	if cfg.InterestOverlapThreshold <= 0 {
		cfg.InterestOverlapThreshold = defaults.InterestOverlapThreshold
	}
	if cfg.FrameDistance <= 0 {
		cfg.FrameDistance = defaults.FrameDistance
	}
	return &Verifier{cfg: cfg}
}

// Verify compares the snapshot taken before an action with the one taken
// after it.
func (v *Verifier) Verify(pre, post perception.Snapshot) Result {
	if key := post.Fingerprint.Key; key != "" && key == pre.Fingerprint.Key {
		return Result{
			Outcome: NoChange,
			Basis:   BasisDuplicateGuard,
			Detail:  fmt.Sprintf("duplicate key %q", key),
		}
	}

	if pre.Content.HasIdentity() && post.Content.HasIdentity() {
		if reason, changed := v.identityChanged(pre.Content, post.Content); changed {
			return Result{Outcome: Progressed, Basis: BasisFingerprint, Detail: reason}
		}
		return Result{Outcome: NoChange, Basis: BasisFingerprint, Detail: "same subject identity"}
	}

	return v.compareLayout(pre.Fingerprint, post.Fingerprint)
}

// Synthetic is the result used when the action was simulated and nothing was
// sent to the device.
func (v *Verifier) Synthetic(pre perception.Snapshot) Result {
	return Result{
		Outcome: Progressed,
		Basis:   BasisSynthetic,
		Detail:  "simulated action on " + pre.Fingerprint.String(),
	}
}

// Repeated reports whether current carries the same coarse key as the last
// subject counted as progress.
func (v *Verifier) Repeated(previous, current perception.Fingerprint) (Result, bool) {
	if key := current.Key; key != "" && key == previous.Key {
		return Result{
			Outcome: NoChange,
			Basis:   BasisDuplicateGuard,
			Detail:  fmt.Sprintf("%q already processed", key),
		}, true
	}
	return Result{}, false
}

func (v *Verifier) identityChanged(pre, post perception.Content) (string, bool) {
	preName := strings.ToLower(strings.TrimSpace(pre.Name))
	postName := strings.ToLower(strings.TrimSpace(post.Name))
	if preName != "" && postName != "" && preName != postName {
		return fmt.Sprintf("name %q -> %q", pre.Name, post.Name), true
	}
	if pre.Age > 0 && post.Age > 0 && abs(pre.Age-post.Age) > v.cfg.AgeTolerance {
		return fmt.Sprintf("age %d -> %d", pre.Age, post.Age), true
	}
	if overlap, ok := textOverlap(pre.Text, post.Text); ok && overlap < v.cfg.TextOverlapThreshold {
		return fmt.Sprintf("text overlap %.2f", overlap), true
	}
	if overlap, ok := setOverlap(pre.Interests, post.Interests); ok && overlap < v.cfg.InterestOverlapThreshold {
		return fmt.Sprintf("interest overlap %.2f", overlap), true
	}
	return "", false
}

func (v *Verifier) compareLayout(pre, post perception.Fingerprint) Result {
	layoutComparable := pre.Layout != "" && post.Layout != ""
	frameComparable := pre.Frame != 0 && post.Frame != 0

	if layoutComparable && pre.Layout != post.Layout {
		return Result{Outcome: Progressed, Basis: BasisLayout, Detail: "element layout changed"}
	}
	if frameComparable {
		if distance := perception.HammingDistance(pre.Frame, post.Frame); distance > v.cfg.FrameDistance {
			return Result{
				Outcome: Progressed,
				Basis:   BasisLayout,
				Detail:  fmt.Sprintf("frame distance %d", distance),
			}
		}
	}
	if layoutComparable && frameComparable {
		return Result{Outcome: NoChange, Basis: BasisLayout, Detail: "layout and frame unchanged"}
	}
	return Result{Outcome: Ambiguous, Basis: BasisNone, Detail: "no comparable signal"}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
