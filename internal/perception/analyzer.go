package perception

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/feedpilot/feedpilot/internal/action"
)

// ErrEmptyFrame is returned when a frame carries neither image nor hierarchy.
var ErrEmptyFrame = errors.New("frame has no image or hierarchy")

// Layout is what a structural parser reads out of a hierarchy dump.
type Layout struct {
	Elements []Element
	Content  Content
}

// Structure parses a UI hierarchy dump.
type Structure interface {
	Parse(hierarchy []byte) (Layout, error)
}

// ContentExtractor reads subject content from an encoded screenshot.
type ContentExtractor interface {
	Extract(ctx context.Context, image []byte) (Content, error)
}

// AnalyzerOption configures Analyzer construction.
type AnalyzerOption func(*Analyzer)

// WithContentExtractor adds a screenshot-based content extractor used when the
// hierarchy does not identify the subject.
func WithContentExtractor(extractor ContentExtractor) AnalyzerOption {
	return func(a *Analyzer) {
		a.extractor = extractor
	}
}

// WithKeyFields sets the duplicate-guard key fields.
func WithKeyFields(fields []string) AnalyzerOption {
	return func(a *Analyzer) {
		if len(fields) > 0 {
			a.keyFields = append([]string(nil), fields...)
		}
	}
}

// WithLogger sets the analyzer logger.
func WithLogger(logger *log.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Analyzer combines hierarchy parsing, optional content extraction and frame
// hashing into one Provider.
type Analyzer struct {
	structure Structure
	extractor ContentExtractor
	keyFields []string
	logger    *log.Logger
	now       func() time.Time
}

// NewAnalyzer builds a perception provider.
func NewAnalyzer(structure Structure, options ...AnalyzerOption) (*Analyzer, error) {
	if structure == nil {
		return nil, errors.New("structure parser is required")
	}
	analyzer := &Analyzer{
		structure: structure,
		keyFields: append([]string(nil), DefaultKeyFields...),
		logger:    log.Default(),
		now:       time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(analyzer)
	}
	return analyzer, nil
}

// Analyze produces a snapshot. It fails only when no signal at all could be
// read from the frame.
func (a *Analyzer) Analyze(ctx context.Context, frame action.Frame) (Snapshot, error) {
	if a == nil {
		return Snapshot{}, errors.New("analyzer is nil")
	}
	if frame.Empty() {
		return Snapshot{}, ErrEmptyFrame
	}

	var (
		layout     Layout
		failures   []error
		structured bool
	)
	if len(frame.Hierarchy) > 0 {
		parsed, err := a.structure.Parse(frame.Hierarchy)
		if err != nil {
			failures = append(failures, fmt.Errorf("parse hierarchy: %w", err))
		} else {
			layout = parsed
			structured = true
		}
	}

	content := layout.Content
	if a.extractor != nil && len(frame.Image) > 0 && !content.HasIdentity() {
		extracted, err := a.extractor.Extract(ctx, frame.Image)
		if err != nil {
			failures = append(failures, fmt.Errorf("extract content: %w", err))
			a.logger.Warn("content extraction failed", "error", err)
		} else {
			content = content.Merge(extracted)
		}
	}

	frameHash, err := HashImageBytes(frame.Image)
	if err != nil {
		failures = append(failures, err)
	}

	if !structured && content.Empty() && frameHash == 0 {
		if len(failures) == 0 {
			failures = append(failures, ErrEmptyFrame)
		}
		return Snapshot{}, errors.Join(failures...)
	}

	capturedAt := frame.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = a.now().UTC()
	}
	elements := append([]Element(nil), layout.Elements...)
	return Snapshot{
		Elements:    elements,
		Content:     content,
		Fingerprint: NewFingerprint(content, elements, frameHash, a.keyFields),
		CapturedAt:  capturedAt,
	}, nil
}
