// Package browser drives a web feed through a DevTools-controlled browser.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/device"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/perception/uixml"
)

const (
	defaultConfidence = 0.5
	settleDelay       = 500 * time.Millisecond
)

var elementKinds = map[perception.ElementKind]struct{}{
	perception.ElementLikePriority: {},
	perception.ElementLike:         {},
	perception.ElementCommentEntry: {},
	perception.ElementSend:         {},
	perception.ElementSendPriority: {},
	perception.ElementReject:       {},
	perception.ElementEndOfFeed:    {},
}

// Options configures a browser executor.
type Options struct {
	Page Page
	URL  string
	// Selectors maps element kinds, or content fields such as "name" and
	// "age", to CSS selectors.
	Selectors  map[string]string
	Markers    uixml.Markers
	Confidence float64
	Logger     *log.Logger
}

type binding struct {
	key      string
	selector string
	kind     bool
}

// Executor implements action.Executor against one browser page.
type Executor struct {
	page       Page
	url        string
	bindings   []binding
	parser     *uixml.Parser
	confidence float64
	logger     *log.Logger
	now        func() time.Time
	sleep      func(context.Context, time.Duration)
}

// New creates a browser executor.
func New(opts Options) (*Executor, error) {
	if opts.Page == nil {
		return nil, errors.New("page is required")
	}
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errors.New("feed url is required")
	}
	confidence := opts.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = defaultConfidence
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	bindings := make([]binding, 0, len(opts.Selectors))
	for key, selector := range opts.Selectors {
		key = strings.ToLower(strings.TrimSpace(key))
		selector = strings.TrimSpace(selector)
		if key == "" || selector == "" {
			continue
		}
		_, kind := elementKinds[perception.ElementKind(key)]
		bindings = append(bindings, binding{key: key, selector: selector, kind: kind})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].key < bindings[j].key })

	return &Executor{
		page:       opts.Page,
		url:        url,
		bindings:   bindings,
		parser:     uixml.NewParser(opts.Markers),
		confidence: confidence,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

// Start opens the feed URL.
func (e *Executor) Start(ctx context.Context) error {
	return e.page.Open(ctx, e.url)
}

// Close closes the page.
func (e *Executor) Close() error {
	return e.page.Close()
}

// Capture takes a viewport screenshot and renders the visible DOM as a
// hierarchy dump.
func (e *Executor) Capture(ctx context.Context) (action.Frame, error) {
	width, height, err := e.page.Viewport(ctx)
	if err != nil {
		return action.Frame{}, err
	}
	image, err := e.page.Screenshot(ctx)
	if err != nil {
		return action.Frame{}, err
	}
	frame := action.Frame{Image: image, Width: width, Height: height, CapturedAt: e.now().UTC()}

	elements, err := e.elements(ctx)
	if err != nil {
		e.logger.Warn("dom snapshot failed", "url", e.url, "error", err)
		return frame, nil
	}
	hierarchy, err := BuildHierarchy(elements)
	if err != nil {
		e.logger.Warn("hierarchy render failed", "error", err)
		return frame, nil
	}
	frame.Hierarchy = hierarchy
	return frame, nil
}

// Execute performs one intent. Simulated irreversible intents never reach
// the page.
func (e *Executor) Execute(ctx context.Context, intent action.Intent) action.Result {
	if intent.Simulated && intent.Irreversible() {
		return action.Synthesized("simulated " + string(intent.Kind))
	}
	switch intent.Kind {
	case action.KindScroll:
		return e.scroll(ctx, action.Pattern(intent.Pattern))
	case action.KindRetryCapture:
		return action.Succeeded("no page action")
	case action.KindReset:
		return e.Reset(ctx)
	case action.KindTerminate:
		return action.Succeeded("session terminating")
	case action.KindReject:
		return device.Reject(ctx, e)
	case action.KindLikeOnly:
		return device.Like(ctx, e, intent.Variant, "")
	case action.KindLikeWithComment:
		return device.Like(ctx, e, intent.Variant, intent.Comment)
	default:
		return action.Failed(fmt.Sprintf("unsupported intent %q", intent.Kind))
	}
}

// Reset reopens the feed URL.
func (e *Executor) Reset(ctx context.Context) action.Result {
	if err := e.page.Open(ctx, e.url); err != nil {
		return action.Failed(err.Error())
	}
	return action.Succeeded("reopened " + e.url)
}

// Find implements device.Surface.
func (e *Executor) Find(ctx context.Context, kinds ...perception.ElementKind) (perception.Element, bool, error) {
	elements, err := e.elements(ctx)
	if err != nil {
		return perception.Element{}, false, err
	}
	nodes := make([]uixml.Node, 0, len(elements))
	for _, element := range elements {
		nodes = append(nodes, uixml.Node{
			Text:        element.Text,
			ContentDesc: element.Label,
			ResourceID:  element.ID,
			Class:       element.Tag,
			Clickable:   element.Clickable,
			Bounds:      element.Bounds(),
		})
	}
	for _, kind := range kinds {
		if element, ok := e.parser.Find(nodes, kind, e.confidence); ok {
			return element, true, nil
		}
	}
	return perception.Element{}, false, nil
}

// Tap implements device.Surface.
func (e *Executor) Tap(ctx context.Context, element perception.Element) error {
	x, y := element.Bounds.Center()
	if err := e.page.ClickAt(ctx, x, y); err != nil {
		return fmt.Errorf("tap %s: %w", element.Kind, err)
	}
	return nil
}

// TypeText implements device.Surface.
func (e *Executor) TypeText(ctx context.Context, text string) error {
	return e.page.InsertText(ctx, text)
}

// Settle implements device.Surface.
func (e *Executor) Settle(ctx context.Context) {
	e.sleep(ctx, settleDelay)
}

// elements returns selector matches first, relabelled so the hierarchy
// parser classifies them, followed by the generic DOM scan.
func (e *Executor) elements(ctx context.Context) ([]DOMElement, error) {
	dom, err := e.page.Elements(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DOMElement, 0, len(dom)+len(e.bindings))
	for _, b := range e.bindings {
		matches, err := e.page.Query(ctx, b.selector)
		if err != nil {
			e.logger.Warn("selector query failed", "key", b.key, "selector", b.selector, "error", err)
			continue
		}
		for _, match := range matches {
			if b.kind {
				match.Label = e.parser.Markers().Primary(perception.ElementKind(b.key))
				match.Clickable = true
			} else {
				match.ID = uixml.FieldResourcePrefix + b.key
			}
			out = append(out, match)
		}
	}
	return append(out, dom...), nil
}

func (e *Executor) scroll(ctx context.Context, gesture action.Swipe) action.Result {
	width, height, err := e.page.Viewport(ctx)
	if err != nil {
		return action.Failed(err.Error())
	}
	x1, y1, x2, y2 := gesture.Scale(width, height)
	if err := e.page.Scroll(ctx, x1, y1, x1-x2, y1-y2); err != nil {
		return action.Failed(err.Error())
	}
	return action.Succeeded(fmt.Sprintf("scrolled %d,%d", x1-x2, y1-y2))
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var (
	_ action.Executor = (*Executor)(nil)
	_ device.Surface  = (*Executor)(nil)
)
