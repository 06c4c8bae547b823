package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/confirm"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/policy"
	"github.com/feedpilot/feedpilot/internal/recovery"
	"github.com/feedpilot/feedpilot/internal/session"
	"github.com/feedpilot/feedpilot/internal/verify"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// feed is a fake device with an endless feed of subjects. It serves as both
// the executor and the perception provider.
type feed struct {
	mu sync.Mutex

	pos int
	// frozen keeps every action from advancing the feed.
	frozen bool
	// advances scripts whether each advancing action moves the feed; once
	// exhausted every action advances.
	advances []bool
	// failures counts remaining forced failures per intent kind.
	failures   map[action.Kind]int
	captureErr error
	comment    bool
	endAt      int
	// faceless strips content and frame hash so only the layout is left.
	faceless bool
	// blank perceives nothing at all.
	blank bool
	// sends overrides the like variant the device reports as committed.
	sends action.LikeVariant

	executed []action.Intent
	captures int
	resets   int
}

func newFeed() *feed {
	return &feed{comment: true, endAt: -1, failures: map[action.Kind]int{}}
}

func (f *feed) Capture(context.Context) (action.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.captureErr != nil {
		return action.Frame{}, f.captureErr
	}
	return action.Frame{Hierarchy: []byte(strconv.Itoa(f.pos)), CapturedAt: fixedNow}, nil
}

func (f *feed) Analyze(_ context.Context, frame action.Frame) (perception.Snapshot, error) {
	pos, err := strconv.Atoi(string(frame.Hierarchy))
	if err != nil {
		return perception.Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subject(pos), nil
}

func (f *feed) subject(pos int) perception.Snapshot {
	if f.blank {
		return perception.Snapshot{CapturedAt: fixedNow}
	}
	if f.endAt >= 0 && pos >= f.endAt {
		elements := []perception.Element{{Kind: perception.ElementEndOfFeed, Confidence: 0.95}}
		return perception.Snapshot{Elements: elements, Fingerprint: perception.NewFingerprint(perception.Content{}, elements, 0, perception.DefaultKeyFields)}
	}
	content := perception.Content{Name: fmt.Sprintf("Subject%d", pos), Age: 21 + pos%2}
	elements := []perception.Element{
		{Kind: perception.ElementLikePriority, Confidence: 0.9, Bounds: perception.Bounds{X1: 900, Y1: 1700, X2: 1000, Y2: 1800}},
		{Kind: perception.ElementLike, Confidence: 0.9, Bounds: perception.Bounds{X1: 800, Y1: 1700, X2: 900, Y2: 1800}},
	}
	if f.comment {
		elements = append(elements, perception.Element{Kind: perception.ElementCommentEntry, Confidence: 0.85, Bounds: perception.Bounds{X1: 100, Y1: 1500, X2: 700, Y2: 1600}})
	}
	frame := uint64(pos + 1)
	if f.faceless {
		content, frame = perception.Content{}, 0
	}
	return perception.Snapshot{
		Elements:    elements,
		Content:     content,
		Fingerprint: perception.NewFingerprint(content, elements, frame, perception.DefaultKeyFields),
		CapturedAt:  fixedNow,
	}
}

func (f *feed) Execute(_ context.Context, intent action.Intent) action.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, intent)
	if f.failures[intent.Kind] > 0 {
		f.failures[intent.Kind]--
		return action.Failed("tap target not found")
	}
	result := action.Succeeded("")
	if f.sends != "" && intent.Kind != action.KindReject && intent.Irreversible() {
		result = result.Sent(f.sends)
	}
	if f.frozen {
		return result
	}
	advance := true
	if len(f.advances) > 0 {
		advance = f.advances[0]
		f.advances = f.advances[1:]
	}
	if advance {
		f.pos++
	}
	return result
}

func (f *feed) Reset(context.Context) action.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return action.Succeeded("relaunched")
}

func (f *feed) executedKinds() []action.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]action.Kind, 0, len(f.executed))
	for _, intent := range f.executed {
		kinds = append(kinds, intent.Kind)
	}
	return kinds
}

func (f *feed) executedIntents() []action.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]action.Intent(nil), f.executed...)
}

type memorySink struct {
	mu      sync.Mutex
	records []session.Record
	flushes int
	err     error
	onWrite func(session.Record)
}

func (s *memorySink) Record(_ context.Context, record session.Record) error {
	s.mu.Lock()
	s.records = append(s.records, record)
	hook := s.onWrite
	s.mu.Unlock()
	if hook != nil {
		hook(record)
	}
	return s.err
}

func (s *memorySink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memorySink) snapshot() []session.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Record(nil), s.records...)
}

// ladder records every step the real controller hands out.
type ladder struct {
	inner *recovery.Controller
	mu    sync.Mutex
	rungs []session.RecoveryRung
}

func (l *ladder) Recover(ctx context.Context, view session.View) session.RecoveryStep {
	step := l.inner.Recover(ctx, view)
	l.mu.Lock()
	l.rungs = append(l.rungs, step.Rung)
	l.mu.Unlock()
	return step
}

func (l *ladder) Progressed() {
	l.inner.Progressed()
}

func (l *ladder) steps() []session.RecoveryRung {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.RecoveryRung(nil), l.rungs...)
}

// viewRecorder keeps every view handed to the wrapped policy.
type viewRecorder struct {
	inner session.Policy
	mu    sync.Mutex
	views []session.View
}

func (r *viewRecorder) Decide(ctx context.Context, snapshot perception.Snapshot, view session.View) action.Intent {
	r.mu.Lock()
	r.views = append(r.views, view)
	r.mu.Unlock()
	return r.inner.Decide(ctx, snapshot, view)
}

func (r *viewRecorder) seen() []session.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.View(nil), r.views...)
}

type harness struct {
	cfg       session.Config
	feed      *feed
	sink      *memorySink
	ladder    *ladder
	confirmer session.Confirmer
	policy    session.Policy
}

func newHarness(cfg session.Config) *harness {
	controller, err := recovery.NewController(recovery.Config{RelaunchAttempts: cfg.RelaunchAttempts})
	if err != nil {
		panic(err)
	}
	return &harness{
		cfg:    cfg,
		feed:   newFeed(),
		sink:   &memorySink{},
		ladder: &ladder{inner: controller},
		policy: policy.NewDeterministic(),
	}
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Budget = 3
	cfg.RetryInterval = 0
	cfg.ActionDelay = 0
	cfg.MaxActionRetries = 1
	cfg.CallTimeout = time.Second
	cfg.RelaunchAttempts = 1
	return cfg
}

func (h *harness) orchestrator(options ...session.Option) (*session.Orchestrator, error) {
	deps := session.Dependencies{
		Executor:   h.feed,
		Perception: h.feed,
		Policy:     h.policy,
		Verifier:   verify.New(verify.Config{}),
		Recovery:   h.ladder,
		Confirmer:  h.confirmer,
		Sink:       h.sink,
		Logger:     log.New(io.Discard),
	}
	base := []session.Option{
		session.WithSessionID("test-session"),
		session.WithClock(func() time.Time { return fixedNow }),
		session.WithSleep(func(time.Duration) {}),
	}
	return session.New(h.cfg, deps, append(base, options...)...)
}

func (h *harness) run(ctx context.Context) (session.Summary, error) {
	orchestrator, err := h.orchestrator()
	if err != nil {
		return session.Summary{}, err
	}
	return orchestrator.Run(ctx)
}

var errBoom = errors.New("device offline")

var (
	_ action.Executor     = (*feed)(nil)
	_ perception.Provider = (*feed)(nil)
	_ session.Confirmer   = confirm.Static(confirm.Accept)
)
