package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/confirm"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/session"
	"github.com/feedpilot/feedpilot/internal/verify"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type recordView struct {
	Cycle   int
	Outcome session.Outcome
	Kind    action.Kind
	Stuck   int
}

func viewsOf(records []session.Record) []recordView {
	out := make([]recordView, 0, len(records))
	for _, record := range records {
		out = append(out, recordView{Cycle: record.Cycle, Outcome: record.Outcome, Kind: record.Intent.Kind, Stuck: record.StuckCount})
	}
	return out
}

func TestDeclinedConfirmationExecutesNothingAndRecordsDeclined(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 1
	cfg.ConfirmationRequired = true
	h := newHarness(cfg)
	h.confirmer = confirm.Static(confirm.Decline)

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	records := h.sink.snapshot()
	require.NotEmpty(t, records)
	first := records[0]
	assert.Equal(t, session.OutcomeDeclined, first.Outcome)
	assert.Equal(t, action.KindLikeWithComment, first.Intent.Kind)
	assert.False(t, first.SentLike)
	assert.False(t, first.SentComment)

	for _, kind := range h.feed.executedKinds() {
		assert.False(t, kind.Irreversible(), "declined subject must not be sent, got %s", kind)
	}
	want := []recordView{
		{Cycle: 1, Outcome: session.OutcomeDeclined, Kind: action.KindLikeWithComment},
		{Cycle: 2, Outcome: session.OutcomeProgressed, Kind: action.KindScroll},
	}
	if diff := cmp.Diff(want, viewsOf(records)); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, summary.Declined)
	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
	assert.Equal(t, 0, summary.Likes)
}

func TestMissingCommentEntryLikesOnlyAndVerifiesProgress(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 1
	cfg.ConfirmationRequired = true
	h := newHarness(cfg)
	h.feed.comment = false
	scripted := confirm.NewScripted(confirm.Accept)
	h.confirmer = scripted

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []action.Kind{action.KindLikeOnly}, h.feed.executedKinds())
	records := h.sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, session.OutcomeProgressed, records[0].Outcome)
	assert.Equal(t, verify.Progressed, records[0].Verification)
	assert.Equal(t, verify.BasisFingerprint, records[0].Basis)
	assert.True(t, records[0].SentLike)
	assert.False(t, records[0].SentComment)
	assert.Equal(t, action.VariantPriority, records[0].Intent.Variant)
	assert.Equal(t, "Subject0", records[0].Subject.Name)
	assert.Equal(t, 0, records[0].ProfileIndex)

	asked := scripted.Asked()
	require.Len(t, asked, 1)
	assert.Equal(t, "Subject0, 21", asked[0].Subject)
	assert.Equal(t, "test-session", asked[0].SessionID)

	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
	assert.Equal(t, 1, summary.Likes)
	assert.Equal(t, 1, summary.Processed)
	assert.NoError(t, summary.Err())
}

func TestStuckSessionNavigatesBeforeRelaunchingThenExhausts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StuckThreshold = 3
	cfg.RelaunchAttempts = 1
	h := newHarness(cfg)
	h.feed.frozen = true

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []session.RecoveryRung{session.RungNavigate, session.RungRelaunch, session.RungExhausted}, h.ladder.steps())
	wantKinds := []action.Kind{
		action.KindLikeWithComment, action.KindLikeWithComment, action.KindLikeWithComment,
		action.KindScroll, action.KindScroll, action.KindScroll,
		action.KindLikeWithComment, action.KindLikeWithComment, action.KindLikeWithComment,
	}
	if diff := cmp.Diff(wantKinds, h.feed.executedKinds()); diff != "" {
		t.Fatalf("executed kinds mismatch (-want +got):\n%s", diff)
	}
	for i, intent := range h.feed.executedIntents()[3:6] {
		assert.Equal(t, i+1, intent.Pattern, "navigation gestures run in order")
	}
	assert.Equal(t, 1, h.feed.resets)

	want := []recordView{
		{Cycle: 1, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 1},
		{Cycle: 2, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 2},
		{Cycle: 3, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 3},
		{Cycle: 4, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 1},
		{Cycle: 5, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 2},
		{Cycle: 6, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 3},
	}
	if diff := cmp.Diff(want, viewsOf(h.sink.snapshot())); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	for _, record := range h.sink.snapshot() {
		assert.Equal(t, verify.BasisDuplicateGuard, record.Basis)
	}

	assert.Equal(t, session.ReasonRecoveryExhausted, summary.Reason)
	assert.ErrorIs(t, summary.Err(), session.ErrRecoveryExhausted)
	assert.Equal(t, 0, summary.Processed)
}

func TestNavigationProgressResetsStuckCount(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 2
	cfg.StuckThreshold = 3
	h := newHarness(cfg)
	h.feed.advances = []bool{false, false, false, true}

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []session.RecoveryRung{session.RungNavigate}, h.ladder.steps())
	assert.Equal(t, 0, h.feed.resets)
	want := []recordView{
		{Cycle: 1, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 1},
		{Cycle: 2, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 2},
		{Cycle: 3, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 3},
		{Cycle: 4, Outcome: session.OutcomeProgressed, Kind: action.KindLikeWithComment},
		{Cycle: 5, Outcome: session.OutcomeProgressed, Kind: action.KindLikeWithComment},
	}
	if diff := cmp.Diff(want, viewsOf(h.sink.snapshot())); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
	assert.Equal(t, 5, summary.Likes)
}

func TestBudgetReachedCompletesWithoutAnotherCycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 3
	h := newHarness(cfg)

	orchestrator, err := h.orchestrator()
	require.NoError(t, err)
	summary, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", orchestrator.State())
	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Cycles)
	assert.Equal(t, 3, summary.Records)
	assert.Equal(t, 3, summary.Comments)
	// One precheck capture plus a pre and post capture per cycle.
	assert.Equal(t, 7, h.feed.captures)
	assert.Equal(t, 1, h.sink.flushes)
	for i, record := range h.sink.snapshot() {
		assert.Equal(t, i, record.ProfileIndex)
		assert.Equal(t, "test-session", record.SessionID)
		assert.Equal(t, fixedNow, record.Timestamp)
	}

	_, err = orchestrator.Run(context.Background())
	assert.Error(t, err, "an orchestrator runs once")
}

func TestDryRunConfirmsButNeverSends(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 2
	cfg.Mode = session.ModeDryRun
	cfg.ConfirmationRequired = true
	h := newHarness(cfg)
	scripted := confirm.NewScripted(confirm.Accept)
	h.confirmer = scripted

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []action.Kind{action.KindScroll, action.KindScroll}, h.feed.executedKinds())
	require.Len(t, scripted.Asked(), 2)
	assert.True(t, scripted.Asked()[0].Intent.Simulated)
	for _, record := range h.sink.snapshot() {
		assert.True(t, record.Simulated)
		assert.False(t, record.SentLike)
		assert.Equal(t, verify.BasisSynthetic, record.Basis)
	}
	assert.Equal(t, 2, summary.Simulated)
	assert.Equal(t, 0, summary.Likes)
	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
}

func TestDryRunOnFrozenFeedCountsSubjectOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mode = session.ModeDryRun
	cfg.StuckThreshold = 3
	h := newHarness(cfg)
	h.feed.frozen = true

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	records := h.sink.snapshot()
	require.GreaterOrEqual(t, len(records), 4)
	want := []recordView{
		{Cycle: 1, Outcome: session.OutcomeProgressed, Kind: action.KindLikeWithComment},
		{Cycle: 2, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 1},
		{Cycle: 3, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 2},
		{Cycle: 4, Outcome: session.OutcomeNoChange, Kind: action.KindLikeWithComment, Stuck: 3},
	}
	if diff := cmp.Diff(want, viewsOf(records[:4])); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, verify.BasisSynthetic, records[0].Basis)
	for _, record := range records[1:] {
		assert.Equal(t, verify.BasisDuplicateGuard, record.Basis)
		assert.Equal(t, "Subject0", record.Subject.Name)
	}

	assert.Equal(t, session.RungNavigate, h.ladder.steps()[0])
	for _, kind := range h.feed.executedKinds() {
		assert.False(t, kind.Irreversible(), "dry run sent %s", kind)
	}
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, session.ReasonRecoveryExhausted, summary.Reason)
}

func TestAmbiguousVerificationCountsAsStuck(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SkipPrecheck = true
	cfg.StuckThreshold = 3
	h := newHarness(cfg)
	h.feed.faceless = true

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	records := h.sink.snapshot()
	require.GreaterOrEqual(t, len(records), 3)
	for i, record := range records[:3] {
		assert.Equal(t, session.OutcomeAmbiguous, record.Outcome)
		assert.Equal(t, verify.Ambiguous, record.Verification)
		assert.Equal(t, verify.BasisNone, record.Basis)
		assert.Equal(t, i+1, record.StuckCount)
		assert.True(t, record.SentLike, "the action itself succeeded")
	}
	assert.Equal(t, session.RungNavigate, h.ladder.steps()[0])
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, session.ReasonRecoveryExhausted, summary.Reason)
	assert.Contains(t, summary.Diagnostic, "no comparable signal")
}

func TestBlankSnapshotRetriesCaptureWithoutActing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SkipPrecheck = true
	cfg.StuckThreshold = 3
	h := newHarness(cfg)
	h.feed.blank = true

	var mu sync.Mutex
	executedAt := map[int]int{}
	h.sink.onWrite = func(record session.Record) {
		mu.Lock()
		defer mu.Unlock()
		executedAt[record.Cycle] = len(h.feed.executedKinds())
	}

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	records := h.sink.snapshot()
	require.GreaterOrEqual(t, len(records), 3)
	want := []recordView{
		{Cycle: 1, Outcome: session.OutcomeRetryCapture, Kind: action.KindRetryCapture, Stuck: 1},
		{Cycle: 2, Outcome: session.OutcomeRetryCapture, Kind: action.KindRetryCapture, Stuck: 2},
		{Cycle: 3, Outcome: session.OutcomeRetryCapture, Kind: action.KindRetryCapture, Stuck: 3},
	}
	if diff := cmp.Diff(want, viewsOf(records[:3])); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	mu.Lock()
	for cycle := 1; cycle <= 3; cycle++ {
		assert.Zero(t, executedAt[cycle], "cycle %d acted before recovery", cycle)
	}
	mu.Unlock()
	for _, record := range records {
		assert.Equal(t, verify.BasisNone, record.Basis)
	}
	for _, kind := range h.feed.executedKinds() {
		assert.False(t, kind.Irreversible(), "blank screen sent %s", kind)
	}
	assert.Equal(t, session.RungNavigate, h.ladder.steps()[0])
	assert.Equal(t, session.ReasonRecoveryExhausted, summary.Reason)
}

func TestPriorityCountFollowsCommittedVariant(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		sends action.LikeVariant
		want  int
	}{
		{name: "priority committed", want: 1},
		{name: "fell back to normal", sends: action.VariantNormal, want: 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.Budget = 2
			h := newHarness(cfg)
			h.feed.sends = tt.sends
			recorder := &viewRecorder{inner: h.policy}
			h.policy = recorder

			summary, err := h.run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 2, summary.Likes)

			views := recorder.seen()
			require.Len(t, views, 2)
			assert.Equal(t, action.VariantPriority, h.sink.snapshot()[0].Intent.Variant)
			assert.Equal(t, tt.want, views[1].PriorityLikes)
		})
	}
}

func TestScrapeOnlyOnlyScrolls(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 2
	cfg.Mode = session.ModeScrapeOnly
	h := newHarness(cfg)

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []action.Kind{action.KindScroll, action.KindScroll}, h.feed.executedKinds())
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, "Subject1", h.sink.snapshot()[1].Subject.Name)
}

func TestUserAbortFailsSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ConfirmationRequired = true
	h := newHarness(cfg)
	h.confirmer = confirm.Static(confirm.Abort)

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.feed.executedKinds())
	assert.Equal(t, session.ReasonUserAbort, summary.Reason)
	assert.ErrorIs(t, summary.Err(), session.ErrUserAbort)
	records := h.sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, session.OutcomeAborted, records[0].Outcome)
}

func TestPreconditionUnmetNeverActs(t *testing.T) {
	t.Parallel()

	h := newHarness(testConfig())
	h.feed.endAt = 0

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.ReasonPreconditionUnmet, summary.Reason)
	assert.Contains(t, summary.Diagnostic, "entry marker not visible")
	assert.ErrorIs(t, summary.Err(), session.ErrPreconditionUnmet)
	assert.Empty(t, h.feed.executedKinds())
	assert.Empty(t, h.sink.snapshot())
	assert.Equal(t, 0, summary.Cycles)
}

func TestEndOfFeedCompletes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 5
	h := newHarness(cfg)
	h.feed.endAt = 2

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.ReasonEndOfFeed, summary.Reason)
	assert.Equal(t, 2, summary.Processed)
	records := h.sink.snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, session.OutcomeTerminated, records[2].Outcome)
	assert.Equal(t, verify.BasisLayout, records[1].Basis)
}

func TestExecutorFailureDegradesCommentToLikeOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 1
	h := newHarness(cfg)
	h.feed.failures[action.KindLikeWithComment] = 2

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []action.Kind{action.KindLikeWithComment, action.KindLikeWithComment, action.KindLikeOnly}, h.feed.executedKinds())
	records := h.sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, action.KindLikeOnly, records[0].Intent.Kind)
	assert.True(t, records[0].SentLike)
	assert.False(t, records[0].SentComment)
	assert.Equal(t, 0, summary.Comments)
}

func TestExecutorFailureWithoutFallbackCountsAsStuck(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 1
	h := newHarness(cfg)
	h.feed.comment = false
	h.feed.failures[action.KindLikeOnly] = 2

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	want := []recordView{
		{Cycle: 1, Outcome: session.OutcomeActionFailed, Kind: action.KindLikeOnly, Stuck: 1},
		{Cycle: 2, Outcome: session.OutcomeProgressed, Kind: action.KindLikeOnly},
	}
	if diff := cmp.Diff(want, viewsOf(h.sink.snapshot())); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, h.sink.snapshot()[0].Diagnostic, "tap target not found")
	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
}

func TestUnreachableDeviceFailsAfterRecovery(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SkipPrecheck = true
	cfg.StuckThreshold = 2
	h := newHarness(cfg)
	h.feed.captureErr = errBoom

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.ReasonExecutorUnreachable, summary.Reason)
	assert.ErrorIs(t, summary.Err(), session.ErrExecutorUnreachable)
	assert.Contains(t, summary.Diagnostic, "device offline")
	for _, record := range h.sink.snapshot() {
		assert.Equal(t, session.OutcomeAmbiguous, record.Outcome)
		assert.Equal(t, action.KindRetryCapture, record.Intent.Kind)
	}
	assert.Equal(t, 1, h.feed.resets)
}

func TestCancellationBetweenCyclesFlushesAndStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(testConfig())
	h.sink.onWrite = func(session.Record) { cancel() }

	summary, err := h.run(ctx)
	require.NoError(t, err)

	assert.Equal(t, session.ReasonCancelled, summary.Reason)
	assert.NoError(t, summary.Err())
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, h.sink.snapshot(), 1)
	assert.Equal(t, 1, h.sink.flushes)
}

func TestCancellationWhileAwaitingConfirmation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.ConfirmationRequired = true
	h := newHarness(cfg)
	gate := confirm.NewGate(0)
	h.confirmer = gate

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-gate.Requests()
		cancel()
	}()

	summary, err := h.run(ctx)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, session.ReasonCancelled, summary.Reason)
	assert.Empty(t, h.feed.executedKinds())
	records := h.sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, session.OutcomeAborted, records[0].Outcome)
}

func TestSinkErrorsAreCountedNotFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = 2
	h := newHarness(cfg)
	h.sink.err = errBoom

	summary, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.ReasonBudgetReached, summary.Reason)
	assert.Equal(t, 2, summary.SinkErrors)
}

func TestEventsCoverLifecycle(t *testing.T) {
	t.Parallel()

	bus := events.New()
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	bus.SubscribeAll(func(event events.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[event.Type]++
	})

	cfg := testConfig()
	cfg.Budget = 2
	h := newHarness(cfg)
	orchestrator, err := session.New(cfg, session.Dependencies{
		Executor:   h.feed,
		Perception: h.feed,
		Policy:     h.policy,
		Verifier:   verify.New(verify.Config{}),
		Recovery:   h.ladder,
		Sink:       h.sink,
		Bus:        bus,
	}, session.WithSleep(nil))
	require.NoError(t, err)
	_, err = orchestrator.Run(context.Background())
	require.NoError(t, err)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, seen[events.EventTypeCycleCompleted])
	assert.Equal(t, 2, seen[events.EventTypeIntentDecided])
	assert.Equal(t, 1, seen[events.EventTypeSessionFinished])
	// init, then perceived, decision_made, acted, verified and back per cycle.
	assert.Equal(t, 1+2*5, seen[events.EventTypeStateTransition])
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	h := newHarness(testConfig())
	full := session.Dependencies{
		Executor:   h.feed,
		Perception: h.feed,
		Policy:     h.policy,
		Verifier:   verify.New(verify.Config{}),
		Recovery:   h.ladder,
		Sink:       h.sink,
	}

	tests := map[string]func(*session.Dependencies, *session.Config){
		"executor":   func(d *session.Dependencies, _ *session.Config) { d.Executor = nil },
		"perception": func(d *session.Dependencies, _ *session.Config) { d.Perception = nil },
		"policy":     func(d *session.Dependencies, _ *session.Config) { d.Policy = nil },
		"verifier":   func(d *session.Dependencies, _ *session.Config) { d.Verifier = nil },
		"recovery":   func(d *session.Dependencies, _ *session.Config) { d.Recovery = nil },
		"sink":       func(d *session.Dependencies, _ *session.Config) { d.Sink = nil },
		"confirmer":  func(_ *session.Dependencies, c *session.Config) { c.ConfirmationRequired = true },
		"budget":     func(_ *session.Dependencies, c *session.Config) { c.Budget = 0 },
		"mode":       func(_ *session.Dependencies, c *session.Config) { c.Mode = "chaos" },
	}
	for name, mutate := range tests {
		deps := full
		cfg := testConfig()
		mutate(&deps, &cfg)
		if _, err := session.New(cfg, deps); err == nil {
			t.Fatalf("%s: expected construction error", name)
		}
	}

	orchestrator, err := session.New(testConfig(), full)
	require.NoError(t, err)
	assert.NotEmpty(t, orchestrator.SessionID())
	assert.Equal(t, "init", orchestrator.State())
}
