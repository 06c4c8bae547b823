package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Mode{
		"":            ModeNormal,
		"normal":      ModeNormal,
		"dry-run":     ModeDryRun,
		"DRY_RUN":     ModeDryRun,
		"scrape-only": ModeScrapeOnly,
	} {
		got, err := ParseMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseMode("yolo")
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	got, err := ParseStrategy("llm")
	require.NoError(t, err)
	assert.Equal(t, StrategyContentDriven, got)

	got, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyDeterministic, got)

	_, err = ParseStrategy("random")
	assert.Error(t, err)
}

func TestConfigValidateCollectsEveryProblem(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Budget = 0
	cfg.StuckThreshold = 0
	cfg.ConfidenceThreshold = 1.5
	cfg.LikeVariant = "super"
	err := cfg.Validate()
	require.Error(t, err)
	for _, fragment := range []string{"budget", "stuck threshold", "confidence threshold", "like variant"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestSummaryErrMapsFailedReasons(t *testing.T) {
	t.Parallel()

	tests := map[Reason]error{
		ReasonBudgetReached:       nil,
		ReasonEndOfFeed:           nil,
		ReasonCancelled:           nil,
		ReasonPreconditionUnmet:   ErrPreconditionUnmet,
		ReasonRecoveryExhausted:   ErrRecoveryExhausted,
		ReasonUserAbort:           ErrUserAbort,
		ReasonExecutorUnreachable: ErrExecutorUnreachable,
	}
	for reason, want := range tests {
		err := Summary{Reason: reason, Diagnostic: "detail"}.Err()
		if want == nil {
			assert.NoError(t, err, reason)
			assert.False(t, reason.Failed(), reason)
			continue
		}
		assert.True(t, errors.Is(err, want), reason)
		assert.True(t, reason.Failed(), reason)
		assert.True(t, IsFatal(err), reason)
	}
	assert.False(t, IsFatal(ErrExecutorTransient))
}

func TestViewRemaining(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, View{Budget: 5, ProcessedCount: 2}.Remaining())
	assert.Equal(t, 0, View{Budget: 2, ProcessedCount: 4}.Remaining())
}
