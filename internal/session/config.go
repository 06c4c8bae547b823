package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
)

// Mode constrains which intents may physically execute.
type Mode string

const (
	// ModeNormal executes every intent.
	ModeNormal Mode = "normal"
	// ModeDryRun decides irreversible intents but never sends them.
	ModeDryRun Mode = "dry_run"
	// ModeScrapeOnly never decides irreversible intents.
	ModeScrapeOnly Mode = "scrape_only"
)

// ParseMode normalizes a configured mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(value, "-", "_"))) {
	case "", string(ModeNormal):
		return ModeNormal, nil
	case string(ModeDryRun):
		return ModeDryRun, nil
	case string(ModeScrapeOnly):
		return ModeScrapeOnly, nil
	default:
		return "", fmt.Errorf("unsupported session mode %q", value)
	}
}

// Strategy selects the decision policy.
type Strategy string

const (
	// StrategyDeterministic decides from located elements only.
	StrategyDeterministic Strategy = "deterministic"
	// StrategyContentDriven asks a generator for a verdict and comment.
	StrategyContentDriven Strategy = "content_driven"
)

// ParseStrategy normalizes a configured strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(value, "-", "_"))) {
	case "", string(StrategyDeterministic):
		return StrategyDeterministic, nil
	case string(StrategyContentDriven), "ai", "llm":
		return StrategyContentDriven, nil
	default:
		return "", fmt.Errorf("unsupported decision strategy %q", value)
	}
}

// Config is the read-only configuration of one session.
type Config struct {
	Budget               int
	Mode                 Mode
	ConfirmationRequired bool
	LikeVariant          action.LikeVariant
	Strategy             Strategy
	ConfidenceThreshold  float64
	StuckThreshold       int
	MaxActionRetries     int
	RetryInterval        time.Duration
	RelaunchAttempts     int
	CallTimeout          time.Duration
	// ActionDelay is the pause after each physical action so the device can
	// settle before the next capture.
	ActionDelay  time.Duration
	SkipPrecheck bool
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Budget:              10,
		Mode:                ModeNormal,
		LikeVariant:         action.VariantPriority,
		Strategy:            StrategyDeterministic,
		ConfidenceThreshold: 0.5,
		StuckThreshold:      3,
		MaxActionRetries:    3,
		RetryInterval:       500 * time.Millisecond,
		RelaunchAttempts:    3,
		CallTimeout:         30 * time.Second,
		ActionDelay:         1500 * time.Millisecond,
	}
}

// Validate checks the bounds the orchestrator relies on.
func (c Config) Validate() error {
	var errs []error
	if c.Budget <= 0 {
		errs = append(errs, fmt.Errorf("budget must be positive, got %d", c.Budget))
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		errs = append(errs, err)
	}
	if c.LikeVariant != action.VariantPriority && c.LikeVariant != action.VariantNormal {
		errs = append(errs, fmt.Errorf("unsupported like variant %q", c.LikeVariant))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be within [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.StuckThreshold <= 0 {
		errs = append(errs, fmt.Errorf("stuck threshold must be positive, got %d", c.StuckThreshold))
	}
	if c.MaxActionRetries < 0 {
		errs = append(errs, fmt.Errorf("max action retries must not be negative, got %d", c.MaxActionRetries))
	}
	if c.RelaunchAttempts <= 0 {
		errs = append(errs, fmt.Errorf("relaunch attempts must be positive, got %d", c.RelaunchAttempts))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout))
	}
	if c.RetryInterval < 0 || c.ActionDelay < 0 {
		errs = append(errs, errors.New("retry interval and action delay must not be negative"))
	}
	return errors.Join(errs...)
}
