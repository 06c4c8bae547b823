package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/policy"
	"github.com/feedpilot/feedpilot/internal/session"
	"github.com/feedpilot/feedpilot/internal/verify"
	"github.com/joho/godotenv"
)

// Target selects the device backend.
type Target string

const (
	// TargetADB drives an Android device over adb.
	TargetADB Target = "adb"
	// TargetBrowser drives a Chromium page through the devtools protocol.
	TargetBrowser Target = "browser"
)

const (
	defaultPackage         = "co.hinge.app"
	defaultADBPath         = "adb"
	defaultCommandInterval = 250 * time.Millisecond
	defaultLLMProvider     = "anthropic"
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 20
	defaultLogMaxFiles     = 10
	defaultExportDir       = "exports"
	defaultSQLiteFile      = "profiles.db"
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	Target       Target
	LogLevel     string
	LogMaxSizeMB int
	LogMaxFiles  int

	Session     session.Config
	Comment     string
	Style       policy.Style
	Preferences string
	// PriorityQuota caps priority likes per session. Zero means unlimited.
	PriorityQuota int
	MinScore      *int
	RejectRules   []policy.Rule

	KeyFields []string
	Verify    verify.Config

	Device  DeviceConfig
	Browser BrowserConfig
	LLM     LLMConfig
	Export  ExportConfig
	OTel    OTelConfig
}

// DeviceConfig describes the adb target.
type DeviceConfig struct {
	Serial  string
	ADBPath string
	Package string
	// ScreenWidth and ScreenHeight override wm size discovery when both are
	// positive.
	ScreenWidth     int
	ScreenHeight    int
	CommandInterval time.Duration
	Markers         map[string][]string
}

// BrowserConfig describes the browser target.
type BrowserConfig struct {
	URL         string
	Bin         string
	UserDataDir string
	Headless    bool
	// Selectors maps element kinds to CSS selectors.
	Selectors map[string]string
}

// LLMConfig selects the hosted model.
type LLMConfig struct {
	Provider string
	Model    string
	// Vision extracts content from screenshots when the hierarchy lacks
	// identity.
	Vision bool
}

// ExportConfig controls record sinks.
type ExportConfig struct {
	Dir    string
	CSV    bool
	SQLite string
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled     bool
	Endpoint    string
	Environment string
	Certificate string
}

type fileConfig struct {
	Target       *string          `toml:"target"`
	LogLevel     *string          `toml:"log_level"`
	LogMaxSizeMB *int             `toml:"log_max_size_mb"`
	LogMaxFiles  *int             `toml:"log_max_files"`
	Session      *sessionFile     `toml:"session"`
	Thresholds   *thresholdsFile  `toml:"thresholds"`
	Recovery     *recoveryFile    `toml:"recovery"`
	Device       *deviceFile      `toml:"device"`
	Browser      *browserFile     `toml:"browser"`
	LLM          *llmFile         `toml:"llm"`
	Export       *exportFile      `toml:"export"`
	RejectRules  []rejectRuleFile `toml:"reject_rules"`
	OTel         *otelFile        `toml:"otel"`
}

type sessionFile struct {
	Budget        *int    `toml:"budget"`
	Mode          *string `toml:"mode"`
	Confirm       *bool   `toml:"confirm"`
	LikeMode      *string `toml:"like_mode"`
	Strategy      *string `toml:"strategy"`
	SkipPrecheck  *bool   `toml:"skip_precheck"`
	Comment       *string `toml:"comment"`
	CommentStyle  *string `toml:"comment_style"`
	Preferences   *string `toml:"preferences"`
	PriorityQuota *int    `toml:"max_priority_likes"`
	MinScore      *int    `toml:"min_score"`
}

type thresholdsFile struct {
	Confidence      *float64  `toml:"confidence"`
	Stuck           *int      `toml:"stuck"`
	KeyFields       *[]string `toml:"key_fields"`
	AgeTolerance    *int      `toml:"age_tolerance"`
	TextOverlap     *float64  `toml:"text_overlap"`
	InterestOverlap *float64  `toml:"interest_overlap"`
	FrameDistance   *int      `toml:"frame_distance"`
}

type recoveryFile struct {
	ActionRetries    *int    `toml:"action_retries"`
	RetryInterval    *string `toml:"retry_interval"`
	RelaunchAttempts *int    `toml:"relaunch_attempts"`
	CallTimeout      *string `toml:"call_timeout"`
	ActionDelay      *string `toml:"action_delay"`
}

type deviceFile struct {
	Serial          *string             `toml:"serial"`
	ADBPath         *string             `toml:"adb_path"`
	Package         *string             `toml:"package"`
	ScreenWidth     *int                `toml:"screen_width"`
	ScreenHeight    *int                `toml:"screen_height"`
	CommandInterval *string             `toml:"command_interval"`
	Markers         map[string][]string `toml:"markers"`
}

type browserFile struct {
	URL         *string           `toml:"url"`
	Bin         *string           `toml:"bin"`
	UserDataDir *string           `toml:"user_data_dir"`
	Headless    *bool             `toml:"headless"`
	Selectors   map[string]string `toml:"selectors"`
}

type llmFile struct {
	Provider *string `toml:"provider"`
	Model    *string `toml:"model"`
	Vision   *bool   `toml:"vision"`
}

type exportFile struct {
	Dir    *string `toml:"dir"`
	CSV    *bool   `toml:"csv"`
	SQLite *string `toml:"sqlite"`
}

type rejectRuleFile struct {
	Field string `toml:"field"`
	Match string `toml:"match"`
	Value string `toml:"value"`
	Delta int    `toml:"delta"`
}

type otelFile struct {
	Enabled     *bool   `toml:"enabled"`
	Endpoint    *string `toml:"endpoint"`
	Environment *string `toml:"environment"`
	Certificate *string `toml:"certificate"`
}

// Load reads config from ~/.feedpilot/config.toml and overlays a
// project-local .feedpilot/config.toml. An explicit path, when given, is
// overlaid last and must exist.
func Load(ctx context.Context, explicit string) (*Config, error) {
	cfg := Defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".feedpilot", "config.toml"),
		filepath.Join(workingDir, ".feedpilot", "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path, false); err != nil {
			return nil, err
		}
	}
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if err := overlayFromFile(&cfg, explicit, true); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

// LoadDotEnv loads API keys from .env files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
		if homeDir, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(homeDir, ".feedpilot", ".env"))
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file %q: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Target:        TargetADB,
		LogLevel:      defaultLogLevel,
		LogMaxSizeMB:  defaultLogMaxSizeMB,
		LogMaxFiles:   defaultLogMaxFiles,
		Session:       session.DefaultConfig(),
		Comment:       policy.DefaultComment,
		Style:         policy.StyleBalanced,
		KeyFields:     append([]string(nil), perception.DefaultKeyFields...),
		Verify:        verify.DefaultConfig(),
		Device: DeviceConfig{
			ADBPath:         defaultADBPath,
			Package:         defaultPackage,
			CommandInterval: defaultCommandInterval,
		},
		LLM: LLMConfig{Provider: defaultLLMProvider},
		Export: ExportConfig{
			Dir:    defaultExportDir,
			CSV:    true,
			SQLite: defaultSQLiteFile,
		},
	}
}

// Scorer builds the reject-rule scorer.
func (c *Config) Scorer() (*policy.Scorer, error) {
	if c == nil {
		return nil, errors.New("config must not be nil")
	}
	return policy.NewScorer(c.RejectRules, c.MinScore)
}

// SQLitePath resolves the profile store path against the export directory.
// Empty means the store is disabled.
func (c *Config) SQLitePath() string {
	if c == nil || strings.TrimSpace(c.Export.SQLite) == "" {
		return ""
	}
	if filepath.IsAbs(c.Export.SQLite) {
		return c.Export.SQLite
	}
	return filepath.Join(c.Export.Dir, c.Export.SQLite)
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	var errs []error
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Target {
	case TargetADB:
		if strings.TrimSpace(c.Device.Package) == "" {
			errs = append(errs, errors.New("device.package must not be empty"))
		}
	case TargetBrowser:
		if strings.TrimSpace(c.Browser.URL) == "" {
			errs = append(errs, errors.New("browser.url is required for the browser target"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported target %q", c.Target))
	}
	if c.PriorityQuota < 0 {
		errs = append(errs, fmt.Errorf("session.max_priority_likes must not be negative, got %d", c.PriorityQuota))
	}
	if _, err := c.Scorer(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func overlayFromFile(cfg *Config, path string, required bool) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("decode config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}

	for _, apply := range []func(*Config, fileConfig, string) error{
		applyRootOverrides,
		applySessionOverrides,
		applyThresholdOverrides,
		applyRecoveryOverrides,
		applyDeviceOverrides,
		applyBrowserOverrides,
		applyLLMOverrides,
		applyExportOverrides,
		applyRejectRules,
		applyOTelOverrides,
	} {
		if err := apply(cfg, decoded, path); err != nil {
			return err
		}
	}
	return nil
}

func applyRootOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.Target != nil {
		target := Target(normalizeKey(*decoded.Target))
		if target != TargetADB && target != TargetBrowser {
			return fmt.Errorf("parse target in %q: unsupported target %q", path, *decoded.Target)
		}
		cfg.Target = target
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = normalizeKey(*decoded.LogLevel)
	}
	if decoded.LogMaxSizeMB != nil {
		if *decoded.LogMaxSizeMB <= 0 {
			return fmt.Errorf("parse log_max_size_mb in %q: must be > 0", path)
		}
		cfg.LogMaxSizeMB = *decoded.LogMaxSizeMB
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}
	return nil
}

func applySessionOverrides(cfg *Config, decoded fileConfig, path string) error {
	s := decoded.Session
	if s == nil {
		return nil
	}
	if s.Budget != nil {
		cfg.Session.Budget = *s.Budget
	}
	if s.Mode != nil {
		mode, err := session.ParseMode(*s.Mode)
		if err != nil {
			return fmt.Errorf("parse session.mode in %q: %w", path, err)
		}
		cfg.Session.Mode = mode
	}
	if s.Confirm != nil {
		cfg.Session.ConfirmationRequired = *s.Confirm
	}
	if s.LikeMode != nil {
		variant, err := action.ParseLikeVariant(*s.LikeMode)
		if err != nil {
			return fmt.Errorf("parse session.like_mode in %q: %w", path, err)
		}
		cfg.Session.LikeVariant = variant
	}
	if s.Strategy != nil {
		strategy, err := session.ParseStrategy(*s.Strategy)
		if err != nil {
			return fmt.Errorf("parse session.strategy in %q: %w", path, err)
		}
		cfg.Session.Strategy = strategy
	}
	if s.SkipPrecheck != nil {
		cfg.Session.SkipPrecheck = *s.SkipPrecheck
	}
	if s.Comment != nil {
		cfg.Comment = strings.TrimSpace(*s.Comment)
	}
	if s.CommentStyle != nil {
		style, err := policy.ParseStyle(*s.CommentStyle)
		if err != nil {
			return fmt.Errorf("parse session.comment_style in %q: %w", path, err)
		}
		cfg.Style = style
	}
	if s.Preferences != nil {
		cfg.Preferences = strings.TrimSpace(*s.Preferences)
	}
	if s.PriorityQuota != nil {
		cfg.PriorityQuota = *s.PriorityQuota
	}
	if s.MinScore != nil {
		minScore := *s.MinScore
		cfg.MinScore = &minScore
	}
	return nil
}

func applyThresholdOverrides(cfg *Config, decoded fileConfig, path string) error {
	t := decoded.Thresholds
	if t == nil {
		return nil
	}
	if t.Confidence != nil {
		cfg.Session.ConfidenceThreshold = *t.Confidence
	}
	if t.Stuck != nil {
		cfg.Session.StuckThreshold = *t.Stuck
	}
	if t.KeyFields != nil {
		fields := make([]string, 0, len(*t.KeyFields))
		for _, field := range *t.KeyFields {
			if field = normalizeKey(field); field != "" {
				fields = append(fields, field)
			}
		}
		if len(fields) == 0 {
			return fmt.Errorf("parse thresholds.key_fields in %q: must name at least one field", path)
		}
		cfg.KeyFields = fields
	}
	if t.AgeTolerance != nil {
		cfg.Verify.AgeTolerance = *t.AgeTolerance
	}
	if t.TextOverlap != nil {
		cfg.Verify.TextOverlapThreshold = *t.TextOverlap
	}
	if t.InterestOverlap != nil {
		cfg.Verify.InterestOverlapThreshold = *t.InterestOverlap
	}
	if t.FrameDistance != nil {
		cfg.Verify.FrameDistance = *t.FrameDistance
	}
	return nil
}

func applyRecoveryOverrides(cfg *Config, decoded fileConfig, path string) error {
	r := decoded.Recovery
	if r == nil {
		return nil
	}
	if r.ActionRetries != nil {
		cfg.Session.MaxActionRetries = *r.ActionRetries
	}
	if r.RelaunchAttempts != nil {
		cfg.Session.RelaunchAttempts = *r.RelaunchAttempts
	}
	durations := []struct {
		value  *string
		key    string
		target *time.Duration
	}{
		{r.RetryInterval, "recovery.retry_interval", &cfg.Session.RetryInterval},
		{r.CallTimeout, "recovery.call_timeout", &cfg.Session.CallTimeout},
		{r.ActionDelay, "recovery.action_delay", &cfg.Session.ActionDelay},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := parseDuration(*d.value, d.key, path)
		if err != nil {
			return err
		}
		*d.target = parsed
	}
	return nil
}

func applyDeviceOverrides(cfg *Config, decoded fileConfig, path string) error {
	d := decoded.Device
	if d == nil {
		return nil
	}
	if d.Serial != nil {
		cfg.Device.Serial = strings.TrimSpace(*d.Serial)
	}
	if d.ADBPath != nil {
		cfg.Device.ADBPath = strings.TrimSpace(*d.ADBPath)
	}
	if d.Package != nil {
		cfg.Device.Package = strings.TrimSpace(*d.Package)
	}
	if d.ScreenWidth != nil {
		cfg.Device.ScreenWidth = *d.ScreenWidth
	}
	if d.ScreenHeight != nil {
		cfg.Device.ScreenHeight = *d.ScreenHeight
	}
	if d.CommandInterval != nil {
		parsed, err := parseDuration(*d.CommandInterval, "device.command_interval", path)
		if err != nil {
			return err
		}
		cfg.Device.CommandInterval = parsed
	}
	if len(d.Markers) > 0 {
		if cfg.Device.Markers == nil {
			cfg.Device.Markers = map[string][]string{}
		}
		for kind, labels := range d.Markers {
			cfg.Device.Markers[normalizeKey(kind)] = append([]string(nil), labels...)
		}
	}
	return nil
}

func applyBrowserOverrides(cfg *Config, decoded fileConfig, _ string) error {
	b := decoded.Browser
	if b == nil {
		return nil
	}
	if b.URL != nil {
		cfg.Browser.URL = strings.TrimSpace(*b.URL)
	}
	if b.Bin != nil {
		cfg.Browser.Bin = strings.TrimSpace(*b.Bin)
	}
	if b.UserDataDir != nil {
		cfg.Browser.UserDataDir = strings.TrimSpace(*b.UserDataDir)
	}
	if b.Headless != nil {
		cfg.Browser.Headless = *b.Headless
	}
	if len(b.Selectors) > 0 {
		if cfg.Browser.Selectors == nil {
			cfg.Browser.Selectors = map[string]string{}
		}
		for kind, selector := range b.Selectors {
			cfg.Browser.Selectors[normalizeKey(kind)] = strings.TrimSpace(selector)
		}
	}
	return nil
}

func applyLLMOverrides(cfg *Config, decoded fileConfig, _ string) error {
	l := decoded.LLM
	if l == nil {
		return nil
	}
	if l.Provider != nil {
		cfg.LLM.Provider = normalizeKey(*l.Provider)
	}
	if l.Model != nil {
		cfg.LLM.Model = strings.TrimSpace(*l.Model)
	}
	if l.Vision != nil {
		cfg.LLM.Vision = *l.Vision
	}
	return nil
}

func applyExportOverrides(cfg *Config, decoded fileConfig, _ string) error {
	e := decoded.Export
	if e == nil {
		return nil
	}
	if e.Dir != nil {
		cfg.Export.Dir = strings.TrimSpace(*e.Dir)
	}
	if e.CSV != nil {
		cfg.Export.CSV = *e.CSV
	}
	if e.SQLite != nil {
		cfg.Export.SQLite = strings.TrimSpace(*e.SQLite)
	}
	return nil
}

func applyRejectRules(cfg *Config, decoded fileConfig, path string) error {
	if len(decoded.RejectRules) == 0 {
		return nil
	}
	rules := make([]policy.Rule, 0, len(decoded.RejectRules))
	for i, raw := range decoded.RejectRules {
		rule := policy.Rule{
			Field: normalizeKey(raw.Field),
			Match: policy.Match(normalizeKey(raw.Match)),
			Value: strings.TrimSpace(raw.Value),
			Delta: raw.Delta,
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("parse reject_rules[%d] in %q: %w", i, path, err)
		}
		rules = append(rules, rule)
	}
	// A later file replaces the rule list rather than appending to it.
	cfg.RejectRules = rules
	return nil
}

func applyOTelOverrides(cfg *Config, decoded fileConfig, _ string) error {
	o := decoded.OTel
	if o == nil {
		return nil
	}
	if o.Enabled != nil {
		cfg.OTel.Enabled = *o.Enabled
	}
	if o.Endpoint != nil {
		cfg.OTel.Endpoint = strings.TrimSpace(*o.Endpoint)
	}
	if o.Environment != nil {
		cfg.OTel.Environment = normalizeKey(*o.Environment)
	}
	if o.Certificate != nil {
		cfg.OTel.Certificate = strings.TrimSpace(*o.Certificate)
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
