package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/config"
	"github.com/feedpilot/feedpilot/internal/confirm"
	"github.com/feedpilot/feedpilot/internal/device/adb"
	"github.com/feedpilot/feedpilot/internal/device/browser"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/export"
	"github.com/feedpilot/feedpilot/internal/llm"
	"github.com/feedpilot/feedpilot/internal/metrics"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/perception/uixml"
	"github.com/feedpilot/feedpilot/internal/perception/vision"
	"github.com/feedpilot/feedpilot/internal/policy"
	"github.com/feedpilot/feedpilot/internal/recovery"
	"github.com/feedpilot/feedpilot/internal/session"
	"github.com/feedpilot/feedpilot/internal/telemetry"
	"github.com/feedpilot/feedpilot/internal/theme"
	"github.com/feedpilot/feedpilot/internal/verify"
)

const metricsShutdownTimeout = 5 * time.Second

type runFlags struct {
	budget       int
	dryRun       bool
	scrapeOnly   bool
	confirm      bool
	likeMode     string
	aiRouting    bool
	skipPrecheck bool
	target       string
	serial       string
	metricsAddr  string
}

func newRunCommand(cli *app) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one supervised session against the configured target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.apply(cmd, cli.cfg); err != nil {
				return err
			}
			return runSession(cmd.Context(), cli, flags.metricsAddr)
		},
	}
	bindRunFlags(cmd, flags)
	return cmd
}

// startConfirmConsumer draws a form when both ends are a terminal and falls
// back to line prompts otherwise.
func startConfirmConsumer(ctx context.Context, gate *confirm.Gate, in io.Reader, out io.Writer) {
	if isTerminal(in) && isTerminal(out) {
		confirm.StartFormConsumer(ctx, gate, in, out)
		return
	}
	confirm.StartStdioConsumer(ctx, gate, in, out)
}

func isTerminal(stream any) bool {
	file, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func bindRunFlags(cmd *cobra.Command, flags *runFlags) {
	f := cmd.Flags()
	f.IntVar(&flags.budget, "budget", 0, "subjects to process before completing")
	f.BoolVar(&flags.dryRun, "dry-run", false, "decide likes and rejects without sending them")
	f.BoolVar(&flags.scrapeOnly, "scrape-only", false, "only capture and scroll; never decide likes or rejects")
	f.BoolVar(&flags.confirm, "confirm", false, "ask before every like or reject (y accept, n decline, q abort)")
	f.StringVar(&flags.likeMode, "like-mode", "", "preferred like variant: priority or normal")
	f.BoolVar(&flags.aiRouting, "ai-routing", false, "let the configured model choose verdicts and comments")
	f.BoolVar(&flags.skipPrecheck, "skip-precheck", false, "skip the startup feed precheck")
	f.StringVar(&flags.target, "target", "", "device backend: adb or browser")
	f.StringVar(&flags.serial, "serial", "", "adb device serial")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
}

// apply overlays explicitly set flags on cfg and revalidates it.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	changed := cmd.Flags().Changed

	if f.dryRun && f.scrapeOnly {
		return errors.New("--dry-run and --scrape-only are mutually exclusive")
	}
	if changed("budget") {
		cfg.Session.Budget = f.budget
	}
	overrideMode(cfg, changed("dry-run"), f.dryRun, session.ModeDryRun)
	overrideMode(cfg, changed("scrape-only"), f.scrapeOnly, session.ModeScrapeOnly)
	if changed("confirm") {
		cfg.Session.ConfirmationRequired = f.confirm
	}
	if changed("like-mode") {
		variant, err := action.ParseLikeVariant(f.likeMode)
		if err != nil {
			return err
		}
		cfg.Session.LikeVariant = variant
	}
	if changed("ai-routing") {
		cfg.Session.Strategy = session.StrategyDeterministic
		if f.aiRouting {
			cfg.Session.Strategy = session.StrategyContentDriven
		}
	}
	if changed("skip-precheck") {
		cfg.Session.SkipPrecheck = f.skipPrecheck
	}
	if changed("target") {
		cfg.Target = config.Target(strings.ToLower(strings.TrimSpace(f.target)))
	}
	if changed("serial") {
		cfg.Device.Serial = strings.TrimSpace(f.serial)
	}
	return cfg.Validate()
}

// overrideMode turns mode on when its flag is set true. Setting it false
// returns a config that selected mode to normal and leaves any other mode.
func overrideMode(cfg *config.Config, changed, on bool, mode session.Mode) {
	switch {
	case !changed:
	case on:
		cfg.Session.Mode = mode
	case cfg.Session.Mode == mode:
		cfg.Session.Mode = session.ModeNormal
	}
}

func runSession(ctx context.Context, cli *app, metricsAddr string) error {
	cfg := cli.cfg
	sessionID := uuid.NewString()
	logger := cli.logs.WithRunID(sessionID).Logger

	if cfg.OTel.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Options{
			Endpoint:    cfg.OTel.Endpoint,
			Environment: cfg.OTel.Environment,
			Certificate: cfg.OTel.Certificate,
			Fallback:    cli.errOut,
		})
		if err != nil {
			return err
		}
		defer shutdown()
	}

	bus := events.New(events.WithLogger(logger.StandardLog()))
	defer func() {
		bus.Close()
		if dropped := bus.Dropped(); dropped > 0 {
			logger.Warn("event deliveries dropped", "count", dropped)
		}
	}()
	bus.SubscribeAll(func(event events.Event) {
		logger.Debug("event", "type", event.Type, "entity", event.EntityID, "severity", event.Severity)
	})
	collector := metrics.NewCollector()
	collector.Subscribe(bus)
	if strings.TrimSpace(metricsAddr) != "" {
		stop := serveMetrics(metricsAddr, collector.Handler(), logger)
		defer stop()
	}

	var client llm.Client
	if cfg.Session.Strategy == session.StrategyContentDriven || cfg.LLM.Vision {
		provider, err := llm.ParseProvider(cfg.LLM.Provider)
		if err != nil {
			return err
		}
		client, err = llm.New(ctx, provider, cfg.LLM.Model)
		if err != nil {
			return fmt.Errorf("configure llm: %w", err)
		}
	}

	markers := uixml.DefaultMarkers().Merge(cfg.Device.Markers)
	executor, closeExecutor, err := buildExecutor(ctx, cfg, markers, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeExecutor(); err != nil {
			logger.Warn("close executor", "error", err)
		}
	}()

	analyzerOptions := []perception.AnalyzerOption{
		perception.WithKeyFields(cfg.KeyFields),
		perception.WithLogger(logger),
	}
	if cfg.LLM.Vision {
		extractor, err := vision.New(client)
		if err != nil {
			return err
		}
		analyzerOptions = append(analyzerOptions, perception.WithContentExtractor(extractor))
	}
	analyzer, err := perception.NewAnalyzer(uixml.NewParser(markers), analyzerOptions...)
	if err != nil {
		return err
	}

	decider, err := buildPolicy(cfg, client, logger)
	if err != nil {
		return err
	}
	ladder, err := recovery.NewController(recovery.Config{
		RelaunchAttempts: cfg.Session.RelaunchAttempts,
		EventBus:         bus,
	})
	if err != nil {
		return err
	}

	sink, err := openSinks(ctx, cfg, sessionID)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close export sinks", "error", err)
		}
	}()

	deps := session.Dependencies{
		Executor:   executor,
		Perception: analyzer,
		Policy:     decider,
		Verifier:   verify.New(cfg.Verify),
		Recovery:   ladder,
		Sink:       sink,
		Bus:        bus,
		Logger:     logger,
	}
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if cfg.Session.ConfirmationRequired {
		gate := confirm.NewGate(1)
		startConfirmConsumer(consumerCtx, gate, cli.in, cli.out)
		deps.Confirmer = gate
	}

	orchestrator, err := session.New(cfg.Session, deps, session.WithSessionID(sessionID))
	if err != nil {
		return err
	}
	summary, err := orchestrator.Run(ctx)
	writeSummary(cli.out, summary)
	if err != nil {
		return err
	}
	if fatal := summary.Err(); fatal != nil {
		return fmt.Errorf("session %s: %w: %s", summary.SessionID, fatal, summary.Diagnostic)
	}
	return nil
}

func buildExecutor(ctx context.Context, cfg *config.Config, markers uixml.Markers, logger *log.Logger) (action.Executor, func() error, error) {
	confidence := cfg.Session.ConfidenceThreshold
	switch cfg.Target {
	case config.TargetBrowser:
		page, err := browser.Launch(ctx, browser.LaunchConfig{
			Bin:         cfg.Browser.Bin,
			UserDataDir: cfg.Browser.UserDataDir,
			Headless:    cfg.Browser.Headless,
		})
		if err != nil {
			return nil, nil, err
		}
		executor, err := browser.New(browser.Options{
			Page:       page,
			URL:        cfg.Browser.URL,
			Selectors:  cfg.Browser.Selectors,
			Markers:    markers,
			Confidence: confidence,
			Logger:     logger,
		})
		if err != nil {
			_ = page.Close()
			return nil, nil, err
		}
		if err := executor.Start(ctx); err != nil {
			_ = executor.Close()
			return nil, nil, err
		}
		return executor, executor.Close, nil
	default:
		executor, err := adb.New(adb.Options{
			Path:            cfg.Device.ADBPath,
			Serial:          cfg.Device.Serial,
			Package:         cfg.Device.Package,
			Width:           cfg.Device.ScreenWidth,
			Height:          cfg.Device.ScreenHeight,
			CommandInterval: cfg.Device.CommandInterval,
			Markers:         markers,
			Confidence:      confidence,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return executor, func() error { return nil }, nil
	}
}

func buildPolicy(cfg *config.Config, client llm.Client, logger *log.Logger) (session.Policy, error) {
	scorer, err := cfg.Scorer()
	if err != nil {
		return nil, err
	}
	options := []policy.Option{
		policy.WithCommenter(policy.Template(cfg.Comment)),
		policy.WithScorer(scorer),
		policy.WithPriorityQuota(cfg.PriorityQuota),
		policy.WithLogger(logger),
	}
	if cfg.Session.Strategy != session.StrategyContentDriven {
		return policy.NewDeterministic(options...), nil
	}
	generator, err := policy.NewLLMGenerator(client, cfg.Style, cfg.Preferences)
	if err != nil {
		return nil, err
	}
	return policy.NewContentDriven(generator, options...)
}

func openSinks(ctx context.Context, cfg *config.Config, sessionID string) (export.Multi, error) {
	var sinks export.Multi
	if cfg.Export.CSV {
		csvSink, err := export.NewCSVSink(cfg.Export.Dir, sessionID, time.Now())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}
	if path := cfg.SQLitePath(); path != "" {
		store, err := export.OpenStore(ctx, path)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, store)
	}
	return sinks, nil
}

func serveMetrics(addr string, handler http.Handler, logger *log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func writeSummary(out io.Writer, summary session.Summary) {
	status := "completed"
	switch {
	case summary.Reason == session.ReasonCancelled:
		status = "cancelled"
	case summary.Reason.Failed() || summary.Reason == "":
		status = "failed"
	}
	fmt.Fprintf(out, "%s  %s\n", theme.Status(status), theme.InfoStyle.Render(string(summary.Reason)))
	fmt.Fprintf(out, "  session    %s\n", summary.SessionID)
	fmt.Fprintf(out, "  processed  %d in %d cycles (%s)\n", summary.Processed, summary.Cycles, summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
	fmt.Fprintf(out, "  likes      %d (%d with comment)\n", summary.Likes, summary.Comments)
	fmt.Fprintf(out, "  rejects    %d, declined %d, simulated %d\n", summary.Rejects, summary.Declined, summary.Simulated)
	if summary.SinkErrors > 0 {
		fmt.Fprintln(out, theme.WarningStyle.Render(fmt.Sprintf("  %d records failed to export", summary.SinkErrors)))
	}
	if summary.Diagnostic != "" {
		fmt.Fprintln(out, theme.MutedStyle.Render("  "+summary.Diagnostic))
	}
}
