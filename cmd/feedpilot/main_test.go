package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/config"
	"github.com/feedpilot/feedpilot/internal/session"
)

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() {
		Version = originalVersion
	}()
	Version = "v0.1.0-test"
	cmd := newRootCommand(&app{})

	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if output := strings.TrimSpace(stdout.String()); output != "v0.1.0-test" {
		t.Fatalf("version output = %q, want %q", output, "v0.1.0-test")
	}
}

func TestRootCommandHelpListsExpectedSubcommands(t *testing.T) {
	cmd := newRootCommand(&app{})
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	output := stdout.String()
	for _, name := range []string{"run", "doctor", "stats", "bugreport"} {
		if !strings.Contains(output, name) {
			t.Fatalf("help output missing %q: %s", name, output)
		}
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	cfg := config.Defaults()
	cmd, flags := parseRunFlags(t, "--budget=3", "--dry-run", "--confirm", "--like-mode=normal", "--ai-routing", "--serial", "R58M")

	if err := flags.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Session.Budget != 3 {
		t.Fatalf("budget = %d, want 3", cfg.Session.Budget)
	}
	if cfg.Session.Mode != session.ModeDryRun {
		t.Fatalf("mode = %s, want %s", cfg.Session.Mode, session.ModeDryRun)
	}
	if !cfg.Session.ConfirmationRequired {
		t.Fatal("confirmation should be required")
	}
	if cfg.Session.LikeVariant != action.VariantNormal {
		t.Fatalf("like variant = %s, want normal", cfg.Session.LikeVariant)
	}
	if cfg.Session.Strategy != session.StrategyContentDriven {
		t.Fatalf("strategy = %s, want content driven", cfg.Session.Strategy)
	}
	if cfg.Device.Serial != "R58M" {
		t.Fatalf("serial = %q, want R58M", cfg.Device.Serial)
	}
}

func TestRunFlagsLeaveUnsetValuesAlone(t *testing.T) {
	cfg := config.Defaults()
	cfg.Session.Budget = 25
	cfg.Session.ConfirmationRequired = true
	cmd, flags := parseRunFlags(t)

	if err := flags.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Session.Budget != 25 || !cfg.Session.ConfirmationRequired {
		t.Fatalf("session config changed without flags: %+v", cfg.Session)
	}
	if cfg.Session.Mode != session.ModeNormal {
		t.Fatalf("mode = %s, want normal", cfg.Session.Mode)
	}
}

func TestRunFlagsTurnConfiguredModeOff(t *testing.T) {
	tests := []struct {
		name       string
		configured session.Mode
		args       []string
		want       session.Mode
	}{
		{name: "dry run off", configured: session.ModeDryRun, args: []string{"--dry-run=false"}, want: session.ModeNormal},
		{name: "scrape only off", configured: session.ModeScrapeOnly, args: []string{"--scrape-only=false"}, want: session.ModeNormal},
		{name: "other mode kept", configured: session.ModeScrapeOnly, args: []string{"--dry-run=false"}, want: session.ModeScrapeOnly},
		{name: "switch modes", configured: session.ModeScrapeOnly, args: []string{"--scrape-only=false", "--dry-run"}, want: session.ModeDryRun},
		{name: "unset keeps config", configured: session.ModeDryRun, want: session.ModeDryRun},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Session.Mode = tc.configured
			cmd, flags := parseRunFlags(t, tc.args...)
			if err := flags.apply(cmd, &cfg); err != nil {
				t.Fatalf("apply(%v): %v", tc.args, err)
			}
			if cfg.Session.Mode != tc.want {
				t.Fatalf("mode = %s, want %s", cfg.Session.Mode, tc.want)
			}
		})
	}
}

func TestRunFlagsRejectInvalidCombinations(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "dry run and scrape only", args: []string{"--dry-run", "--scrape-only"}},
		{name: "zero budget", args: []string{"--budget=0"}},
		{name: "unknown like mode", args: []string{"--like-mode=super"}},
		{name: "browser without url", args: []string{"--target=browser"}},
		{name: "unknown target", args: []string{"--target=ios"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Defaults()
			cmd, flags := parseRunFlags(t, tc.args...)
			if err := flags.apply(cmd, &cfg); err == nil {
				t.Fatalf("apply(%v) succeeded, want error", tc.args)
			}
		})
	}
}

func TestWriteSummary(t *testing.T) {
	started := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	writeSummary(&out, session.Summary{
		SessionID:  "7f9c",
		Reason:     session.ReasonRecoveryExhausted,
		Diagnostic: "relaunch did not restore the feed",
		Processed:  4,
		Cycles:     9,
		Likes:      3,
		Comments:   2,
		Rejects:    1,
		SinkErrors: 1,
		StartedAt:  started,
		FinishedAt: started.Add(95 * time.Second),
	})
	output := out.String()
	for _, want := range []string{"failed", "failed:recovery_exhausted", "7f9c", "4 in 9 cycles (1m35s)", "3 (2 with comment)", "1 records failed", "relaunch did not restore"} {
		if !strings.Contains(output, want) {
			t.Fatalf("summary missing %q:\n%s", want, output)
		}
	}
}

func TestSkipSetup(t *testing.T) {
	root := newRootCommand(&app{})
	for _, tc := range []struct {
		args []string
		want bool
	}{
		{args: []string{"run"}, want: false},
		{args: []string{"doctor"}, want: false},
		{args: []string{"bugreport"}, want: true},
	} {
		cmd, _, err := root.Find(tc.args)
		if err != nil {
			t.Fatalf("find %v: %v", tc.args, err)
		}
		if got := skipSetup(cmd); got != tc.want {
			t.Fatalf("skipSetup(%v) = %v, want %v", tc.args, got, tc.want)
		}
	}
}

func TestRunFailsOnMissingExplicitConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"stats", "--config", "/nonexistent/feedpilot.toml"}, strings.NewReader(""), &out, &errOut)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("run error = %v, want load config failure", err)
	}
}

func parseRunFlags(t *testing.T, args ...string) (*cobra.Command, *runFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	flags := &runFlags{}
	bindRunFlags(cmd, flags)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags %v: %v", args, err)
	}
	return cmd, flags
}

func TestIsTerminalRejectsNonFiles(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Fatal("buffer reported as terminal")
	}
	if isTerminal(nil) {
		t.Fatal("nil reported as terminal")
	}
	file, err := os.CreateTemp(t.TempDir(), "stream")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer func() { _ = file.Close() }()
	if isTerminal(file) {
		t.Fatal("regular file reported as terminal")
	}
}
