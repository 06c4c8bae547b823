package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"
)

func TestNewWritesJSONRecordsWithRunFields(t *testing.T) {
	dir := t.TempDir()
	var mirror bytes.Buffer

	logger, err := New(context.Background(), WithDir(dir), WithRunID("run-42"), WithMirror(&mirror))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Logger.Info("cycle finished", "cycle", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if filepath.Dir(logger.Path()) != dir {
		t.Fatalf("log path %q not under %q", logger.Path(), dir)
	}
	if !strings.Contains(filepath.Base(logger.Path()), "run-42") {
		t.Fatalf("log file name %q does not carry the run id", logger.Path())
	}
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), data)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["run_id"] != "run-42" || record["msg"] != "cycle finished" {
		t.Fatalf("unexpected record %v", record)
	}
	if mirror.Len() == 0 {
		t.Fatal("mirror received nothing")
	}
}

func TestWithSpanContextStampsTraceFields(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(context.Background(), WithDir(dir), WithLevel(log.DebugLevel))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	logger.WithSpanContext(trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))
	if logger.traceID != traceID.String() || logger.spanID != spanID.String() {
		t.Fatalf("trace fields not set: %q %q", logger.traceID, logger.spanID)
	}

	logger.WithSpanContext(trace.SpanContext{})
	if logger.traceID != "" || logger.spanID != "" {
		t.Fatal("invalid span context should clear trace fields")
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel("DEBUG"); got != log.DebugLevel {
		t.Fatalf("ParseLevel(DEBUG) = %v", got)
	}
	if got := ParseLevel("chatty"); got != log.InfoLevel {
		t.Fatalf("ParseLevel(chatty) = %v", got)
	}
}

func TestNilRuntimeLoggerIsSafe(t *testing.T) {
	var logger *RuntimeLogger
	if logger.WithRunID("x") != nil || logger.Path() != "" || logger.Close() != nil {
		t.Fatal("nil logger methods should be no-ops")
	}
}
