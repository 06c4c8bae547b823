// Package logging writes JSON run logs to rotating files under the feedpilot
// home directory.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB = 20
	defaultMaxFiles  = 10
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	dir       string
	runID     string
	level     log.Level
	maxSizeMB int
	maxFiles  int
	mirror    io.Writer
}

// WithDir overrides the log directory. The default is ~/.feedpilot/logs.
func WithDir(dir string) Option {
	return func(opts *newOptions) {
		opts.dir = strings.TrimSpace(dir)
	}
}

// WithRunID configures the run_id field used in emitted log records.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithLevel sets the minimum level written.
func WithLevel(level log.Level) Option {
	return func(opts *newOptions) {
		opts.level = level
	}
}

// WithRotation sets the size in megabytes at which the file rotates and how
// many rotated files are kept.
func WithRotation(maxSizeMB, maxFiles int) Option {
	return func(opts *newOptions) {
		if maxSizeMB > 0 {
			opts.maxSizeMB = maxSizeMB
		}
		if maxFiles > 0 {
			opts.maxFiles = maxFiles
		}
	}
}

// WithMirror copies every record to w, typically stderr for --verbose.
func WithMirror(w io.Writer) Option {
	return func(opts *newOptions) {
		opts.mirror = w
	}
}

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger     *log.Logger
	writer     *lumberjack.Logger
	path       string
	baseLogger *log.Logger
	runID      string
	traceID    string
	spanID     string
}

// DefaultDir returns ~/.feedpilot/logs.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, ".feedpilot", "logs"), nil
}

// New opens a run log file. Nothing is written to stdout.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)
	logDir := resolved.dir
	if logDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		logDir = dir
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	fileName := fmt.Sprintf("feedpilot-%s.log", timestamp)
	if resolved.runID != "" {
		fileName = fmt.Sprintf("feedpilot-%s-%s.log", timestamp, resolved.runID)
	}
	filePath := filepath.Join(logDir, fileName)
	writer := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    resolved.maxSizeMB,
		MaxBackups: resolved.maxFiles,
		Compress:   true,
	}

	var out io.Writer = writer
	if resolved.mirror != nil {
		out = io.MultiWriter(writer, resolved.mirror)
	}
	logger := log.NewWithOptions(out, log.Options{
		Level:           resolved.level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		writer:     writer,
		path:       filePath,
		baseLogger: logger,
		runID:      resolved.runID,
	}
	runtimeLogger.WithSpanContext(trace.SpanContextFromContext(ctx))
	runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")
	return runtimeLogger, nil
}

// WithRunID updates the run_id field for subsequent log records.
func (r *RuntimeLogger) WithRunID(runID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.runID = strings.TrimSpace(runID)
	r.rebuildLogger()
	return r
}

// WithSpanContext stamps trace_id and span_id from sc on subsequent records.
// An invalid span context clears both.
func (r *RuntimeLogger) WithSpanContext(sc trace.SpanContext) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.traceID, r.spanID = "", ""
	if sc.IsValid() {
		r.traceID = sc.TraceID().String()
		r.spanID = sc.SpanID().String()
	}
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.writer == nil {
		return nil
	}
	if err := r.writer.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With(
		"run_id", r.runID,
		"trace_id", r.traceID,
		"span_id", r.spanID,
	)
}

// ParseLevel maps a configured level name to a log level. Unknown names fall
// back to info.
func ParseLevel(value string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{
		level:     log.InfoLevel,
		maxSizeMB: defaultMaxSizeMB,
		maxFiles:  defaultMaxFiles,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
