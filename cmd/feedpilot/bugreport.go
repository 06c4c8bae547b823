package main

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedpilot/feedpilot/internal/device/adb"
)

const (
	recentLogCount = 3
	redactedValue  = "<redacted>"
)

var sensitiveWords = []string{"token", "password", "passwd", "secret", "api-key", "api_key", "apikey", "auth", "bearer"}

// reporter gathers the diagnostic bundle. Its hooks are swapped in tests.
type reporter struct {
	now     func() time.Time
	homeDir func() (string, error)
	workDir func() (string, error)
	exec    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func defaultReporter() reporter {
	return reporter{
		now:     func() time.Time { return time.Now().UTC() },
		homeDir: os.UserHomeDir,
		workDir: os.Getwd,
		exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func newBugreportCommand(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect recent logs and redacted config into a diagnostic bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := defaultReporter().write(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Bug report written to: %s\n", path)
			return err
		},
	}
}

// write builds feedpilot-bugreport-<stamp>.tar.gz in the working directory
// and returns its path. Missing optional inputs become notes in README.txt.
func (r reporter) write(ctx context.Context) (string, error) {
	home, err := r.homeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if home = filepath.Clean(home); strings.TrimSpace(home) == "" || home == "." {
		return "", errors.New("home directory is not valid")
	}
	work, err := r.workDir()
	if err != nil {
		return "", fmt.Errorf("resolve current directory: %w", err)
	}

	stamp := r.now()
	path := filepath.Join(filepath.Clean(work), "feedpilot-bugreport-"+stamp.Format("20060102-150405")+".tar.gz")
	b, err := createBundle(path, stamp)
	if err != nil {
		return "", err
	}

	runID, traceID := r.addLogs(b, filepath.Join(home, ".feedpilot", "logs"))
	if runID == "" && traceID == "" {
		b.note("no run_id/trace_id in the bundled logs")
	}
	for _, cfg := range []struct{ entry, source string }{
		{"config/home.toml", filepath.Join(home, ".feedpilot", "config.toml")},
		{"config/project.toml", filepath.Join(work, ".feedpilot", "config.toml")},
	} {
		// #nosec G304 -- config locations are fixed under ~/.feedpilot and ./.feedpilot.
		data, err := os.ReadFile(cfg.source)
		if err != nil {
			b.note("config %s unreadable: %v", cfg.source, err)
			data = []byte("# config unavailable\n")
		}
		b.add(cfg.entry, []byte(redactSensitiveConfig(string(data))))
	}
	b.add("adb-devices.txt", []byte(r.capture(ctx, adb.DefaultPath, "devices", "-l")+"\n"))
	b.add("README.txt", b.readme(runID, traceID))

	if err := b.close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// addLogs bundles the newest run logs and returns the most recent run and
// trace ids they mention.
func (r reporter) addLogs(b *bundle, dir string) (runID, traceID string) {
	logs, err := newestFiles(dir, recentLogCount)
	if err != nil {
		b.note("logs directory unreadable: %v", err)
		return "", ""
	}
	for _, log := range logs {
		// #nosec G304 -- paths come from the logs directory listing.
		data, err := os.ReadFile(log.path)
		if err != nil {
			b.note("log %s unreadable: %v", log.path, err)
			continue
		}
		b.add("logs/"+filepath.Base(log.path), data)
		if runID == "" && traceID == "" {
			runID, traceID = lastCorrelation(data)
		}
	}
	return runID, traceID
}

func (r reporter) capture(ctx context.Context, name string, args ...string) string {
	output, err := r.exec(ctx, name, args...)
	text := strings.TrimSpace(string(output))
	switch {
	case err == nil:
		return text
	case text == "":
		return "error: " + err.Error()
	default:
		return text + "\nerror: " + err.Error()
	}
}

// lastCorrelation scans JSON log lines from the end for run_id or trace_id.
func lastCorrelation(data []byte) (runID, traceID string) {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, slices.Clone(scanner.Bytes()))
	}
	for _, line := range slices.Backward(lines) {
		var entry struct {
			RunID   string `json:"run_id"`
			TraceID string `json:"trace_id"`
		}
		if json.Unmarshal(line, &entry) != nil {
			continue
		}
		runID, traceID = strings.TrimSpace(entry.RunID), strings.TrimSpace(entry.TraceID)
		if runID != "" || traceID != "" {
			return runID, traceID
		}
	}
	return "", ""
}

// bundle streams entries into a gzip-compressed tar file. The first write
// error sticks and is returned from close.
type bundle struct {
	file    *os.File
	gz      *gzip.Writer
	tw      *tar.Writer
	modTime time.Time
	entries []string
	notes   []string
	err     error
}

func createBundle(path string, modTime time.Time) (*bundle, error) {
	// #nosec G304 -- path is a generated name in the working directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create bundle %s: %w", path, err)
	}
	gz := gzip.NewWriter(file)
	return &bundle{file: file, gz: gz, tw: tar.NewWriter(gz), modTime: modTime}, nil
}

func (b *bundle) add(name string, data []byte) {
	if b.err != nil {
		return
	}
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o600,
		Size:     int64(len(data)),
		ModTime:  b.modTime,
	}
	if err := b.tw.WriteHeader(header); err != nil {
		b.err = fmt.Errorf("bundle %s: %w", name, err)
		return
	}
	if _, err := io.Copy(b.tw, bytes.NewReader(data)); err != nil {
		b.err = fmt.Errorf("bundle %s: %w", name, err)
		return
	}
	b.entries = append(b.entries, name)
}

func (b *bundle) note(format string, args ...any) {
	b.notes = append(b.notes, fmt.Sprintf(format, args...))
}

func (b *bundle) readme(runID, traceID string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "feedpilot %s bug report, generated %s\n\n", strings.TrimSpace(Version), b.modTime.Format(time.RFC3339))
	fmt.Fprintf(&buf, "run_id:   %s\ntrace_id: %s\n\n", runID, traceID)
	buf.WriteString("Contents:\n")
	for _, entry := range b.entries {
		fmt.Fprintf(&buf, "  %s\n", entry)
	}
	if len(b.notes) > 0 {
		buf.WriteString("\nNotes:\n")
		for _, note := range b.notes {
			fmt.Fprintf(&buf, "  %s\n", note)
		}
	}
	return buf.Bytes()
}

func (b *bundle) close() error {
	err := errors.Join(b.err, b.tw.Close(), b.gz.Close(), b.file.Close())
	if err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	return nil
}

// redactSensitiveConfig masks the value of any TOML key whose name looks like
// a credential.
func redactSensitiveConfig(text string) string {
	var out strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out.WriteByte('\n')
		}
		key, _, isAssignment := strings.Cut(line, "=")
		trimmed := strings.TrimSpace(key)
		if isAssignment && !strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "[") && sensitive(trimmed) {
			line = key + `= "` + redactedValue + `"`
		}
		out.WriteString(line)
	}
	return out.String()
}

// redactArgs masks flag values that look like credentials, in both the
// --flag=value and --flag value forms.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i := 0; i < len(args); i++ {
		arg := strings.TrimSpace(args[i])
		if name, _, ok := strings.Cut(arg, "="); ok && sensitive(name) {
			out[i] = name + "=" + redactedValue
			continue
		}
		out[i] = arg
		if sensitive(arg) && i+1 < len(args) {
			i++
			out[i] = redactedValue
		}
	}
	return out
}

func sensitive(name string) bool {
	name = strings.ToLower(name)
	return slices.ContainsFunc(sensitiveWords, func(word string) bool {
		return strings.Contains(name, word)
	})
}

type datedFile struct {
	path    string
	modTime time.Time
}

// newestFiles lists regular files in dir, newest first, capped at limit when
// limit is positive.
func newestFiles(dir string, limit int) ([]datedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []datedFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			files = append(files, datedFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
		}
	}
	slices.SortFunc(files, func(a, b datedFile) int {
		return b.modTime.Compare(a.modTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
