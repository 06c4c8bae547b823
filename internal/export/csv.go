// Package export persists session records as CSV files and as a
// deduplicated SQLite profile store.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/feedpilot/feedpilot/internal/session"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"session_id",
	"timestamp",
	"profile_index",
	"name",
	"age",
	"height_cm",
	"location",
	"interests",
	"intent",
	"outcome",
	"verification",
	"verification_basis",
	"sent_like",
	"sent_comment",
	"comment_text",
	"comment_hash",
	"stuck_count",
	"errors_encountered",
}

// CSVSink appends one row per record to a per-session CSV file.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	path   string
	rows   int
}

// NewCSVSink creates dir if needed and opens a new CSV file for sessionID.
func NewCSVSink(dir, sessionID string, now time.Time) (*CSVSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("export directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	name := fmt.Sprintf("feedpilot-%s.csv", now.UTC().Format("20060102-150405"))
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		name = fmt.Sprintf("feedpilot-%s-%s.csv", now.UTC().Format("20060102-150405"), shortID(sessionID))
	}
	path := filepath.Join(dir, name)
	// #nosec G304 -- path is built from the configured export directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(Columns); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write export header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write export header: %w", err)
	}
	return &CSVSink{file: file, writer: writer, path: path}, nil
}

// Path returns the CSV file path.
func (s *CSVSink) Path() string {
	return s.path
}

// Rows returns the number of records written.
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Record implements session.Sink.
func (s *CSVSink) Record(_ context.Context, record session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return errors.New("csv sink is closed")
	}
	if err := s.writer.Write(Row(record)); err != nil {
		return fmt.Errorf("write export row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("write export row: %w", err)
	}
	s.rows++
	return nil
}

// Flush syncs the file to disk.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.writer = nil, nil
	return err
}

// Row renders record in Columns order.
func Row(record session.Record) []string {
	subject := record.Subject
	comment := ""
	if record.SentComment || record.Simulated {
		comment = record.Intent.Comment
	}
	return []string{
		record.SessionID,
		record.Timestamp.UTC().Format(time.RFC3339),
		strconv.Itoa(record.ProfileIndex),
		subject.Field("name"),
		subject.Field("age"),
		subject.Field("height_cm"),
		subject.Field("location"),
		strings.Join(subject.Interests, "; "),
		string(record.Intent.Kind),
		string(record.Outcome),
		string(record.Verification),
		string(record.Basis),
		strconv.FormatBool(record.SentLike),
		strconv.FormatBool(record.SentComment),
		comment,
		CommentHash(comment),
		strconv.Itoa(record.StuckCount),
		strconv.Itoa(record.Errors),
	}
}

// CommentHash returns a short stable digest of a comment. Empty comments hash
// to "".
func CommentHash(comment string) string {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(comment))
	return hex.EncodeToString(sum[:8])
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
