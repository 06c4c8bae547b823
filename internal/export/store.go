package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feedpilot/feedpilot/internal/session"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT    NOT NULL COLLATE NOCASE,
	age           INTEGER NOT NULL DEFAULT 0,
	height_cm     INTEGER NOT NULL DEFAULT 0,
	location      TEXT    NOT NULL DEFAULT '',
	interests     TEXT    NOT NULL DEFAULT '',
	text          TEXT    NOT NULL DEFAULT '',
	attributes    TEXT    NOT NULL DEFAULT '{}',
	first_seen    TEXT    NOT NULL,
	last_seen     TEXT    NOT NULL,
	seen_count    INTEGER NOT NULL DEFAULT 1,
	last_session  TEXT    NOT NULL DEFAULT '',
	last_intent   TEXT    NOT NULL DEFAULT '',
	last_outcome  TEXT    NOT NULL DEFAULT '',
	liked         INTEGER NOT NULL DEFAULT 0,
	commented     INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_unique ON profiles(name, age, height_cm);
`

const upsert = `
INSERT INTO profiles (
	name, age, height_cm, location, interests, text, attributes,
	first_seen, last_seen, seen_count, last_session, last_intent, last_outcome, liked, commented
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
ON CONFLICT(name, age, height_cm) DO UPDATE SET
	location     = CASE WHEN excluded.location <> '' THEN excluded.location ELSE profiles.location END,
	interests    = CASE WHEN excluded.interests <> '' THEN excluded.interests ELSE profiles.interests END,
	text         = CASE WHEN excluded.text <> '' THEN excluded.text ELSE profiles.text END,
	attributes   = CASE WHEN excluded.attributes <> '{}' THEN excluded.attributes ELSE profiles.attributes END,
	last_seen    = excluded.last_seen,
	seen_count   = profiles.seen_count + 1,
	last_session = excluded.last_session,
	last_intent  = excluded.last_intent,
	last_outcome = excluded.last_outcome,
	liked        = MAX(profiles.liked, excluded.liked),
	commented    = MAX(profiles.commented, excluded.commented)
`

// Store deduplicates subjects across sessions on (name NOCASE, age,
// height_cm).
type Store struct {
	db *sql.DB
}

// Profile is one stored subject.
type Profile struct {
	Name      string
	Age       int
	HeightCM  int
	Location  string
	SeenCount int
	FirstSeen time.Time
	LastSeen  time.Time
	Liked     bool
	Commented bool
}

// Stats summarizes the store.
type Stats struct {
	Profiles  int
	Liked     int
	Commented int
	Repeats   int
}

// OpenStore opens or creates the SQLite profile store at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Record implements session.Sink. Only records that identify a processed or
// declined subject are stored.
func (s *Store) Record(ctx context.Context, record session.Record) error {
	if !storable(record) {
		return nil
	}
	subject := record.Subject
	attributes := "{}"
	if len(subject.Attributes) > 0 {
		encoded, err := json.Marshal(subject.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		attributes = string(encoded)
	}
	seen := record.Timestamp.UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, upsert,
		strings.TrimSpace(subject.Name),
		subject.Age,
		subject.HeightCM,
		strings.TrimSpace(subject.Location),
		strings.Join(subject.Interests, "; "),
		strings.TrimSpace(subject.Text),
		attributes,
		seen,
		seen,
		record.SessionID,
		string(record.Intent.Kind),
		string(record.Outcome),
		boolInt(record.SentLike),
		boolInt(record.SentComment),
	)
	if err != nil {
		return fmt.Errorf("upsert profile %q: %w", subject.Name, err)
	}
	return nil
}

// Lookup returns the stored profile for the dedup key.
func (s *Store) Lookup(ctx context.Context, name string, age, heightCM int) (Profile, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT name, age, height_cm, location, seen_count, first_seen, last_seen, liked, commented
FROM profiles WHERE name = ? AND age = ? AND height_cm = ?`, strings.TrimSpace(name), age, heightCM)

	var (
		profile          Profile
		first, last      string
		liked, commented int
	)
	err := row.Scan(&profile.Name, &profile.Age, &profile.HeightCM, &profile.Location, &profile.SeenCount, &first, &last, &liked, &commented)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("lookup profile: %w", err)
	}
	profile.FirstSeen, _ = time.Parse(time.RFC3339, first)
	profile.LastSeen, _ = time.Parse(time.RFC3339, last)
	profile.Liked = liked != 0
	profile.Commented = commented != 0
	return profile, true, nil
}

// Stats counts stored profiles.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(liked), 0),
       COALESCE(SUM(commented), 0),
       COALESCE(SUM(CASE WHEN seen_count > 1 THEN 1 ELSE 0 END), 0)
FROM profiles`).Scan(&stats.Profiles, &stats.Liked, &stats.Commented, &stats.Repeats)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func storable(record session.Record) bool {
	if strings.TrimSpace(record.Subject.Name) == "" {
		return false
	}
	switch record.Outcome {
	case session.OutcomeProgressed, session.OutcomeDeclined:
		return true
	default:
		return false
	}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
