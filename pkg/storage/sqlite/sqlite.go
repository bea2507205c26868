package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rexliu/topics/pkg/core"
)

// RootID is the id of the topic created by Init.
const RootID int64 = 1

// ErrNoRowsAffected indicates an update or delete matched nothing.
var ErrNoRowsAffected = errors.New("no rows affected")

// Store owns the SQLite database for a profile.
type Store struct {
	db          *sql.DB
	path        string
	journalMode string
	synchronous string
}

// Option tunes a Store before Init.
type Option func(*Store)

// WithJournalMode overrides the journal_mode pragma.
func WithJournalMode(mode string) Option {
	return func(s *Store) {
		if mode != "" {
			s.journalMode = mode
		}
	}
}

// WithSynchronous overrides the synchronous pragma.
func WithSynchronous(level string) Option {
	return func(s *Store) {
		if level != "" {
			s.synchronous = level
		}
	}
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas below are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path, journalMode: "DELETE", synchronous: "FULL"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured, and the root topic exists.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA journal_mode = %s;", sanitizePragma(s.journalMode)),
		fmt.Sprintf("PRAGMA synchronous = %s;", sanitizePragma(s.synchronous)),
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	if err := s.applySchema(ctx); err != nil {
		return err
	}
	return s.ensureRoot(ctx)
}

func sanitizePragma(v string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, v)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS topics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER REFERENCES topics(id) ON DELETE CASCADE,
			key TEXT NOT NULL,
			content_type TEXT NOT NULL,
			ord REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_topics_parent_ord ON topics(parent_id, ord);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_topics_parent_key ON topics(parent_id, key COLLATE NOCASE);`,
		`CREATE TABLE IF NOT EXISTS attributes (
			topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT,
			version INTEGER NOT NULL,
			PRIMARY KEY (topic_id, key, version)
		);`,
		`CREATE TABLE IF NOT EXISTS relationships (
			topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			target_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			ord INTEGER NOT NULL,
			PRIMARY KEY (topic_id, name, target_id)
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureRoot(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO topics(id, parent_id, key, content_type, ord, created_at, updated_at)
		VALUES (?, NULL, 'Root', 'Container', 0, ?, ?);
	`, RootID, now, now)
	return err
}

// LoadGraph returns the current topic graph snapshot.
func (s *Store) LoadGraph(ctx context.Context) (*core.Graph, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, key, content_type, ord, created_at, updated_at
		FROM topics;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*core.Topic)
	var topics []*core.Topic
	for rows.Next() {
		var (
			t        core.Topic
			parentID sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &parentID, &t.Key, &t.ContentType, &t.Ord, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			p := parentID.Int64
			t.ParentID = &p
		}
		t.Attributes = map[string]string{}
		byID[t.ID] = &t
		topics = append(topics, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadAttributes(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadRelationships(ctx, byID); err != nil {
		return nil, err
	}
	version, err := s.graphVersion(ctx)
	if err != nil {
		return nil, err
	}
	return core.NewGraph(version, RootID, topics), nil
}

func (s *Store) loadAttributes(ctx context.Context, byID map[int64]*core.Topic) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.topic_id, a.key, a.value
		FROM attributes a
		JOIN (
			SELECT topic_id, key, MAX(version) AS version
			FROM attributes
			GROUP BY topic_id, key
		) latest ON a.topic_id = latest.topic_id AND a.key = latest.key AND a.version = latest.version
		WHERE a.value IS NOT NULL;
	`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			topicID    int64
			key, value string
		)
		if err := rows.Scan(&topicID, &key, &value); err != nil {
			return err
		}
		if t := byID[topicID]; t != nil {
			t.Attributes[key] = value
		}
	}
	return rows.Err()
}

func (s *Store) loadRelationships(ctx context.Context, byID map[int64]*core.Topic) error {
	rows, err := s.db.QueryContext(ctx, `SELECT topic_id, name, target_id FROM relationships ORDER BY topic_id, name, ord;`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			topicID, targetID int64
			name              string
		)
		if err := rows.Scan(&topicID, &name, &targetID); err != nil {
			return err
		}
		t := byID[topicID]
		if t == nil {
			continue
		}
		if t.Relationships == nil {
			t.Relationships = map[string][]int64{}
		}
		t.Relationships[name] = append(t.Relationships[name], targetID)
	}
	return rows.Err()
}

func (s *Store) graphVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'graphVersion'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "uninitialized", nil
	}
	return version, err
}
