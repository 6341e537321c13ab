// Package storage persists archive records in SQLite, with one full-text
// mirror table per searchable kind and a durable embeddings table.
//
// Every batch write is one transaction covering both the base table and
// its FTS mirror: a crash mid-batch leaves the store at the previous
// state. The schema only ever grows; on open, pending additive migrations
// run in order and the new version is recorded in the meta table.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/liliang-cn/xf/internal/logging"
)

// schemaVersion is the version the code expects. Migrations run for every
// version between the stored one and this.
const schemaVersion = 2

var (
	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrSchemaTooNew is returned when the database was written by a newer
	// build. Suggest upgrading or rebuilding the index.
	ErrSchemaTooNew = errors.New("database schema is newer than this build")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("storage: %v", e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store is the SQLite-backed persistent store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	logger logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger injects a logger. The default is silent.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens or creates the database at path and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, wrapError("open", errors.New("database path cannot be empty"))
	}

	dsn := path + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapError("open", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	s := &Store{db: db, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(false); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory database, used by tests and the shell.
func OpenMemory(opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, wrapError("open", err)
	}
	// A pooled second connection would see a different empty database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(true); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(memory bool) error {
	pragmas := `
	PRAGMA synchronous = NORMAL;
	PRAGMA foreign_keys = ON;
	PRAGMA cache_size = -65536;
	PRAGMA temp_store = MEMORY;
	`
	if !memory {
		pragmas = "PRAGMA journal_mode = WAL;\n" + pragmas
	}
	if _, err := s.db.Exec(pragmas); err != nil {
		return wrapError("init", err)
	}

	if err := s.migrate(); err != nil {
		return wrapError("init", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// DB exposes the underlying connection for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// SchemaVersion returns the version stored in the meta table.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	version, err := s.storedVersion(ctx)
	if err != nil {
		return 0, wrapError("schema_version", err)
	}
	return version, nil
}

func (s *Store) storedVersion(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = 'schema_version'").Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		// Missing meta table counts as version 0.
		return 0, nil
	}
	version, convErr := strconv.Atoi(value)
	if convErr != nil {
		return 0, nil
	}
	return version, nil
}

func (s *Store) migrate() error {
	ctx := context.Background()

	current, err := s.storedVersion(ctx)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("%w: stored %d, expected at most %d (rebuild with 'xf index --force')",
			ErrSchemaTooNew, current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	s.logger.Info("migrating database", "from", current, "to", schemaVersion)

	for v := current + 1; v <= schemaVersion; v++ {
		if err := migrations[v-1](s.db); err != nil {
			return fmt.Errorf("migration to version %d: %w", v, err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		strconv.Itoa(schemaVersion))
	return err
}

// migrations are additive only; columns are never removed.
var migrations = []func(*sql.DB) error{
	migrateV1,
	migrateV2,
}

func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS archive_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		account_id TEXT NOT NULL,
		handle TEXT NOT NULL,
		display_name TEXT,
		byte_size INTEGER,
		generated_at TEXT,
		is_partial INTEGER DEFAULT 0,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		authored_at TEXT NOT NULL,
		body TEXT NOT NULL,
		source_label TEXT,
		favorite_count INTEGER DEFAULT 0,
		reshare_count INTEGER DEFAULT 0,
		language_tag TEXT,
		reply_parent_id TEXT,
		reply_parent_author TEXT,
		is_reshare INTEGER DEFAULT 0,
		hashtags_json TEXT,
		mentions_json TEXT,
		links_json TEXT,
		attachments_json TEXT
	);

	CREATE TABLE IF NOT EXISTS liked (
		id TEXT PRIMARY KEY,
		body TEXT,
		expanded_url TEXT
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		participant_ids TEXT,
		message_count INTEGER DEFAULT 0,
		first_message_at TEXT,
		last_message_at TEXT
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		body TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		links_json TEXT,
		attachment_urls_json TEXT,
		FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
	);

	CREATE TABLE IF NOT EXISTS chatbot_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		body TEXT NOT NULL,
		sender TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		mode TEXT
	);

	CREATE TABLE IF NOT EXISTS followers (
		account_id TEXT PRIMARY KEY,
		profile_url TEXT
	);

	CREATE TABLE IF NOT EXISTS following (
		account_id TEXT PRIMARY KEY,
		profile_url TEXT
	);

	CREATE TABLE IF NOT EXISTS blocks (
		account_id TEXT PRIMARY KEY,
		profile_url TEXT
	);

	CREATE TABLE IF NOT EXISTS mutes (
		account_id TEXT PRIMARY KEY,
		profile_url TEXT
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_posts USING fts5(post_id, body);
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_liked USING fts5(liked_id, body);
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_messages USING fts5(message_id, body);
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chatbot USING fts5(turn_id, body);
	`)
	return err
}

func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS embeddings (
		doc_id TEXT NOT NULL,
		doc_kind TEXT NOT NULL,
		content_hash BLOB NOT NULL,
		vector BLOB NOT NULL,
		UNIQUE (doc_id, doc_kind)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_authored_at ON posts(authored_at);
	CREATE INDEX IF NOT EXISTS idx_posts_reply_parent ON posts(reply_parent_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	CREATE INDEX IF NOT EXISTS idx_chatbot_chat_id ON chatbot_turns(chat_id);
	CREATE INDEX IF NOT EXISTS idx_chatbot_sent_at ON chatbot_turns(sent_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chatbot_turn_key ON chatbot_turns(chat_id, sent_at);
	`)
	return err
}
