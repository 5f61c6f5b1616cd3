package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreUnavailable is returned when no document store is configured or reachable
var ErrStoreUnavailable = errors.New("document store unavailable")

var collectionPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Document is a stored event as returned to clients. The "_id" key always
// holds the store identifier rendered as a string.
type Document map[string]interface{}

// Record is a serialized event plus the fields the store indexes
type Record struct {
	Type      string
	Status    string
	Timestamp time.Time
	Body      []byte // JSON object
}

// DocumentStore persists event documents and queries them newest first
type DocumentStore interface {
	Insert(ctx context.Context, rec Record) (string, error)
	Find(ctx context.Context, skip, limit int) ([]Document, error)
	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig describes how to reach the document store
type StoreConfig struct {
	URL        string // sqlite://<dir> or sqlite::memory:
	Database   string // database file name without extension
	Collection string // table name
}

// SQLiteStore is a DocumentStore that keeps one JSON document per row
type SQLiteStore struct {
	db         *sql.DB
	dbPath     string
	collection string
}

// OpenStore opens and pings the configured store. An empty URL yields ErrStoreUnavailable.
func OpenStore(ctx context.Context, cfg StoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: no connection string configured", ErrStoreUnavailable)
	}
	if !collectionPattern.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("invalid collection name %q", cfg.Collection)
	}
	// The database name becomes a file name under the configured directory
	if cfg.Database != "" && !collectionPattern.MatchString(cfg.Database) {
		return nil, fmt.Errorf("invalid database name %q", cfg.Database)
	}

	dbPath, dsn, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if dbPath != ":memory:" {
		db.SetConnMaxLifetime(time.Hour)
	}

	store := &SQLiteStore{
		db:         db,
		dbPath:     dbPath,
		collection: cfg.Collection,
	}

	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrStoreUnavailable, err)
	}

	return store, nil
}

// resolveDSN maps a connection string to a database path and driver DSN
func resolveDSN(cfg StoreConfig) (string, string, error) {
	switch {
	case cfg.URL == "sqlite::memory:":
		return ":memory:", ":memory:", nil
	case strings.HasPrefix(cfg.URL, "sqlite://"):
		dir := strings.TrimPrefix(cfg.URL, "sqlite://")
		if dir == "" {
			dir = "."
		}
		if err := ensureDir(dir); err != nil {
			return "", "", fmt.Errorf("%w: failed to create database directory: %v", ErrStoreUnavailable, err)
		}
		name := cfg.Database
		if name == "" {
			name = "history"
		}
		dbPath := filepath.Join(dir, name+".db")
		return dbPath, dbPath + "?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000", nil
	default:
		return "", "", fmt.Errorf("%w: unsupported connection string %q", ErrStoreUnavailable, cfg.URL)
	}
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// initSchema creates the collection table and its timestamp index
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL, -- unix nanoseconds, UTC
		document TEXT NOT NULL -- JSON document
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s(timestamp DESC);
	`, s.collection)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Insert stores a record and returns its identifier
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (string, error) {
	query := fmt.Sprintf(`INSERT INTO %s (type, status, timestamp, document) VALUES (?, ?, ?, ?)`, s.collection)

	result, err := s.db.ExecContext(ctx, query,
		rec.Type, rec.Status, rec.Timestamp.UTC().UnixNano(), string(rec.Body),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read inserted id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Find returns documents ordered newest first
func (s *SQLiteStore) Find(ctx context.Context, skip, limit int) ([]Document, error) {
	query := fmt.Sprintf(`
		SELECT id, document
		FROM %s
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, s.collection)

	rows, err := s.db.QueryContext(ctx, query, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, limit)
	for rows.Next() {
		var id int64
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}

		doc := Document{}
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			doc = Document{}
		}
		doc["_id"] = strconv.FormatInt(id, 10)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ensureDir ensures a directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
