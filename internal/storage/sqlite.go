// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

const pageColumns = `id, url, title, content, embedding, timestamp, is_bookmark`

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Option configures a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithClock overrides the time source used for page timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStorage) { s.now = now }
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. Use ":memory:" for a private in-memory store.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writes are serialized and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStorage{db: db, path: dbPath, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		timestamp INTEGER NOT NULL,
		is_bookmark INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_pages_timestamp ON pages(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database path the store was opened with.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// SizeBytes returns the on-disk size of the database and its WAL files.
func (s *SQLiteStorage) SizeBytes() (int64, error) {
	return DiskUsageBytes(DatabaseFiles(s.path)...)
}

// Upsert inserts or updates the page with rec.URL inside one transaction.
func (s *SQLiteStorage) Upsert(ctx context.Context, rec *models.PageRecord) (int64, error) {
	if rec == nil || rec.URL == "" {
		return 0, errors.New("page url is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin upsert", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM pages WHERE url = ?`, rec.URL).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ts := rec.Timestamp
		if ts == 0 {
			ts = now
		}
		var blob any
		if rec.HasEmbedding() {
			blob = vector.Encode(rec.Embedding)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pages (url, title, content, embedding, timestamp, is_bookmark)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.URL, rec.Title, rec.Content, blob, ts, rec.IsBookmark,
		)
		if err != nil {
			return 0, unavailable("insert page", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, unavailable("insert page", err)
		}
		rec.Timestamp = ts
	case err != nil:
		return 0, unavailable("look up page", err)
	default:
		if rec.HasEmbedding() {
			_, err = tx.ExecContext(ctx,
				`UPDATE pages SET title = ?, content = ?, embedding = ?, timestamp = ?, is_bookmark = ?
				 WHERE id = ?`,
				rec.Title, rec.Content, vector.Encode(rec.Embedding), now, rec.IsBookmark, id,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE pages SET title = ?, content = ?, timestamp = ?, is_bookmark = ?
				 WHERE id = ?`,
				rec.Title, rec.Content, now, rec.IsBookmark, id,
			)
		}
		if err != nil {
			return 0, unavailable("update page", err)
		}
		rec.Timestamp = now
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit upsert", err)
	}
	rec.ID = id
	return id, nil
}

// FindByURL returns the page with the exact url, or ErrNotFound.
func (s *SQLiteStorage) FindByURL(ctx context.Context, url string) (*models.PageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE url = ?`, url)
	rec, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, unavailable("find page", err)
	}
	return rec, nil
}

// Get returns a page by ID, or ErrNotFound.
func (s *SQLiteStorage) Get(ctx context.Context, id int64) (*models.PageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	rec, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get page", err)
	}
	return rec, nil
}

// Delete removes a page by ID. Returns ErrNotFound when no page has that ID.
func (s *SQLiteStorage) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete page", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Recent returns up to limit pages ordered by timestamp, newest first; ties by higher ID first.
func (s *SQLiteStorage) Recent(ctx context.Context, limit int) ([]*models.PageRecord, error) {
	if limit <= 0 {
		return []*models.PageRecord{}, nil
	}
	return s.query(ctx, "list recent pages",
		`SELECT `+pageColumns+` FROM pages ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// All returns every page in insertion order.
func (s *SQLiteStorage) All(ctx context.Context) ([]*models.PageRecord, error) {
	return s.query(ctx, "list pages", `SELECT `+pageColumns+` FROM pages ORDER BY id`)
}

// SearchByPredicate scans all pages and keeps those matching the predicate.
func (s *SQLiteStorage) SearchByPredicate(ctx context.Context, match func(*models.PageRecord) bool) ([]*models.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY id`)
	if err != nil {
		return nil, unavailable("scan pages", err)
	}
	defer rows.Close()

	pages := []*models.PageRecord{}
	for rows.Next() {
		rec, err := scanPage(rows)
		if err != nil {
			return nil, unavailable("scan pages", err)
		}
		if match == nil || match(rec) {
			pages = append(pages, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan pages", err)
	}
	return pages, nil
}

// Count returns the total number of pages.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&count); err != nil {
		return 0, unavailable("count pages", err)
	}
	return count, nil
}

// CountEmbedded returns the number of pages that carry an embedding.
func (s *SQLiteStorage) CountEmbedded(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE embedding IS NOT NULL AND length(embedding) > 0`,
	).Scan(&count)
	if err != nil {
		return 0, unavailable("count embedded pages", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) query(ctx context.Context, op, q string, args ...any) ([]*models.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	pages := []*models.PageRecord{}
	for rows.Next() {
		rec, err := scanPage(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		pages = append(pages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return pages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*models.PageRecord, error) {
	var (
		rec  models.PageRecord
		blob []byte
	)
	if err := row.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Content, &blob, &rec.Timestamp, &rec.IsBookmark); err != nil {
		return nil, err
	}
	emb, err := vector.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", rec.ID, err)
	}
	rec.Embedding = emb
	return &rec, nil
}
