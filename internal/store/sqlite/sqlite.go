package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/catalogd/internal/store"
)

// DB implements store.Backend for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// every pooled connection to ":memory:" would be a separate database
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products(
			reference TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL,
			original_price TEXT NULL,
			discount_percent INTEGER NOT NULL DEFAULT 0,
			in_stock BOOLEAN NOT NULL,
			sizes TEXT NOT NULL DEFAULT '[]',
			colors TEXT NOT NULL DEFAULT '[]',
			images TEXT NOT NULL DEFAULT '[]',
			source_url TEXT NOT NULL DEFAULT '',
			extracted_at TIMESTAMP NOT NULL,
			run_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_products_position ON products(position);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Load(ctx context.Context) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+store.Columns+` FROM products ORDER BY position, reference`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Row
	for rows.Next() {
		r, err := store.ScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert writes rows in one transaction. A conflicting reference keeps its
// original position.
func (s *DB) Upsert(ctx context.Context, rows []store.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products(`+store.Columns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET
			name=excluded.name,
			brand=excluded.brand,
			category=excluded.category,
			description=excluded.description,
			price=excluded.price,
			original_price=excluded.original_price,
			discount_percent=excluded.discount_percent,
			in_stock=excluded.in_stock,
			sizes=excluded.sizes,
			colors=excluded.colors,
			images=excluded.images,
			source_url=excluded.source_url,
			extracted_at=excluded.extracted_at,
			run_id=excluded.run_id;`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, store.Args(r)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
