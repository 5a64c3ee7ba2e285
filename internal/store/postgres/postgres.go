package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/catalogd/internal/store"
)

// DB implements store.Backend on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products(
			reference TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL,
			original_price NUMERIC(12,2) NULL,
			discount_percent INTEGER NOT NULL DEFAULT 0,
			in_stock BOOLEAN NOT NULL,
			sizes TEXT NOT NULL DEFAULT '[]',
			colors TEXT NOT NULL DEFAULT '[]',
			images TEXT NOT NULL DEFAULT '[]',
			source_url TEXT NOT NULL DEFAULT '',
			extracted_at TIMESTAMPTZ NOT NULL,
			run_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_products_position ON products(position);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Load(ctx context.Context) ([]store.Row, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+store.Columns+` FROM products ORDER BY position, reference`)
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

func (p *DB) Upsert(ctx context.Context, rows []store.Row) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products(`+store.Columns+`)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT(reference) DO UPDATE SET
				name=EXCLUDED.name,
				brand=EXCLUDED.brand,
				category=EXCLUDED.category,
				description=EXCLUDED.description,
				price=EXCLUDED.price,
				original_price=EXCLUDED.original_price,
				discount_percent=EXCLUDED.discount_percent,
				in_stock=EXCLUDED.in_stock,
				sizes=EXCLUDED.sizes,
				colors=EXCLUDED.colors,
				images=EXCLUDED.images,
				source_url=EXCLUDED.source_url,
				extracted_at=EXCLUDED.extracted_at,
				run_id=EXCLUDED.run_id`, store.Args(r)...)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
