// Package factory opens the store.Backend named by a store DSN.
package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/catalogd/internal/store"
	pg "github.com/loykin/catalogd/internal/store/postgres"
	sq "github.com/loykin/catalogd/internal/store/sqlite"
)

// ErrEmptyDSN is returned for a blank DSN. Callers that allow a memory-only
// store check for an empty DSN before calling NewFromDSN.
var ErrEmptyDSN = errors.New("empty store DSN")

// NewFromDSN opens the products backend for dsn:
//
//	postgres://... or postgresql://...  PostgreSQL
//	sqlite://<path>                     SQLite file (":memory:" for tests)
//	<path>                              SQLite file
func NewFromDSN(dsn string) (store.Backend, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, ErrEmptyDSN
	}
	scheme, rest, found := strings.Cut(d, "://")
	if !found {
		return sq.New(d)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return pg.New(d)
	case "sqlite", "sqlite3":
		return sq.New(rest)
	default:
		return nil, fmt.Errorf("unsupported store DSN scheme %q", scheme)
	}
}
