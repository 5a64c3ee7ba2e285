package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pg "github.com/loykin/catalogd/internal/store/postgres"
	sq "github.com/loykin/catalogd/internal/store/sqlite"
)

func TestFactoryDSNSelection(t *testing.T) {
	_, err := NewFromDSN("  ")
	assert.ErrorIs(t, err, ErrEmptyDSN)

	// sql.Open does not connect, so postgres DSNs open without a server
	for _, dsn := range []string{"postgres://user@localhost/db", "PostgreSQL://user@localhost/db"} {
		b, err := NewFromDSN(dsn)
		require.NoError(t, err, dsn)
		assert.IsType(t, &pg.DB{}, b, dsn)
		_ = b.Close()
	}

	for _, dsn := range []string{"sqlite://:memory:", "sqlite3://:memory:", ":memory:"} {
		b, err := NewFromDSN(dsn)
		require.NoError(t, err, dsn)
		assert.IsType(t, &sq.DB{}, b, dsn)
		assert.NoError(t, b.EnsureSchema(context.Background()), dsn)
		_ = b.Close()
	}

	_, err = NewFromDSN("mysql://root@localhost/catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"mysql"`)
}
