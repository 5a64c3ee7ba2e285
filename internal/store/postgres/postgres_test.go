package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/catalogd/internal/product"
	"github.com/loykin/catalogd/internal/store"
)

// catalogDSN starts a throwaway PostgreSQL and returns its DSN, skipping the
// test when no container runtime is available.
func catalogDSN(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("catalog"),
		postgres.WithUsername("catalogd"),
		postgres.WithPassword("catalogd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	db, err := New(catalogDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.EnsureSchema(ctx), "schema creation is repeatable")

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []store.Row{
		{Position: 1, Record: product.Record{Reference: "PG-1", Name: "Coat", Price: decimal.RequireFromString("120.50"),
			OriginalPrice: decimal.NewNullDecimal(decimal.RequireFromString("150")), DiscountPercent: 20,
			InStock: true, Sizes: []string{"M", "L"}, ExtractedAt: at, RunID: "r1"}},
		{Position: 2, Record: product.Record{Reference: "PG-2", Name: "Scarf", Price: decimal.RequireFromString("19.99"),
			InStock: true, ExtractedAt: at, RunID: "r1"}},
	}
	require.NoError(t, db.Upsert(ctx, rows))

	// a replaced record keeps its original position
	rows[0].Record.Name = "Wool Coat"
	rows[0].Position = 9
	require.NoError(t, db.Upsert(ctx, rows[:1]))

	got, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "PG-1", first.Record.Reference)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "Wool Coat", first.Record.Name)
	assert.True(t, first.Record.Price.Equal(decimal.RequireFromString("120.5")))
	assert.True(t, first.Record.OriginalPrice.Valid)
	assert.Equal(t, []string{"M", "L"}, first.Record.Sizes)
	assert.True(t, first.Record.ExtractedAt.Equal(at))

	assert.Equal(t, "PG-2", got[1].Record.Reference)
	assert.False(t, got[1].Record.OriginalPrice.Valid)
}
