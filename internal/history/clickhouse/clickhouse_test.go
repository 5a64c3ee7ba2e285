package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/catalogd/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "run_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	run := history.Run{ID: "ch-run", Trigger: "scheduled", State: "created", StartedAt: time.Now().UTC()}
	if err := sink.Send(ctx, history.Event{Type: history.EventRunStarted, OccurredAt: time.Now().UTC(), Run: run}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	run.State = "closed"
	run.Products = 12
	run.Inserted = 10
	run.Skipped = 2
	if err := sink.Send(ctx, history.Event{Type: history.EventRunCompleted, OccurredAt: time.Now().UTC(), Run: run}); err != nil {
		t.Fatalf("Failed to send completed event: %v", err)
	}

	var count uint64
	if err := sink.conn.QueryRow(ctx, "SELECT count() FROM run_history WHERE run_id = ?", "ch-run").Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	var products uint32
	if err := sink.conn.QueryRow(ctx, "SELECT products FROM run_history WHERE type = ?", string(history.EventRunCompleted)).Scan(&products); err != nil {
		t.Fatalf("Failed to read products: %v", err)
	}
	if products != 12 {
		t.Fatalf("expected 12 products, got %d", products)
	}
}

func TestClickHouseSink_Unreachable(t *testing.T) {
	if _, err := New("127.0.0.1:1", "run_history"); err == nil {
		t.Fatal("expected error connecting to a closed port")
	}
}
