package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/FranksOps/indexcheck/internal/storage/storagetest"
)

func TestPostgresBackend(t *testing.T) {
	// Only run this test if INDEXCHECK_TEST_PG_DSN is set
	dsn := os.Getenv("INDEXCHECK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres backend test: INDEXCHECK_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	b, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres backend: %v", err)
	}
	defer b.Close()

	// The shared suite expects an empty store
	pb := b.(*postgresBackend)
	if _, err := pb.pool.Exec(ctx, `TRUNCATE runs, verdicts`); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}

	storagetest.Run(t, b)
}
