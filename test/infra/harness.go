package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDSN names an existing Postgres to reuse instead of starting a container.
const EnvDSN = "QUOTEFLOW_TEST_PG_DSN"

// Harness owns the lifecycle of the Postgres used by an integration test.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
}

// NewHarness picks a database in order: QUOTEFLOW_TEST_PG_DSN, a Docker
// container, a local PostgreSQL. Each harness works in its own schema.
func NewHarness(ctx context.Context) (*Harness, error) {
	var (
		pgC = &PGContainer{}
		dsn = os.Getenv(EnvDSN)
		err error
	)
	switch {
	case dsn != "":
	case dockerAvailable(ctx):
		pgC, dsn, err = StartContainer(ctx)
	default:
		dsn, err = LocalDatabase(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve postgres: %w", err)
	}

	pool, teardown, err := IsolatedPool(ctx, dsn)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	return &Harness{container: pgC, pool: pool, teardown: teardown}, nil
}

// Open is NewHarness for tests: it skips when no database can be reached and
// registers cleanup.
func Open(t *testing.T, schemas func(*pgxpool.Pool) []Schema) *Harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := NewHarness(ctx)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })

	if schemas != nil {
		if err := Apply(ctx, schemas(h.pool)...); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return h
}

func (h *Harness) Pool() *pgxpool.Pool { return h.pool }

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates the given tables to provide a clean slate between cases.
func (h *Harness) Reset(ctx context.Context, tables ...string) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
