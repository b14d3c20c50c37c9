package quotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"quoteflow/auth"
	"quoteflow/test/infra"
)

// TestPGRepository_Integration runs against a real PostgreSQL: the DSN in
// QUOTEFLOW_TEST_PG_DSN, a Docker container, or a local server.
func TestPGRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	h := infra.Open(t, func(pool *pgxpool.Pool) []infra.Schema {
		return []infra.Schema{NewRepository(pool)}
	})
	repo := NewRepository(h.Pool())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for _, q := range seedQuotations(12) {
		q.LastUpdated = base
		q.Description = "desk order"
		if _, err := repo.Create(ctx, q); err != nil {
			t.Fatalf("seed %s: %v", q.ID, err)
		}
	}
	if _, err := repo.Create(ctx, Quotation{ID: "1", Client: "dup", LastUpdated: base}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	page, total, err := repo.List(ctx, Filter{}, 2, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 12 || len(page) != 5 || page[0].ID != "6" {
		t.Fatalf("page 2: total=%d len=%d first=%+v", total, len(page), page)
	}

	page, total, err = repo.List(ctx, Filter{Query: "client 1"}, 1, 10)
	if err != nil {
		t.Fatalf("list with query: %v", err)
	}
	// Client 1, Client 10, Client 11, Client 12
	if total != 4 || len(page) != 4 {
		t.Fatalf("query: total=%d len=%d", total, len(page))
	}

	if _, total, err = repo.List(ctx, Filter{Query: "100%"}, 1, 10); err != nil || total != 0 {
		t.Fatalf("wildcards must be escaped: total=%d err=%v", total, err)
	}

	approved := StatusApproved
	stamp := base.Add(time.Hour)
	history := []HistoryEntry{{ID: "h1", Timestamp: stamp, User: "Maya", Action: "Changed status from Pending to Approved"}}
	comments := []Comment{{ID: "c1", Author: "Maya", Role: auth.RoleManager, Text: "ok", Timestamp: stamp,
		Replies: []Reply{{ID: "r1", Author: "Maya", Role: auth.RoleManager, Text: "internal", Timestamp: stamp}}}}

	updated, err := repo.Patch(ctx, "1", Patch{Status: &approved, LastUpdated: &stamp, History: history, Comments: comments})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if updated.Status != StatusApproved || !updated.LastUpdated.Equal(stamp) || len(updated.History) != 1 {
		t.Fatalf("unexpected patched record %+v", updated)
	}

	got, err := repo.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("amount drifted: %s", got.Amount)
	}
	if len(got.Comments) != 1 || len(got.Comments[0].Replies) != 1 || got.Comments[0].Replies[0].Role != auth.RoleManager {
		t.Fatalf("comments not round-tripped: %+v", got.Comments)
	}

	page, total, err = repo.List(ctx, Filter{Status: StatusApproved}, 1, 10)
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	// seeded ids 3, 6, 9, 12 plus the patched id 1
	if total != 5 || page[0].ID != "1" {
		t.Fatalf("approved: total=%d first=%+v", total, page)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Patch(ctx, "missing", Patch{Status: &approved}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on patch, got %v", err)
	}

	if err := h.Reset(ctx, "quotations"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, total, err = repo.List(ctx, Filter{}, 1, 10); err != nil || total != 0 {
		t.Fatalf("after reset: total=%d err=%v", total, err)
	}
}
