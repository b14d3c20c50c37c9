package quotation

import (
	"context"
	"sync"

	"quoteflow/pagination"
)

// MemoryRepository is a Repository kept in process memory, listed in insertion
// order like the json-server backend the REST API was first prototyped on.
type MemoryRepository struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Quotation
}

func NewMemoryRepository(seed ...Quotation) *MemoryRepository {
	r := &MemoryRepository{byID: make(map[string]Quotation)}
	for _, q := range seed {
		_, _ = r.Create(context.Background(), q)
	}
	return r
}

func (r *MemoryRepository) Create(_ context.Context, q Quotation) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[q.ID]; exists {
		return Quotation{}, ErrDuplicate
	}
	if q.Status == "" {
		q.Status = StatusPending
	}
	stored := Clone(q)
	r.byID[q.ID] = stored
	r.order = append(r.order, q.ID)
	return Clone(stored), nil
}

func (r *MemoryRepository) List(_ context.Context, filter Filter, cursor, pageSize int) ([]Quotation, int, error) {
	cursor, pageSize = pagination.Normalize(cursor, pageSize, pagination.DefaultPageSize, pagination.MaxPageSize)

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Quotation, 0, len(r.order))
	for _, id := range r.order {
		if q := r.byID[id]; filter.Matches(q) {
			matched = append(matched, q)
		}
	}

	offset, limit := pagination.Window(cursor, pageSize)
	if offset >= len(matched) {
		return []Quotation{}, len(matched), nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]Quotation, 0, end-offset)
	for _, q := range matched[offset:end] {
		out = append(out, Clone(q))
	}
	return out, len(matched), nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Quotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.byID[id]
	if !ok {
		return Quotation{}, ErrNotFound
	}
	return Clone(q), nil
}

func (r *MemoryRepository) Patch(_ context.Context, id string, patch Patch) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byID[id]
	if !ok {
		return Quotation{}, ErrNotFound
	}
	merged := patch.Apply(q)
	merged.ID = id
	r.byID[id] = merged
	return Clone(merged), nil
}
