// Package chaos wraps a remote store with injected transport failures and
// latency.
package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"quoteflow/quotation"
	"quoteflow/remote"
)

// FlakyStore fails a fraction of calls with remote.ErrNetwork before they
// reach the inner store, so an injected failure never leaves a write behind.
type FlakyStore struct {
	inner    remote.Store
	failRate float64
	maxDelay time.Duration

	mu  sync.Mutex
	rng *rand.Rand

	calls    atomic.Int64
	injected atomic.Int64
}

func NewFlakyStore(inner remote.Store, seed int64, failRate float64, maxDelay time.Duration) *FlakyStore {
	return &FlakyStore{
		inner:    inner,
		failRate: failRate,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Counts returns the number of calls seen and failures injected.
func (f *FlakyStore) Counts() (calls, injected int64) {
	return f.calls.Load(), f.injected.Load()
}

func (f *FlakyStore) ListRecords(ctx context.Context, cred string, filter quotation.Filter, cursor, pageSize int) (remote.ListResult, error) {
	if err := f.disturb(ctx, "list"); err != nil {
		return remote.ListResult{}, err
	}
	return f.inner.ListRecords(ctx, cred, filter, cursor, pageSize)
}

func (f *FlakyStore) GetRecord(ctx context.Context, cred, id string) (quotation.Quotation, error) {
	if err := f.disturb(ctx, "get "+id); err != nil {
		return quotation.Quotation{}, err
	}
	return f.inner.GetRecord(ctx, cred, id)
}

func (f *FlakyStore) PatchRecord(ctx context.Context, cred, id string, patch quotation.Patch) (quotation.Quotation, error) {
	if err := f.disturb(ctx, "patch "+id); err != nil {
		return quotation.Quotation{}, err
	}
	return f.inner.PatchRecord(ctx, cred, id, patch)
}

func (f *FlakyStore) disturb(ctx context.Context, call string) error {
	f.calls.Add(1)

	f.mu.Lock()
	fail := f.rng.Float64() < f.failRate
	var delay time.Duration
	if f.maxDelay > 0 {
		delay = time.Duration(f.rng.Int63n(int64(f.maxDelay)))
	}
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if fail {
		f.injected.Add(1)
		return fmt.Errorf("chaos: %s: %w", call, remote.ErrNetwork)
	}
	return nil
}
