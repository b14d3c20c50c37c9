package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/auth"
	"quoteflow/quotation"
	"quoteflow/remote"
)

// fakeRemote serves from an in-memory repository and lets tests hold or fail
// individual calls.
type fakeRemote struct {
	local *remote.Local
	repo  *quotation.MemoryRepository

	mu        sync.Mutex
	gets      int
	lists     int
	patches   []quotation.Patch
	patchErr  error
	getErr    error
	patchGate chan struct{}
	getGate   chan struct{}
}

func newFakeRemote(seed ...quotation.Quotation) *fakeRemote {
	repo := quotation.NewMemoryRepository(seed...)
	return &fakeRemote{local: remote.NewLocal(repo), repo: repo}
}

func (f *fakeRemote) ListRecords(ctx context.Context, cred string, filter quotation.Filter, cursor, pageSize int) (remote.ListResult, error) {
	f.mu.Lock()
	f.lists++
	f.mu.Unlock()
	return f.local.ListRecords(ctx, cred, filter, cursor, pageSize)
}

func (f *fakeRemote) GetRecord(ctx context.Context, cred, id string) (quotation.Quotation, error) {
	f.mu.Lock()
	f.gets++
	gate, err := f.getGate, f.getErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return quotation.Quotation{}, err
	}
	return f.local.GetRecord(ctx, cred, id)
}

func (f *fakeRemote) PatchRecord(ctx context.Context, cred, id string, p quotation.Patch) (quotation.Quotation, error) {
	f.mu.Lock()
	f.patches = append(f.patches, p)
	gate, err := f.patchGate, f.patchErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return quotation.Quotation{}, err
	}
	return f.local.PatchRecord(ctx, cred, id, p)
}

func (f *fakeRemote) holdPatches() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchGate = make(chan struct{})
	return f.patchGate
}

func (f *fakeRemote) holdGets() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getGate = make(chan struct{})
	return f.getGate
}

func (f *fakeRemote) failPatches(err error) {
	f.mu.Lock()
	f.patchErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) failGets(err error) {
	f.mu.Lock()
	f.getErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) counts() (gets, lists, patches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.lists, len(f.patches)
}

func sampleQuotations() []quotation.Quotation {
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	out := make([]quotation.Quotation, 0, 12)
	for i := 1; i <= 12; i++ {
		out = append(out, quotation.Quotation{
			ID:          fmt.Sprintf("q-%d", i),
			Client:      fmt.Sprintf("Client %d", i),
			Amount:      decimal.NewFromInt(int64(i * 1000)),
			Status:      quotation.StatusPending,
			LastUpdated: base.Add(time.Duration(i) * time.Minute),
			Comments:    []quotation.Comment{},
			History:     []quotation.HistoryEntry{},
		})
	}
	return out
}

var (
	manager  = auth.Principal{Name: "Mia Manager", Email: "mia@example.com", Role: auth.RoleManager}
	salesRep = auth.Principal{Name: "Sam Sales", Email: "sam@example.com", Role: auth.RoleSalesRep}
	viewer   = auth.Principal{Name: "Vic Viewer", Email: "vic@example.com", Role: auth.RoleViewer}
)

func newTestEngine(t *testing.T, who auth.Principal, seed ...quotation.Quotation) (*Engine, *fakeRemote, *auth.Session) {
	t.Helper()
	if len(seed) == 0 {
		seed = sampleQuotations()
	}
	fr := newFakeRemote(seed...)
	p := who
	session := auth.NewSession(auth.NewMemoryKV(), auth.State{Principal: &p, Token: "opaque-token"})
	eng := New(fr, session).WithStaleAfter(time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
	})
	return eng, fr, session
}

func waitHandle(t *testing.T, h *Handle) (quotation.Quotation, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, err := h.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("handle %s did not resolve", h.ID)
	}
	return q, err
}
