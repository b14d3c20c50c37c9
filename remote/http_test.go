package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quoteflow/quotation"
	"quoteflow/stubserver"
)

func seed(n int) []quotation.Quotation {
	out := make([]quotation.Quotation, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, quotation.Quotation{
			ID:     fmt.Sprintf("q-%d", i),
			Client: fmt.Sprintf("Client %d", i),
			Amount: decimal.NewFromInt(int64(i * 250)),
			Status: quotation.StatusPending,
		})
	}
	return out
}

func newHTTPStore(t *testing.T, h http.Handler) *HTTPStore {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	store, err := NewHTTPStore(ts.URL, 5*time.Second)
	require.NoError(t, err)
	return store.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
}

func TestHTTPStore_ListGetPatch(t *testing.T) {
	repo := quotation.NewMemoryRepository(seed(15)...)
	store := newHTTPStore(t, stubserver.New(repo, nil).Handler())
	ctx := context.Background()

	res, err := store.ListRecords(ctx, "tok", quotation.Filter{Status: "all"}, 2, 10)
	require.NoError(t, err)
	require.Equal(t, 15, res.TotalCount)
	require.Len(t, res.Items, 5)
	require.Equal(t, "q-11", res.Items[0].ID)

	q, err := store.GetRecord(ctx, "tok", "q-3")
	require.NoError(t, err)
	require.True(t, q.Amount.Equal(decimal.NewFromInt(750)))

	client := "Globex"
	amount := decimal.RequireFromString("1234.5")
	patched, err := store.PatchRecord(ctx, "tok", "q-3", quotation.Patch{Client: &client, Amount: &amount})
	require.NoError(t, err)
	require.Equal(t, "Globex", patched.Client)
	require.True(t, patched.Amount.Equal(amount))
	require.Equal(t, quotation.StatusPending, patched.Status)
}

func TestHTTPStore_ErrorTaxonomy(t *testing.T) {
	repo := quotation.NewMemoryRepository(seed(1)...)
	store := newHTTPStore(t, stubserver.New(repo, nil).WithAuthRequired().Handler())
	ctx := context.Background()

	_, err := store.GetRecord(ctx, "tok", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetRecord(ctx, "", "q-1")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, err.Error(), "missing bearer token")

	bad := quotation.Status("Archived")
	_, err = store.PatchRecord(ctx, "tok", "q-1", quotation.Patch{Status: &bad})
	require.ErrorIs(t, err, ErrRejected)
}

func TestHTTPStore_SendsBearerOnlyWhenPresent(t *testing.T) {
	var got []string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		w.Header().Set("X-Total-Count", "0")
		_, _ = w.Write([]byte(`[]`))
	})
	store := newHTTPStore(t, h)

	_, err := store.ListRecords(context.Background(), "abc", quotation.Filter{}, 1, 10)
	require.NoError(t, err)
	_, err = store.ListRecords(context.Background(), "", quotation.Filter{}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"Bearer abc", ""}, got)
}

func TestHTTPStore_QueryParameters(t *testing.T) {
	var query string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("X-Total-Count", "0")
		_, _ = w.Write([]byte(`[]`))
	})
	store := newHTTPStore(t, h)

	_, err := store.ListRecords(context.Background(), "", quotation.Filter{Query: " acme ", Status: "all"}, 3, 10)
	require.NoError(t, err)
	require.Equal(t, "_limit=10&_page=3&q=acme", query)

	_, err = store.ListRecords(context.Background(), "", quotation.Filter{Status: quotation.StatusRejected}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, "_limit=10&_page=1&status=Rejected", query)
}

func TestHTTPStore_ServerAndTransportFailuresAreNetwork(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	store := newHTTPStore(t, h)
	_, err := store.GetRecord(context.Background(), "", "q-1")
	require.ErrorIs(t, err, ErrNetwork)
	require.Contains(t, err.Error(), "upstream down")

	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	closed, err := NewHTTPStore(ts.URL, time.Second)
	require.NoError(t, err)
	_, err = closed.WithRetries(0).GetRecord(context.Background(), "", "q-1")
	require.ErrorIs(t, err, ErrNetwork)

	garbage := newHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	_, err = garbage.GetRecord(context.Background(), "", "q-1")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPStore_RetriesReadsButNotPatches(t *testing.T) {
	var gets, patches atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patches.Add(1)
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		if gets.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"q-1","client":"Acme","amount":10,"status":"Pending"}`))
	})
	store := newHTTPStore(t, h).WithRetries(2)

	q, err := store.GetRecord(context.Background(), "", "q-1")
	require.NoError(t, err)
	require.Equal(t, "Acme", q.Client)
	require.EqualValues(t, 3, gets.Load())

	_, err = store.PatchRecord(context.Background(), "", "q-1", quotation.Patch{})
	require.ErrorIs(t, err, ErrNetwork)
	require.EqualValues(t, 1, patches.Load())

	gets.Store(-10)
	_, err = store.GetRecord(context.Background(), "", "q-1")
	require.ErrorIs(t, err, ErrNetwork)
	require.EqualValues(t, -7, gets.Load(), "one attempt plus two retries")
}

func TestHTTPStore_DoesNotRetryDefiniteAnswers(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"quotation not found"}`, http.StatusNotFound)
	})
	store := newHTTPStore(t, h).WithRetries(5)
	_, err := store.GetRecord(context.Background(), "", "q-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.EqualValues(t, 1, calls.Load())
}

func TestNewHTTPStore_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPStore("ftp://example.com", time.Second)
	require.Error(t, err)
}
