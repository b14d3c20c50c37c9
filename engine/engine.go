// Package engine keeps a local view of quotations in sync with the remote
// store. Reads are served from cache when fresh; writes are applied to the
// cache immediately and then confirmed or undone once the server answers.
package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"quoteflow/auth"
	"quoteflow/cache"
	"quoteflow/pagination"
	"quoteflow/quotation"
	"quoteflow/remote"
)

const DefaultStaleAfter = 30 * time.Second

type detailKey string

func (k detailKey) String() string { return "detail:" + string(k) }

type listKey struct {
	filter string
	cursor int
}

func (k listKey) String() string { return "list:" + k.filter + "#" + strconv.Itoa(k.cursor) }

// Engine is safe for concurrent use. Construct with New, configure with the
// With* methods before first use, and Close when done.
type Engine struct {
	remote  remote.Store
	session *auth.Session

	log        logrus.FieldLogger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
	pageSize   int
	staleAfter time.Duration

	details *cache.Store[detailKey, quotation.Quotation]
	lists   *cache.Store[listKey, quotation.Page]

	// mu serializes optimistic writes, rollbacks and lane bookkeeping. Remote
	// calls never run under it.
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	group  errgroup.Group
}

// New creates an engine reading and writing store on behalf of session.
func New(store remote.Store, session *auth.Session) *Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Engine{
		remote:     store,
		session:    session,
		log:        log.WithField("module", "engine"),
		tracer:     otel.Tracer("quoteflow/engine"),
		now:        time.Now,
		newID:      uuid.NewString,
		pageSize:   pagination.DefaultPageSize,
		staleAfter: DefaultStaleAfter,
		details:    cache.New[detailKey, quotation.Quotation]("detail", quotation.Clone),
		lists:      cache.New[listKey, quotation.Page]("list", quotation.ClonePage),
		lanes:      make(map[string]*lane),
	}
}

// WithLogger sets the logger; entries carry module=engine.
func (e *Engine) WithLogger(log logrus.FieldLogger) *Engine {
	e.log = log.WithField("module", "engine")
	return e
}

// WithClock replaces the time source for timestamps and cache freshness.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.details.WithClock(now)
	e.lists.WithClock(now)
	return e
}

// WithIDGenerator replaces the generator for comment, reply and mutation ids.
func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.newID = gen
	return e
}

// WithPageSize sets the list page size, clamped to 1..pagination.MaxPageSize.
func (e *Engine) WithPageSize(n int) *Engine {
	_, e.pageSize = pagination.Normalize(1, n, pagination.DefaultPageSize, pagination.MaxPageSize)
	return e
}

// WithStaleAfter sets how long fetched values are served without refetching.
// Zero keeps values until they are invalidated.
func (e *Engine) WithStaleAfter(d time.Duration) *Engine {
	e.staleAfter = d
	return e
}

// ListQuery returns one page of the filtered list, fetching it when the cached
// page is missing, stale or older than the freshness window.
func (e *Engine) ListQuery(ctx context.Context, filter quotation.Filter, cursor int) (quotation.Page, error) {
	if cursor < 1 {
		cursor = 1
	}
	filter = filter.Normalized()
	key := listKey{filter: filter.Signature(), cursor: cursor}
	pageSize := e.pageSize
	cred := e.session.Credential()

	ctx, span := e.tracer.Start(ctx, "engine.list", trace.WithAttributes(
		attribute.String("list.filter", key.filter),
		attribute.Int("list.cursor", cursor),
	))
	defer span.End()

	page, err := e.lists.Load(ctx, key, e.staleAfter, func(ctx context.Context) (quotation.Page, error) {
		start := e.now()
		res, err := e.remote.ListRecords(ctx, cred, filter, cursor, pageSize)
		observeRemote("list", start, e.now(), err)
		if err != nil {
			return quotation.Page{}, err
		}
		next, ok := pagination.NextCursor(cursor, pageSize, res.TotalCount)
		if !ok {
			next = 0
		}
		return quotation.Page{Items: res.Items, TotalCount: res.TotalCount, Cursor: cursor, NextCursor: next}, nil
	})
	if err != nil {
		ee := classify("list", "", err)
		recordSpanError(span, ee)
		return quotation.Page{}, ee
	}
	return page, nil
}

// PeekList returns the cached page without fetching, stale or not.
func (e *Engine) PeekList(filter quotation.Filter, cursor int) (quotation.Page, bool) {
	if cursor < 1 {
		cursor = 1
	}
	entry, ok := e.lists.Get(listKey{filter: filter.Signature(), cursor: cursor})
	return entry.Value, ok
}

// DetailQuery returns a single record. While mutations on the record are
// outstanding the cached optimistic value is served and no refetch happens.
func (e *Engine) DetailQuery(ctx context.Context, id string) (quotation.Quotation, error) {
	key := detailKey(id)
	if e.IsOptimistic(id) {
		if entry, ok := e.details.Get(key); ok {
			return entry.Value, nil
		}
	}

	cred := e.session.Credential()
	ctx, span := e.tracer.Start(ctx, "engine.detail", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	q, err := e.details.Load(ctx, key, e.staleAfter, func(ctx context.Context) (quotation.Quotation, error) {
		start := e.now()
		q, err := e.remote.GetRecord(ctx, cred, id)
		observeRemote("get", start, e.now(), err)
		if err == nil && e.IsOptimistic(id) {
			// A mutation was applied after the optimistic check above.
			if entry, ok := e.details.Get(key); ok {
				return entry.Value, nil
			}
		}
		return q, err
	})
	if err != nil {
		ee := classify("detail", id, err)
		if ee.Kind == KindNotFound {
			e.details.Evict(key)
		}
		recordSpanError(span, ee)
		return quotation.Quotation{}, ee
	}
	return q, nil
}

// PeekDetail returns the cached record without fetching.
func (e *Engine) PeekDetail(id string) (quotation.Quotation, bool) {
	entry, ok := e.details.Get(detailKey(id))
	return entry.Value, ok
}

// IsOptimistic reports whether id has mutations that are applied locally but
// not yet resolved.
func (e *Engine) IsOptimistic(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ln, ok := e.lanes[id]
	return ok && len(ln.stack) > 0
}

// Capabilities derives the current role's permissions from the session.
func (e *Engine) Capabilities() auth.Capabilities {
	return e.session.Capabilities()
}

// VisibleReplies filters a comment's replies for the current role.
func (e *Engine) VisibleReplies(c quotation.Comment) []quotation.Reply {
	p, ok := e.session.Principal()
	if !ok {
		return []quotation.Reply{}
	}
	return c.VisibleReplies(p.Role)
}

// SwitchRole changes the session's role. Later capability and visibility
// checks observe the new role.
func (e *Engine) SwitchRole(ctx context.Context, role auth.Role) error {
	if err := e.session.SwitchRole(ctx, role); err != nil {
		return fmt.Errorf("engine: switch role: %w", err)
	}
	e.log.WithField("role", role).Info("role switched")
	return nil
}

// Close stops accepting submissions, waits for in-flight mutations to resolve
// and drops the cache.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("engine: close: %w", ctx.Err())
	case <-done:
	}

	e.details.Reset()
	e.lists.Reset()
	return nil
}

func observeRemote(call string, start, end time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	remoteDuration.WithLabelValues(call, outcome).Observe(end.Sub(start).Seconds())
}

func recordSpanError(span trace.Span, err *Error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind.String())
}
