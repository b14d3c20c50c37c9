package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quoteflow/audit"
	"quoteflow/auth"
	"quoteflow/cache"
	"quoteflow/quotation"
	"quoteflow/remote"
)

type mutationKind string

const (
	kindStatus  mutationKind = "status"
	kindEdit    mutationKind = "edit"
	kindComment mutationKind = "comment"
	kindReply   mutationKind = "reply"
)

// mutation is one submitted change. Everything the remote phase needs is
// captured at submission so later session changes do not affect it.
type mutation struct {
	handle   *Handle
	kind     mutationKind
	recordID string

	principal auth.Principal
	cred      string

	status    quotation.Status
	notes     string
	edit      quotation.FieldEdit
	comment   quotation.Comment
	commentID string
	reply     quotation.Reply
	// ts is the optimistic last_updated, fixed once per submission.
	ts time.Time

	// prev is closed when the previous mutation on the same record resolves.
	prev <-chan struct{}
	snap snapshot
}

// touch advances q.LastUpdated to the submission timestamp. A cached row that
// is already newer is left alone.
func (m *mutation) touch(q *quotation.Quotation) {
	if m.ts.After(q.LastUpdated) {
		q.LastUpdated = m.ts
	}
}

// lane is the ordered set of unresolved mutations on one record. stack[0] is
// the oldest and the only one whose remote phase may be running.
type lane struct {
	stack []*mutation
	// confirmed is the newest server-confirmed record while later mutations
	// are still outstanding.
	confirmed *quotation.Quotation
}

type snapshot struct {
	detail *cache.Entry[quotation.Quotation]
	rows   []rowSnapshot
}

type rowSnapshot struct {
	key      listKey
	revision uint64
	row      quotation.Quotation
}

// delta transforms a cached record optimistically and reports whether it
// changed anything.
type delta func(quotation.Quotation) (quotation.Quotation, bool)

// SubmitStatusChange requests a status transition with optional notes for the
// audit entry.
func (e *Engine) SubmitStatusChange(ctx context.Context, id string, status quotation.Status, notes string) (*Handle, error) {
	op := statusOp(status)
	m := &mutation{kind: kindStatus, recordID: id, status: status, notes: notes}

	check := func(current quotation.Quotation) error {
		if err := quotation.ValidateTransition(current.Status, status); err != nil {
			return err
		}
		return nil
	}
	apply := func(q quotation.Quotation) (quotation.Quotation, bool) {
		if q.Status == status {
			return q, false
		}
		q.Status = status
		m.touch(&q)
		return q, true
	}
	return e.submit(ctx, op, m, func(c auth.Capabilities) bool { return c.CanApproveReject }, check, apply, apply)
}

// SubmitFieldEdit requests changes to client and/or amount.
func (e *Engine) SubmitFieldEdit(ctx context.Context, id string, edit quotation.FieldEdit) (*Handle, error) {
	edit = edit.Normalize()
	m := &mutation{kind: kindEdit, recordID: id, edit: edit}

	check := func(current quotation.Quotation) error {
		if err := quotation.ValidateEdit(edit); err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: quotation is already %s", quotation.ErrTerminalStatus, current.Status)
		}
		return nil
	}
	apply := func(q quotation.Quotation) (quotation.Quotation, bool) {
		changed := false
		if edit.Client != nil && *edit.Client != q.Client {
			q.Client = *edit.Client
			changed = true
		}
		if edit.Amount != nil && !edit.Amount.Equal(q.Amount) {
			q.Amount = *edit.Amount
			changed = true
		}
		if changed {
			m.touch(&q)
		}
		return q, changed
	}
	return e.submit(ctx, "edit", m, func(c auth.Capabilities) bool { return c.CanEdit }, check, apply, apply)
}

// SubmitComment appends a comment authored by the current principal.
func (e *Engine) SubmitComment(ctx context.Context, id, text string) (*Handle, error) {
	m := &mutation{kind: kindComment, recordID: id}

	check := func(quotation.Quotation) error { return quotation.ValidateText(text) }
	apply := func(q quotation.Quotation) (quotation.Quotation, bool) {
		q.Comments = append(q.Comments, quotation.CloneComment(m.comment))
		return q, true
	}
	// The comment is built once the principal is known, before apply runs.
	m.comment = quotation.Comment{Text: strings.TrimSpace(text)}
	return e.submit(ctx, "comment", m, func(c auth.Capabilities) bool { return c.CanComment }, check, apply, nil)
}

// SubmitReply appends a reply to an existing comment.
func (e *Engine) SubmitReply(ctx context.Context, id, commentID, text string) (*Handle, error) {
	m := &mutation{kind: kindReply, recordID: id, commentID: commentID}

	check := func(current quotation.Quotation) error {
		if err := quotation.ValidateText(text); err != nil {
			return err
		}
		if current.FindComment(commentID) < 0 {
			return fmt.Errorf("unknown comment %q", commentID)
		}
		return nil
	}
	apply := func(q quotation.Quotation) (quotation.Quotation, bool) {
		i := q.FindComment(commentID)
		if i < 0 {
			return q, false
		}
		q.Comments[i].Replies = append(q.Comments[i].Replies, m.reply)
		return q, true
	}
	m.reply = quotation.Reply{Text: strings.TrimSpace(text)}
	return e.submit(ctx, "reply", m, func(c auth.Capabilities) bool { return c.CanReply }, check, apply, nil)
}

// submit runs the synchronous part of every mutation: authorization,
// validation against the cached value, optimistic apply and lane push. Nothing
// is written to the cache unless all checks pass.
func (e *Engine) submit(ctx context.Context, op string, m *mutation, allowed func(auth.Capabilities) bool, check func(quotation.Quotation) error, detailDelta, rowDelta delta) (*Handle, error) {
	fail := func(err *Error) (*Handle, error) {
		mutationsTotal.WithLabelValues(string(m.kind), "rejected").Inc()
		e.log.WithFields(logrus.Fields{"op": op, "record_id": m.recordID}).WithError(err).Debug("mutation rejected")
		return nil, err
	}

	principal, ok := e.session.Principal()
	cred := e.session.Credential()
	if !ok || cred == "" {
		return fail(newError(KindAuthorization, op, m.recordID, auth.ErrUnauthenticated))
	}
	if !allowed(auth.CapabilitiesFor(principal.Role)) {
		return fail(newError(KindAuthorization, op, m.recordID, fmt.Errorf("role %s may not %s", principal.Role, op)))
	}
	m.principal, m.cred = principal, cred

	// Make sure there is a value to validate against.
	if _, ok := e.PeekDetail(m.recordID); !ok {
		if _, err := e.DetailQuery(ctx, m.recordID); err != nil {
			var ee *Error
			if errors.As(err, &ee) {
				ee.Op = op
				return fail(ee)
			}
			return fail(classify(op, m.recordID, err))
		}
	}

	ts := e.now().UTC()
	switch m.kind {
	case kindComment:
		m.comment = quotation.Comment{
			ID: e.newID(), Author: principal.Name, Role: principal.Role,
			Text: m.comment.Text, Timestamp: ts, Replies: []quotation.Reply{},
		}
	case kindReply:
		m.reply = quotation.Reply{
			ID: e.newID(), Author: principal.Name, Role: principal.Role,
			Text: m.reply.Text, Timestamp: ts,
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}

	entry, ok := e.details.Get(detailKey(m.recordID))
	if !ok {
		e.mu.Unlock()
		return fail(newError(KindNotFound, op, m.recordID, errors.New("record is no longer cached")))
	}
	if err := check(entry.Value); err != nil {
		e.mu.Unlock()
		return fail(newError(KindValidation, op, m.recordID, err))
	}
	m.ts = audit.NextTimestamp(entry.Value.LastUpdated, ts)

	m.handle = newHandle(e.newID(), m.recordID, op)
	m.snap = e.applyLocked(m.recordID, detailDelta, rowDelta)

	ln, ok := e.lanes[m.recordID]
	if !ok {
		ln = &lane{}
		e.lanes[m.recordID] = ln
	}
	if n := len(ln.stack); n > 0 {
		m.prev = ln.stack[n-1].handle.done
	}
	ln.stack = append(ln.stack, m)
	depth := len(ln.stack)
	m.handle.markApplied()

	runCtx := context.WithoutCancel(ctx)
	e.group.Go(func() error {
		e.run(runCtx, m)
		return nil
	})
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"op": op, "record_id": m.recordID, "mutation_id": m.handle.ID, "depth": depth,
	}).Debug("mutation applied")
	return m.handle, nil
}

// applyLocked writes the optimistic deltas and returns what they replaced.
func (e *Engine) applyLocked(id string, detailDelta, rowDelta delta) snapshot {
	var snap snapshot
	if detailDelta != nil {
		if prior, ok := e.details.Merge(detailKey(id), detailDelta); ok {
			snap.detail = &prior
		}
	}
	if rowDelta == nil {
		return snap
	}
	for _, key := range e.lists.Keys() {
		var row quotation.Quotation
		prior, ok := e.lists.Merge(key, func(p quotation.Page) (quotation.Page, bool) {
			for i := range p.Items {
				if p.Items[i].ID != id {
					continue
				}
				next, changed := rowDelta(p.Items[i])
				if !changed {
					return p, false
				}
				row = quotation.Clone(p.Items[i])
				p.Items[i] = next
				return p, true
			}
			return p, false
		})
		if ok {
			snap.rows = append(snap.rows, rowSnapshot{key: key, revision: prior.Revision, row: row})
		}
	}
	return snap
}

// restoreLocked undoes one mutation's optimistic writes. List rows are put
// back only on pages that no fetch has replaced since the snapshot.
func (e *Engine) restoreLocked(id string, snap snapshot) {
	if snap.detail != nil {
		e.details.Restore(detailKey(id), *snap.detail)
		rollbacksTotal.Inc()
	}
	for _, rs := range snap.rows {
		_, ok := e.lists.Update(rs.key, func(cur cache.Entry[quotation.Page]) (quotation.Page, bool) {
			if cur.Revision != rs.revision {
				return cur.Value, false
			}
			p := cur.Value
			for i := range p.Items {
				if p.Items[i].ID == id {
					p.Items[i] = quotation.Clone(rs.row)
					return p, true
				}
			}
			return p, false
		})
		if ok {
			rollbacksTotal.Inc()
		}
	}
}

// run is the remote phase. It waits for the previous mutation on the record;
// if that one failed, this one has already been aborted and there is nothing
// to do.
func (e *Engine) run(ctx context.Context, m *mutation) {
	if m.prev != nil {
		<-m.prev
	}
	if m.handle.resolved() {
		return
	}

	ctx, span := e.tracer.Start(ctx, "engine.mutation", trace.WithAttributes(
		attribute.String("record.id", m.recordID),
		attribute.String("mutation.kind", string(m.kind)),
		attribute.String("mutation.id", m.handle.ID),
	))
	defer span.End()

	rec, err := e.execute(ctx, m)
	if err != nil {
		ee := classify(m.handle.Op, m.recordID, err)
		recordSpanError(span, ee)
		e.fail(m, ee)
		return
	}
	e.confirm(m, rec)
}

func (e *Engine) confirm(m *mutation, rec quotation.Quotation) {
	e.mu.Lock()
	ln := e.lanes[m.recordID]
	ln.remove(m)
	if len(ln.stack) == 0 {
		e.details.Put(detailKey(m.recordID), rec, e.now())
		e.details.Invalidate(detailKey(m.recordID))
		delete(e.lanes, m.recordID)
	} else {
		c := quotation.Clone(rec)
		ln.confirmed = &c
	}
	e.lists.InvalidateAll()
	m.handle.finish(StateConfirmed, rec, nil)
	e.mu.Unlock()

	mutationsTotal.WithLabelValues(string(m.kind), "confirmed").Inc()
	e.log.WithFields(logrus.Fields{
		"op": m.handle.Op, "record_id": m.recordID, "mutation_id": m.handle.ID,
	}).Debug("mutation confirmed")
}

// fail unwinds the lane from the top down to and including m, restoring each
// snapshot, and only then resolves the handles.
func (e *Engine) fail(m *mutation, cause *Error) {
	e.mu.Lock()
	ln := e.lanes[m.recordID]
	idx := ln.index(m)
	if idx < 0 {
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{
			"op": m.handle.Op, "record_id": m.recordID, "mutation_id": m.handle.ID,
		}).Error("failed mutation missing from its lane")
		return
	}

	unwound := append([]*mutation(nil), ln.stack[idx:]...)
	for i := len(unwound) - 1; i >= 0; i-- {
		e.restoreLocked(m.recordID, unwound[i].snap)
	}
	ln.stack = ln.stack[:idx]

	key := detailKey(m.recordID)
	recordGone := errors.Is(cause, remote.ErrNotFound)
	switch {
	case recordGone:
		e.details.Evict(key)
		e.lists.InvalidateAll()
	case cause.Kind == KindNotFound:
		// The record exists but the comment replied to does not.
		e.details.Invalidate(key)
	}
	if len(ln.stack) == 0 {
		if ln.confirmed != nil && !recordGone {
			e.details.Put(key, *ln.confirmed, e.now())
			e.details.Invalidate(key)
		}
		delete(e.lanes, m.recordID)
	}

	for _, u := range unwound[1:] {
		u.handle.finish(StateAborted, quotation.Quotation{}, newError(KindAborted, u.handle.Op, u.recordID,
			fmt.Errorf("earlier mutation %s failed", m.handle.ID)))
	}
	m.handle.finish(StateRolledBack, quotation.Quotation{}, cause)
	e.mu.Unlock()

	mutationsTotal.WithLabelValues(string(m.kind), "rolled_back").Inc()
	for _, u := range unwound[1:] {
		mutationsTotal.WithLabelValues(string(u.kind), "aborted").Inc()
	}
	e.log.WithFields(logrus.Fields{
		"op": m.handle.Op, "record_id": m.recordID, "mutation_id": m.handle.ID,
		"kind": cause.Kind.String(), "aborted": len(unwound) - 1,
	}).WithError(cause.Err).Warn("mutation rolled back")
}

func (l *lane) index(m *mutation) int {
	for i, x := range l.stack {
		if x == m {
			return i
		}
	}
	return -1
}

func (l *lane) remove(m *mutation) {
	if i := l.index(m); i >= 0 {
		l.stack = append(l.stack[:i], l.stack[i+1:]...)
	}
}

func statusOp(s quotation.Status) string {
	switch s {
	case quotation.StatusApproved:
		return "approve"
	case quotation.StatusRejected:
		return "reject"
	default:
		return "change status"
	}
}
