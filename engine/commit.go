package engine

import (
	"context"
	"fmt"

	"quoteflow/audit"
	"quoteflow/quotation"
)

// execute performs a mutation against the remote store the same way for every
// client: read the canonical record, derive the change from it, patch.
func (e *Engine) execute(ctx context.Context, m *mutation) (quotation.Quotation, error) {
	current, err := e.fetchCanonical(ctx, m)
	if err != nil {
		return quotation.Quotation{}, err
	}

	switch m.kind {
	case kindStatus:
		if err := quotation.ValidateTransition(current.Status, m.status); err != nil {
			return quotation.Quotation{}, newError(KindValidation, m.handle.Op, m.recordID, err)
		}
		status := m.status
		return e.commitAudited(ctx, m, current,
			audit.Changes{Status: &status},
			quotation.Patch{Status: &status},
			m.notes)

	case kindEdit:
		if current.Status.Terminal() {
			return quotation.Quotation{}, newError(KindValidation, m.handle.Op, m.recordID,
				fmt.Errorf("%w: quotation is already %s", quotation.ErrTerminalStatus, current.Status))
		}
		patch := m.edit.Patch()
		return e.commitAudited(ctx, m, current,
			audit.Changes{Client: patch.Client, Amount: patch.Amount},
			patch,
			"")

	case kindComment:
		comments := quotation.Clone(current).Comments
		comments = append(comments, quotation.CloneComment(m.comment))
		return e.patch(ctx, m, quotation.Patch{Comments: comments})

	case kindReply:
		comments := quotation.Clone(current).Comments
		i := current.FindComment(m.commentID)
		if i < 0 {
			return quotation.Quotation{}, newError(KindNotFound, m.handle.Op, m.recordID,
				fmt.Errorf("comment %s does not exist", m.commentID))
		}
		comments[i].Replies = append(comments[i].Replies, m.reply)
		return e.patch(ctx, m, quotation.Patch{Comments: comments})
	}
	return quotation.Quotation{}, fmt.Errorf("engine: unknown mutation kind %q", m.kind)
}

// commitAudited patches the requested fields together with the audit entry
// describing them. When nothing actually differs from the canonical record no
// patch is sent and the canonical record confirms the mutation.
func (e *Engine) commitAudited(ctx context.Context, m *mutation, current quotation.Quotation, changes audit.Changes, patch quotation.Patch, notes string) (quotation.Quotation, error) {
	entry, ok := audit.Build(m.principal.Name, changes, current, notes, audit.Options{Now: e.now, NewID: e.newID})
	if !ok {
		return current, nil
	}
	ts := entry.Timestamp
	patch.LastUpdated = &ts
	patch.History = append(append([]quotation.HistoryEntry{}, current.History...), entry)
	return e.patch(ctx, m, patch)
}

func (e *Engine) fetchCanonical(ctx context.Context, m *mutation) (quotation.Quotation, error) {
	start := e.now()
	q, err := e.remote.GetRecord(ctx, m.cred, m.recordID)
	observeRemote("get", start, e.now(), err)
	return q, err
}

func (e *Engine) patch(ctx context.Context, m *mutation, p quotation.Patch) (quotation.Quotation, error) {
	start := e.now()
	q, err := e.remote.PatchRecord(ctx, m.cred, m.recordID, p)
	observeRemote("patch", start, e.now(), err)
	return q, err
}
