package remote

import (
	"context"
	"errors"
	"fmt"

	"quoteflow/quotation"
)

// Local serves the Store API from an in-process repository. Credentials are
// accepted and ignored.
type Local struct {
	repo quotation.Repository
}

func NewLocal(repo quotation.Repository) *Local {
	return &Local{repo: repo}
}

func (l *Local) ListRecords(ctx context.Context, _ string, filter quotation.Filter, cursor, pageSize int) (ListResult, error) {
	items, total, err := l.repo.List(ctx, filter, cursor, pageSize)
	if err != nil {
		return ListResult{}, fmt.Errorf("remote: list quotations: %w", translate(err))
	}
	return ListResult{Items: items, TotalCount: total}, nil
}

func (l *Local) GetRecord(ctx context.Context, _, id string) (quotation.Quotation, error) {
	q, err := l.repo.Get(ctx, id)
	if err != nil {
		return quotation.Quotation{}, fmt.Errorf("remote: get quotation %s: %w", id, translate(err))
	}
	return q, nil
}

func (l *Local) PatchRecord(ctx context.Context, _, id string, patch quotation.Patch) (quotation.Quotation, error) {
	q, err := l.repo.Patch(ctx, id, patch)
	if err != nil {
		return quotation.Quotation{}, fmt.Errorf("remote: patch quotation %s: %w", id, translate(err))
	}
	return q, nil
}

func translate(err error) error {
	if errors.Is(err, quotation.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
