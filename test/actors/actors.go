// Package actors drives a shared engine from concurrent goroutines the way a
// busy client session would.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/engine"
	"quoteflow/quotation"
)

// Ledger collects every accepted mutation handle so the run can be checked
// once the engine drains.
type Ledger struct {
	mu       sync.Mutex
	handles  []*engine.Handle
	rejected map[engine.Kind]int
}

func NewLedger() *Ledger {
	return &Ledger{rejected: make(map[engine.Kind]int)}
}

func (l *Ledger) Handles() []*engine.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*engine.Handle(nil), l.handles...)
}

// Rejected returns how many submissions were refused, per error kind.
func (l *Ledger) Rejected() map[engine.Kind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[engine.Kind]int, len(l.rejected))
	for k, v := range l.rejected {
		out[k] = v
	}
	return out
}

// record files the outcome of a submit. Validation, not-found and network
// refusals are expected under contention and chaos; anything else is not.
func (l *Ledger) record(h *engine.Handle, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		l.handles = append(l.handles, h)
		return nil
	}
	if errors.Is(err, engine.ErrClosed) {
		return nil
	}
	kind := engine.KindOf(err)
	l.rejected[kind]++
	switch kind {
	case engine.KindValidation, engine.KindNotFound, engine.KindNetwork:
		return nil
	default:
		return fmt.Errorf("unexpected submit error: %w", err)
	}
}

// Env is what every actor shares.
type Env struct {
	Engine *engine.Engine
	IDs    []string
	Ledger *Ledger
}

func (env Env) pick(rng *rand.Rand) string { return env.IDs[rng.Intn(len(env.IDs))] }

func pause(ctx context.Context, rng *rand.Rand, floorMS, spreadMS int) bool {
	t := time.NewTimer(time.Duration(floorMS+rng.Intn(spreadMS)) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Approver occasionally approves or rejects a random quotation. Most picks
// land on records that are already terminal and get refused.
func Approver(ctx context.Context, env Env, rng *rand.Rand) error {
	for pause(ctx, rng, 40, 80) {
		status := quotation.StatusApproved
		if rng.Intn(2) == 0 {
			status = quotation.StatusRejected
		}
		h, err := env.Engine.SubmitStatusChange(ctx, env.pick(rng), status, fmt.Sprintf("stress %d", rng.Intn(1000)))
		if err := env.Ledger.record(h, err); err != nil {
			return err
		}
	}
	return nil
}

// Editor rewrites client names and amounts, often several times on the same
// record before the first write lands.
func Editor(ctx context.Context, env Env, rng *rand.Rand) error {
	for pause(ctx, rng, 5, 20) {
		var edit quotation.FieldEdit
		if rng.Intn(2) == 0 {
			client := fmt.Sprintf("Client %c%d", 'A'+rng.Intn(26), rng.Intn(100))
			edit.Client = &client
		}
		if edit.Client == nil || rng.Intn(2) == 0 {
			amount := decimal.NewFromInt(int64(100 + rng.Intn(100000))).Div(decimal.NewFromInt(100))
			edit.Amount = &amount
		}
		h, err := env.Engine.SubmitFieldEdit(ctx, env.pick(rng), edit)
		if err := env.Ledger.record(h, err); err != nil {
			return err
		}
	}
	return nil
}

// Commenter posts comments and replies to comments it can see, including ones
// still in flight.
func Commenter(ctx context.Context, env Env, rng *rand.Rand) error {
	for pause(ctx, rng, 5, 25) {
		id := env.pick(rng)
		var (
			h   *engine.Handle
			err error
		)
		q, ok := env.Engine.PeekDetail(id)
		if ok && len(q.Comments) > 0 && rng.Intn(2) == 0 {
			c := q.Comments[rng.Intn(len(q.Comments))]
			h, err = env.Engine.SubmitReply(ctx, id, c.ID, "re: "+c.Text)
		} else {
			h, err = env.Engine.SubmitComment(ctx, id, fmt.Sprintf("note %d", rng.Intn(10000)))
		}
		if err := env.Ledger.record(h, err); err != nil {
			return err
		}
	}
	return nil
}

// Reader browses list pages and details. Reads may fail under chaos but must
// never hand back a malformed page.
func Reader(ctx context.Context, env Env, rng *rand.Rand, pageSize int) error {
	filters := []quotation.Filter{
		{},
		{Status: quotation.StatusPending},
		{Status: quotation.StatusApproved},
		{Query: "client"},
	}
	for pause(ctx, rng, 5, 15) {
		if rng.Intn(3) == 0 {
			if _, err := env.Engine.DetailQuery(ctx, env.pick(rng)); err != nil && !tolerable(ctx, err) {
				return err
			}
			continue
		}
		page, err := env.Engine.ListQuery(ctx, filters[rng.Intn(len(filters))], 1+rng.Intn(3))
		if err != nil {
			if tolerable(ctx, err) {
				continue
			}
			return err
		}
		if len(page.Items) > pageSize {
			return fmt.Errorf("page %d holds %d items, page size is %d", page.Cursor, len(page.Items), pageSize)
		}
		if page.TotalCount < len(page.Items) {
			return fmt.Errorf("page %d holds %d items but total is %d", page.Cursor, len(page.Items), page.TotalCount)
		}
	}
	return nil
}

func tolerable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, engine.ErrClosed) {
		return true
	}
	return engine.KindOf(err) == engine.KindNetwork
}
