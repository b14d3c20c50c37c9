package engine

import (
	"context"
	"sync"

	"quoteflow/quotation"
)

// State is a mutation's lifecycle position.
type State int

const (
	StatePending State = iota
	StateApplied
	StateConfirmed
	StateRolledBack
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplied:
		return "applied"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the mutation has been resolved.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateRolledBack || s == StateAborted
}

// Handle tracks one submitted mutation until it is confirmed or undone.
type Handle struct {
	ID       string
	RecordID string
	Op       string

	done chan struct{}

	mu     sync.Mutex
	state  State
	result quotation.Quotation
	err    error
}

func newHandle(id, recordID, op string) *Handle {
	return &Handle{ID: id, RecordID: recordID, Op: op, done: make(chan struct{}), state: StatePending}
}

// Done is closed once the mutation reaches a terminal state and the cache
// reflects its outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Wait blocks until resolution or ctx ends. On success it returns the record as
// confirmed by the server.
func (h *Handle) Wait(ctx context.Context) (quotation.Quotation, error) {
	select {
	case <-ctx.Done():
		return quotation.Quotation{}, ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return quotation.Clone(h.result), h.err
}

func (h *Handle) markApplied() {
	h.mu.Lock()
	h.state = StateApplied
	h.mu.Unlock()
}

func (h *Handle) finish(state State, result quotation.Quotation, err error) {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.state, h.result, h.err = state, result, err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
