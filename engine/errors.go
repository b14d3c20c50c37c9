package engine

import (
	"errors"
	"fmt"

	"quoteflow/remote"
)

// Kind classifies why an operation did not succeed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: the request is malformed or not allowed in the record's
	// current state. Never applied optimistically.
	KindValidation
	// KindAuthorization: no credential, or the current role lacks the capability.
	KindAuthorization
	// KindNetwork: the remote call failed or the server errored; rolled back.
	KindNetwork
	// KindNotFound: the record (or the comment replied to) does not exist remotely.
	KindNotFound
	// KindAborted: unwound because an earlier mutation on the same record failed.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not found"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var (
	ErrValidation    = errors.New("engine: validation")
	ErrAuthorization = errors.New("engine: authorization")
	ErrNetwork       = errors.New("engine: network")
	ErrNotFound      = errors.New("engine: not found")
	ErrAborted       = errors.New("engine: aborted")

	// ErrClosed is returned by submissions after Close.
	ErrClosed = errors.New("engine: closed")
)

// Error is the error every engine operation reports.
type Error struct {
	Kind     Kind
	Op       string
	RecordID string
	Err      error
}

func (e *Error) Error() string {
	target := e.Op
	if e.RecordID != "" {
		target += " " + e.RecordID
	}
	if e.Err == nil {
		return fmt.Sprintf("engine: %s: %s", target, e.Kind)
	}
	return fmt.Sprintf("engine: %s: %s: %v", target, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause, so errors.Is works for
// either.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthorization:
		return ErrAuthorization
	case KindNetwork:
		return ErrNetwork
	case KindNotFound:
		return ErrNotFound
	case KindAborted:
		return ErrAborted
	default:
		return nil
	}
}

// KindOf returns the kind of an engine error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, RecordID: id, Err: err}
}

// classify maps a remote failure onto the engine taxonomy. Anything that is
// not a definite answer from the server counts as a network failure.
func classify(op, id string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindNetwork
	switch {
	case errors.Is(err, remote.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, remote.ErrUnauthorized):
		kind = KindAuthorization
	case errors.Is(err, remote.ErrRejected):
		kind = KindValidation
	}
	return newError(kind, op, id, err)
}
