package quotation

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

var (
	// ErrInvalidStatus signals a status outside Pending, Approved, Rejected.
	ErrInvalidStatus = errors.New("quotation: invalid status")
	// ErrTerminalStatus signals an attempt to leave Approved or Rejected.
	ErrTerminalStatus = errors.New("quotation: status is terminal")
)

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusPending, StatusApproved, StatusRejected} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrInvalidStatus, s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ValidateTransition checks a requested status change. Pending -> Pending is an
// allowed no-op; any change out of a terminal status is rejected, including
// re-submitting the same terminal status.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidStatus, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: quotation is already %s", ErrTerminalStatus, from)
	}
	return nil
}
