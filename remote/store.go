// Package remote is the boundary to the authoritative quotation store.
package remote

import (
	"context"
	"errors"

	"quoteflow/quotation"
)

var (
	// ErrNotFound signals that the record does not exist remotely.
	ErrNotFound = errors.New("remote: not found")
	// ErrNetwork signals a transport failure, timeout or server error. The
	// request may or may not have been applied.
	ErrNetwork = errors.New("remote: network failure")
	// ErrRejected signals that the server refused the request (4xx other than 404).
	ErrRejected = errors.New("remote: request rejected")
	// ErrUnauthorized signals a missing or refused credential (401, 403).
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// ListResult is one page of records plus the total number of matches.
type ListResult struct {
	Items      []quotation.Quotation
	TotalCount int
}

// Store is the remote record API. cred is the opaque bearer credential; an
// empty value sends no credential. Implementations own timeouts and retries.
type Store interface {
	ListRecords(ctx context.Context, cred string, filter quotation.Filter, cursor, pageSize int) (ListResult, error)
	GetRecord(ctx context.Context, cred, id string) (quotation.Quotation, error)
	PatchRecord(ctx context.Context, cred, id string, patch quotation.Patch) (quotation.Quotation, error)
}
