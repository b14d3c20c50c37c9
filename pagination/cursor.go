// Package pagination turns logical page requests into 1-based page cursors
// over a filtered, ordered collection whose total size is known.
//
// Every function here is pure: calling it again with the same arguments gives
// the same answer, so list fetches can be retried without cursor drift.
package pagination

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// NextCursor returns the cursor following current, or ok=false once the
// collection is exhausted (current*pageSize >= totalCount). Invalid inputs are
// reported as exhausted.
func NextCursor(current, pageSize, totalCount int) (int, bool) {
	if current < 1 || pageSize < 1 || totalCount < 0 {
		return 0, false
	}
	if current*pageSize >= totalCount {
		return 0, false
	}
	return current + 1, true
}

// Window converts a cursor into an offset/limit pair.
func Window(cursor, pageSize int) (offset, limit int) {
	if cursor < 1 {
		cursor = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return (cursor - 1) * pageSize, pageSize
}

// Normalize clamps a requested cursor and page size into the valid range.
func Normalize(cursor, pageSize, defaultSize, maxSize int) (int, int) {
	if cursor < 1 {
		cursor = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	return cursor, pageSize
}

// Pages returns how many cursors a collection of totalCount spans; an empty
// collection still has the single, empty first page.
func Pages(pageSize, totalCount int) int {
	if pageSize < 1 || totalCount <= 0 {
		return 1
	}
	return (totalCount + pageSize - 1) / pageSize
}
