// Package audit derives human-readable history entries from mutations.
package audit

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quoteflow/quotation"
)

// Changes is the requested new state of the audited fields. Nil means the
// field is not part of the mutation.
type Changes struct {
	Status *quotation.Status
	Client *string
	Amount *decimal.Decimal
}

// Options carries the injectable collaborators. Zero values fall back to
// time.Now and uuid.NewString.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

// Build returns the history entry describing the difference between current
// and changes, attributed to user. It reports false when nothing differs;
// notes alone never produce an entry.
//
// The entry timestamp is strictly after current.LastUpdated so that a record's
// last_updated advances with every audited change even on a skewed clock.
func Build(user string, changes Changes, current quotation.Quotation, notes string, opts Options) (quotation.HistoryEntry, bool) {
	clauses := Describe(changes, current)
	if len(clauses) == 0 {
		return quotation.HistoryEntry{}, false
	}

	now, newID := opts.Now, opts.NewID
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}

	return quotation.HistoryEntry{
		ID:        newID(),
		Timestamp: NextTimestamp(current.LastUpdated, now()),
		User:      user,
		Action:    strings.Join(clauses, "; "),
		Notes:     strings.TrimSpace(notes),
	}, true
}

// NextTimestamp returns now, or last plus one millisecond when now is not
// after last, in UTC.
func NextTimestamp(last, now time.Time) time.Time {
	if !now.After(last) {
		return last.Add(time.Millisecond).UTC()
	}
	return now.UTC()
}

// Describe lists one clause per changed field in the fixed order status,
// client, amount.
func Describe(changes Changes, current quotation.Quotation) []string {
	var clauses []string
	if changes.Status != nil && *changes.Status != current.Status {
		clauses = append(clauses, fmt.Sprintf("Changed status from %s to %s", current.Status, *changes.Status))
	}
	if changes.Client != nil && *changes.Client != current.Client {
		clauses = append(clauses, fmt.Sprintf("Changed client from %q to %q", current.Client, *changes.Client))
	}
	if changes.Amount != nil && !changes.Amount.Equal(current.Amount) {
		clauses = append(clauses, fmt.Sprintf("Changed amount from %s to %s", FormatAmount(current.Amount), FormatAmount(*changes.Amount)))
	}
	return clauses
}

// FormatAmount renders a currency amount with thousands separators, e.g.
// $1,234.5. Every digit of d is kept.
func FormatAmount(d decimal.Decimal) string {
	digits, sign := d.String(), ""
	if rest, ok := strings.CutPrefix(digits, "-"); ok {
		digits, sign = rest, "-"
	}
	whole, frac, _ := strings.Cut(digits, ".")
	n, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return "$" + sign + digits
	}
	out := "$" + sign + humanize.BigComma(n)
	if frac != "" {
		out += "." + frac
	}
	return out
}
