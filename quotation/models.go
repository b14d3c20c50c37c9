package quotation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/auth"
)

// Quotation is a record in the approval workflow.
type Quotation struct {
	ID          string          `json:"id"`
	Client      string          `json:"client"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	LastUpdated time.Time       `json:"last_updated"`
	Description string          `json:"description,omitempty"`
	Comments    []Comment       `json:"comments"`
	History     []HistoryEntry  `json:"history"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Role      auth.Role `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Replies   []Reply   `json:"replies"`
}

// Reply is a role-scoped answer to a comment. Replies are never edited or deleted.
type Reply struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Role      auth.Role `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is an append-only audit record.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes,omitempty"`
}

// Filter selects list rows. Status "" and "all" both mean any status.
type Filter struct {
	Query  string
	Status Status
}

// Normalized trims the query and folds "all" into the empty status.
func (f Filter) Normalized() Filter {
	out := Filter{Query: strings.TrimSpace(f.Query), Status: f.Status}
	if strings.EqualFold(string(out.Status), "all") {
		out.Status = ""
	}
	return out
}

// Signature is the canonical cache-key form of the filter.
func (f Filter) Signature() string {
	n := f.Normalized()
	return "q=" + strings.ToLower(n.Query) + "&status=" + string(n.Status)
}

// Matches applies the filter to a single record: status must match exactly and
// the free-text query must occur case-insensitively in id, client or description.
func (f Filter) Matches(q Quotation) bool {
	n := f.Normalized()
	if n.Status != "" && q.Status != n.Status {
		return false
	}
	if n.Query == "" {
		return true
	}
	needle := strings.ToLower(n.Query)
	for _, hay := range []string{q.ID, q.Client, q.Description} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// Page is one page of a filtered list. NextCursor is 0 once exhausted.
type Page struct {
	Items      []Quotation
	TotalCount int
	Cursor     int
	NextCursor int
}

// HasMore reports whether another page follows.
func (p Page) HasMore() bool { return p.NextCursor > 0 }

// VisibleReplies returns the replies a principal with the given current role
// may see. Stored replies are left untouched.
func (c Comment) VisibleReplies(viewer auth.Role) []Reply {
	out := make([]Reply, 0, len(c.Replies))
	for _, r := range c.Replies {
		if auth.CanSeeReply(viewer, r.Role) {
			out = append(out, r)
		}
	}
	return out
}

// FindComment returns the index of the comment with the given id, or -1.
func (q Quotation) FindComment(id string) int {
	for i, c := range q.Comments {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// SortedHistory returns history newest first for display. Storage order is
// insertion order and is not changed.
func (q Quotation) SortedHistory() []HistoryEntry {
	out := append([]HistoryEntry(nil), q.History...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

type wireQuotation struct {
	ID          string         `json:"id"`
	Client      string         `json:"client"`
	Amount      json.Number    `json:"amount"`
	Status      Status         `json:"status"`
	LastUpdated time.Time      `json:"last_updated"`
	Description string         `json:"description,omitempty"`
	Comments    []Comment      `json:"comments"`
	History     []HistoryEntry `json:"history"`
}

// MarshalJSON writes amount as a JSON number, which is what the REST backend
// stores and sorts on.
func (q Quotation) MarshalJSON() ([]byte, error) {
	w := wireQuotation{
		ID:          q.ID,
		Client:      q.Client,
		Amount:      json.Number(q.Amount.String()),
		Status:      q.Status,
		LastUpdated: q.LastUpdated,
		Description: q.Description,
		Comments:    q.Comments,
		History:     q.History,
	}
	if w.Comments == nil {
		w.Comments = []Comment{}
	}
	if w.History == nil {
		w.History = []HistoryEntry{}
	}
	return json.Marshal(w)
}

// flexID decodes an id written either as a JSON string or as a JSON number.
// The REST backend assigns numeric ids to comments, replies and history.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quotation: id must be a string or number: %w", err)
	}
	*id = flexID(n.String())
	return nil
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	type plain Comment
	aux := struct {
		*plain
		ID flexID `json:"id"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.ID = string(aux.ID)
	return nil
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	type plain Reply
	aux := struct {
		*plain
		ID flexID `json:"id"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ID = string(aux.ID)
	return nil
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	type plain HistoryEntry
	aux := struct {
		*plain
		ID flexID `json:"id"`
	}{plain: (*plain)(h)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	h.ID = string(aux.ID)
	return nil
}
