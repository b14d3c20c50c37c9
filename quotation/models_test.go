package quotation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/auth"
)

func TestComment_VisibleReplies(t *testing.T) {
	c := Comment{
		ID:   "c1",
		Role: auth.RoleManager,
		Replies: []Reply{
			{ID: "r1", Role: auth.RoleManager, Text: "internal note"},
			{ID: "r2", Role: auth.RoleSalesRep, Text: "rep follow-up"},
		},
	}

	got := c.VisibleReplies(auth.RoleManager)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("manager should see only r1, got %+v", got)
	}
	if got := c.VisibleReplies(auth.RoleSalesRep); len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("sales rep should see only r2, got %+v", got)
	}
	if got := c.VisibleReplies(auth.RoleViewer); len(got) != 0 {
		t.Fatalf("viewer should see nothing, got %+v", got)
	}
	if len(c.Replies) != 2 {
		t.Fatal("filtering must not alter stored replies")
	}
}

func TestFilter(t *testing.T) {
	q := Quotation{ID: "Q-17", Client: "Acme Corp", Description: "Office chairs", Status: StatusPending}

	tests := []struct {
		filter Filter
		want   bool
	}{
		{Filter{}, true},
		{Filter{Status: "all"}, true},
		{Filter{Status: StatusPending}, true},
		{Filter{Status: StatusApproved}, false},
		{Filter{Query: "acme"}, true},
		{Filter{Query: "q-1"}, true},
		{Filter{Query: "CHAIRS"}, true},
		{Filter{Query: "globex"}, false},
		{Filter{Query: "  acme ", Status: StatusPending}, true},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(q); got != tt.want {
			t.Errorf("%+v.Matches = %v, want %v", tt.filter, got, tt.want)
		}
	}

	if (Filter{Status: "all"}).Signature() != (Filter{}).Signature() {
		t.Error("status all and empty status must share a cache signature")
	}
	if (Filter{Query: "Acme "}).Signature() != (Filter{Query: "acme"}).Signature() {
		t.Error("query signature should ignore case and surrounding space")
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	orig := Quotation{
		ID:       "1",
		Comments: []Comment{{ID: "c1", Replies: []Reply{{ID: "r1"}}}},
		History:  []HistoryEntry{{ID: "h1"}},
	}
	cp := Clone(orig)
	cp.Comments[0].Replies[0].Text = "changed"
	cp.Comments[0].Text = "changed"
	cp.History[0].Action = "changed"

	if orig.Comments[0].Replies[0].Text != "" || orig.Comments[0].Text != "" || orig.History[0].Action != "" {
		t.Fatalf("clone aliases the original: %+v", orig)
	}
}

func TestPatch_Apply(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	base := Quotation{ID: "1", Client: "Acme", Amount: decimal.NewFromInt(100), Status: StatusPending}

	approved := StatusApproved
	client := "Globex"
	out := Patch{Status: &approved, Client: &client, LastUpdated: &now}.Apply(base)

	if out.Status != StatusApproved || out.Client != "Globex" || !out.LastUpdated.Equal(now) {
		t.Fatalf("unexpected merge result %+v", out)
	}
	if !out.Amount.Equal(base.Amount) {
		t.Fatal("absent fields must be kept")
	}
	if base.Status != StatusPending {
		t.Fatal("apply must not mutate its input")
	}
}

func TestPatch_JSONPresence(t *testing.T) {
	raw, err := json.Marshal(Patch{Comments: []Comment{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"comments":[]}` {
		t.Fatalf("empty comments must be sent explicitly, got %s", raw)
	}

	var p Patch
	if err := json.Unmarshal([]byte(`{"amount": 1250.5, "status": "Approved"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Amount == nil || !p.Amount.Equal(decimal.RequireFromString("1250.5")) {
		t.Fatalf("amount not decoded: %+v", p.Amount)
	}
	if p.Comments != nil || p.History != nil || p.Client != nil {
		t.Fatalf("absent fields must stay nil: %+v", p)
	}
	if !p.TouchesListFields() {
		t.Fatal("status/amount patch touches list fields")
	}
	if (Patch{Comments: []Comment{}}).TouchesListFields() {
		t.Fatal("comment patch does not touch list fields")
	}
}

func TestQuotation_MarshalAmountAsNumber(t *testing.T) {
	raw, err := json.Marshal(Quotation{ID: "1", Amount: decimal.RequireFromString("99.95")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"amount":99.95`) {
		t.Fatalf("expected numeric amount, got %s", raw)
	}
	if !strings.Contains(string(raw), `"comments":[]`) || !strings.Contains(string(raw), `"history":[]`) {
		t.Fatalf("expected empty arrays, got %s", raw)
	}
}

func TestSortedHistory(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := Quotation{History: []HistoryEntry{
		{ID: "a", Timestamp: t0},
		{ID: "b", Timestamp: t0.Add(2 * time.Hour)},
		{ID: "c", Timestamp: t0.Add(time.Hour)},
	}}
	got := q.SortedHistory()
	if got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Fatalf("unexpected order %v", got)
	}
	if q.History[0].ID != "a" {
		t.Fatal("storage order must not change")
	}
}

func TestQuotation_DecodesNumericThreadIDs(t *testing.T) {
	raw := `{
		"id": "1",
		"client": "Acme Corp",
		"amount": 15000,
		"status": "Pending",
		"last_updated": "2024-01-15T10:30:00Z",
		"comments": [{
			"id": 4821, "author": "Jane", "role": "manager", "text": "Check the margin",
			"timestamp": "2024-01-15T11:00:00Z",
			"replies": [{"id": 17, "author": "Jane", "role": "manager", "text": "Done", "timestamp": "2024-01-15T12:00:00Z"}]
		}, {
			"id": "c-2", "author": "Sam", "role": "sales_rep", "text": "Client waiting",
			"timestamp": "2024-01-16T09:00:00Z"
		}],
		"history": [{"id": 77, "timestamp": "2024-01-15T10:30:00Z", "user": "Jane", "action": "Changed status from Pending to Approved", "notes": "ok"}]
	}`

	var q Quotation
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.ID != "1" || q.Client != "Acme Corp" || !q.Amount.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("unexpected record fields %+v", q)
	}
	if len(q.Comments) != 2 || q.Comments[0].ID != "4821" || q.Comments[1].ID != "c-2" {
		t.Fatalf("comment ids: %+v", q.Comments)
	}
	if q.Comments[0].Author != "Jane" || q.Comments[0].Role != auth.RoleManager {
		t.Fatalf("comment fields lost: %+v", q.Comments[0])
	}
	if len(q.Comments[0].Replies) != 1 || q.Comments[0].Replies[0].ID != "17" || q.Comments[0].Replies[0].Text != "Done" {
		t.Fatalf("reply: %+v", q.Comments[0].Replies)
	}
	if len(q.History) != 1 || q.History[0].ID != "77" || q.History[0].Notes != "ok" {
		t.Fatalf("history: %+v", q.History)
	}
	if q.FindComment("4821") != 0 {
		t.Fatalf("numeric comment id must be addressable as a string")
	}

	if err := json.Unmarshal([]byte(`{"id": true}`), &q.History[0]); err == nil {
		t.Fatalf("expected an error for a boolean id")
	}
}
