package quotation

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Patch is a partial update. Nil fields are absent; the server merges present
// fields into the stored record and returns the canonical result.
type Patch struct {
	Client      *string
	Amount      *decimal.Decimal
	Status      *Status
	Description *string
	LastUpdated *time.Time
	Comments    []Comment
	History     []HistoryEntry
}

func (p Patch) Empty() bool {
	return p.Client == nil && p.Amount == nil && p.Status == nil && p.Description == nil &&
		p.LastUpdated == nil && p.Comments == nil && p.History == nil
}

// TouchesListFields reports whether the patch changes a column shown in list rows.
func (p Patch) TouchesListFields() bool {
	return p.Client != nil || p.Amount != nil || p.Status != nil || p.LastUpdated != nil
}

// Apply returns a merged deep copy of q.
func (p Patch) Apply(q Quotation) Quotation {
	out := Clone(q)
	if p.Client != nil {
		out.Client = *p.Client
	}
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.LastUpdated != nil {
		out.LastUpdated = *p.LastUpdated
	}
	if p.Comments != nil {
		out.Comments = Clone(Quotation{Comments: p.Comments}).Comments
	}
	if p.History != nil {
		out.History = append([]HistoryEntry{}, p.History...)
	}
	return out
}

type wirePatch struct {
	Client      *string         `json:"client,omitempty"`
	Amount      *json.Number    `json:"amount,omitempty"`
	Status      *Status         `json:"status,omitempty"`
	Description *string         `json:"description,omitempty"`
	LastUpdated *time.Time      `json:"last_updated,omitempty"`
	Comments    *[]Comment      `json:"comments,omitempty"`
	History     *[]HistoryEntry `json:"history,omitempty"`
}

func (p Patch) MarshalJSON() ([]byte, error) {
	w := wirePatch{
		Client:      p.Client,
		Status:      p.Status,
		Description: p.Description,
		LastUpdated: p.LastUpdated,
	}
	if p.Amount != nil {
		n := json.Number(p.Amount.String())
		w.Amount = &n
	}
	if p.Comments != nil {
		w.Comments = &p.Comments
	}
	if p.History != nil {
		w.History = &p.History
	}
	return json.Marshal(w)
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var w struct {
		Client      *string          `json:"client"`
		Amount      *decimal.Decimal `json:"amount"`
		Status      *Status          `json:"status"`
		Description *string          `json:"description"`
		LastUpdated *time.Time       `json:"last_updated"`
		Comments    *[]Comment       `json:"comments"`
		History     *[]HistoryEntry  `json:"history"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Patch{
		Client:      w.Client,
		Amount:      w.Amount,
		Status:      w.Status,
		Description: w.Description,
		LastUpdated: w.LastUpdated,
	}
	if w.Comments != nil {
		p.Comments = append([]Comment{}, (*w.Comments)...)
	}
	if w.History != nil {
		p.History = append([]HistoryEntry{}, (*w.History)...)
	}
	return nil
}
