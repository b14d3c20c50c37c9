// Package oracles states what must hold for the quotation store and the
// client engine no matter how mutations interleave or fail.
package oracles

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quoteflow/engine"
	"quoteflow/quotation"
)

// Snapshot is the server-side state of every tracked record at one instant.
type Snapshot map[string]quotation.Quotation

// Capture reads ids from repo.
func Capture(ctx context.Context, repo quotation.Repository, ids []string) (Snapshot, error) {
	s := make(Snapshot, len(ids))
	for _, id := range ids {
		q, err := repo.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", id, err)
		}
		s[id] = q
	}
	return s, nil
}

// Oracle compares two consecutive snapshots and returns a sample of the first
// violation, or "" when the property holds.
type Oracle struct {
	Name  string
	Check func(prev, cur quotation.Quotation) string
}

func All() []Oracle {
	return []Oracle{
		{Name: "O1_history_append_only", Check: historyAppendOnly},
		{Name: "O2_terminal_sticky", Check: terminalSticky},
		{Name: "O3_history_time_ordered", Check: historyTimeOrdered},
		{Name: "O4_threads_append_only", Check: threadsAppendOnly},
		{Name: "O5_last_updated_tracks_audit", Check: lastUpdatedTracksAudit},
	}
}

// Run executes all oracles over every record and returns the first failure
// (name and sample) or an empty name if all pass.
func Run(prev, cur Snapshot) (string, string) {
	for _, o := range All() {
		for _, id := range sortedIDs(cur) {
			before, ok := prev[id]
			if !ok {
				before = cur[id]
			}
			if sample := o.Check(before, cur[id]); sample != "" {
				return o.Name, id + ": " + sample
			}
		}
	}
	return "", ""
}

func historyAppendOnly(prev, cur quotation.Quotation) string {
	if len(cur.History) < len(prev.History) {
		return fmt.Sprintf("history shrank from %d to %d", len(prev.History), len(cur.History))
	}
	for i, h := range prev.History {
		if cur.History[i].ID != h.ID || cur.History[i].Action != h.Action {
			return fmt.Sprintf("history entry %d rewritten: %q became %q", i, h.Action, cur.History[i].Action)
		}
	}
	return ""
}

func terminalSticky(prev, cur quotation.Quotation) string {
	if prev.Status.Terminal() && cur.Status != prev.Status {
		return fmt.Sprintf("status left terminal %s for %s", prev.Status, cur.Status)
	}
	return ""
}

func historyTimeOrdered(_, cur quotation.Quotation) string {
	for i := 1; i < len(cur.History); i++ {
		if !cur.History[i].Timestamp.After(cur.History[i-1].Timestamp) {
			return fmt.Sprintf("history entry %d at %s is not after %s", i,
				cur.History[i].Timestamp.Format(time.RFC3339Nano), cur.History[i-1].Timestamp.Format(time.RFC3339Nano))
		}
	}
	return ""
}

func threadsAppendOnly(prev, cur quotation.Quotation) string {
	replies := make(map[string]int, len(cur.Comments))
	for _, c := range cur.Comments {
		replies[c.ID] = len(c.Replies)
	}
	for _, c := range prev.Comments {
		n, ok := replies[c.ID]
		if !ok {
			return fmt.Sprintf("comment %s disappeared", c.ID)
		}
		if n < len(c.Replies) {
			return fmt.Sprintf("comment %s lost replies: %d -> %d", c.ID, len(c.Replies), n)
		}
	}
	return ""
}

// lastUpdatedTracksAudit holds because every audited write stamps
// last_updated with the entry's own timestamp and thread writes leave it
// alone. Postgres keeps microseconds only.
func lastUpdatedTracksAudit(_, cur quotation.Quotation) string {
	if len(cur.History) == 0 {
		return ""
	}
	last := cur.History[len(cur.History)-1].Timestamp
	if d := cur.LastUpdated.Sub(last); d > time.Microsecond || d < -time.Microsecond {
		return fmt.Sprintf("last_updated %s but last audit entry %s",
			cur.LastUpdated.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	return ""
}

// Drained checks an engine after every handle in handles has resolved against
// the final server state. It returns the failing check's name and a sample.
func Drained(eng *engine.Engine, handles []*engine.Handle, final Snapshot) (string, string) {
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			return "D1_handles_resolved", fmt.Sprintf("%s on %s still %s", h.Op, h.RecordID, h.State())
		}
		if !h.State().Terminal() {
			return "D1_handles_resolved", fmt.Sprintf("%s on %s closed in %s", h.Op, h.RecordID, h.State())
		}
	}

	for _, id := range sortedIDs(final) {
		if eng.IsOptimistic(id) {
			return "D2_lanes_drained", id + " still has outstanding mutations"
		}
	}

	// With a single writer and failures injected before the write, whatever
	// the cache holds after rollbacks must be what the server holds.
	for _, id := range sortedIDs(final) {
		cached, ok := eng.PeekDetail(id)
		if !ok {
			continue
		}
		if diff := compare(cached, final[id]); diff != "" {
			return "D3_rollback_exact", id + ": " + diff
		}
	}

	for _, h := range handles {
		if h.State() != engine.StateConfirmed {
			continue
		}
		res, err := h.Wait(context.Background())
		if err != nil {
			return "D4_confirmed_durable", fmt.Sprintf("confirmed %s on %s returned %v", h.Op, h.RecordID, err)
		}
		if sample := historyAppendOnly(res, final[h.RecordID]); sample != "" {
			return "D4_confirmed_durable", h.RecordID + ": " + sample
		}
		if sample := threadsAppendOnly(res, final[h.RecordID]); sample != "" {
			return "D4_confirmed_durable", h.RecordID + ": " + sample
		}
	}
	return "", ""
}

func compare(cached, server quotation.Quotation) string {
	switch {
	case cached.Status != server.Status:
		return fmt.Sprintf("status cached %s, server %s", cached.Status, server.Status)
	case cached.Client != server.Client:
		return fmt.Sprintf("client cached %q, server %q", cached.Client, server.Client)
	case !cached.Amount.Equal(server.Amount):
		return fmt.Sprintf("amount cached %s, server %s", cached.Amount, server.Amount)
	case len(cached.History) != len(server.History):
		return fmt.Sprintf("history cached %d entries, server %d", len(cached.History), len(server.History))
	case len(cached.Comments) != len(server.Comments):
		return fmt.Sprintf("comments cached %d, server %d", len(cached.Comments), len(server.Comments))
	}
	for i := range cached.Comments {
		if len(cached.Comments[i].Replies) != len(server.Comments[i].Replies) {
			return fmt.Sprintf("comment %s replies cached %d, server %d",
				cached.Comments[i].ID, len(cached.Comments[i].Replies), len(server.Comments[i].Replies))
		}
	}
	return ""
}

func sortedIDs(s Snapshot) []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
