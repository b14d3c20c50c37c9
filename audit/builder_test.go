package audit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/quotation"
)

func ptr[T any](v T) *T { return &v }

func fixedOptions(now time.Time) Options {
	return Options{
		Now:   func() time.Time { return now },
		NewID: func() string { return "h-1" },
	}
}

func TestBuild_Clauses(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	current := quotation.Quotation{
		ID:          "q-1",
		Client:      "Acme",
		Amount:      decimal.NewFromInt(1000),
		Status:      quotation.StatusPending,
		LastUpdated: now.Add(-time.Hour),
	}

	cases := []struct {
		name    string
		changes Changes
		want    string
	}{
		{
			name:    "status",
			changes: Changes{Status: ptr(quotation.StatusApproved)},
			want:    "Changed status from Pending to Approved",
		},
		{
			name:    "client",
			changes: Changes{Client: ptr("Globex")},
			want:    `Changed client from "Acme" to "Globex"`,
		},
		{
			name:    "amount",
			changes: Changes{Amount: ptr(decimal.RequireFromString("2500.5"))},
			want:    "Changed amount from $1,000 to $2,500.5",
		},
		{
			name: "multiple fields in fixed order",
			changes: Changes{
				Amount: ptr(decimal.NewFromInt(2000)),
				Client: ptr("Globex"),
				Status: ptr(quotation.StatusRejected),
			},
			want: `Changed status from Pending to Rejected; Changed client from "Acme" to "Globex"; Changed amount from $1,000 to $2,000`,
		},
		{
			name: "unchanged fields are skipped",
			changes: Changes{
				Client: ptr("Acme"),
				Amount: ptr(decimal.RequireFromString("1500")),
			},
			want: "Changed amount from $1,000 to $1,500",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, ok := Build("Jane", tc.changes, current, "", fixedOptions(now))
			if !ok {
				t.Fatalf("expected an entry")
			}
			if entry.Action != tc.want {
				t.Fatalf("action = %q, want %q", entry.Action, tc.want)
			}
			if entry.User != "Jane" || entry.ID != "h-1" || !entry.Timestamp.Equal(now) {
				t.Fatalf("unexpected entry metadata: %+v", entry)
			}
		})
	}
}

func TestBuild_NoChangeProducesNothing(t *testing.T) {
	current := quotation.Quotation{
		Client: "Acme",
		Amount: decimal.RequireFromString("10.50"),
		Status: quotation.StatusPending,
	}
	changes := Changes{
		Status: ptr(quotation.StatusPending),
		Client: ptr("Acme"),
		// Numerically equal with a different scale.
		Amount: ptr(decimal.RequireFromString("10.5")),
	}
	if entry, ok := Build("Jane", changes, current, "because", Options{}); ok {
		t.Fatalf("expected no entry, got %+v", entry)
	}
	if _, ok := Build("Jane", Changes{}, current, "just notes", Options{}); ok {
		t.Fatalf("notes alone must not produce an entry")
	}
}

func TestBuild_Notes(t *testing.T) {
	current := quotation.Quotation{Status: quotation.StatusPending}
	entry, ok := Build("Jane", Changes{Status: ptr(quotation.StatusRejected)}, current, "  over budget  ", Options{})
	if !ok {
		t.Fatalf("expected an entry")
	}
	if entry.Notes != "over budget" {
		t.Fatalf("notes = %q", entry.Notes)
	}
	if entry.ID == "" {
		t.Fatalf("expected a generated id")
	}

	blank, _ := Build("Jane", Changes{Status: ptr(quotation.StatusRejected)}, current, "   ", Options{})
	if blank.Notes != "" {
		t.Fatalf("blank notes should be dropped, got %q", blank.Notes)
	}
}

func TestBuild_TimestampStrictlyAfterLastUpdated(t *testing.T) {
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	current := quotation.Quotation{Status: quotation.StatusPending, LastUpdated: last}

	for _, skew := range []time.Duration{-time.Hour, 0, time.Second} {
		entry, ok := Build("Jane", Changes{Status: ptr(quotation.StatusApproved)}, current, "", fixedOptions(last.Add(skew)))
		if !ok {
			t.Fatalf("expected an entry")
		}
		if !entry.Timestamp.After(last) {
			t.Fatalf("skew %v: timestamp %v not after %v", skew, entry.Timestamp, last)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[string]string{
		"0":                         "$0",
		"999":                       "$999",
		"1234567":                   "$1,234,567",
		"1234.56":                   "$1,234.56",
		"2500.50":                   "$2,500.5",
		"1000000.25":                "$1,000,000.25",
		"12345678901234567.89":      "$12,345,678,901,234,567.89",
		"98765432109876543210.0001": "$98,765,432,109,876,543,210.0001",
		"-1500.75":                  "$-1,500.75",
	}
	for in, want := range cases {
		if got := FormatAmount(decimal.RequireFromString(in)); got != want {
			t.Fatalf("FormatAmount(%s) = %q, want %q", in, got, want)
		}
	}
}
