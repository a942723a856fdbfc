/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"encoding/json"
	"testing"
	"time"
)

func entry(label string, ts time.Time) LedgerEntry {
	return LedgerEntry{
		Label:         label,
		Timestamp:     ts,
		Matches:       []Match{set("m-"+label, "a", "b")},
		LocalToStable: map[string]int{"a": 1, "b": 2},
	}
}

func labels(entries []LedgerEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Label)
	}
	return out
}

func TestLedger_OrderIsStable(t *testing.T) {
	l := NewLedger()
	same := day(time.March, 1)
	for _, e := range []LedgerEntry{
		entry("late", day(time.April, 1)),
		entry("tie-1", same),
		entry("early", day(time.January, 1)),
		entry("tie-2", same),
	} {
		if err := l.Append(e); err != nil {
			t.Fatalf("append %v: %v", e.Label, err)
		}
	}

	got := labels(l.Entries())
	want := []string{"early", "tie-1", "tie-2", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v want %v", got, want)
		}
	}
}

func TestLedger_AppendValidation(t *testing.T) {
	l := NewLedger()

	noMatches := entry("x", day(time.May, 1))
	noMatches.Matches = nil
	if err := l.Append(noMatches); err == nil {
		t.Fatalf("expected error for entry without matches")
	}

	noMap := entry("y", day(time.May, 1))
	noMap.LocalToStable = map[string]int{}
	if err := l.Append(noMap); err == nil {
		t.Fatalf("expected error for entry without id map")
	}
	if l.Len() != 0 {
		t.Fatalf("invalid entries must not be stored")
	}
}

func TestLedger_RemoveByLabelAndClear(t *testing.T) {
	l := NewLedger(entry("a", day(time.May, 1)), entry("b", day(time.May, 2)),
		entry("a", day(time.May, 3)))

	if !l.RemoveByLabel("a") {
		t.Fatalf("expected removal")
	}
	if l.RemoveByLabel("a") {
		t.Fatalf("second removal should report nothing removed")
	}
	if got := labels(l.Entries()); len(got) != 1 || got[0] != "b" {
		t.Fatalf("remaining: %v", got)
	}
	if !l.Has("b") || l.Has("a") {
		t.Fatalf("Has out of sync")
	}

	l.Clear()
	if l.Len() != 0 || len(l.Summaries()) != 0 {
		t.Fatalf("clear left entries behind")
	}
}

func TestLedgerEntry_IDMapStaysAMap(t *testing.T) {
	data, err := json.Marshal(entry("m", day(time.June, 1)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["localToStableIdMap"].(map[string]any); !ok {
		t.Fatalf("id map encoded as %T", raw["localToStableIdMap"])
	}

	// an array in place of the map is rejected rather than coerced
	bad := []byte(`{"version":1,"records":[],"ledger":[{"label":"x","matches":[],"localToStableIdMap":[1,2]}]}`)
	if _, err := UnmarshalSnapshot(bad); err == nil {
		t.Fatalf("expected decode error for array id map")
	}
}
