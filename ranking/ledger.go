/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"errors"
	"sort"
	"time"
)

// LedgerEntry is the immutable record of one imported tournament. The id map
// is fixed at import time and reused verbatim on replay.
type LedgerEntry struct {
	Label         string         `json:"label"`
	Name          string         `json:"name,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Matches       []Match        `json:"matches"`
	LocalToStable map[string]int `json:"localToStableIdMap"`
}

// TournamentSummary describes one ledger entry for listings.
type TournamentSummary struct {
	Label     string    `json:"label"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Matches   int       `json:"matches"`
	Players   int       `json:"players"`
}

var (
	errEmptyEntry = errors.New("ledger entry needs at least one match")
	errEmptyIDMap = errors.New("ledger entry needs a non-empty id map")
)

// Ledger is the append-only history of imported tournaments. It is the only
// input to a ratings replay.
type Ledger struct {
	entries []LedgerEntry
}

func NewLedger(entries ...LedgerEntry) *Ledger {
	return &Ledger{entries: append([]LedgerEntry(nil), entries...)}
}

// Append adds entry to the ledger.
func (l *Ledger) Append(entry LedgerEntry) error {
	if len(entry.Matches) == 0 {
		return errEmptyEntry
	}
	if len(entry.LocalToStable) == 0 {
		return errEmptyIDMap
	}
	l.entries = append(l.entries, entry)
	return nil
}

// RemoveByLabel drops every entry carrying label and reports whether any
// were removed.
func (l *Ledger) RemoveByLabel(label string) bool {
	kept := l.entries[:0]
	removed := false
	for _, e := range l.entries {
		if e.Label == label {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = LedgerEntry{}
	}
	l.entries = kept
	return removed
}

// Has reports whether a tournament with label has been imported.
func (l *Ledger) Has(label string) bool {
	for _, e := range l.entries {
		if e.Label == label {
			return true
		}
	}
	return false
}

// Entries returns the entries in replay order: ascending timestamp, ties in
// insertion order.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Summaries lists the imported tournaments in replay order.
func (l *Ledger) Summaries() []TournamentSummary {
	entries := l.Entries()
	out := make([]TournamentSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, TournamentSummary{
			Label:     e.Label,
			Name:      e.Name,
			Timestamp: e.Timestamp,
			Matches:   len(e.Matches),
			Players:   len(e.LocalToStable),
		})
	}
	return out
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

func (l *Ledger) Clear() {
	l.entries = nil
}

// insertion order, used for persistence
func (l *Ledger) raw() []LedgerEntry {
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) clone() *Ledger {
	return &Ledger{entries: l.raw()}
}
