/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"fmt"
	"sort"

	"github.com/mbsmash/cape-smash/trueskill"
)

// State is everything the engine knows: the records keyed by stable id, the
// ledger they were built from and the next id to allocate. Operations that
// may fail work on a clone and swap it in only on success.
type State struct {
	Records map[int]*PlayerRecord
	Ledger  *Ledger
	NextID  int

	// labels imported in seasons since archived by a reset
	archived map[string]bool

	ratingsMigrated bool
}

// SkippedMatch describes a set that could not be applied.
type SkippedMatch struct {
	Tournament string `json:"tournament"`
	MatchID    string `json:"matchId"`
	Reason     string `json:"reason"`
}

func NewState() *State {
	return &State{
		Records: make(map[int]*PlayerRecord),
		Ledger:   NewLedger(),
		NextID:   1,
		archived: make(map[string]bool),
	}
}

func (s *State) clone() *State {
	cp := &State{
		Records: make(map[int]*PlayerRecord, len(s.Records)),
		Ledger:  s.Ledger.clone(),
		NextID:  s.NextID,

		archived:        make(map[string]bool, len(s.archived)),
		ratingsMigrated: s.ratingsMigrated,
	}
	for id, rec := range s.Records {
		cp.Records[id] = rec.clone()
	}
	for label := range s.archived {
		cp.archived[label] = true
	}
	return cp
}

// imported reports whether label is in the ledger or was imported in an
// earlier season.
func (s *State) imported(label string) bool {
	return s.Ledger.Has(label) || s.archived[label]
}

// archivedLabels returns the earlier seasons' labels, sorted.
func (s *State) archivedLabels() []string {
	if len(s.archived) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.archived))
	for label := range s.archived {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (s *State) newRecord(tag string, externalUserID string) *PlayerRecord {
	rec := newPlayerRecord(s.NextID, tag, externalUserID)
	s.Records[rec.ID] = rec
	s.NextID++
	return rec
}

// sortedRecords returns the records in stable id order.
func (s *State) sortedRecords() []*PlayerRecord {
	out := make([]*PlayerRecord, 0, len(s.Records))
	for _, rec := range s.Records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// participants maps a match onto its winner and loser records, or explains
// why the match cannot be applied.
func (s *State) participants(entry *LedgerEntry, m Match) (*PlayerRecord,
	*PlayerRecord, string) {

	if len(m.EntrantIDs) != 2 {
		return nil, nil, fmt.Sprintf("expected 2 entrants, found %d",
			len(m.EntrantIDs))
	}
	var loserLocal string
	switch m.WinnerID {
	case m.EntrantIDs[0]:
		loserLocal = m.EntrantIDs[1]
	case m.EntrantIDs[1]:
		loserLocal = m.EntrantIDs[0]
	default:
		return nil, nil, fmt.Sprintf("winner %q is not an entrant", m.WinnerID)
	}

	winnerID, ok := entry.LocalToStable[m.WinnerID]
	if !ok {
		return nil, nil, fmt.Sprintf("entrant %q not among players", m.WinnerID)
	}
	loserID, ok := entry.LocalToStable[loserLocal]
	if !ok {
		return nil, nil, fmt.Sprintf("entrant %q not among players", loserLocal)
	}
	if winnerID == loserID {
		return nil, nil, fmt.Sprintf("both entrants resolve to player %d",
			winnerID)
	}

	winner, ok := s.Records[winnerID]
	if !ok {
		return nil, nil, fmt.Sprintf("unknown player id %d", winnerID)
	}
	loser, ok := s.Records[loserID]
	if !ok {
		return nil, nil, fmt.Sprintf("unknown player id %d", loserID)
	}

	return winner, loser, ""
}

// applyEntry replays one tournament: counters, head-to-head, ratings and
// appearances. Matches that cannot be applied are returned, not fatal.
func (s *State) applyEntry(entry *LedgerEntry) (int, []SkippedMatch) {
	applied := 0
	var skipped []SkippedMatch

	for _, m := range entry.Matches {
		winner, loser, reason := s.participants(entry, m)
		if reason != "" {
			skipped = append(skipped, SkippedMatch{
				Tournament: entry.Label,
				MatchID:    m.ID,
				Reason:     reason,
			})
			continue
		}

		winner.Wins++
		loser.Losses++

		h := winner.HeadToHead[loser.ID]
		h.Wins++
		winner.HeadToHead[loser.ID] = h
		h = loser.HeadToHead[winner.ID]
		h.Losses++
		loser.HeadToHead[winner.ID] = h

		newWinner, newLoser := trueskill.Update(winner.Rating, loser.Rating)
		at := m.CompletedAt
		if at.IsZero() {
			at = entry.Timestamp
		}
		winner.setRating(newWinner, at, entry.Label)
		loser.setRating(newLoser, at, entry.Label)

		applied++
	}

	seen := make(map[int]bool, len(entry.LocalToStable))
	for _, id := range entry.LocalToStable {
		if seen[id] {
			continue
		}
		seen[id] = true
		if rec, ok := s.Records[id]; ok {
			rec.Appearances++
		}
	}

	return applied, skipped
}

// replay rebuilds ratings and counters from the ledger into a new State,
// leaving s untouched.
func (s *State) replay() (*State, []SkippedMatch) {
	scratch := s.clone()
	for _, rec := range scratch.Records {
		rec.resetRating()
		rec.resetCounters()
	}

	var skipped []SkippedMatch
	for _, e := range scratch.Ledger.Entries() {
		_, sk := scratch.applyEntry(&e)
		skipped = append(skipped, sk...)
	}
	return scratch, skipped
}

// reconcileCarry sets each record's Carry to whatever its counters hold
// beyond what the ledger replays, so later replays keep counters the ledger
// cannot explain (records written before the ledger existed, for one).
func (s *State) reconcileCarry() {
	zeroed := s.clone()
	for _, rec := range zeroed.Records {
		rec.Carry = Counters{HeadToHead: make(map[int]HeadToHead)}
	}
	replayed, _ := zeroed.replay()
	for id, rec := range s.Records {
		rec.Carry = rec.counters().minus(replayed.Records[id].counters())
	}
}

// resetSeason archives the lifetime counters, resets ratings and empties the
// ledger. The ledger's labels are remembered so those tournaments cannot be
// counted into the carried counters twice.
func (s *State) resetSeason() {
	for _, rec := range s.Records {
		rec.archiveCounters()
		rec.resetRating()
	}
	for _, e := range s.Ledger.entries {
		s.archived[e.Label] = true
	}
	s.Ledger.Clear()
}

// isLatest reports whether entry sorts after everything in the ledger,
// in which case applying it incrementally matches a full replay.
func (s *State) isLatest(entry *LedgerEntry) bool {
	for _, e := range s.Ledger.entries {
		if entry.Timestamp.Before(e.Timestamp) {
			return false
		}
	}
	return true
}
