/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mbsmash/cape-smash/trueskill"
)

const SnapshotVersion = 1

// Snapshot is the persisted form of a State. Ratings are encoded with
// encoding/json, whose shortest round-trip float formatting reproduces the
// exact float64 values on load.
type Snapshot struct {
	Version         int            `json:"version"`
	NextID          int            `json:"nextId"`
	RatingsMigrated bool           `json:"ratingsMigrated,omitempty"`
	Records         []PlayerRecord `json:"records"`
	Ledger          []LedgerEntry  `json:"ledger"`
	ArchivedLabels  []string       `json:"archivedLabels,omitempty"`

	// set on decode when some record had no rating
	legacy bool
}

// NeedsMigration reports whether decoding filled in missing ratings.
func (snap *Snapshot) NeedsMigration() bool {
	return snap.legacy
}

func newSnapshot(s *State) *Snapshot {
	snap := &Snapshot{
		Version:         SnapshotVersion,
		NextID:          s.NextID,
		RatingsMigrated: s.ratingsMigrated,
		Records:         make([]PlayerRecord, 0, len(s.Records)),
		Ledger:          s.Ledger.raw(),
		ArchivedLabels:  s.archivedLabels(),
	}
	for _, rec := range s.sortedRecords() {
		snap.Records = append(snap.Records, *rec.clone())
	}
	return snap
}

func (snap *Snapshot) state() *State {
	s := NewState()
	s.NextID = snap.NextID
	s.ratingsMigrated = snap.RatingsMigrated || snap.legacy
	for i := range snap.Records {
		rec := snap.Records[i].clone()
		defaultRecord(rec)
		s.Records[rec.ID] = rec
		if rec.ID >= s.NextID {
			s.NextID = rec.ID + 1
		}
	}
	for _, e := range snap.Ledger {
		if e.LocalToStable == nil {
			e.LocalToStable = make(map[string]int)
		}
		s.Ledger.entries = append(s.Ledger.entries, e)
	}
	for _, label := range snap.ArchivedLabels {
		s.archived[label] = true
	}
	if s.NextID < 1 {
		s.NextID = 1
	}
	s.reconcileCarry()
	return s
}

// MarshalSnapshot encodes snap as JSON.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes a snapshot, defaulting fields that older
// versions did not write.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var wire struct {
		Version         int               `json:"version"`
		NextID          int               `json:"nextId"`
		RatingsMigrated bool              `json:"ratingsMigrated"`
		Records         []json.RawMessage `json:"records"`
		Ledger          []LedgerEntry     `json:"ledger"`
		ArchivedLabels  []string          `json:"archivedLabels"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	snap := &Snapshot{
		Version:         wire.Version,
		NextID:          wire.NextID,
		RatingsMigrated: wire.RatingsMigrated,
		Records:         make([]PlayerRecord, 0, len(wire.Records)),
		Ledger:          wire.Ledger,
		ArchivedLabels:  wire.ArchivedLabels,
	}
	for i, raw := range wire.Records {
		rec, legacy, err := UnmarshalRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}
		snap.Records = append(snap.Records, rec)
		snap.legacy = snap.legacy || legacy
	}
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}

	return snap, nil
}

// UnmarshalRecord decodes one record. The boolean result reports that the
// record had no rating and was given the prior.
func UnmarshalRecord(data []byte) (PlayerRecord, bool, error) {
	var wire struct {
		PlayerRecord
		Rating *trueskill.Rating `json:"rating"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return PlayerRecord{}, false, err
	}

	rec := wire.PlayerRecord
	legacy := wire.Rating == nil
	if legacy {
		rec.resetRating()
	} else {
		if err := trueskill.Validate(*wire.Rating); err != nil {
			return PlayerRecord{}, false, err
		}
		rec.Rating = *wire.Rating
	}
	defaultRecord(&rec)

	return rec, legacy, nil
}

func defaultRecord(rec *PlayerRecord) {
	if rec.HeadToHead == nil {
		rec.HeadToHead = make(map[int]HeadToHead)
	}
	if rec.Carry.HeadToHead == nil {
		rec.Carry.HeadToHead = make(map[int]HeadToHead)
	}
	if len(rec.RatingHistory) == 0 {
		rec.RatingHistory = []RatingSnapshot{{Rating: rec.Rating, Label: priorLabel}}
	}
}

// SortForDisplay orders records by conservative estimate, then win rate,
// then wins, all descending. Id breaks remaining ties.
func SortForDisplay(records []PlayerRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if ca, cb := a.ConservativeEstimate(), b.ConservativeEstimate(); ca != cb {
			return ca > cb
		}
		if wa, wb := a.WinRate(), b.WinRate(); wa != wb {
			return wa > wb
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.ID < b.ID
	})
}

// FilterRecords drops players with fewer than two appearances, unless no
// player has more than one, in which case everything is kept.
func FilterRecords(records []PlayerRecord) []PlayerRecord {
	maxAppearances := 0
	for _, rec := range records {
		if rec.Appearances > maxAppearances {
			maxAppearances = rec.Appearances
		}
	}
	if maxAppearances <= 1 {
		return records
	}

	out := make([]PlayerRecord, 0, len(records))
	for _, rec := range records {
		if rec.Appearances >= 2 {
			out = append(out, rec)
		}
	}
	return out
}
