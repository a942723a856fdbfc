/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package ranking aggregates bracket results into per-player records and
// TrueSkill ratings, and keeps the match ledger those records are replayed
// from.
package ranking

import (
	"time"

	"github.com/mbsmash/cape-smash/trueskill"
)

// Event is one bracket within a tournament, as reported by a DataSource.
type Event struct {
	ID             string
	Name           string
	TournamentName string
	Videogame      string
	StartAt        time.Time
}

// Player is a tournament-local entrant as reported by a DataSource.
type Player struct {
	LocalID        string
	Tag            string
	ExternalUserID string
}

// Match is one completed set between two entrants. Round, Score and
// CompletedAt are informational only.
type Match struct {
	ID          string    `json:"id"`
	EntrantIDs  []string  `json:"entrantIds"`
	WinnerID    string    `json:"winnerId"`
	Round       string    `json:"round,omitempty"`
	Score       string    `json:"score,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// HeadToHead is one player's record against a single opponent.
type HeadToHead struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// RatingSnapshot is one ratingHistory element.
type RatingSnapshot struct {
	Rating trueskill.Rating `json:"rating"`
	At     time.Time        `json:"at"`
	Label  string           `json:"label"`
}

// Counters are the replayable win/loss tallies of a record.
type Counters struct {
	Wins        int                `json:"wins"`
	Losses      int                `json:"losses"`
	Appearances int                `json:"appearances"`
	HeadToHead  map[int]HeadToHead `json:"headToHead"`
}

// PlayerRecord is the aggregate view of one stable player identity.
type PlayerRecord struct {
	ID             int                `json:"id"`
	Tag            string             `json:"tag"`
	ExternalUserID string             `json:"externalUserId,omitempty"`
	Wins           int                `json:"wins"`
	Losses         int                `json:"losses"`
	Appearances    int                `json:"appearances"`
	HeadToHead     map[int]HeadToHead `json:"headToHead"`
	Rating         trueskill.Rating   `json:"rating"`
	RatingHistory  []RatingSnapshot   `json:"ratingHistory"`

	// Carry holds lifetime counters archived by the last season reset.
	Carry Counters `json:"carry"`
}

const priorLabel = "prior"

func newPlayerRecord(id int, tag string, externalUserID string) *PlayerRecord {
	rec := &PlayerRecord{
		ID:             id,
		Tag:            tag,
		ExternalUserID: externalUserID,
		HeadToHead:     make(map[int]HeadToHead),
		Carry:          Counters{HeadToHead: make(map[int]HeadToHead)},
	}
	rec.resetRating()
	return rec
}

// ConservativeEstimate returns mu - 3*sigma of the current rating.
func (p *PlayerRecord) ConservativeEstimate() float64 {
	return trueskill.ConservativeEstimate(p.Rating)
}

// DisplayScore returns the leaderboard points derived from the current rating.
func (p *PlayerRecord) DisplayScore() int {
	return trueskill.DisplayScore(p.Rating)
}

// WinRate returns wins/(wins+losses), or 0 for a player with no sets.
func (p *PlayerRecord) WinRate() float64 {
	total := p.Wins + p.Losses
	if total == 0 {
		return 0
	}
	return float64(p.Wins) / float64(total)
}

func (p *PlayerRecord) resetRating() {
	p.Rating = trueskill.NewRating()
	p.RatingHistory = []RatingSnapshot{{Rating: p.Rating, Label: priorLabel}}
}

func (p *PlayerRecord) resetCounters() {
	p.Wins = p.Carry.Wins
	p.Losses = p.Carry.Losses
	p.Appearances = p.Carry.Appearances
	p.HeadToHead = copyHeadToHead(p.Carry.HeadToHead)
}

func (p *PlayerRecord) counters() Counters {
	return Counters{
		Wins:        p.Wins,
		Losses:      p.Losses,
		Appearances: p.Appearances,
		HeadToHead:  copyHeadToHead(p.HeadToHead),
	}
}

func (p *PlayerRecord) archiveCounters() {
	p.Carry = p.counters()
}

// minus returns c - o per field, floored at zero.
func (c Counters) minus(o Counters) Counters {
	out := Counters{
		Wins:        max(c.Wins-o.Wins, 0),
		Losses:      max(c.Losses-o.Losses, 0),
		Appearances: max(c.Appearances-o.Appearances, 0),
		HeadToHead:  make(map[int]HeadToHead),
	}
	for id, h := range c.HeadToHead {
		sub := o.HeadToHead[id]
		diff := HeadToHead{
			Wins:   max(h.Wins-sub.Wins, 0),
			Losses: max(h.Losses-sub.Losses, 0),
		}
		if diff != (HeadToHead{}) {
			out.HeadToHead[id] = diff
		}
	}
	return out
}

func (p *PlayerRecord) setRating(r trueskill.Rating, at time.Time, label string) {
	p.Rating = r
	p.RatingHistory = append(p.RatingHistory,
		RatingSnapshot{Rating: r, At: at, Label: label})
}

func (p *PlayerRecord) clone() *PlayerRecord {
	cp := *p
	cp.HeadToHead = copyHeadToHead(p.HeadToHead)
	cp.RatingHistory = append([]RatingSnapshot(nil), p.RatingHistory...)
	cp.Carry.HeadToHead = copyHeadToHead(p.Carry.HeadToHead)
	return &cp
}

func copyHeadToHead(in map[int]HeadToHead) map[int]HeadToHead {
	out := make(map[int]HeadToHead, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
