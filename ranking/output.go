/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbsmash/cape-smash/trueskill"
)

// TagsByID maps record ids to tags, for rendering head-to-head opponents.
func TagsByID(records []PlayerRecord) map[int]string {
	tags := make(map[int]string, len(records))
	for _, rec := range records {
		tags[rec.ID] = rec.Tag
	}
	return tags
}

// BuildLeaderboardOutput formats records (already in display order) into an
// aligned table. limit <= 0 shows everyone.
func BuildLeaderboardOutput(records []PlayerRecord, limit int) string {
	if len(records) == 0 {
		return "No players ranked yet.\n"
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	type row struct{ rank, player, score, record, rate string }
	rows := make([]row, 0, len(records))
	for idx, rec := range records {
		rows = append(rows, row{
			rank:   fmt.Sprintf("%v.", idx+1),
			player: rec.Tag,
			score:  fmt.Sprintf("%v", rec.DisplayScore()),
			record: fmt.Sprintf("%v-%v", rec.Wins, rec.Losses),
			rate:   fmt.Sprintf("%.0f%%", 100*rec.WinRate()),
		})
	}

	// Compute column widths
	maxR, maxP, maxS, maxW := len("Rank"), len("Player"), len("Points"), len("W-L")
	for _, r := range rows {
		maxR = max(maxR, len(r.rank))
		maxP = max(maxP, len(r.player))
		maxS = max(maxS, len(r.score))
		maxW = max(maxW, len(r.record))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-*s  %-*s  %*s  %-*s  %s\n", maxR, "Rank", maxP,
		"Player", maxS, "Points", maxW, "W-L", "Win%"))
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%-*s  %-*s  %*s  %-*s  %s\n", maxR, r.rank,
			maxP, r.player, maxS, r.score, maxW, r.record, r.rate))
	}

	return sb.String()
}

// BuildPlayerOutput describes one record, including its head-to-head
// results against every opponent it has met.
func BuildPlayerOutput(rec PlayerRecord, tags map[int]string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%v (id:%v)\n", rec.Tag, rec.ID))
	sb.WriteString(fmt.Sprintf("Points: %v (mu %.2f, sigma %.2f, conservative %.2f)\n",
		rec.DisplayScore(), rec.Rating.Mu, rec.Rating.Sigma, rec.ConservativeEstimate()))
	sb.WriteString(fmt.Sprintf("Record: %v-%v (%.0f%%) over %v tournaments\n",
		rec.Wins, rec.Losses, 100*rec.WinRate(), rec.Appearances))

	if len(rec.HeadToHead) == 0 {
		return sb.String()
	}

	opponents := make([]int, 0, len(rec.HeadToHead))
	for id := range rec.HeadToHead {
		opponents = append(opponents, id)
	}
	sort.Slice(opponents, func(i, j int) bool {
		a, b := rec.HeadToHead[opponents[i]], rec.HeadToHead[opponents[j]]
		if a.Wins+a.Losses != b.Wins+b.Losses {
			return a.Wins+a.Losses > b.Wins+b.Losses
		}
		return opponents[i] < opponents[j]
	})

	sb.WriteString("\nHead to head:\n")
	for _, id := range opponents {
		tag, ok := tags[id]
		if !ok {
			tag = fmt.Sprintf("id:%v", id)
		}
		h := rec.HeadToHead[id]
		sb.WriteString(fmt.Sprintf("  %v-%v vs %v\n", h.Wins, h.Losses, tag))
	}

	return sb.String()
}

// BuildHeadToHeadOutput shows a's set record against b, followed by the
// TrueSkill match quality of a set between them.
func BuildHeadToHeadOutput(a PlayerRecord, b PlayerRecord, h HeadToHead) string {
	var sb strings.Builder

	if h.Wins+h.Losses == 0 {
		sb.WriteString(fmt.Sprintf("%v and %v have not played a set.\n", a.Tag, b.Tag))
	} else {
		sb.WriteString(fmt.Sprintf("%v %v - %v %v\n", a.Tag, h.Wins, h.Losses, b.Tag))
	}
	sb.WriteString(fmt.Sprintf("Match quality: %.0f%%\n",
		100*trueskill.MatchQuality(a.Rating, b.Rating)))

	return sb.String()
}

// BuildTournamentsOutput lists ledger entries in replay order.
func BuildTournamentsOutput(summaries []TournamentSummary) string {
	if len(summaries) == 0 {
		return "No tournaments imported.\n"
	}

	var sb strings.Builder
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = s.Label
		}
		sb.WriteString(fmt.Sprintf("%v  %v (%v) - %v sets, %v players\n",
			s.Timestamp.Format("2006-01-02"), name, s.Label, s.Matches, s.Players))
	}
	return sb.String()
}

// BuildImportOutput summarizes an import result.
func BuildImportOutput(res *ImportResult) string {
	var sb strings.Builder

	name := res.Name
	if name == "" {
		name = res.Tournament
	}
	if res.Matches == 0 {
		sb.WriteString(fmt.Sprintf("%v: no completed sets; nothing imported\n", name))
	} else {
		sb.WriteString(fmt.Sprintf("Imported %v (%v): %v events, %v players, %v sets\n",
			name, res.Timestamp.Format("2006-01-02"), res.Events, res.Players,
			res.Matches))
	}
	for _, sk := range res.Skipped {
		sb.WriteString(fmt.Sprintf("  skipped set %v: %v\n", sk.MatchID, sk.Reason))
	}
	return sb.String()
}
