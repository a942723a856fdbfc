/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package startgg

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbsmash/cape-smash/internal"
	"github.com/mbsmash/cape-smash/ranking"
)

var _ ranking.DataSource = (*Client)(nil)
var _ ranking.SlugResolver = (*Client)(nil)

// Events returns the tournament's events, restricted to the configured
// videogame when one is set.
func (c *Client) Events(ctx context.Context, slug string) ([]ranking.Event, error) {
	var data tournamentEventsData
	err := c.query(ctx, "TournamentEvents", tournamentEventsQuery,
		map[string]any{"slug": slug}, &data)
	if err != nil {
		return nil, err
	}
	if data.Tournament == nil {
		return nil, fmt.Errorf("%w: %v", ranking.ErrTournamentNotFound, slug)
	}

	t := data.Tournament
	events := make([]ranking.Event, 0, len(t.Events))
	for _, ev := range t.Events {
		game := ""
		if ev.Videogame != nil {
			game = ev.Videogame.Name
		}
		if c.videogame != "" && !strings.Contains(strings.ToLower(game), c.videogame) {
			c.log.Debug().Str("event", ev.Name).Str("videogame", game).
				Msg("skipping event for other videogame")
			continue
		}

		startAt := ev.StartAt
		if startAt == nil {
			startAt = t.StartAt
		}
		events = append(events, ranking.Event{
			ID:             string(ev.ID),
			Name:           ev.Name,
			TournamentName: t.Name,
			Videogame:      game,
			StartAt:        internal.UnixOrZero(startAt),
		})
	}
	c.log.Info().Str("tournament", slug).Int("events", len(events)).
		Int("allEvents", len(t.Events)).Msg("fetched events")

	return events, nil
}

// Players returns the event's entrants. The first participant's gamer tag
// and user id stand in for the entrant.
func (c *Client) Players(ctx context.Context, eventID string) ([]ranking.Player, error) {
	var players []ranking.Player
	err := c.paginate("entrants", eventID, func(page int) (int, error) {
		var data eventEntrantsData
		err := c.query(ctx, "EventEntrants", eventEntrantsQuery, map[string]any{
			"eventId": eventID,
			"page":    page,
			"perPage": c.perPage,
		}, &data)
		if err != nil {
			return 0, err
		}
		if data.Event == nil {
			return 0, fmt.Errorf("%w: event %v", ranking.ErrTournamentNotFound, eventID)
		}
		if data.Event.Entrants == nil {
			return 0, nil
		}

		for _, n := range data.Event.Entrants.Nodes {
			players = append(players, entrantToPlayer(n))
		}
		return data.Event.Entrants.PageInfo.TotalPages, nil
	})
	if err != nil {
		return nil, err
	}

	return players, nil
}

func entrantToPlayer(n apiEntrant) ranking.Player {
	p := ranking.Player{LocalID: string(n.ID), Tag: n.Name}
	if len(n.Participants) > 0 {
		part := n.Participants[0]
		if part.GamerTag != "" {
			p.Tag = part.GamerTag
		}
		if part.User != nil {
			p.ExternalUserID = string(part.User.ID)
		}
	}
	return p
}

// Matches returns the event's completed sets. Sets without a winner are
// still in progress (or were never played) and are left out.
func (c *Client) Matches(ctx context.Context, eventID string) ([]ranking.Match, error) {
	var matches []ranking.Match
	pending := 0
	err := c.paginate("sets", eventID, func(page int) (int, error) {
		var data eventSetsData
		err := c.query(ctx, "EventSets", eventSetsQuery, map[string]any{
			"eventId": eventID,
			"page":    page,
			"perPage": c.perPage,
		}, &data)
		if err != nil {
			return 0, err
		}
		if data.Event == nil {
			return 0, fmt.Errorf("%w: event %v", ranking.ErrTournamentNotFound, eventID)
		}
		if data.Event.Sets == nil {
			return 0, nil
		}

		for _, s := range data.Event.Sets.Nodes {
			if s.WinnerID == nil || *s.WinnerID == "" {
				pending++
				continue
			}
			matches = append(matches, setToMatch(s))
		}
		return data.Event.Sets.PageInfo.TotalPages, nil
	})
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		c.log.Debug().Str("event", eventID).Int("pending", pending).
			Msg("ignored sets without a winner")
	}

	return matches, nil
}

func setToMatch(s apiSet) ranking.Match {
	m := ranking.Match{
		ID:          string(s.ID),
		WinnerID:    string(*s.WinnerID),
		Round:       s.FullRoundText,
		Score:       s.DisplayScore,
		CompletedAt: internal.UnixOrZero(s.CompletedAt),
	}
	for _, slot := range s.Slots {
		if slot.Entrant != nil && slot.Entrant.ID != "" {
			m.EntrantIDs = append(m.EntrantIDs, string(slot.Entrant.ID))
		}
	}
	return m
}
