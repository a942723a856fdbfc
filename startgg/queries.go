/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package startgg

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const tournamentEventsQuery = `query TournamentEvents($slug: String!) {
  tournament(slug: $slug) {
    id
    name
    slug
    startAt
    events {
      id
      name
      startAt
      state
      videogame { id name }
    }
  }
}`

const eventEntrantsQuery = `query EventEntrants($eventId: ID!, $page: Int!, $perPage: Int!) {
  event(id: $eventId) {
    id
    entrants(query: {page: $page, perPage: $perPage}) {
      pageInfo { total totalPages }
      nodes {
        id
        name
        participants {
          gamerTag
          user { id }
        }
      }
    }
  }
}`

const eventSetsQuery = `query EventSets($eventId: ID!, $page: Int!, $perPage: Int!) {
  event(id: $eventId) {
    id
    sets(page: $page, perPage: $perPage, sortType: STANDARD) {
      pageInfo { total totalPages }
      nodes {
        id
        fullRoundText
        winnerId
        displayScore
        completedAt
        slots {
          entrant { id }
        }
      }
    }
  }
}`

// ID decodes start.gg identifiers, which arrive as either JSON numbers or
// strings depending on the field.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

type pageInfo struct {
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type apiVideogame struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type apiEvent struct {
	ID        ID            `json:"id"`
	Name      string        `json:"name"`
	StartAt   *int64        `json:"startAt"`
	State     string        `json:"state"`
	Videogame *apiVideogame `json:"videogame"`
}

type apiTournament struct {
	ID      ID         `json:"id"`
	Name    string     `json:"name"`
	Slug    string     `json:"slug"`
	StartAt *int64     `json:"startAt"`
	Events  []apiEvent `json:"events"`
}

type tournamentEventsData struct {
	Tournament *apiTournament `json:"tournament"`
}

type apiParticipant struct {
	GamerTag string `json:"gamerTag"`
	User     *struct {
		ID ID `json:"id"`
	} `json:"user"`
}

type apiEntrant struct {
	ID           ID               `json:"id"`
	Name         string           `json:"name"`
	Participants []apiParticipant `json:"participants"`
}

type eventEntrantsData struct {
	Event *struct {
		ID       ID `json:"id"`
		Entrants *struct {
			PageInfo pageInfo     `json:"pageInfo"`
			Nodes    []apiEntrant `json:"nodes"`
		} `json:"entrants"`
	} `json:"event"`
}

type apiSlot struct {
	Entrant *struct {
		ID ID `json:"id"`
	} `json:"entrant"`
}

type apiSet struct {
	ID            ID        `json:"id"`
	FullRoundText string    `json:"fullRoundText"`
	WinnerID      *ID       `json:"winnerId"`
	DisplayScore  string    `json:"displayScore"`
	CompletedAt   *int64    `json:"completedAt"`
	Slots         []apiSlot `json:"slots"`
}

type eventSetsData struct {
	Event *struct {
		ID   ID `json:"id"`
		Sets *struct {
			PageInfo pageInfo `json:"pageInfo"`
			Nodes    []apiSet `json:"nodes"`
		} `json:"sets"`
	} `json:"event"`
}
