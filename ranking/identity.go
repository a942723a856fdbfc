/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"sort"
	"strings"
)

// resolver maps tournament-local players onto stable records.
//
// Lookup order is external user id, then a case-insensitive tag match among
// records with no external id, then a new record. The tag fallback is a
// heuristic: two people sharing a tag without external ids are merged, and a
// player who renames without an external id is split.
type resolver struct {
	state      *State
	byExternal map[string]int
	byTag      map[string][]int
}

func newResolver(state *State) *resolver {
	r := &resolver{
		state:      state,
		byExternal: make(map[string]int),
		byTag:      make(map[string][]int),
	}
	ids := make([]int, 0, len(state.Records))
	for id := range state.Records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		r.index(state.Records[id])
	}
	return r
}

func (r *resolver) index(rec *PlayerRecord) {
	if rec.ExternalUserID != "" {
		r.byExternal[rec.ExternalUserID] = rec.ID
		return
	}
	key := tagKey(rec.Tag)
	r.byTag[key] = append(r.byTag[key], rec.ID)
}

func (r *resolver) unindexTag(rec *PlayerRecord) {
	key := tagKey(rec.Tag)
	ids := r.byTag[key]
	for i, id := range ids {
		if id == rec.ID {
			r.byTag[key] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byTag[key]) == 0 {
		delete(r.byTag, key)
	}
}

// resolve returns the stable record for p, creating one if needed.
func (r *resolver) resolve(p Player) *PlayerRecord {
	if p.ExternalUserID != "" {
		if id, ok := r.byExternal[p.ExternalUserID]; ok {
			rec := r.state.Records[id]
			rec.Tag = p.Tag
			return rec
		}
	}

	if ids := r.byTag[tagKey(p.Tag)]; len(ids) > 0 {
		rec := r.state.Records[ids[0]]
		r.unindexTag(rec)
		rec.Tag = p.Tag
		if p.ExternalUserID != "" {
			rec.ExternalUserID = p.ExternalUserID
		}
		r.index(rec)
		return rec
	}

	rec := r.state.newRecord(p.Tag, p.ExternalUserID)
	r.index(rec)
	return rec
}

func tagKey(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
