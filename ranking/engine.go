/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mbsmash/cape-smash/trueskill"
)

// DataSource supplies bracket data for a tournament. Implementations report
// failures wrapping ErrTournamentNotFound or ErrDataSourceUnreachable.
type DataSource interface {
	Events(ctx context.Context, tournament string) ([]Event, error)
	Players(ctx context.Context, eventID string) ([]Player, error)
	Matches(ctx context.Context, eventID string) ([]Match, error)
}

// SlugResolver is implemented by data sources that accept URLs or other
// references in place of a bare tournament identifier.
type SlugResolver interface {
	ResolveSlug(ctx context.Context, ref string) (string, error)
}

// Store persists snapshots. Load returns a nil snapshot when nothing has been
// saved yet.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// ScoredPlayer is one entry of a store-maintained score index.
type ScoredPlayer struct {
	ID    int
	Score float64
}

// ScoreIndex is implemented by stores that index display scores as they
// save, so the top of the leaderboard can be read without sorting.
type ScoreIndex interface {
	TopScores(ctx context.Context, n int) ([]ScoredPlayer, error)
}

// ImportOptions override what the data source reports about a tournament.
type ImportOptions struct {
	Timestamp time.Time
	Name      string
}

// ImportResult summarizes a successful import.
type ImportResult struct {
	Tournament string         `json:"tournament"`
	Name       string         `json:"name,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Events     int            `json:"events"`
	Players    int            `json:"players"`
	Matches    int            `json:"matches"`
	Skipped    []SkippedMatch `json:"skipped,omitempty"`
	Records    []PlayerRecord `json:"records"`
}

const defaultFetchLimit = 4

// Engine imports tournaments and answers leaderboard queries. An Engine is
// not safe for concurrent use; callers serialize access.
type Engine struct {
	source     DataSource
	store      Store
	log        zerolog.Logger
	state      *State
	now        func() time.Time
	fetchLimit int

	// set while the last save failed, so a store's score index is behind
	unsaved bool
}

// NewEngine returns an engine with empty state. Call Open to load persisted
// state. store may be nil for a purely in-memory engine.
func NewEngine(source DataSource, store Store, logger zerolog.Logger) *Engine {
	return &Engine{
		source:     source,
		store:      store,
		log:        logger.With().Str("component", "ranking").Logger(),
		state:      NewState(),
		now:        time.Now,
		fetchLimit: defaultFetchLimit,
	}
}

// Open replaces the in-memory state with the persisted snapshot. Snapshots
// that contained records without ratings are written back once migrated.
func (e *Engine) Open(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.Load(ctx)
	if err != nil {
		return persistenceError("load", err)
	}
	e.unsaved = false
	if snap == nil {
		e.state = NewState()
		return nil
	}

	e.state = snap.state()
	e.log.Debug().Int("players", len(e.state.Records)).
		Int("tournaments", e.state.Ledger.Len()).Msg("state loaded")

	if snap.legacy {
		e.log.Info().Msg("migrated records without ratings; writing back")
		// the loaded state is usable either way; the next save retries
		if err := e.save(ctx); err != nil {
			e.log.Warn().Err(err).Msg("migration write-back failed")
		}
	}
	return nil
}

// ImportTournament fetches ref from the data source and folds its sets into
// the records. Fetch failures leave state untouched. When only the save
// fails, the result is returned together with an ErrPersistenceFailure.
func (e *Engine) ImportTournament(ctx context.Context, ref string,
	opts ImportOptions) (*ImportResult, error) {

	slug, err := e.resolveSlug(ctx, ref)
	if err != nil {
		return nil, &ImportError{Tournament: ref, Err: err}
	}
	if e.state.imported(slug) {
		return nil, &ImportError{Tournament: slug, Err: ErrAlreadyImported}
	}

	log := e.log.With().Str("tournament", slug).Logger()
	data, err := e.fetch(ctx, slug)
	if err != nil {
		log.Warn().Err(err).Msg("fetch failed")
		return nil, &ImportError{Tournament: slug, Err: err}
	}

	scratch := e.state.clone()
	entry := data.ledgerEntry(slug, opts, e.now())
	result := &ImportResult{
		Tournament: slug,
		Name:       entry.Name,
		Timestamp:  entry.Timestamp,
		Events:     len(data.events),
	}

	res := newResolver(scratch)
	for i, ev := range data.events {
		for _, p := range data.players[i] {
			rec := res.resolve(p)
			entry.LocalToStable[localKey(ev.ID, p.LocalID)] = rec.ID
		}
	}
	result.Players = len(entry.LocalToStable)

	for i, ev := range data.events {
		for _, m := range data.matches[i] {
			m = scopedMatch(ev.ID, m)
			if _, _, reason := scratch.participants(&entry, m); reason != "" {
				log.Warn().Str("match", m.ID).Str("reason", reason).
					Msg("skipping malformed match")
				result.Skipped = append(result.Skipped, SkippedMatch{
					Tournament: slug,
					MatchID:    m.ID,
					Reason:     reason,
				})
				continue
			}
			entry.Matches = append(entry.Matches, m)
		}
	}
	result.Matches = len(entry.Matches)

	if len(entry.Matches) == 0 {
		log.Info().Int("skipped", len(result.Skipped)).
			Msg("no completed sets; nothing imported")
		result.Records = e.Records()
		return result, nil
	}

	if scratch.isLatest(&entry) {
		scratch.applyEntry(&entry)
		if err := scratch.Ledger.Append(entry); err != nil {
			return nil, &ImportError{Tournament: slug, Err: err}
		}
	} else {
		// older than something already imported; replay to keep order
		if err := scratch.Ledger.Append(entry); err != nil {
			return nil, &ImportError{Tournament: slug, Err: err}
		}
		scratch = e.replay(scratch)
	}

	e.state = scratch
	result.Records = e.Records()
	log.Info().Int("events", result.Events).Int("matches", result.Matches).
		Int("skipped", len(result.Skipped)).Msg("tournament imported")

	if err := e.save(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// RecalculateRatings replays the whole ledger from the prior and commits the
// result only once the replay has completed.
func (e *Engine) RecalculateRatings(ctx context.Context) error {
	scratch := e.replay(e.state)
	e.state = scratch
	e.log.Info().Int("tournaments", scratch.Ledger.Len()).Msg("ratings recalculated")

	return e.save(ctx)
}

// replay rebuilds s from its ledger, logging every match it had to skip.
func (e *Engine) replay(s *State) *State {
	scratch, skipped := s.replay()
	for _, sk := range skipped {
		e.log.Warn().Str("tournament", sk.Tournament).Str("match", sk.MatchID).
			Str("reason", sk.Reason).Msg("skipping malformed ledger match")
	}
	return scratch
}

// ResetSeason clears the ledger and resets every rating to the prior while
// keeping lifetime wins, losses, head-to-head and appearances. Tournaments
// from the finished season stay marked as imported.
func (e *Engine) ResetSeason(ctx context.Context) error {
	scratch := e.state.clone()
	scratch.resetSeason()
	e.state = scratch
	e.log.Info().Int("players", len(scratch.Records)).Msg("season reset")

	return e.save(ctx)
}

// RemoveTournament drops label from the ledger and replays what remains.
func (e *Engine) RemoveTournament(ctx context.Context, label string) error {
	scratch := e.state.clone()
	if !scratch.Ledger.RemoveByLabel(label) {
		return fmt.Errorf("%w: %v", ErrTournamentNotImported, label)
	}
	scratch = e.replay(scratch)
	e.state = scratch
	e.log.Info().Str("tournament", label).Msg("tournament removed")

	return e.save(ctx)
}

// ClearAllData forgets every record and ledger entry.
func (e *Engine) ClearAllData(ctx context.Context) error {
	e.state = NewState()
	e.log.Info().Msg("all data cleared")

	return e.save(ctx)
}

// Records returns every record in leaderboard order.
func (e *Engine) Records() []PlayerRecord {
	out := make([]PlayerRecord, 0, len(e.state.Records))
	for _, rec := range e.state.Records {
		out = append(out, *rec.clone())
	}
	SortForDisplay(out)
	return out
}

// FilteredRecords returns the leaderboard without one-off entrants. While no
// player has attended more than one tournament nobody is filtered.
func (e *Engine) FilteredRecords() []PlayerRecord {
	return FilterRecords(e.Records())
}

func (e *Engine) Player(id int) (PlayerRecord, error) {
	rec, ok := e.state.Records[id]
	if !ok {
		return PlayerRecord{}, fmt.Errorf("%w: %v", ErrUnknownPlayer, id)
	}
	return *rec.clone(), nil
}

// FindPlayer looks a player up by case-insensitive tag. The lowest id wins
// when several records share a tag.
func (e *Engine) FindPlayer(tag string) (PlayerRecord, error) {
	key := tagKey(tag)
	for _, rec := range e.state.sortedRecords() {
		if tagKey(rec.Tag) == key {
			return *rec.clone(), nil
		}
	}
	return PlayerRecord{}, fmt.Errorf("%w: %q", ErrUnknownPlayer, tag)
}

// HeadToHead returns a's record against b.
func (e *Engine) HeadToHead(a int, b int) (HeadToHead, error) {
	recA, ok := e.state.Records[a]
	if !ok {
		return HeadToHead{}, fmt.Errorf("%w: %v", ErrUnknownPlayer, a)
	}
	if _, ok := e.state.Records[b]; !ok {
		return HeadToHead{}, fmt.Errorf("%w: %v", ErrUnknownPlayer, b)
	}
	return recA.HeadToHead[b], nil
}

// MatchQuality is the TrueSkill draw probability of a set between a and b;
// values near 1 mean an even set.
func (e *Engine) MatchQuality(a int, b int) (float64, error) {
	recA, ok := e.state.Records[a]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownPlayer, a)
	}
	recB, ok := e.state.Records[b]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownPlayer, b)
	}
	return trueskill.MatchQuality(recA.Rating, recB.Rating), nil
}

func (e *Engine) ConservativeRating(id int) (float64, error) {
	rec, ok := e.state.Records[id]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownPlayer, id)
	}
	return rec.ConservativeEstimate(), nil
}

func (e *Engine) DisplayScore(id int) (int, error) {
	rec, ok := e.state.Records[id]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownPlayer, id)
	}
	return rec.DisplayScore(), nil
}

// TopPlayers returns up to n records by display score, highest first. When
// the store keeps a ScoreIndex that is current it answers the query;
// otherwise the records are sorted in memory.
func (e *Engine) TopPlayers(ctx context.Context, n int) ([]PlayerRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	if idx, ok := e.store.(ScoreIndex); ok && !e.unsaved {
		scored, err := idx.TopScores(ctx, n)
		if err == nil {
			out := make([]PlayerRecord, 0, len(scored))
			for _, sp := range scored {
				if rec, ok := e.state.Records[sp.ID]; ok {
					out = append(out, *rec.clone())
				}
			}
			return out, nil
		}
		e.log.Warn().Err(err).Msg("score index unavailable; sorting records")
	}

	// display score is monotonic in the conservative estimate Records sorts by
	records := e.Records()
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// Tournaments lists the ledger in replay order.
func (e *Engine) Tournaments() []TournamentSummary {
	return e.state.Ledger.Summaries()
}

// Snapshot returns the persistable form of the current state.
func (e *Engine) Snapshot() *Snapshot {
	return newSnapshot(e.state)
}

func (e *Engine) save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, e.Snapshot()); err != nil {
		e.log.Warn().Err(err).Msg("save failed; in-memory state kept")
		e.unsaved = true
		return persistenceError("save", err)
	}
	e.unsaved = false
	return nil
}

func (e *Engine) resolveSlug(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if r, ok := e.source.(SlugResolver); ok {
		slug, err := r.ResolveSlug(ctx, ref)
		if err != nil {
			return "", classifySourceError(err)
		}
		return slug, nil
	}
	if ref == "" {
		return "", ErrInvalidTournamentRef
	}
	return ref, nil
}

type tournamentData struct {
	events  []Event
	players [][]Player
	matches [][]Match
}

// fetch gathers everything an import needs before any state is touched.
func (e *Engine) fetch(ctx context.Context, slug string) (*tournamentData, error) {
	events, err := e.source.Events(ctx, slug)
	if err != nil {
		return nil, classifySourceError(err)
	}

	data := &tournamentData{
		events:  events,
		players: make([][]Player, len(events)),
		matches: make([][]Match, len(events)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fetchLimit)
	for i, ev := range events {
		g.Go(func() error {
			players, err := e.source.Players(gctx, ev.ID)
			if err != nil {
				return fmt.Errorf("event %v players: %w", ev.ID, err)
			}
			data.players[i] = players
			return nil
		})
		g.Go(func() error {
			matches, err := e.source.Matches(gctx, ev.ID)
			if err != nil {
				return fmt.Errorf("event %v sets: %w", ev.ID, err)
			}
			data.matches[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, classifySourceError(err)
	}

	return data, nil
}

func (d *tournamentData) ledgerEntry(slug string, opts ImportOptions,
	now time.Time) LedgerEntry {

	entry := LedgerEntry{
		Label:         slug,
		Name:          opts.Name,
		Timestamp:     opts.Timestamp,
		LocalToStable: make(map[string]int),
	}
	for _, ev := range d.events {
		if entry.Name == "" && ev.TournamentName != "" {
			entry.Name = ev.TournamentName
		}
		if !opts.Timestamp.IsZero() || ev.StartAt.IsZero() {
			continue
		}
		if entry.Timestamp.IsZero() || ev.StartAt.Before(entry.Timestamp) {
			entry.Timestamp = ev.StartAt
		}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry.Timestamp = entry.Timestamp.UTC()

	return entry
}

// entrant ids are only unique within an event
func localKey(eventID string, localID string) string {
	return eventID + "/" + localID
}

func scopedMatch(eventID string, m Match) Match {
	ids := make([]string, len(m.EntrantIDs))
	for i, id := range m.EntrantIDs {
		ids[i] = localKey(eventID, id)
	}
	m.EntrantIDs = ids
	if m.WinnerID != "" {
		m.WinnerID = localKey(eventID, m.WinnerID)
	}
	return m
}

func classifySourceError(err error) error {
	if errors.Is(err, ErrTournamentNotFound) ||
		errors.Is(err, ErrDataSourceUnreachable) ||
		errors.Is(err, ErrInvalidTournamentRef) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDataSourceUnreachable, err)
}
