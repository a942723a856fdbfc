/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbsmash/cape-smash/trueskill"
)

type fakeTournament struct {
	events  []Event
	players map[string][]Player
	matches map[string][]Match
}

type fakeSource struct {
	tournaments map[string]fakeTournament
	err         error
}

func (f *fakeSource) Events(ctx context.Context, slug string) ([]Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tournaments[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTournamentNotFound, slug)
	}
	return t.events, nil
}

func (f *fakeSource) eventData(eventID string) (fakeTournament, bool) {
	for _, t := range f.tournaments {
		for _, ev := range t.events {
			if ev.ID == eventID {
				return t, true
			}
		}
	}
	return fakeTournament{}, false
}

func (f *fakeSource) Players(ctx context.Context, eventID string) ([]Player, error) {
	t, ok := f.eventData(eventID)
	if !ok {
		return nil, fmt.Errorf("%w: event %v", ErrTournamentNotFound, eventID)
	}
	return t.players[eventID], nil
}

func (f *fakeSource) Matches(ctx context.Context, eventID string) ([]Match, error) {
	t, ok := f.eventData(eventID)
	if !ok {
		return nil, fmt.Errorf("%w: event %v", ErrTournamentNotFound, eventID)
	}
	return t.matches[eventID], nil
}

func (f *fakeSource) add(slug string, start time.Time, players []Player,
	matches ...Match) {

	if f.tournaments == nil {
		f.tournaments = make(map[string]fakeTournament)
	}
	evID := "ev-" + slug
	f.tournaments[slug] = fakeTournament{
		events:  []Event{{ID: evID, Name: "Singles", TournamentName: slug, StartAt: start}},
		players: map[string][]Player{evID: players},
		matches: map[string][]Match{evID: matches},
	}
}

type memStore struct {
	data     []byte
	saves    int
	failSave error
}

func (m *memStore) Load(ctx context.Context) (*Snapshot, error) {
	if m.data == nil {
		return nil, nil
	}
	return UnmarshalSnapshot(m.data)
}

func (m *memStore) Save(ctx context.Context, snap *Snapshot) error {
	if m.failSave != nil {
		return m.failSave
	}
	data, err := MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

func set(id string, winner string, loser string) Match {
	return Match{ID: id, EntrantIDs: []string{winner, loser}, WinnerID: winner}
}

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 18, 0, 0, 0, time.UTC)
}

func newTestEngine(src *fakeSource) (*Engine, *memStore) {
	st := &memStore{}
	return NewEngine(src, st, zerolog.Nop()), st
}

func mustImport(t *testing.T, e *Engine, slug string) *ImportResult {
	t.Helper()
	res, err := e.ImportTournament(context.Background(), slug, ImportOptions{})
	if err != nil {
		t.Fatalf("import %v: %v", slug, err)
	}
	return res
}

func mustFind(t *testing.T, e *Engine, tag string) PlayerRecord {
	t.Helper()
	rec, err := e.FindPlayer(tag)
	if err != nil {
		t.Fatalf("find %v: %v", tag, err)
	}
	return rec
}

func checkConservation(t *testing.T, records []PlayerRecord) {
	t.Helper()
	for _, rec := range records {
		wins, losses := 0, 0
		for _, h := range rec.HeadToHead {
			wins += h.Wins
			losses += h.Losses
		}
		if wins != rec.Wins || losses != rec.Losses {
			t.Errorf("%v: head-to-head %v-%v does not match record %v-%v",
				rec.Tag, wins, losses, rec.Wins, rec.Losses)
		}
	}
}

func twoPlayerSource() *fakeSource {
	src := &fakeSource{}
	ab := []Player{{LocalID: "1", Tag: "A"}, {LocalID: "2", Tag: "B"}}
	src.add("t1", day(time.January, 6), ab, set("s1", "1", "2"))
	src.add("t2", day(time.February, 3), ab, set("s2", "2", "1"))
	return src
}

func TestImport_SingleMatch(t *testing.T) {
	e, st := newTestEngine(twoPlayerSource())
	res := mustImport(t, e, "t1")

	if res.Matches != 1 || len(res.Skipped) != 0 || res.Players != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	a, b := mustFind(t, e, "A"), mustFind(t, e, "B")
	if a.Wins != 1 || a.Losses != 0 || b.Wins != 0 || b.Losses != 1 {
		t.Fatalf("records: A %v-%v B %v-%v", a.Wins, a.Losses, b.Wins, b.Losses)
	}
	if !(a.Rating.Mu > 25 && 25 > b.Rating.Mu) {
		t.Fatalf("means: A %v B %v", a.Rating.Mu, b.Rating.Mu)
	}
	if a.HeadToHead[b.ID] != (HeadToHead{Wins: 1}) {
		t.Fatalf("A vs B: %+v", a.HeadToHead[b.ID])
	}
	if b.HeadToHead[a.ID] != (HeadToHead{Losses: 1}) {
		t.Fatalf("B vs A: %+v", b.HeadToHead[a.ID])
	}
	if len(a.RatingHistory) != 2 || a.RatingHistory[1].Label != "t1" {
		t.Fatalf("history: %+v", a.RatingHistory)
	}
	if res.Records[0].ID != a.ID {
		t.Fatalf("winner should lead the leaderboard: %+v", res.Records)
	}
	if st.saves != 1 {
		t.Fatalf("expected one save, got %v", st.saves)
	}
}

func TestImport_SecondTournamentReversesResult(t *testing.T) {
	e, _ := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	mustImport(t, e, "t2")

	a, b := mustFind(t, e, "A"), mustFind(t, e, "B")
	if a.Wins != 1 || a.Losses != 1 || b.Wins != 1 || b.Losses != 1 {
		t.Fatalf("records: A %v-%v B %v-%v", a.Wins, a.Losses, b.Wins, b.Losses)
	}
	want := HeadToHead{Wins: 1, Losses: 1}
	if a.HeadToHead[b.ID] != want || b.HeadToHead[a.ID] != want {
		t.Fatalf("head-to-head: %+v %+v", a.HeadToHead[b.ID], b.HeadToHead[a.ID])
	}
	if a.Appearances != 2 || b.Appearances != 2 {
		t.Fatalf("appearances: %v %v", a.Appearances, b.Appearances)
	}
	checkConservation(t, e.Records())
}

func TestImport_ExternalIDMergesRenamedPlayer(t *testing.T) {
	src := &fakeSource{}
	src.add("t1", day(time.March, 1),
		[]Player{{LocalID: "10", Tag: "Echo", ExternalUserID: "1001"},
			{LocalID: "11", Tag: "Foe", ExternalUserID: "2002"}},
		set("s1", "10", "11"))
	src.add("t2", day(time.March, 8),
		[]Player{{LocalID: "20", Tag: "EchoNew", ExternalUserID: "1001"},
			{LocalID: "21", Tag: "Foe", ExternalUserID: "2002"}},
		set("s2", "21", "20"))

	e, _ := newTestEngine(src)
	mustImport(t, e, "t1")
	mustImport(t, e, "t2")

	records := e.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %v", len(records))
	}
	echo := mustFind(t, e, "EchoNew")
	if echo.ExternalUserID != "1001" || echo.Appearances != 2 {
		t.Fatalf("echo: %+v", echo)
	}
	if _, err := e.FindPlayer("Echo"); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("old tag should be gone, got %v", err)
	}
}

func TestImport_SkipsMalformedMatches(t *testing.T) {
	src := &fakeSource{}
	src.add("t1", day(time.April, 1),
		[]Player{{LocalID: "1", Tag: "A"}, {LocalID: "2", Tag: "B"}},
		Match{ID: "lonely", EntrantIDs: []string{"1"}, WinnerID: "1"},
		set("ok", "1", "2"),
		set("ghost", "1", "99"),
		Match{ID: "nowinner", EntrantIDs: []string{"1", "2"}, WinnerID: "3"})

	e, _ := newTestEngine(src)
	res := mustImport(t, e, "t1")

	if res.Matches != 1 || len(res.Skipped) != 3 {
		t.Fatalf("matches %v skipped %+v", res.Matches, res.Skipped)
	}
	a := mustFind(t, e, "A")
	if a.Wins != 1 || a.Losses != 0 {
		t.Fatalf("A: %v-%v", a.Wins, a.Losses)
	}
	if len(e.Tournaments()) != 1 || e.Tournaments()[0].Matches != 1 {
		t.Fatalf("ledger: %+v", e.Tournaments())
	}
}

func TestResetSeason(t *testing.T) {
	e, _ := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	mustImport(t, e, "t2")
	before := e.Records()

	ctx := context.Background()
	if err := e.ResetSeason(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	check := func(stage string) {
		after := e.Records()
		if len(after) != len(before) {
			t.Fatalf("%v: record count changed", stage)
		}
		for _, b := range before {
			a, err := e.Player(b.ID)
			if err != nil {
				t.Fatalf("%v: %v", stage, err)
			}
			if a.Wins != b.Wins || a.Losses != b.Losses ||
				a.Appearances != b.Appearances {
				t.Fatalf("%v: counters changed for %v", stage, b.Tag)
			}
			for opp, h := range b.HeadToHead {
				if a.HeadToHead[opp] != h {
					t.Fatalf("%v: head-to-head changed for %v", stage, b.Tag)
				}
			}
			if a.Rating != trueskill.NewRating() {
				t.Fatalf("%v: rating not at prior: %+v", stage, a.Rating)
			}
		}
		if len(e.Tournaments()) != 0 {
			t.Fatalf("%v: ledger not empty", stage)
		}
		checkConservation(t, after)
	}

	check("after reset")
	if err := e.RecalculateRatings(ctx); err != nil {
		t.Fatalf("recalc: %v", err)
	}
	check("after recalc")
}

func TestFilteredRecords_Bootstrap(t *testing.T) {
	src := &fakeSource{}
	five := []Player{
		{LocalID: "1", Tag: "P1"}, {LocalID: "2", Tag: "P2"},
		{LocalID: "3", Tag: "P3"}, {LocalID: "4", Tag: "P4"},
		{LocalID: "5", Tag: "P5"},
	}
	src.add("t1", day(time.May, 1), five,
		set("a", "1", "2"), set("b", "3", "4"), set("c", "5", "1"))
	src.add("t2", day(time.May, 8),
		[]Player{{LocalID: "1", Tag: "P1"}, {LocalID: "6", Tag: "P6"}},
		set("d", "1", "6"))

	e, _ := newTestEngine(src)
	mustImport(t, e, "t1")
	if got := len(e.FilteredRecords()); got != 5 {
		t.Fatalf("bootstrap: expected 5 records, got %v", got)
	}

	mustImport(t, e, "t2")
	filtered := e.FilteredRecords()
	if len(filtered) != 1 || filtered[0].Tag != "P1" {
		t.Fatalf("expected only P1, got %+v", filtered)
	}
	if len(e.Records()) != 6 {
		t.Fatalf("unfiltered view should keep everyone, got %v", len(e.Records()))
	}
}

func TestRecalculate_DeterministicAndIdempotent(t *testing.T) {
	src := twoPlayerSource()
	src.add("t3", day(time.March, 2),
		[]Player{{LocalID: "1", Tag: "A"}, {LocalID: "2", Tag: "B"},
			{LocalID: "3", Tag: "C"}},
		set("x", "3", "1"), set("y", "3", "2"), set("z", "1", "2"))

	e, _ := newTestEngine(src)
	for _, slug := range []string{"t1", "t2", "t3"} {
		mustImport(t, e, slug)
	}
	incremental, _ := MarshalSnapshot(e.Snapshot())

	ctx := context.Background()
	if err := e.RecalculateRatings(ctx); err != nil {
		t.Fatalf("recalc: %v", err)
	}
	first, _ := MarshalSnapshot(e.Snapshot())
	if err := e.RecalculateRatings(ctx); err != nil {
		t.Fatalf("recalc: %v", err)
	}
	second, _ := MarshalSnapshot(e.Snapshot())

	if !bytes.Equal(first, second) {
		t.Fatalf("recalculate is not idempotent")
	}
	if !bytes.Equal(incremental, first) {
		t.Fatalf("replay differs from incremental import")
	}
	checkConservation(t, e.Records())
}

func TestImport_OutOfOrderMatchesReplay(t *testing.T) {
	inOrder, _ := newTestEngine(twoPlayerSource())
	mustImport(t, inOrder, "t1")
	mustImport(t, inOrder, "t2")

	reversed, _ := newTestEngine(twoPlayerSource())
	mustImport(t, reversed, "t2")
	mustImport(t, reversed, "t1")

	for _, tag := range []string{"A", "B"} {
		x, y := mustFind(t, inOrder, tag), mustFind(t, reversed, tag)
		if x.Rating != y.Rating {
			t.Errorf("%v: %+v vs %+v", tag, x.Rating, y.Rating)
		}
	}
}

func TestImport_Symmetry(t *testing.T) {
	ab := []Player{{LocalID: "1", Tag: "A"}, {LocalID: "2", Tag: "B"}}
	aWins := &fakeSource{}
	aWins.add("t", day(time.June, 1), ab, set("s", "1", "2"))
	bWins := &fakeSource{}
	bWins.add("t", day(time.June, 1), ab, set("s", "2", "1"))

	e1, _ := newTestEngine(aWins)
	mustImport(t, e1, "t")
	e2, _ := newTestEngine(bWins)
	mustImport(t, e2, "t")

	a1, b1 := mustFind(t, e1, "A"), mustFind(t, e1, "B")
	a2, b2 := mustFind(t, e2, "A"), mustFind(t, e2, "B")
	if math.Abs((a1.Rating.Mu-25)-(25-a2.Rating.Mu)) > 1e-12 ||
		math.Abs((b1.Rating.Mu-25)-(25-b2.Rating.Mu)) > 1e-12 {
		t.Fatalf("deltas not mirrored: %v %v / %v %v", a1.Rating.Mu, a2.Rating.Mu,
			b1.Rating.Mu, b2.Rating.Mu)
	}
	if a1.Rating.Sigma != b2.Rating.Sigma {
		t.Fatalf("uncertainty not mirrored: %v %v", a1.Rating.Sigma, b2.Rating.Sigma)
	}
}

func TestImport_Errors(t *testing.T) {
	ctx := context.Background()

	e, st := newTestEngine(twoPlayerSource())
	_, err := e.ImportTournament(ctx, "missing", ImportOptions{})
	if !errors.Is(err, ErrTournamentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Tournament != "missing" {
		t.Fatalf("expected ImportError naming the tournament, got %v", err)
	}

	down := twoPlayerSource()
	down.err = errors.New("dial tcp: connection refused")
	e2, st2 := newTestEngine(down)
	_, err = e2.ImportTournament(ctx, "t1", ImportOptions{})
	if !errors.Is(err, ErrDataSourceUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if errors.Is(err, ErrTournamentNotFound) {
		t.Fatalf("unreachable must be distinguishable from not found")
	}
	if len(e2.Records()) != 0 || st.saves != 0 || st2.saves != 0 {
		t.Fatalf("failed imports must not change state")
	}

	mustImport(t, e, "t1")
	_, err = e.ImportTournament(ctx, "t1", ImportOptions{})
	if !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("expected already imported, got %v", err)
	}
}

func TestImport_PersistenceFailureKeepsState(t *testing.T) {
	e, st := newTestEngine(twoPlayerSource())
	st.failSave = errors.New("disk full")

	res, err := e.ImportTournament(context.Background(), "t1", ImportOptions{})
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if res == nil || res.Matches != 1 {
		t.Fatalf("result should still be reported: %+v", res)
	}
	if len(e.Records()) != 2 || len(e.Tournaments()) != 1 {
		t.Fatalf("in-memory state should be kept")
	}
}

func TestImport_NoCompletedSets(t *testing.T) {
	src := &fakeSource{}
	src.add("empty", day(time.July, 1),
		[]Player{{LocalID: "1", Tag: "A"}, {LocalID: "2", Tag: "B"}})

	e, st := newTestEngine(src)
	res := mustImport(t, e, "empty")
	if res.Matches != 0 || len(e.Records()) != 0 || st.saves != 0 {
		t.Fatalf("empty tournament should be a no-op: %+v", res)
	}
}

func TestRemoveTournament(t *testing.T) {
	e, _ := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	afterFirst := e.Records()
	mustImport(t, e, "t2")

	ctx := context.Background()
	if err := e.RemoveTournament(ctx, "t2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, want := range afterFirst {
		got, _ := e.Player(want.ID)
		if got.Wins != want.Wins || got.Losses != want.Losses ||
			got.Appearances != want.Appearances || got.Rating != want.Rating {
			t.Fatalf("%v: got %+v want %+v", want.Tag, got, want)
		}
	}
	if err := e.RemoveTournament(ctx, "t2"); !errors.Is(err, ErrTournamentNotImported) {
		t.Fatalf("expected not imported, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	e, _ := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	a, b := mustFind(t, e, "a"), mustFind(t, e, "B")

	h, err := e.HeadToHead(a.ID, b.ID)
	if err != nil || h != (HeadToHead{Wins: 1}) {
		t.Fatalf("head-to-head: %+v %v", h, err)
	}
	cr, err := e.ConservativeRating(a.ID)
	if err != nil || cr != a.Rating.Mu-3*a.Rating.Sigma {
		t.Fatalf("conservative: %v %v", cr, err)
	}
	ds, err := e.DisplayScore(a.ID)
	if err != nil || ds <= trueskill.BaseDisplayScore {
		t.Fatalf("display score: %v %v", ds, err)
	}
	if _, err := e.HeadToHead(a.ID, 404); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected unknown player, got %v", err)
	}
	if _, err := e.DisplayScore(404); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected unknown player, got %v", err)
	}
}

func TestClearAllData(t *testing.T) {
	e, st := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	if err := e.ClearAllData(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(e.Records()) != 0 || len(e.Tournaments()) != 0 {
		t.Fatalf("state not cleared")
	}

	// ids start over
	mustImport(t, e, "t1")
	if rec := mustFind(t, e, "A"); rec.ID != 1 {
		t.Fatalf("expected id 1, got %v", rec.ID)
	}
	if st.saves != 3 {
		t.Fatalf("expected 3 saves, got %v", st.saves)
	}
}

func TestOpen_RoundTripAndLegacyMigration(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	mustImport(t, e, "t2")
	want := e.Records()

	reopened := NewEngine(twoPlayerSource(), st, zerolog.Nop())
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	got := reopened.Records()
	for i := range want {
		if got[i].Rating != want[i].Rating || got[i].Tag != want[i].Tag {
			t.Fatalf("round trip mismatch: %+v vs %+v", got[i], want[i])
		}
	}
	if len(reopened.Tournaments()) != 2 {
		t.Fatalf("ledger not restored")
	}

	legacy := &memStore{data: []byte(`{"records":[
		{"id":1,"tag":"Old","wins":2,"losses":0,"appearances":1,"headToHead":{"2":{"wins":2,"losses":0}}},
		{"id":2,"tag":"Older","wins":0,"losses":2,"appearances":1,"headToHead":{"1":{"wins":0,"losses":2}}}
	],"ledger":[]}`)}
	le := NewEngine(&fakeSource{}, legacy, zerolog.Nop())
	if err := le.Open(ctx); err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	old, err := le.Player(1)
	if err != nil || old.Rating != trueskill.NewRating() || old.Wins != 2 {
		t.Fatalf("legacy record: %+v %v", old, err)
	}
	if legacy.saves != 1 {
		t.Fatalf("expected migration write-back, got %v saves", legacy.saves)
	}
	snap, _ := legacy.Load(ctx)
	if !snap.RatingsMigrated || snap.NextID != 3 {
		t.Fatalf("migrated snapshot: %+v", snap)
	}
}

const legacySnapshot = `{"records":[
	{"id":1,"tag":"Old","wins":2,"losses":0,"appearances":1,"headToHead":{"2":{"wins":2,"losses":0}}},
	{"id":2,"tag":"Older","wins":0,"losses":2,"appearances":1,"headToHead":{"1":{"wins":0,"losses":2}}}
],"ledger":[]}`

func TestOpen_LegacyCountersSurviveReplay(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.add("t1", day(time.March, 2),
		[]Player{{LocalID: "1", Tag: "Old"}, {LocalID: "2", Tag: "Older"}},
		set("s1", "2", "1"))

	e := NewEngine(src, &memStore{data: []byte(legacySnapshot)}, zerolog.Nop())
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := e.RecalculateRatings(ctx); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	old, _ := e.Player(1)
	if old.Wins != 2 || old.Losses != 0 || old.Appearances != 1 ||
		old.HeadToHead[2] != (HeadToHead{Wins: 2}) {
		t.Fatalf("legacy counters lost on recalculate: %+v", old)
	}

	mustImport(t, e, "t1")
	if err := e.RemoveTournament(ctx, "t1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	old, _ = e.Player(1)
	if old.Wins != 2 || old.Losses != 0 || old.HeadToHead[2] != (HeadToHead{Wins: 2}) {
		t.Fatalf("legacy counters lost on remove: %+v", old)
	}
	checkConservation(t, e.Records())
}

func TestOpen_CarryMatchesReplayAfterReload(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	if err := e.ResetSeason(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	mustImport(t, e, "t2")
	want := e.Records()

	reopened := NewEngine(twoPlayerSource(), st, zerolog.Nop())
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := reopened.RecalculateRatings(ctx); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	for _, w := range want {
		got, _ := reopened.Player(w.ID)
		if got.Wins != w.Wins || got.Losses != w.Losses ||
			got.Appearances != w.Appearances || got.Carry.Wins != w.Carry.Wins {
			t.Fatalf("%v: got %+v want %+v", w.Tag, got, w)
		}
	}
}

func TestOpen_MigrationWriteBackFailure(t *testing.T) {
	st := &memStore{data: []byte(legacySnapshot), failSave: errors.New("read-only volume")}
	e := NewEngine(&fakeSource{}, st, zerolog.Nop())
	if err := e.Open(context.Background()); err != nil {
		t.Fatalf("a failed write-back must not fail open: %v", err)
	}
	if len(e.Records()) != 2 {
		t.Fatalf("loaded state should be kept")
	}
}

func TestResetSeason_PastTournamentsStayImported(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	if err := e.ResetSeason(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	_, err := e.ImportTournament(ctx, "t1", ImportOptions{})
	if !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("expected already imported after reset, got %v", err)
	}
	if a := mustFind(t, e, "A"); a.Wins != 1 {
		t.Fatalf("carried wins changed: %+v", a)
	}
	if err := e.RemoveTournament(ctx, "t1"); !errors.Is(err, ErrTournamentNotImported) {
		t.Fatalf("earlier seasons cannot be removed, got %v", err)
	}

	// survives a reload
	reopened := NewEngine(twoPlayerSource(), st, zerolog.Nop())
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = reopened.ImportTournament(ctx, "t1", ImportOptions{})
	if !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("expected already imported after reload, got %v", err)
	}

	if err := reopened.ClearAllData(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	mustImport(t, reopened, "t1")
}

func TestReplay_LogsSkippedMatches(t *testing.T) {
	ctx := context.Background()
	ab := []Player{{LocalID: "1", Tag: "A"}, {LocalID: "2", Tag: "B"}}

	cases := []struct {
		name string
		run  func(t *testing.T, e *Engine)
	}{
		{
			name: "remove",
			run: func(t *testing.T, e *Engine) {
				if err := e.RemoveTournament(ctx, "t2"); err != nil {
					t.Fatalf("remove: %v", err)
				}
			},
		},
		{
			name: "out of order import",
			run: func(t *testing.T, e *Engine) {
				mustImport(t, e, "t0")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := twoPlayerSource()
			src.add("t0", day(time.January, 1), ab, set("s0", "1", "2"))
			var buf bytes.Buffer
			e := NewEngine(src, &memStore{}, zerolog.New(&buf))
			mustImport(t, e, "t1")
			mustImport(t, e, "t2")

			// t1's loser no longer resolves, so replaying t1 must skip its set
			b := mustFind(t, e, "B")
			delete(e.state.Records, b.ID)
			buf.Reset()

			tc.run(t, e)
			out := buf.String()
			if !strings.Contains(out, "skipping malformed ledger match") ||
				!strings.Contains(out, `"tournament":"t1"`) ||
				!strings.Contains(out, fmt.Sprintf("unknown player id %d", b.ID)) {
				t.Fatalf("skipped match not logged:\n%v", out)
			}
		})
	}
}

// indexedStore answers TopScores from a fixed list.
type indexedStore struct {
	memStore
	top   []ScoredPlayer
	reads int
}

func (s *indexedStore) TopScores(ctx context.Context, n int) ([]ScoredPlayer, error) {
	s.reads++
	if n < len(s.top) {
		return s.top[:n], nil
	}
	return s.top, nil
}

func TestTopPlayers(t *testing.T) {
	ctx := context.Background()
	st := &indexedStore{}
	e := NewEngine(twoPlayerSource(), st, zerolog.Nop())
	mustImport(t, e, "t1")
	a, b := mustFind(t, e, "A"), mustFind(t, e, "B")

	// the index is trusted over in-memory order; unknown ids are dropped
	st.top = []ScoredPlayer{{ID: b.ID, Score: 900}, {ID: 99, Score: 800},
		{ID: a.ID, Score: 700}}
	top, err := e.TopPlayers(ctx, 3)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].ID != b.ID || top[1].ID != a.ID || st.reads != 1 {
		t.Fatalf("index not used: %+v (%v reads)", top, st.reads)
	}
	if top, _ := e.TopPlayers(ctx, 0); top != nil {
		t.Fatalf("expected nothing for n=0, got %+v", top)
	}

	// a failed save leaves the index behind the records
	st.failSave = errors.New("disk full")
	if err := e.RecalculateRatings(ctx); !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	top, err = e.TopPlayers(ctx, 1)
	if err != nil || len(top) != 1 || top[0].ID != a.ID || st.reads != 1 {
		t.Fatalf("expected in-memory fallback: %+v %v (%v reads)", top, err, st.reads)
	}

	st.failSave = nil
	if err := e.RecalculateRatings(ctx); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if _, err := e.TopPlayers(ctx, 1); err != nil || st.reads != 2 {
		t.Fatalf("index should be used again after a save (%v reads)", st.reads)
	}
}

func TestTopPlayers_WithoutIndex(t *testing.T) {
	e, _ := newTestEngine(twoPlayerSource())
	mustImport(t, e, "t1")
	top, err := e.TopPlayers(context.Background(), 5)
	if err != nil || len(top) != 2 || top[0].Tag != "A" {
		t.Fatalf("unexpected %+v %v", top, err)
	}
}
