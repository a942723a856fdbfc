/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package server exposes the ranking engine as a JSON api. Reads are open;
// anything that changes state needs an admin token.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbsmash/cape-smash/internal"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Options struct {
	AllowedOrigins []string
	AdminSecret    string
	TokenTTL       time.Duration
}

// Server serializes engine access: the engine itself is not safe for
// concurrent use.
type Server struct {
	mu     sync.RWMutex
	eng    *ranking.Engine
	auth   *Authenticator
	log    zerolog.Logger
	router chi.Router

	// onInvariant handles a recovered trueskill.InvariantViolation
	onInvariant func(v any)
}

func New(eng *ranking.Engine, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		eng:  eng,
		auth: NewAuthenticator(opts.AdminSecret, opts.TokenTTL),
		log:  logger.With().Str("component", "server").Logger(),
	}
	s.onInvariant = func(v any) {
		s.log.Fatal().Interface("panic", v).Msg("rating invariant violated")
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RequestID(s.log))
	r.Use(Recoverer(func(v any) { s.onInvariant(v) }))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost,
			http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/records", s.handleRecords)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/players", s.handleFindPlayer)
		r.Get("/players/{id}", s.handlePlayer)
		r.Get("/players/{id}/rating", s.handleRating)
		r.Get("/h2h/{a}/{b}", s.handleHeadToHead)
		r.Get("/tournaments", s.handleTournaments)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Authenticate)
			r.Use(Authorize(RoleAdmin))

			r.Post("/tournaments", s.handleImport)
			r.Delete("/tournaments/{label}", s.handleRemove)
			r.Post("/recalculate", s.handleRecalculate)
			r.Post("/season/reset", s.handleResetSeason)
			r.Delete("/data", s.handleClear)
		})
	})

	s.router = r
	return s
}

// read and write run fn under the engine lock; the deferred unlock keeps a
// panicking engine call from wedging every later request.
func (s *Server) read(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

func (s *Server) write(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ranking.ErrInvalidTournamentRef):
		return http.StatusBadRequest
	case errors.Is(err, ranking.ErrTournamentNotFound),
		errors.Is(err, ranking.ErrTournamentNotImported),
		errors.Is(err, ranking.ErrUnknownPlayer):
		return http.StatusNotFound
	case errors.Is(err, ranking.ErrAlreadyImported):
		return http.StatusConflict
	case errors.Is(err, ranking.ErrDataSourceUnreachable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// mutationResult is returned by state-changing routes. Warning is set when
// the change applied in memory but could not be persisted.
type mutationResult struct {
	Result  any    `json:"result,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, status int,
	result any, err error) {

	if err != nil && !errors.Is(err, ranking.ErrPersistenceFailure) {
		s.writeError(w, r, err)
		return
	}
	body := mutationResult{Result: result}
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("change not persisted")
		body.Warning = err.Error()
	}
	writeJSON(w, status, body)
}

// PlayerView is a record plus its derived ratings.
type PlayerView struct {
	ranking.PlayerRecord
	Rank         int     `json:"rank,omitempty"`
	Conservative float64 `json:"conservative"`
	DisplayScore int     `json:"displayScore"`
	WinRate      float64 `json:"winRate"`
}

func newPlayerView(rec ranking.PlayerRecord, rank int) PlayerView {
	return PlayerView{
		PlayerRecord: rec,
		Rank:         rank,
		Conservative: rec.ConservativeEstimate(),
		DisplayScore: rec.DisplayScore(),
		WinRate:      rec.WinRate(),
	}
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var records []ranking.PlayerRecord
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	s.read(func() {
		if all {
			records = s.eng.Records()
		} else {
			records = s.eng.FilteredRecords()
		}
	})

	views := make([]PlayerView, 0, len(records))
	for i, rec := range records {
		views = append(views, newPlayerView(rec, i+1))
	}
	writeJSON(w, http.StatusOK, views)
}

const (
	defaultLeaderboardLimit = 25
	maxLeaderboardLimit     = 100
)

// handleLeaderboard serves the top of the board, from the store's score index
// when it keeps one.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest,
				errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	var records []ranking.PlayerRecord
	var err error
	s.read(func() { records, err = s.eng.TopPlayers(r.Context(), limit) })
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]PlayerView, 0, len(records))
	for i, rec := range records {
		views = append(views, newPlayerView(rec, i+1))
	}
	writeJSON(w, http.StatusOK, views)
}

func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

var errBadID = errors.New("player id must be a positive integer")

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var rec ranking.PlayerRecord
	s.read(func() { rec, err = s.eng.Player(id) })
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerView(rec, 0))
}

func (s *Server) handleFindPlayer(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tag query parameter required"})
		return
	}

	var rec ranking.PlayerRecord
	var err error
	s.read(func() { rec, err = s.eng.FindPlayer(tag) })
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerView(rec, 0))
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var conservative float64
	var display int
	s.read(func() {
		conservative, err = s.eng.ConservativeRating(id)
		if err == nil {
			display, err = s.eng.DisplayScore(id)
		}
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           id,
		"conservative": conservative,
		"displayScore": display,
	})
}

func (s *Server) handleHeadToHead(w http.ResponseWriter, r *http.Request) {
	a, errA := pathID(r, "a")
	b, errB := pathID(r, "b")
	if errA != nil || errB != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errBadID.Error()})
		return
	}

	var h2h ranking.HeadToHead
	var quality float64
	var err error
	s.read(func() {
		h2h, err = s.eng.HeadToHead(a, b)
		if err == nil {
			quality, err = s.eng.MatchQuality(a, b)
		}
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player":   a,
		"opponent": b,
		"wins":     h2h.Wins,
		"losses":   h2h.Losses,
		"quality":  quality,
	})
}

func (s *Server) handleTournaments(w http.ResponseWriter, r *http.Request) {
	var summaries []ranking.TournamentSummary
	s.read(func() { summaries = s.eng.Tournaments() })

	writeJSON(w, http.StatusOK, summaries)
}

type importRequest struct {
	Ref  string `json:"ref"`
	Date string `json:"date,omitempty"`
	Name string `json:"name,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	ts, err := internal.ParseDateOrZero(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid date: " + err.Error()})
		return
	}

	var result *ranking.ImportResult
	s.write(func() {
		result, err = s.eng.ImportTournament(r.Context(), req.Ref,
			ranking.ImportOptions{Timestamp: ts, Name: req.Name})
	})

	status := http.StatusCreated
	if err == nil && result != nil && result.Matches == 0 {
		status = http.StatusOK
	}
	s.writeMutation(w, r, status, result, err)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")

	var err error
	s.write(func() { err = s.eng.RemoveTournament(r.Context(), label) })

	s.writeMutation(w, r, http.StatusOK, map[string]string{"removed": label}, err)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var err error
	s.write(func() { err = s.eng.RecalculateRatings(r.Context()) })

	s.writeMutation(w, r, http.StatusOK, nil, err)
}

func (s *Server) handleResetSeason(w http.ResponseWriter, r *http.Request) {
	var err error
	s.write(func() { err = s.eng.ResetSeason(r.Context()) })

	s.writeMutation(w, r, http.StatusOK, nil, err)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var err error
	s.write(func() { err = s.eng.ClearAllData(r.Context()) })

	s.writeMutation(w, r, http.StatusOK, nil, err)
}
