/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package startgg implements ranking.DataSource against the start.gg
// GraphQL api.
package startgg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/mbsmash/cape-smash/internal"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/rs/zerolog"
)

const (
	DefaultPerPage  = 50
	DefaultMaxPages = 10
	DefaultTimeout  = 30 * time.Second
)

// ErrBadResponse is wrapped (alongside ranking.ErrDataSourceUnreachable)
// when start.gg answers with something that cannot be decoded.
var ErrBadResponse = errors.New("malformed start.gg response")

// Options configure a Client. Zero values select the package defaults.
type Options struct {
	Endpoint  string
	Token     string
	Videogame string
	PerPage   int
	MaxPages  int
	Timeout   time.Duration

	// Cache, when set, holds api responses and fetched pages for CacheTTL.
	Cache    httpcache.Cache
	CacheTTL time.Duration
}

type Client struct {
	apiClient  *http.Client
	pageClient *http.Client
	endpoint   string
	token      string
	videogame  string
	perPage    int
	maxPages   int
	log        zerolog.Logger
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = internal.StartggEndpoint
	}
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := &Client{
		endpoint:  opts.Endpoint,
		token:     opts.Token,
		videogame: strings.ToLower(strings.TrimSpace(opts.Videogame)),
		perPage:   opts.PerPage,
		maxPages:  opts.MaxPages,
		log:       logger.With().Str("component", "startgg").Logger(),
	}
	if opts.Cache != nil && opts.CacheTTL > 0 {
		c.apiClient = internal.NewCachedPostClient(opts.Cache, opts.CacheTTL,
			opts.Timeout, logger)
		c.pageClient = internal.NewCachedHttpClient(opts.Cache, opts.CacheTTL,
			opts.Timeout)
	} else {
		c.apiClient = &http.Client{Timeout: opts.Timeout}
		c.pageClient = c.apiClient
	}

	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func unreachable(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ranking.ErrDataSourceUnreachable,
		fmt.Sprintf(format, args...))
}

// query posts one GraphQL operation and decodes its data into out.
func (c *Client) query(ctx context.Context, op string, query string,
	vars map[string]any, out any) error {

	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding %v request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %v request: %w", op, err)
	}
	req.Header.Set("User-Agent", internal.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v request: %w", ranking.ErrDataSourceUnreachable,
			op, err)
	}
	defer resp.Body.Close()
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).
		Bool("cached", resp.Header.Get(httpcache.XFromCache) == "1").
		Dur("elapsed", time.Since(start)).Msg("start.gg request")

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v returned 404", ranking.ErrTournamentNotFound, op)
		}
		return unreachable("unexpected %v status %d: %s", op, resp.StatusCode,
			strings.TrimSpace(string(snippet)))
	}

	var envelope gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %w: %v: %w", ranking.ErrDataSourceUnreachable,
			ErrBadResponse, op, err)
	}

	noData := len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null"))
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		if noData {
			return unreachable("%v: %v", op, strings.Join(msgs, "; "))
		}
		c.log.Warn().Str("op", op).Strs("errors", msgs).
			Msg("start.gg returned partial data")
	}
	if noData {
		return fmt.Errorf("%w: %w: %v returned no data",
			ranking.ErrDataSourceUnreachable, ErrBadResponse, op)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %w: %v: %w", ranking.ErrDataSourceUnreachable,
			ErrBadResponse, op, err)
	}

	return nil
}

// paginate calls fetch for pages 1..maxPages until it reports the last page.
func (c *Client) paginate(what string, eventID string,
	fetch func(page int) (totalPages int, err error)) error {

	for page := 1; page <= c.maxPages; page++ {
		totalPages, err := fetch(page)
		if err != nil {
			return err
		}
		if page >= totalPages {
			return nil
		}
		if page == c.maxPages {
			c.log.Warn().Str("event", eventID).Str("what", what).
				Int("totalPages", totalPages).Int("maxPages", c.maxPages).
				Msg("page cap reached; remaining pages ignored")
		}
	}
	return nil
}
