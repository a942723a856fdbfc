/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package startgg

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mbsmash/cape-smash/internal"
	"github.com/mbsmash/cape-smash/ranking"
)

var (
	urlSlugRE  = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?(?:start|smash)\.gg/(?:tournament/)?([a-z0-9][a-z0-9_-]*)(?:[/?#].*)?$`)
	pathSlugRE = regexp.MustCompile(`(?i)^(?:tournament/)?([a-z0-9][a-z0-9_-]*)/?$`)
)

// first path segments that are site sections, never tournaments
var reservedSegments = map[string]bool{
	"tournament": true,
	"user":       true,
	"league":     true,
	"hub":        true,
	"admin":      true,
	"search":     true,
}

// ExtractSlug returns the tournament slug named by a start.gg or smash.gg
// url, a "tournament/<slug>" path or a bare slug. Slugs are lower cased.
func ExtractSlug(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	var m []string
	if m = urlSlugRE.FindStringSubmatch(ref); m == nil {
		m = pathSlugRE.FindStringSubmatch(ref)
	}
	if m == nil {
		return "", fmt.Errorf("%w: %q", ranking.ErrInvalidTournamentRef, ref)
	}

	slug := strings.ToLower(m[1])
	if reservedSegments[slug] {
		return "", fmt.Errorf("%w: %q names no tournament",
			ranking.ErrInvalidTournamentRef, ref)
	}
	return slug, nil
}

func isURL(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ResolveSlug accepts anything ExtractSlug does. Other urls (short links,
// organizer pages) are fetched and searched for a start.gg tournament link.
func (c *Client) ResolveSlug(ctx context.Context, ref string) (string, error) {
	slug, err := ExtractSlug(ref)
	if err == nil || !isURL(strings.TrimSpace(ref)) {
		return slug, err
	}

	return c.slugFromPage(ctx, strings.TrimSpace(ref))
}

func (c *Client) slugFromPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ranking.ErrInvalidTournamentRef, err)
	}
	req.Header.Set("User-Agent", internal.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.pageClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %v: %w",
			ranking.ErrDataSourceUnreachable, pageURL, err)
	}
	defer resp.Body.Close()

	// redirects from short links usually land on the tournament itself
	if resp.Request != nil && resp.Request.URL != nil {
		if slug, err := ExtractSlug(resp.Request.URL.String()); err == nil {
			return slug, nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d fetching %v",
			ranking.ErrInvalidTournamentRef, resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: parsing %v: %w",
			ranking.ErrInvalidTournamentRef, pageURL, err)
	}

	candidates := []string{
		doc.Find(`link[rel="canonical"]`).AttrOr("href", ""),
		doc.Find(`meta[property="og:url"]`).AttrOr("content", ""),
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if strings.Contains(href, ".gg/tournament/") {
			candidates = append(candidates, href)
		}
	})
	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		if slug, err := ExtractSlug(cand); err == nil {
			c.log.Debug().Str("ref", pageURL).Str("slug", slug).
				Msg("resolved tournament from page")
			return slug, nil
		}
	}

	return "", fmt.Errorf("%w: no start.gg tournament link in %v",
		ranking.ErrInvalidTournamentRef, pageURL)
}
