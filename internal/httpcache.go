/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package internal

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/mbsmash/cape-smash/s3cache"
	"github.com/rs/zerolog"
)

// NewResponseCache returns an S3-backed cache when bucket is set and
// reachable. Otherwise it falls back to an in-memory cache instead of no cache.
func NewResponseCache(ctx context.Context, bucket string, gzip bool,
	logger zerolog.Logger) httpcache.Cache {

	if bucket == "" {
		return httpcache.NewMemoryCache()
	}

	cache := s3cache.New(ctx, bucket, "", gzip, logger)
	if err := cache.Init(); err != nil {
		logger.Warn().Err(err).Str("bucket", bucket).
			Msg("httpcache: failed to init S3 cache; falling back to memory")
		return httpcache.NewMemoryCache()
	}

	return cache
}

// NewCachedHttpClient returns an http.Client that caches GET responses in
// cache. It also enforces a client-side TTL by rewriting origin cache headers.
func NewCachedHttpClient(cache httpcache.Cache, maxAge time.Duration,
	timeout time.Duration) *http.Client {

	hc := httpcache.NewTransport(cache)
	// we have to inject our own header overrides here in order to override
	// server responses that might indicate caching shouldn't be done
	hc.Transport = &HeaderOverrideTransport{
		wrappedRT: http.DefaultTransport,
		Response: func(resp *http.Response) error {
			resp.Header.Del("Pragma")
			resp.Header.Del("Expires")
			resp.Header.Del("Cache-Control")
			resp.Header.Set("Cache-Control",
				fmt.Sprintf("public, max-age=%d", int(maxAge/time.Second)))
			return nil
		},
	}

	return &http.Client{Transport: hc, Timeout: timeout}
}

// NewCachedPostClient returns an http.Client that caches successful POST
// responses keyed by url and request body. start.gg's GraphQL api is
// POST-only so httpcache's GET semantics never apply to it.
func NewCachedPostClient(cache httpcache.Cache, maxAge time.Duration,
	timeout time.Duration, logger zerolog.Logger) *http.Client {

	return &http.Client{
		Timeout: timeout,
		Transport: &BodyCacheTransport{
			cache:     cache,
			maxAge:    maxAge,
			wrappedRT: http.DefaultTransport,
			log:       logger.With().Str("component", "httpcache").Logger(),
			now:       time.Now,
		},
	}
}

type HeaderOverrideTransport struct {
	Request  func(req *http.Request)
	Response func(resp *http.Response) error

	// Underlying RoundTripper (e.g. default transport or another decorator)
	wrappedRT http.RoundTripper
}

// RoundTrip applies Request and Response hooks around the underlying transport.
func (t *HeaderOverrideTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so we don’t stomp on the caller’s original
	req2 := req.Clone(req.Context())
	if t.Request != nil {
		t.Request(req2)
	}

	resp, err := t.wrappedRT.RoundTrip(req2)
	if err != nil {
		return nil, err
	}

	if t.Response != nil {
		if err := t.Response(resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// BodyCacheTransport caches 200 responses to POST requests. Entries are an
// 8 byte big endian expiry (unix nanos) followed by the dumped response.
type BodyCacheTransport struct {
	cache     httpcache.Cache
	maxAge    time.Duration
	wrappedRT http.RoundTripper
	log       zerolog.Logger
	now       func() time.Time
}

func bodyCacheKey(req *http.Request, body []byte) string {
	sum := sha256.Sum256(body)
	return "POST " + req.URL.String() + " " + hex.EncodeToString(sum[:])
}

func (t *BodyCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil || t.maxAge <= 0 {
		return t.wrappedRT.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	key := bodyCacheKey(req, body)

	if data, ok := t.cache.Get(key); ok {
		if resp, ok := t.decode(data, req); ok {
			resp.Header.Set(httpcache.XFromCache, "1")
			return resp, nil
		}
		t.cache.Delete(key)
	}

	req2 := req.Clone(req.Context())
	req2.Body = io.NopCloser(bytes.NewReader(body))
	req2.ContentLength = int64(len(body))
	req2.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := t.wrappedRT.RoundTrip(req2)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	// graphql reports failures in-band; those are never worth replaying
	if bytes.Contains(respBody, []byte(`"errors"`)) {
		return resp, nil
	}

	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		t.log.Warn().Err(err).Msg("failed to dump response for caching")
		return resp, nil
	}
	entry := make([]byte, 8, 8+len(dump))
	binary.BigEndian.PutUint64(entry, uint64(t.now().Add(t.maxAge).UnixNano()))
	t.cache.Set(key, append(entry, dump...))

	return resp, nil
}

func (t *BodyCacheTransport) decode(data []byte, req *http.Request) (*http.Response, bool) {
	if len(data) < 8 {
		return nil, false
	}
	expiry := int64(binary.BigEndian.Uint64(data[:8]))
	if t.now().UnixNano() >= expiry {
		return nil, false
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data[8:])), req)
	if err != nil {
		t.log.Debug().Err(err).Msg("discarding unreadable cache entry")
		return nil, false
	}
	return resp, true
}
