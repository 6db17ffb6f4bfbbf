// Package youtube fetches view statistics from the YouTube Data API.
//
// A fetch is batched: up to 50 video IDs are sent per request. A video the
// API does not return, or whose statistics cannot be read, is reported as
// unavailable without failing the batch. Only total inability to reach the
// API (or a rejected credential) is returned as an error.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/metrics"
	"github.com/ddevcap/viewstats/viewcount"
)

// ErrUnreachable is matched (via errors.Is) by every batch-level failure.
var ErrUnreachable = errors.New("youtube: statistics API unreachable")

const (
	// maxIDsPerRequest is the Data API limit for the id parameter.
	maxIDsPerRequest = 50
	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 4 << 20
)

// Result is the outcome for one video ID.
type Result struct {
	Views int64
	// Available is false when the API returned no usable count for the ID.
	Available bool
}

// BatchError reports that a whole batch could not be fetched.
type BatchError struct {
	// StatusCode is the HTTP status of the failing response, or 0 for
	// transport-level failures.
	StatusCode int
	Err        error
}

func (e *BatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("youtube: batch failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("youtube: batch failed: %v", e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Is makes every BatchError match ErrUnreachable.
func (e *BatchError) Is(target error) bool { return target == ErrUnreachable }

// credentialRejected reports whether the API refused the key itself
// (invalid key, quota exhausted, API disabled). No later chunk can succeed.
func (e *BatchError) credentialRejected() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// Client calls the statistics endpoint. Create one with NewClient.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	usage   *UsageTracker
}

// NewClient returns a client for the configured API. It fails with
// config.ErrMissingCredential when no API key is set. usage may be nil.
func NewClient(cfg config.Config, usage *UsageTracker) (*Client, error) {
	if err := cfg.RequireCredential(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.YouTubeBaseURL, "/"),
		apiKey:  cfg.YouTubeAPIKey,
		http:    newHTTPClient(cfg.YouTubeTimeout),
		usage:   usage,
	}, nil
}

// FetchViewCounts returns a Result for every ID in ids. The error is
// non-nil (and matches ErrUnreachable) only when no chunk of the batch
// could be fetched or the credential was rejected.
func (c *Client) FetchViewCounts(ctx context.Context, ids []string) (map[string]Result, error) {
	results := make(map[string]Result, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	var lastErr *BatchError
	fetched := 0
	for _, chunk := range chunks(ids, maxIDsPerRequest) {
		counts, err := c.fetchChunk(ctx, chunk)
		if err != nil {
			if err.credentialRejected() || ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("youtube: chunk failed", "ids", len(chunk), "error", err)
			lastErr = err
			for _, id := range chunk {
				results[id] = Result{}
			}
			continue
		}
		fetched++
		for _, id := range chunk {
			n, ok := counts[id]
			if !ok {
				slog.Warn("youtube: no statistics for video", "video_id", id)
			}
			results[id] = Result{Views: n, Available: ok}
		}
	}
	if fetched == 0 {
		return nil, lastErr
	}
	return results, nil
}

// fetchChunk performs one API call for at most maxIDsPerRequest IDs.
func (c *Client) fetchChunk(ctx context.Context, ids []string) (map[string]int64, *BatchError) {
	q := url.Values{
		"part":       {"statistics"},
		"id":         {strings.Join(ids, ",")},
		"maxResults": {fmt.Sprint(maxIDsPerRequest)},
		"key":        {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+q.Encode(), nil)
	if err != nil {
		return nil, c.fail("network_error", &BatchError{Err: fmt.Errorf("building request: %w", err)})
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.fail("network_error", &BatchError{Err: redact(err)})
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail("network_error", &BatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.fail("http_error", &BatchError{StatusCode: resp.StatusCode, Err: errors.New(upstreamMessage(raw))})
	}

	var payload struct {
		Items []struct {
			ID         string          `json:"id"`
			Statistics json.RawMessage `json:"statistics"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, c.fail("decode_error", &BatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)})
	}

	counts := make(map[string]int64, len(payload.Items))
	for _, item := range payload.Items {
		n, ok := viewcount.CountJSON(item.Statistics)
		if !ok {
			slog.Warn("youtube: unreadable statistics", "video_id", item.ID)
			continue
		}
		counts[item.ID] = n
	}
	c.record(nil)
	metrics.UpstreamRequests.WithLabelValues("ok").Inc()
	return counts, nil
}

func (c *Client) fail(outcome string, err *BatchError) *BatchError {
	c.record(err)
	metrics.UpstreamRequests.WithLabelValues(outcome).Inc()
	return err
}

func (c *Client) record(err error) {
	if c.usage != nil {
		c.usage.Record(time.Now(), err)
	}
}

// redact strips the request URL (which carries the API key) from transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

// upstreamMessage extracts the Data API error message from a response body,
// falling back to a truncated copy of the body.
func upstreamMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
