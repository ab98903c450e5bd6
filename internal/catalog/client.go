// Package catalog resolves track IDs to display metadata.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"playlist-sync/internal/playlist"

	"golang.org/x/time/rate"
)

// Fetcher looks tracks up by ID. IDs the backend does not know are left out
// of the result rather than reported as errors.
type Fetcher interface {
	FetchTracks(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error)
}

// maxBatch caps how many IDs go into one request.
const maxBatch = 50

// HTTPClient fetches tracks from the catalog service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient returns a client for the catalog at baseURL. rps limits
// outgoing requests; zero or less disables the limit.
func NewHTTPClient(baseURL string, rps int) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return c
}

type tracksResponse struct {
	Items []playlist.Track `json:"items"`
}

func (c *HTTPClient) FetchTracks(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error) {
	out := make([]playlist.Track, 0, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		end := min(start+maxBatch, len(ids))
		items, err := c.fetchBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (c *HTTPClient) fetchBatch(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	val := url.Values{}
	val.Set("ids", strings.Join(parts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tracks?"+val.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog status %d", resp.StatusCode)
	}

	var body tracksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return body.Items, nil
}
