package catalog

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"playlist-sync/internal/playlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func NewMockClient(fn RoundTripFunc) *http.Client {
	return &http.Client{
		Transport: fn,
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func TestFetchTracks(t *testing.T) {
	client := NewHTTPClient("http://catalog/", 0)
	client.http = NewMockClient(func(req *http.Request) *http.Response {
		assert.Equal(t, "/tracks", req.URL.Path)
		assert.Equal(t, "1,2", req.URL.Query().Get("ids"))
		return jsonResponse(http.StatusOK, `{
			"items": [
				{"id": 1, "title": "Track 1", "artist": "Artist 1", "durationMs": 1000},
				{"id": 2, "title": "Track 2", "artist": "Artist 2", "provider": "youtube", "providerTrackId": "vid2"}
			]
		}`)
	})

	tracks, err := client.FetchTracks(context.Background(), []playlist.TrackID{1, 2})
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Track 1", tracks[0].Title)
	assert.Equal(t, 1000, tracks[0].DurationMs)
	assert.Equal(t, "vid2", tracks[1].ProviderTrackID)
}

func TestFetchTracks_Batches(t *testing.T) {
	calls := 0
	client := NewHTTPClient("http://catalog", 0)
	client.http = NewMockClient(func(req *http.Request) *http.Response {
		calls++
		ids := strings.Split(req.URL.Query().Get("ids"), ",")
		assert.LessOrEqual(t, len(ids), maxBatch)
		return jsonResponse(http.StatusOK, `{"items": []}`)
	})

	ids := make([]playlist.TrackID, maxBatch+1)
	for i := range ids {
		ids[i] = playlist.TrackID(i + 1)
	}
	_, err := client.FetchTracks(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFetchTracks_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"Bad status", http.StatusBadGateway, `{}`},
		{"Bad body", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient("http://catalog", 0)
			client.http = NewMockClient(func(req *http.Request) *http.Response {
				return jsonResponse(tt.status, tt.body)
			})
			_, err := client.FetchTracks(context.Background(), []playlist.TrackID{1})
			assert.Error(t, err)
		})
	}

	t.Run("Cancelled while rate limited", func(t *testing.T) {
		client := NewHTTPClient("http://catalog", 1)
		client.http = NewMockClient(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"items": []}`)
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.FetchTracks(ctx, []playlist.TrackID{1})
		assert.Error(t, err)
	})
}
