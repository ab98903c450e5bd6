package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"playlist-sync/internal/lease"
	"playlist-sync/internal/playlist"
	"playlist-sync/internal/realtime"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type prepareCall struct {
	Slot playlist.OrderHash
	Play bool
}

type fakePlayer struct {
	mu    sync.Mutex
	calls []prepareCall
}

func (p *fakePlayer) Prepare(slot playlist.OrderHash, play bool) {
	p.mu.Lock()
	p.calls = append(p.calls, prepareCall{slot, play})
	p.mu.Unlock()
}

func (p *fakePlayer) Calls() []prepareCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]prepareCall(nil), p.calls...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []realtime.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg realtime.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Command
	}
	return out
}

func (s *fakeSender) Last(command string) (realtime.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Command == command {
			return s.sent[i], true
		}
	}
	return realtime.Message{}, false
}

// fakeFetcher serves tracks from a fixed table. When gate is set every call
// blocks until it is closed.
type fakeFetcher struct {
	mu     sync.Mutex
	tracks map[playlist.TrackID]playlist.Track
	calls  [][]playlist.TrackID
	gate   chan struct{}
	err    error
}

func newFakeFetcher(ids ...playlist.TrackID) *fakeFetcher {
	f := &fakeFetcher{tracks: make(map[playlist.TrackID]playlist.Track)}
	for _, tr := range tracksOf(ids...) {
		f.tracks[tr.ID] = tr
	}
	return f
}

func (f *fakeFetcher) FetchTracks(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]playlist.TrackID(nil), ids...))
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []playlist.Track
	for _, id := range ids {
		if tr, ok := f.tracks[id]; ok {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeFetcher) Calls() [][]playlist.TrackID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]playlist.TrackID(nil), f.calls...)
}

type fakeSnapshots struct {
	mu    sync.Mutex
	pm    playlist.PatchMessage
	err   error
	calls int
}

func (f *fakeSnapshots) Snapshot(context.Context, string) (playlist.PatchMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pm, f.err
}

func (f *fakeSnapshots) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errSendFailed = errors.New("socket closed")

func tracksOf(ids ...playlist.TrackID) []playlist.Track {
	out := make([]playlist.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, playlist.Track{ID: id, Title: "Track", Artist: "Artist"})
	}
	return out
}

type harness struct {
	c         *Coordinator
	clock     *fakeClock
	player    *fakePlayer
	sender    *fakeSender
	fetcher   *fakeFetcher
	snapshots *fakeSnapshots
	sigs      lease.Signatures
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		player:    &fakePlayer{},
		sender:    &fakeSender{},
		fetcher:   newFakeFetcher(),
		snapshots: &fakeSnapshots{},
		sigs:      lease.NewSignatures(),
	}
	o := Options{
		Room:       "room",
		Fetcher:    h.fetcher,
		Player:     h.player,
		Sender:     h.sender,
		Snapshots:  h.snapshots,
		Signatures: h.sigs,
		Now:        h.clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.c = New(o)
	t.Cleanup(h.c.Wait)
	return h
}

func orderIDs(t *testing.T, c *Coordinator) []playlist.TrackID {
	t.Helper()
	tracks, err := c.OrderedTracks()
	require.NoError(t, err)
	out := make([]playlist.TrackID, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, tr.Track.ID)
	}
	return out
}

func slotsOf(t *testing.T, c *Coordinator) []playlist.OrderHash {
	t.Helper()
	slots, err := c.State().Playlist.Slots()
	require.NoError(t, err)
	return slots
}

// remote builds a frame as another client in the room would send it.
func remote(t *testing.T, command string, payload any) realtime.Message {
	t.Helper()
	msg, err := realtime.NewMessage("room", command, "someone-else", payload)
	require.NoError(t, err)
	return msg
}
