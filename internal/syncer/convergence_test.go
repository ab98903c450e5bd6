package syncer

import (
	"context"
	"testing"

	"playlist-sync/internal/lease"
	"playlist-sync/internal/playlist"
	"playlist-sync/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback delivers every frame to every member, in send order.
type loopback struct {
	members []*Coordinator
}

func (l *loopback) Send(ctx context.Context, msg realtime.Message) error {
	for _, c := range l.members {
		if err := c.HandleMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func TestTwoClientsConverge(t *testing.T) {
	ctx := context.Background()
	relay := &loopback{}

	newClient := func() (*Coordinator, *fakePlayer) {
		player := &fakePlayer{}
		c := New(Options{
			Room:       "room",
			Fetcher:    newFakeFetcher(1, 2, 3, 4),
			Player:     player,
			Sender:     relay,
			Signatures: lease.NewSignatures(),
			Strict:     true,
		})
		t.Cleanup(c.Wait)
		relay.members = append(relay.members, c)
		return c, player
	}
	a, _ := newClient()
	b, bPlayer := newClient()

	slots, err := a.InsertTracks(ctx, tracksOf(1, 2, 3), StyleLast)
	require.NoError(t, err)
	added, err := b.InsertTracks(ctx, tracksOf(4), StyleLast)
	require.NoError(t, err)

	require.NoError(t, a.MoveTrack(ctx, added[0], ""))
	require.NoError(t, b.DeleteTrack(ctx, slots[1]))

	b.Wait()
	for _, c := range []*Coordinator{a, b} {
		require.NoError(t, c.State().Playlist.Validate())
		assert.Equal(t, []playlist.TrackID{4, 1, 3}, orderIDs(t, c))
	}
	assert.Equal(t, slotsOf(t, a), slotsOf(t, b))

	require.NoError(t, a.SetCurrent(ctx, slots[2], true))
	assert.Equal(t, slots[2], b.State().Current)
	assert.Equal(t, prepareCall{slots[2], false}, bPlayer.Calls()[len(bPlayer.Calls())-1])

	_, err = a.ReplaceAll(ctx, tracksOf(2))
	require.NoError(t, err)
	assert.Equal(t, []playlist.TrackID{2}, orderIDs(t, b))
	assert.Empty(t, b.State().Current)
}
