package realtime

import (
	"context"
	"errors"
	"io"
	"testing"

	"playlist-sync/internal/playlist"
	"playlist-sync/internal/snapshot"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved   map[string]playlist.PatchMessage
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]playlist.PatchMessage)}
}

func (m *memStore) Load(_ context.Context, room string) (playlist.PatchMessage, error) {
	if m.loadErr != nil {
		return playlist.PatchMessage{}, m.loadErr
	}
	pm, ok := m.saved[room]
	if !ok {
		return playlist.PatchMessage{}, snapshot.ErrNotFound
	}
	return pm, nil
}

func (m *memStore) Save(_ context.Context, room string, pm playlist.PatchMessage) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[room] = pm
	return nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func orderOf(t *testing.T, pm playlist.PatchMessage) []playlist.TrackID {
	t.Helper()
	s := playlist.Merge(playlist.New(), pm.Data, true)
	slots, err := s.Slots()
	require.NoError(t, err)
	ids := make([]playlist.TrackID, 0, len(slots))
	for _, slot := range slots {
		n, _ := s.Node(slot)
		ids = append(ids, n.TrackID)
	}
	return ids
}

func TestReplicas_Apply(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewReplicas(store, discardLogger())

	p, slots, err := playlist.InsertPatch(playlist.New(), []playlist.TrackID{1, 2, 3}, "")
	require.NoError(t, err)
	require.NoError(t, r.Apply(ctx, "room", playlist.PatchMessage{Data: p}))

	snap, err := r.Snapshot(ctx, "room")
	require.NoError(t, err)
	assert.True(t, snap.Flush)
	assert.Equal(t, []playlist.TrackID{1, 2, 3}, orderOf(t, snap))
	assert.Equal(t, []playlist.TrackID{1, 2, 3}, orderOf(t, store.saved["room"]))

	t.Run("Broken patch keeps previous order", func(t *testing.T) {
		bad := playlist.Patch{slots[1]: playlist.Remove()}
		err := r.Apply(ctx, "room", playlist.PatchMessage{Data: bad})
		assert.ErrorIs(t, err, playlist.ErrBrokenChain)

		snap, err := r.Snapshot(ctx, "room")
		require.NoError(t, err)
		assert.Equal(t, []playlist.TrackID{1, 2, 3}, orderOf(t, snap))
	})

	t.Run("Rooms are independent", func(t *testing.T) {
		snap, err := r.Snapshot(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, snap.Data)
	})
}

func TestReplicas_LoadsFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	p, _, err := playlist.InsertPatch(playlist.New(), []playlist.TrackID{7, 8}, "")
	require.NoError(t, err)
	store.saved["room"] = playlist.PatchMessage{Data: p, Flush: true}

	r := NewReplicas(store, discardLogger())
	snap, err := r.Snapshot(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []playlist.TrackID{7, 8}, orderOf(t, snap))
}

func TestReplicas_StoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Load", func(t *testing.T) {
		store := newMemStore()
		store.loadErr = errors.New("db down")
		r := NewReplicas(store, discardLogger())

		_, err := r.Snapshot(ctx, "room")
		assert.Error(t, err)
	})

	t.Run("Save keeps memory state", func(t *testing.T) {
		store := newMemStore()
		store.saveErr = errors.New("db down")
		r := NewReplicas(store, discardLogger())

		p, _, err := playlist.InsertPatch(playlist.New(), []playlist.TrackID{1}, "")
		require.NoError(t, err)
		assert.Error(t, r.Apply(ctx, "room", playlist.PatchMessage{Data: p}))

		snap, err := r.Snapshot(ctx, "room")
		require.NoError(t, err)
		assert.Equal(t, []playlist.TrackID{1}, orderOf(t, snap))
	})

	t.Run("Corrupt snapshot is discarded", func(t *testing.T) {
		store := newMemStore()
		store.saved["room"] = playlist.PatchMessage{
			Data: playlist.Patch{
				"aaaaa": playlist.Upsert(playlist.NodeUpdate{
					TrackID: playlist.Some(playlist.TrackID(1)),
					Next:    playlist.Some(playlist.OrderHash("zzzzz")),
				}),
			},
			Flush: true,
		}
		r := NewReplicas(store, discardLogger())

		snap, err := r.Snapshot(ctx, "room")
		require.NoError(t, err)
		assert.Empty(t, snap.Data)
	})

	t.Run("Without store", func(t *testing.T) {
		r := NewReplicas(nil, discardLogger())
		p, _, err := playlist.InsertPatch(playlist.New(), []playlist.TrackID{4}, "")
		require.NoError(t, err)
		require.NoError(t, r.Apply(ctx, "room", playlist.PatchMessage{Data: p}))
	})
}
