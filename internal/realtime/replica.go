package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"playlist-sync/internal/playlist"
	"playlist-sync/internal/snapshot"

	"github.com/charmbracelet/log"
)

// SnapshotStore persists the order of a room between relay restarts.
type SnapshotStore interface {
	Load(ctx context.Context, room string) (playlist.PatchMessage, error)
	Save(ctx context.Context, room string, pm playlist.PatchMessage) error
}

// Replicas keeps an order-only copy of every room by applying the patches
// the relay forwards. Clients that connect or reconnect start from it.
type Replicas struct {
	mu    sync.Mutex
	rooms map[string]playlist.Structure
	store SnapshotStore
	log   *log.Logger
}

// NewReplicas returns an in-memory replica set. store may be nil.
func NewReplicas(store SnapshotStore, logger *log.Logger) *Replicas {
	return &Replicas{
		rooms: make(map[string]playlist.Structure),
		store: store,
		log:   logger,
	}
}

// Apply merges a relayed patch into the room. A patch that would break the
// chain is rejected and the previous order is kept.
func (r *Replicas) Apply(ctx context.Context, room string, pm playlist.PatchMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.loadLocked(ctx, room)
	if err != nil {
		return err
	}
	next := playlist.Merge(cur, pm.Data, pm.Flush)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("room %s: %w", room, err)
	}
	r.rooms[room] = next

	if r.store == nil {
		return nil
	}
	snap := playlist.PatchMessage{Data: playlist.SnapshotPatch(next), Flush: true}
	if err := r.store.Save(ctx, room, snap); err != nil {
		return fmt.Errorf("room %s: save snapshot: %w", room, err)
	}
	return nil
}

// Snapshot returns a flush patch describing the full order of the room.
func (r *Replicas) Snapshot(ctx context.Context, room string) (playlist.PatchMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.loadLocked(ctx, room)
	if err != nil {
		return playlist.PatchMessage{}, err
	}
	return playlist.PatchMessage{Data: playlist.SnapshotPatch(cur), Flush: true}, nil
}

func (r *Replicas) loadLocked(ctx context.Context, room string) (playlist.Structure, error) {
	if s, ok := r.rooms[room]; ok {
		return s, nil
	}

	s := playlist.New()
	if r.store != nil {
		pm, err := r.store.Load(ctx, room)
		switch {
		case errors.Is(err, snapshot.ErrNotFound):
		case err != nil:
			return playlist.Structure{}, fmt.Errorf("room %s: load snapshot: %w", room, err)
		default:
			s = playlist.Merge(s, pm.Data, true)
			if err := s.Validate(); err != nil {
				r.log.Warnf("realtime: stored snapshot for %s discarded: %v", room, err)
				s = playlist.New()
			}
		}
	}
	r.rooms[room] = s
	return s, nil
}
