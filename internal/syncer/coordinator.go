// Package syncer keeps one client's view of a shared playlist in step with
// the rest of the room.
//
// Local edits are turned into patches, applied immediately and sent to the
// relay. Patches from the relay are merged in arrival order. Catalog entries
// that a patch references but the client lacks are fetched in the background.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"playlist-sync/internal/lease"
	"playlist-sync/internal/playlist"
	"playlist-sync/internal/realtime"

	"github.com/charmbracelet/log"
)

const fetchTimeout = 15 * time.Second

var ErrNoSnapshots = errors.New("syncer: no snapshot source")

// Fetcher resolves track metadata by ID.
type Fetcher interface {
	FetchTracks(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error)
}

// Player is the playback collaborator.
type Player interface {
	Prepare(slot playlist.OrderHash, play bool)
}

// Sender transmits frames to the relay.
type Sender interface {
	Send(ctx context.Context, msg realtime.Message) error
}

// SnapshotSource returns the full order of a room.
type SnapshotSource interface {
	Snapshot(ctx context.Context, room string) (playlist.PatchMessage, error)
}

// AppliedPatch records the last patch merged into the state. Origin is the
// sender's signature, or our alien signature for state that came from a
// snapshot or an untagged caller.
type AppliedPatch struct {
	Patch  playlist.Patch
	Flush  bool
	IsOwn  bool
	Origin lease.Signature
	At     time.Time
}

// State is the application state wrapped around the playlist structure.
type State struct {
	Playlist  playlist.Structure
	Current   playlist.OrderHash
	Playing   bool
	Position  time.Duration
	LastPatch AppliedPatch
}

type Options struct {
	Room       string
	Fetcher    Fetcher
	Player     Player
	Sender     Sender
	Snapshots  SnapshotSource
	Signatures lease.Signatures

	// LeaseWindow defaults to lease.DefaultWindow.
	LeaseWindow time.Duration

	// Strict panics on precondition violations instead of resyncing.
	Strict bool

	Logger   *log.Logger
	Now      func() time.Time
	OnChange func(State)
}

// Coordinator serializes every mutation of one client's state. Side effects
// (sending, playback, change notification) run after the lock is released.
type Coordinator struct {
	room      string
	fetcher   Fetcher
	player    Player
	sender    Sender
	snapshots SnapshotSource
	sigs      lease.Signatures
	policy    *lease.Policy
	strict    bool
	log       *log.Logger
	now       func() time.Time
	onChange  func(State)

	mu          sync.Mutex
	state       State
	needsResync bool

	fetches sync.WaitGroup
}

func New(opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Signatures == (lease.Signatures{}) {
		opts.Signatures = lease.NewSignatures()
	}
	return &Coordinator{
		room:      opts.Room,
		fetcher:   opts.Fetcher,
		player:    opts.Player,
		sender:    opts.Sender,
		snapshots: opts.Snapshots,
		sigs:      opts.Signatures,
		policy:    lease.NewPolicy(opts.Signatures, opts.LeaseWindow, opts.Now),
		strict:    opts.Strict,
		log:       opts.Logger.With("room", opts.Room),
		now:       opts.Now,
		onChange:  opts.OnChange,
		state:     State{Playlist: playlist.New()},
	}
}

// effects are collected under the lock and performed after it.
type effects struct {
	send    []realtime.Message
	prepare *playlist.OrderHash
	play    bool
	fetch   []playlist.TrackID
	resync  bool
	changed bool
}

func (fx *effects) transmit(c *Coordinator, command string, payload any) {
	msg, err := c.message(command, payload)
	if err != nil {
		c.log.Errorf("syncer: %v", err)
		return
	}
	fx.send = append(fx.send, msg)
}

func (fx *effects) prepareSlot(slot playlist.OrderHash, play bool) {
	fx.prepare = &slot
	fx.play = play
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OrderedTracks materializes the playlist. It fails with
// playlist.ErrTrackNotCached while catalog fetches are outstanding.
func (c *Coordinator) OrderedTracks() ([]playlist.OrderedTrack, error) {
	return c.State().Playlist.OrderedTracks()
}

// NeedsResync reports whether local state may have diverged from the room,
// after a failed send or a rejected patch. A successful Resync clears it.
func (c *Coordinator) NeedsResync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsResync
}

// Wait blocks until background catalog fetches have finished.
func (c *Coordinator) Wait() {
	c.fetches.Wait()
}

// ApplyPatch merges p into the state. known carries catalog entries the
// caller already has; only those the order is missing are absorbed, and the
// rest of the gap is fetched in one background batch.
func (c *Coordinator) ApplyPatch(ctx context.Context, p playlist.Patch, flush, isOwn bool, known []playlist.Track) error {
	origin := c.sigs.Alien
	if isOwn {
		origin = c.sigs.Own
	}
	return c.applyPatch(ctx, p, flush, origin, known)
}

func (c *Coordinator) applyPatch(ctx context.Context, p playlist.Patch, flush bool, origin lease.Signature, known []playlist.Track) error {
	c.mu.Lock()
	var fx effects
	err := c.applyLocked(&fx, p, flush, origin, known)
	if err != nil {
		c.violationLocked(&fx, err)
	}
	c.mu.Unlock()

	c.run(ctx, fx)
	return err
}

// InsertAfter splices tracks in right after the slot after, or at the head
// when after is empty. It returns the new slots in list order.
func (c *Coordinator) InsertAfter(ctx context.Context, tracks []playlist.Track, after playlist.OrderHash) ([]playlist.OrderHash, error) {
	c.mu.Lock()
	var fx effects
	slots, err := c.insertLocked(&fx, tracks, after)
	if err != nil {
		c.violationLocked(&fx, err)
	}
	c.mu.Unlock()

	c.run(ctx, fx)
	return slots, err
}

// InsertTracks inserts relative to playback. StyleNext and StyleNow insert
// after the current slot (the tail when nothing is current), StyleLast at the
// tail. StyleNow then selects the first inserted slot and starts playing it.
func (c *Coordinator) InsertTracks(ctx context.Context, tracks []playlist.Track, style Style) ([]playlist.OrderHash, error) {
	c.mu.Lock()
	var fx effects

	tail, _ := c.state.Playlist.Tail()
	anchor := tail
	if style != StyleLast && c.state.Current != "" {
		anchor = c.state.Current
	}

	slots, err := c.insertLocked(&fx, tracks, anchor)
	switch {
	case err != nil:
		c.violationLocked(&fx, err)
	case style == StyleNow && len(slots) > 0:
		c.state.Current = slots[0]
		c.state.Playing = true
		c.policy.Transmitted(lease.FieldCurrent)
		fx.prepareSlot(slots[0], true)
		fx.transmit(c, realtime.CommandCurrent, currentPayload(slots[0]))
	}
	c.mu.Unlock()

	c.run(ctx, fx)
	return slots, err
}

func (c *Coordinator) insertLocked(fx *effects, tracks []playlist.Track, after playlist.OrderHash) ([]playlist.OrderHash, error) {
	ids := make([]playlist.TrackID, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}

	p, slots, err := playlist.InsertPatch(c.state.Playlist, ids, after)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	if err := c.applyLocked(fx, p, false, c.sigs.Own, tracks); err != nil {
		return nil, err
	}
	fx.transmit(c, realtime.CommandPatch, PatchPayload{Data: p, Tracks: tracks})
	return slots, nil
}

// DeleteTrack removes slot. When it is the current slot, playback moves to
// its successor, or wraps to the head, and keeps playing only if it was.
func (c *Coordinator) DeleteTrack(ctx context.Context, slot playlist.OrderHash) error {
	c.mu.Lock()
	var fx effects
	err := c.deleteLocked(&fx, slot)
	if err != nil {
		c.violationLocked(&fx, err)
	}
	c.mu.Unlock()

	c.run(ctx, fx)
	return err
}

func (c *Coordinator) deleteLocked(fx *effects, slot playlist.OrderHash) error {
	s := c.state.Playlist
	node, ok := s.Node(slot)
	if !ok {
		return fmt.Errorf("delete %q: %w", slot, playlist.ErrUnknownSlot)
	}

	wasCurrent := slot == c.state.Current
	wasPlaying := c.state.Playing
	var successor playlist.OrderHash
	if wasCurrent {
		successor = node.Next
		if successor == "" {
			if head, ok := s.Head(); ok && head != slot {
				successor = head
			}
		}
	}

	p, err := playlist.DeletePatch(s, slot)
	if err != nil {
		return err
	}
	if err := c.applyLocked(fx, p, false, c.sigs.Own, nil); err != nil {
		return err
	}
	fx.transmit(c, realtime.CommandPatch, PatchPayload{Data: p})

	if wasCurrent {
		c.state.Current = successor
		c.state.Playing = wasPlaying && successor != ""
		if successor != "" {
			fx.prepareSlot(successor, c.state.Playing)
		}
		c.policy.Transmitted(lease.FieldCurrent)
		fx.transmit(c, realtime.CommandCurrent, currentPayload(successor))
	}
	return nil
}

// ReplaceAll swaps the whole order for tracks. Nothing is current afterwards.
func (c *Coordinator) ReplaceAll(ctx context.Context, tracks []playlist.Track) ([]playlist.OrderHash, error) {
	c.mu.Lock()
	var fx effects

	ids := make([]playlist.TrackID, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}
	cleared := playlist.Merge(c.state.Playlist, nil, true)
	p, slots, err := playlist.InsertPatch(cleared, ids, "")
	if err == nil {
		err = c.applyLocked(&fx, p, true, c.sigs.Own, tracks)
	}
	if err != nil {
		c.violationLocked(&fx, err)
		c.mu.Unlock()
		c.run(ctx, fx)
		return nil, err
	}

	fx.transmit(c, realtime.CommandPatch, PatchPayload{Data: p, Flush: true, Tracks: tracks})
	c.state.Current = ""
	c.state.Playing = false
	c.policy.Transmitted(lease.FieldCurrent)
	fx.transmit(c, realtime.CommandCurrent, currentPayload(""))
	c.mu.Unlock()

	c.run(ctx, fx)
	return slots, nil
}

// MoveTrack moves slot right after the slot after (or to the head). The slot
// keeps its hash, so playback is undisturbed.
func (c *Coordinator) MoveTrack(ctx context.Context, slot, after playlist.OrderHash) error {
	c.mu.Lock()
	var fx effects
	p, err := playlist.MovePatch(c.state.Playlist, slot, after)
	if err == nil && len(p) > 0 {
		err = c.applyLocked(&fx, p, false, c.sigs.Own, nil)
		if err == nil {
			fx.transmit(c, realtime.CommandPatch, PatchPayload{Data: p})
		}
	}
	if err != nil {
		c.violationLocked(&fx, err)
	}
	c.mu.Unlock()

	c.run(ctx, fx)
	return err
}

// SetCurrent selects slot for playback. An empty slot clears the selection.
func (c *Coordinator) SetCurrent(ctx context.Context, slot playlist.OrderHash, play bool) error {
	c.mu.Lock()
	if slot != "" {
		if _, ok := c.state.Playlist.Node(slot); !ok {
			c.mu.Unlock()
			return fmt.Errorf("select %q: %w", slot, playlist.ErrUnknownSlot)
		}
	}

	var fx effects
	c.state.Current = slot
	c.state.Playing = play && slot != ""
	c.state.Position = 0
	if slot != "" {
		fx.prepareSlot(slot, c.state.Playing)
	}
	fx.changed = true
	c.policy.Transmitted(lease.FieldCurrent)
	fx.transmit(c, realtime.CommandCurrent, currentPayload(slot))
	c.mu.Unlock()

	c.run(ctx, fx)
	return nil
}

// SetPlayback publishes the local playback state.
func (c *Coordinator) SetPlayback(ctx context.Context, playing bool, position time.Duration) {
	c.mu.Lock()
	var fx effects
	c.state.Playing = playing
	c.state.Position = position
	fx.changed = true
	c.policy.Transmitted(lease.FieldPlayback)
	fx.transmit(c, realtime.CommandState, StatePayload{Playing: playing, PositionMs: position.Milliseconds()})
	c.mu.Unlock()

	c.run(ctx, fx)
}

// RecordQuota stores the elapsed preview time of a track and shares it.
func (c *Coordinator) RecordQuota(ctx context.Context, id playlist.TrackID, elapsed time.Duration) {
	c.mu.Lock()
	var fx effects
	c.state.Playlist = c.state.Playlist.WithQuota(id, elapsed)
	fx.changed = true
	fx.transmit(c, realtime.CommandQuota, QuotaPayload{TrackID: id, ElapsedMs: elapsed.Milliseconds()})
	c.mu.Unlock()

	c.run(ctx, fx)
}

// Resync replaces the local order with the relay's snapshot of the room.
func (c *Coordinator) Resync(ctx context.Context) error {
	if c.snapshots == nil {
		return ErrNoSnapshots
	}
	pm, err := c.snapshots.Snapshot(ctx, c.room)
	if err != nil {
		return fmt.Errorf("syncer: resync: %w", err)
	}

	c.mu.Lock()
	var fx effects
	err = c.applyLocked(&fx, pm.Data, true, c.sigs.Alien, nil)
	if err == nil {
		c.needsResync = false
		// the snapshot supersedes whatever we transmitted before it
		c.policy.Reset()
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Errorf("syncer: resync: snapshot rejected: %v", err)
		return err
	}
	c.log.Info("syncer: resynced", "slots", c.State().Playlist.Len())
	c.run(ctx, fx)
	return nil
}

// HandleMessage applies one frame received from the relay. Frames for other
// rooms, echoes of our own frames and unknown commands are ignored.
func (c *Coordinator) HandleMessage(ctx context.Context, msg realtime.Message) error {
	if msg.Channel != c.room {
		return nil
	}
	origin := lease.Signature(msg.Origin)
	if c.sigs.IsOwn(origin) {
		return nil
	}

	switch msg.Command {
	case realtime.CommandPatch:
		var pp PatchPayload
		if err := msg.Decode(&pp); err != nil {
			return err
		}
		return c.applyPatch(ctx, pp.Data, pp.Flush, origin, pp.Tracks)

	case realtime.CommandCurrent:
		var cp CurrentPayload
		if err := msg.Decode(&cp); err != nil {
			return err
		}
		if !c.policy.Accept(lease.FieldCurrent, origin) {
			until, _ := c.policy.Until(lease.FieldCurrent)
			c.log.Debug("syncer: current ignored within lease", "origin", origin, "until", until)
			return nil
		}
		c.remoteCurrent(ctx, cp)

	case realtime.CommandState:
		var sp StatePayload
		if err := msg.Decode(&sp); err != nil {
			return err
		}
		if !c.policy.Accept(lease.FieldPlayback, origin) {
			until, _ := c.policy.Until(lease.FieldPlayback)
			c.log.Debug("syncer: playback ignored within lease", "origin", origin, "until", until)
			return nil
		}
		c.mu.Lock()
		c.state.Playing = sp.Playing
		c.state.Position = time.Duration(sp.PositionMs) * time.Millisecond
		c.mu.Unlock()
		c.run(ctx, effects{changed: true})

	case realtime.CommandQuota:
		var qp QuotaPayload
		if err := msg.Decode(&qp); err != nil {
			return err
		}
		c.mu.Lock()
		c.state.Playlist = c.state.Playlist.WithQuota(qp.TrackID, time.Duration(qp.ElapsedMs)*time.Millisecond)
		c.mu.Unlock()
		c.run(ctx, effects{changed: true})
	}
	return nil
}

func (c *Coordinator) remoteCurrent(ctx context.Context, cp CurrentPayload) {
	c.mu.Lock()
	var fx effects
	switch {
	case cp.Slot == nil || *cp.Slot == "":
		c.state.Current = ""
		c.state.Playing = false
		fx.changed = true
	default:
		slot := *cp.Slot
		if _, ok := c.state.Playlist.Node(slot); !ok {
			c.mu.Unlock()
			c.log.Warn("syncer: remote current is not in the order", "slot", slot)
			return
		}
		c.state.Current = slot
		c.state.Position = 0
		fx.prepareSlot(slot, c.state.Playing)
		fx.changed = true
	}
	c.mu.Unlock()

	c.run(ctx, fx)
}

// applyLocked merges a patch. Remote patches that would break the chain are
// rejected and leave the state untouched.
func (c *Coordinator) applyLocked(fx *effects, p playlist.Patch, flush bool, origin lease.Signature, known []playlist.Track) error {
	isOwn := c.sigs.IsOwn(origin)
	next := playlist.Merge(c.state.Playlist, p, flush)
	if !isOwn {
		if err := next.Validate(); err != nil {
			return err
		}
	}

	if missing := next.MissingTracks(); len(missing) > 0 && len(known) > 0 {
		want := make(map[playlist.TrackID]bool, len(missing))
		for _, id := range missing {
			want[id] = true
		}
		var absorb []playlist.Track
		for _, tr := range known {
			if want[tr.ID] {
				absorb = append(absorb, tr)
			}
		}
		next = next.WithTracks(absorb...)
	}
	fx.fetch = next.MissingTracks()

	if cur := c.state.Current; cur != "" {
		if _, ok := next.Node(cur); !ok {
			c.state.Current = ""
			c.state.Playing = false
			c.state.Position = 0
		}
	}

	c.state.Playlist = next
	c.state.LastPatch = AppliedPatch{Patch: p, Flush: flush, IsOwn: isOwn, Origin: origin, At: c.now()}
	fx.changed = true
	return nil
}

// violationLocked handles a caller or peer whose view diverged from ours.
func (c *Coordinator) violationLocked(fx *effects, err error) {
	if c.strict {
		panic(err)
	}
	c.log.Errorf("syncer: %v", err)
	c.needsResync = true
	fx.resync = true
}

func (c *Coordinator) run(ctx context.Context, fx effects) {
	if fx.prepare != nil && c.player != nil {
		c.player.Prepare(*fx.prepare, fx.play)
	}

	for _, msg := range fx.send {
		if c.sender == nil {
			break
		}
		if err := c.sender.Send(ctx, msg); err != nil {
			c.log.Warnf("syncer: send %s: %v", msg.Command, err)
			c.mu.Lock()
			c.needsResync = true
			c.mu.Unlock()
		}
	}

	if len(fx.fetch) > 0 {
		c.fetch(ctx, fx.fetch)
	}
	if fx.changed {
		c.notify()
	}
	if fx.resync && c.snapshots != nil {
		if err := c.Resync(ctx); err != nil {
			c.log.Warnf("syncer: %v", err)
		}
	}
}

// fetch resolves ids in the background. Overlapping fetches are harmless:
// the last write per track wins.
func (c *Coordinator) fetch(ctx context.Context, ids []playlist.TrackID) {
	if c.fetcher == nil {
		return
	}
	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		tracks, err := c.fetcher.FetchTracks(ctx, ids)
		if err != nil {
			c.log.Warnf("syncer: fetch %d tracks: %v", len(ids), err)
			return
		}
		if len(tracks) == 0 {
			return
		}

		c.mu.Lock()
		c.state.Playlist = c.state.Playlist.WithTracks(tracks...)
		c.mu.Unlock()
		c.notify()
	}()
}

func (c *Coordinator) notify() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.State())
}
