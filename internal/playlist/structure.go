package playlist

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Structure is the ordered playlist: the slot chain, the catalog cache and
// the per-track preview quota. It is a value; every change returns a new
// Structure and leaves the receiver untouched.
type Structure struct {
	order   map[OrderHash]Node
	catalog map[TrackID]Track
	quota   map[TrackID]time.Duration
}

// New returns an empty structure.
func New() Structure {
	return Structure{
		order:   map[OrderHash]Node{},
		catalog: map[TrackID]Track{},
		quota:   map[TrackID]time.Duration{},
	}
}

// Len returns the number of slots.
func (s Structure) Len() int {
	return len(s.order)
}

// Node returns the raw slot record.
func (s Structure) Node(hash OrderHash) (Node, bool) {
	n, ok := s.order[hash]
	return n, ok
}

// Head returns the slot without a previous neighbor.
func (s Structure) Head() (OrderHash, bool) {
	for hash, n := range s.order {
		if n.Previous == "" {
			return hash, true
		}
	}
	return "", false
}

// Tail returns the slot without a next neighbor.
func (s Structure) Tail() (OrderHash, bool) {
	for hash, n := range s.order {
		if n.Next == "" {
			return hash, true
		}
	}
	return "", false
}

// Slots walks the chain from the head and returns the slot hashes in order.
func (s Structure) Slots() ([]OrderHash, error) {
	if len(s.order) == 0 {
		return nil, nil
	}
	head, ok := s.Head()
	if !ok {
		return nil, fmt.Errorf("%w: no head", ErrBrokenChain)
	}

	out := make([]OrderHash, 0, len(s.order))
	for cur := head; cur != ""; {
		if len(out) == len(s.order) {
			return nil, fmt.Errorf("%w: cycle after %q", ErrBrokenChain, cur)
		}
		n, ok := s.order[cur]
		if !ok {
			return nil, fmt.Errorf("%w: dangling link to %q", ErrBrokenChain, cur)
		}
		out = append(out, cur)
		cur = n.Next
	}
	return out, nil
}

// OrderedTracks materializes the chain. It fails with ErrTrackNotCached when a
// slot references a track the catalog does not hold yet.
func (s Structure) OrderedTracks() ([]OrderedTrack, error) {
	slots, err := s.Slots()
	if err != nil {
		return nil, err
	}
	out := make([]OrderedTrack, 0, len(slots))
	for _, hash := range slots {
		id := s.order[hash].TrackID
		tr, ok := s.catalog[id]
		if !ok {
			return nil, fmt.Errorf("%w: track %d in slot %q", ErrTrackNotCached, id, hash)
		}
		out = append(out, OrderedTrack{Track: tr, Hash: hash})
	}
	return out, nil
}

// Lookup resolves a single slot.
func (s Structure) Lookup(hash OrderHash) (OrderedTrack, bool) {
	n, ok := s.order[hash]
	if !ok {
		return OrderedTrack{}, false
	}
	tr, ok := s.catalog[n.TrackID]
	if !ok {
		return OrderedTrack{}, false
	}
	return OrderedTrack{Track: tr, Hash: hash}, true
}

// Next returns the slot following after.
func (s Structure) Next(after OrderHash) (OrderedTrack, bool) {
	n, ok := s.order[after]
	if !ok || n.Next == "" {
		return OrderedTrack{}, false
	}
	return s.Lookup(n.Next)
}

// Previous returns the slot preceding before.
func (s Structure) Previous(before OrderHash) (OrderedTrack, bool) {
	n, ok := s.order[before]
	if !ok || n.Previous == "" {
		return OrderedTrack{}, false
	}
	return s.Lookup(n.Previous)
}

// Track returns cached metadata.
func (s Structure) Track(id TrackID) (Track, bool) {
	tr, ok := s.catalog[id]
	return tr, ok
}

// MissingTracks lists track ids referenced by the order but absent from the
// catalog, sorted ascending.
func (s Structure) MissingTracks() []TrackID {
	seen := map[TrackID]bool{}
	var out []TrackID
	for _, n := range s.order {
		if _, ok := s.catalog[n.TrackID]; ok || seen[n.TrackID] {
			continue
		}
		seen[n.TrackID] = true
		out = append(out, n.TrackID)
	}
	slices.Sort(out)
	return out
}

// WithTracks returns a copy with the given tracks stored in the catalog.
// The last write per identity wins.
func (s Structure) WithTracks(tracks ...Track) Structure {
	if len(tracks) == 0 {
		return s
	}
	catalog := cloneMap(s.catalog)
	for _, tr := range tracks {
		catalog[tr.ID] = tr
	}
	s.catalog = catalog
	return s
}

// Quota returns the elapsed preview time recorded for a track.
func (s Structure) Quota(id TrackID) time.Duration {
	return s.quota[id]
}

// WithQuota returns a copy with the preview quota of a track replaced.
func (s Structure) WithQuota(id TrackID, elapsed time.Duration) Structure {
	quota := cloneMap(s.quota)
	quota[id] = elapsed
	s.quota = quota
	return s
}

// Validate checks that the order forms exactly one chain with symmetric links.
func (s Structure) Validate() error {
	if len(s.order) == 0 {
		return nil
	}

	heads, tails := 0, 0
	for hash, n := range s.order {
		if n.Hash != hash {
			return fmt.Errorf("%w: slot %q describes itself as %q", ErrBrokenChain, hash, n.Hash)
		}
		if n.Previous == "" {
			heads++
		}
		if n.Next == "" {
			tails++
		}
	}
	if heads != 1 || tails != 1 {
		return fmt.Errorf("%w: %d heads, %d tails", ErrBrokenChain, heads, tails)
	}

	slots, err := s.Slots()
	if err != nil {
		return err
	}
	if len(slots) != len(s.order) {
		return fmt.Errorf("%w: reached %d of %d slots", ErrBrokenChain, len(slots), len(s.order))
	}
	for i := 1; i < len(slots); i++ {
		if s.order[slots[i]].Previous != slots[i-1] {
			return fmt.Errorf("%w: %q does not point back to %q", ErrBrokenChain, slots[i], slots[i-1])
		}
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return maps.Clone(m)
}
