package playlist

import (
	"errors"
	"math/rand/v2"
)

// TrackID identifies a track in the catalog.
type TrackID int

// Track is catalog metadata fetched from the provider. Values are replaced
// wholesale when refreshed, never edited in place.
type Track struct {
	ID              TrackID `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Provider        string  `json:"provider,omitempty"`
	ProviderTrackID string  `json:"providerTrackId,omitempty"` // the provider's own id for the track
	ThumbnailURL    string  `json:"thumbnailUrl,omitempty"`
	DurationMs      int     `json:"durationMs"`
}

// OrderHash identifies a slot in the order. It is assigned once when the slot
// is created and never renumbered.
type OrderHash string

// Node is one slot of the hash-encoded linked list. An empty Next or Previous
// means there is no neighbor on that side.
type Node struct {
	TrackID  TrackID
	Hash     OrderHash
	Next     OrderHash
	Previous OrderHash
}

// OrderedTrack is a track together with the slot it occupies.
type OrderedTrack struct {
	Track Track     `json:"track"`
	Hash  OrderHash `json:"hash"`
}

// Equal reports whether both values refer to the same slot. The slot, not the
// track, is the identity.
func (t OrderedTrack) Equal(other OrderedTrack) bool {
	return t.Hash == other.Hash
}

var (
	ErrUnknownSlot    = errors.New("unknown slot")
	ErrTrackNotCached = errors.New("track not in catalog")
	ErrBrokenChain    = errors.New("order is not a single chain")
)

const (
	hashAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	hashLength   = 5
)

// NewOrderHash returns a fresh random slot token.
func NewOrderHash() OrderHash {
	b := make([]byte, hashLength)
	for i := range b {
		b[i] = hashAlphabet[rand.IntN(len(hashAlphabet))]
	}
	return OrderHash(b)
}
