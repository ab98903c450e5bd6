package syncer

import (
	"fmt"

	"playlist-sync/internal/playlist"
	"playlist-sync/internal/realtime"
)

// PatchPayload is the body of a playlist.patch frame. Tracks carries catalog
// entries the sender already holds so receivers can skip a fetch.
type PatchPayload struct {
	Data   playlist.Patch   `json:"data"`
	Flush  bool             `json:"flush"`
	Tracks []playlist.Track `json:"tracks,omitempty"`
}

// CurrentPayload is the body of a player.current frame. A nil Slot means
// nothing is selected.
type CurrentPayload struct {
	Slot *playlist.OrderHash `json:"slot"`
}

type StatePayload struct {
	Playing    bool  `json:"playing"`
	PositionMs int64 `json:"positionMs"`
}

type QuotaPayload struct {
	TrackID   playlist.TrackID `json:"trackId"`
	ElapsedMs int64            `json:"elapsedMs"`
}

func currentPayload(slot playlist.OrderHash) CurrentPayload {
	if slot == "" {
		return CurrentPayload{}
	}
	return CurrentPayload{Slot: &slot}
}

func (c *Coordinator) message(command string, payload any) (realtime.Message, error) {
	msg, err := realtime.NewMessage(c.room, command, string(c.sigs.Own), payload)
	if err != nil {
		return realtime.Message{}, fmt.Errorf("syncer: %w", err)
	}
	return msg, nil
}
