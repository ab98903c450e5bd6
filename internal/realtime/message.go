package realtime

import (
	"encoding/json"
	"fmt"
)

// Commands understood by sync clients. The relay only looks inside
// CommandPatch, to keep its per-room replica current.
const (
	CommandWelcome = "relay.welcome"
	CommandPatch   = "playlist.patch"
	CommandCurrent = "player.current"
	CommandState   = "player.state"
	CommandQuota   = "quota.update"
)

// Message is the frame exchanged over the relay.
type Message struct {
	Channel string          `json:"channel"`
	Command string          `json:"command"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into a frame.
func NewMessage(channel, command, origin string, payload any) (Message, error) {
	m := Message{Channel: channel, Command: command, Origin: origin}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", command, err)
		}
		m.Payload = b
	}
	return m, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Command)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Command, err)
	}
	return nil
}

func (m Message) validate() error {
	if m.Channel == "" {
		return fmt.Errorf("missing channel")
	}
	if m.Command == "" {
		return fmt.Errorf("missing command")
	}
	return nil
}
