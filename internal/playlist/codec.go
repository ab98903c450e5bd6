package playlist

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = []byte("null")

// MarshalJSON encodes removals as null and upserts as objects holding only
// the fields that are set. Unchanged entries are omitted.
func (p Patch) MarshalJSON() ([]byte, error) {
	out := make(map[OrderHash]any, len(p))
	for hash, ch := range p {
		switch ch.Kind {
		case Removed:
			out[hash] = nil
		case Upserted:
			out[hash] = ch.Update
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON keeps an explicit null (remove) apart from a missing key
// (no change).
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[OrderHash]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Patch, len(raw))
	for hash, v := range raw {
		if isNull(v) {
			out[hash] = Remove()
			continue
		}
		var u NodeUpdate
		if err := json.Unmarshal(v, &u); err != nil {
			return fmt.Errorf("slot %q: %w", hash, err)
		}
		out[hash] = Upsert(u)
	}
	*p = out
	return nil
}

// MarshalJSON writes only set fields; a cleared link is written as null.
func (u NodeUpdate) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if u.TrackID.Set {
		out["trackId"] = u.TrackID.Value
	}
	if u.Next.Set {
		out["next"] = linkValue(u.Next.Value)
	}
	if u.Previous.Set {
		out["previous"] = linkValue(u.Previous.Value)
	}
	return json.Marshal(out)
}

func (u *NodeUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("node update must be an object")
	}

	*u = NodeUpdate{}
	if v, ok := raw["trackId"]; ok {
		if isNull(v) {
			return fmt.Errorf("trackId cannot be null")
		}
		var id TrackID
		if err := json.Unmarshal(v, &id); err != nil {
			return fmt.Errorf("trackId: %w", err)
		}
		u.TrackID = Some(id)
	}

	var err error
	if u.Next, err = decodeLink(raw, "next"); err != nil {
		return err
	}
	if u.Previous, err = decodeLink(raw, "previous"); err != nil {
		return err
	}
	return nil
}

func decodeLink(raw map[string]json.RawMessage, key string) (Field[OrderHash], error) {
	v, ok := raw[key]
	if !ok {
		return Field[OrderHash]{}, nil
	}
	if isNull(v) {
		return Some(OrderHash("")), nil
	}
	var h OrderHash
	if err := json.Unmarshal(v, &h); err != nil {
		return Field[OrderHash]{}, fmt.Errorf("%s: %w", key, err)
	}
	return Some(h), nil
}

func linkValue(h OrderHash) any {
	if h == "" {
		return nil
	}
	return h
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), jsonNull)
}
