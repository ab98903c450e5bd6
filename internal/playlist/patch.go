package playlist

import "fmt"

// Field is an optional value inside a NodeUpdate. Set distinguishes "leave as
// is" from "overwrite"; for link fields an overwrite with "" clears the link.
type Field[T comparable] struct {
	Value T
	Set   bool
}

// Some returns a set field.
func Some[T comparable](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// NodeUpdate is a partial slot record. Unset fields are left untouched by Merge.
type NodeUpdate struct {
	TrackID  Field[TrackID]
	Next     Field[OrderHash]
	Previous Field[OrderHash]
}

func (u NodeUpdate) applyTo(n *Node) {
	if u.TrackID.Set {
		n.TrackID = u.TrackID.Value
	}
	if u.Next.Set {
		n.Next = u.Next.Value
	}
	if u.Previous.Set {
		n.Previous = u.Previous.Value
	}
}

// ChangeKind tags a patch entry.
type ChangeKind uint8

const (
	Unchanged ChangeKind = iota
	Removed
	Upserted
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Removed:
		return "removed"
	case Upserted:
		return "upserted"
	}
	return fmt.Sprintf("ChangeKind(%d)", uint8(k))
}

// Change is the effect of a patch on one slot.
type Change struct {
	Kind   ChangeKind
	Update NodeUpdate
}

// Remove deletes the slot.
func Remove() Change {
	return Change{Kind: Removed}
}

// Upsert creates the slot or merges the provided fields into it.
func Upsert(u NodeUpdate) Change {
	return Change{Kind: Upserted, Update: u}
}

// Patch maps slots to changes. A slot missing from the map is unchanged.
type Patch map[OrderHash]Change

// PatchMessage is a patch together with its flush flag, as it travels
// between clients and the relay.
type PatchMessage struct {
	Data  Patch `json:"data"`
	Flush bool  `json:"flush"`
}

// Merge applies a patch and returns the resulting structure. When flush is
// set the order is cleared first. The catalog and quota are carried over.
func Merge(s Structure, p Patch, flush bool) Structure {
	var order map[OrderHash]Node
	if flush {
		order = make(map[OrderHash]Node, len(p))
	} else {
		order = cloneMap(s.order)
	}

	for hash, ch := range p {
		switch ch.Kind {
		case Removed:
			delete(order, hash)
		case Upserted:
			n, ok := order[hash]
			if !ok {
				n = Node{Hash: hash}
			}
			ch.Update.applyTo(&n)
			order[hash] = n
		}
	}

	s.order = order
	return s
}

// InsertPatch builds the patch that splices tracks, in the given order, right
// after the slot after. An empty after inserts at the head. The new slot
// hashes are returned in list order.
func InsertPatch(s Structure, tracks []TrackID, after OrderHash) (Patch, []OrderHash, error) {
	if len(tracks) == 0 {
		return Patch{}, nil, nil
	}

	var right OrderHash
	if after == "" {
		right, _ = s.Head()
	} else {
		anchor, ok := s.order[after]
		if !ok {
			return nil, nil, fmt.Errorf("insert after %q: %w", after, ErrUnknownSlot)
		}
		right = anchor.Next
	}

	slots := make([]OrderHash, len(tracks))
	taken := make(map[OrderHash]bool, len(tracks))
	for i := range slots {
		h := NewOrderHash()
		for taken[h] || s.has(h) {
			h = NewOrderHash()
		}
		taken[h] = true
		slots[i] = h
	}

	p := make(Patch, len(tracks)+2)
	last := len(slots) - 1
	for i, id := range tracks {
		u := NodeUpdate{TrackID: Some(id)}
		if i == 0 {
			u.Previous = Some(after)
		} else {
			u.Previous = Some(slots[i-1])
		}
		if i == last {
			u.Next = Some(right)
		} else {
			u.Next = Some(slots[i+1])
		}
		p[slots[i]] = Upsert(u)
	}

	if after != "" {
		p[after] = Upsert(NodeUpdate{Next: Some(slots[0])})
	}
	if right != "" {
		p[right] = Upsert(NodeUpdate{Previous: Some(slots[last])})
	}
	return p, slots, nil
}

// DeletePatch builds the patch that removes slot and bridges its neighbors.
func DeletePatch(s Structure, slot OrderHash) (Patch, error) {
	n, ok := s.order[slot]
	if !ok {
		return nil, fmt.Errorf("delete %q: %w", slot, ErrUnknownSlot)
	}

	p := Patch{slot: Remove()}
	if n.Previous != "" {
		p[n.Previous] = Upsert(NodeUpdate{Next: Some(n.Next)})
	}
	if n.Next != "" {
		p[n.Next] = Upsert(NodeUpdate{Previous: Some(n.Previous)})
	}
	return p, nil
}

// SnapshotPatch describes every slot of s in full. Merged with flush into any
// structure it reproduces the order of s.
func SnapshotPatch(s Structure) Patch {
	p := make(Patch, len(s.order))
	for hash, n := range s.order {
		p[hash] = Upsert(NodeUpdate{
			TrackID:  Some(n.TrackID),
			Next:     Some(n.Next),
			Previous: Some(n.Previous),
		})
	}
	return p
}

// MovePatch builds the patch that moves slot right after the slot after (or
// to the head when after is empty). The slot keeps its hash. Moving a slot
// after itself or to where it already is yields an empty patch.
func MovePatch(s Structure, slot, after OrderHash) (Patch, error) {
	n, ok := s.order[slot]
	if !ok {
		return nil, fmt.Errorf("move %q: %w", slot, ErrUnknownSlot)
	}
	if after == slot || after == n.Previous {
		return Patch{}, nil
	}

	del, err := DeletePatch(s, slot)
	if err != nil {
		return nil, err
	}
	ins, slots, err := InsertPatch(Merge(s, del, false), []TrackID{n.TrackID}, after)
	if err != nil {
		return nil, err
	}
	return Compose(del, renameSlot(ins, slots[0], slot)), nil
}

// Compose returns one patch equivalent to merging a and then b without flush.
func Compose(a, b Patch) Patch {
	out := make(Patch, len(a)+len(b))
	for hash, ch := range a {
		out[hash] = ch
	}
	for hash, next := range b {
		prev, ok := out[hash]
		switch {
		case next.Kind == Unchanged:
		case !ok || prev.Kind == Unchanged || next.Kind == Removed:
			out[hash] = next
		case prev.Kind == Removed:
			// the slot is recreated from scratch
			u := next.Update
			if !u.TrackID.Set {
				u.TrackID = Some(TrackID(0))
			}
			if !u.Next.Set {
				u.Next = Some(OrderHash(""))
			}
			if !u.Previous.Set {
				u.Previous = Some(OrderHash(""))
			}
			out[hash] = Upsert(u)
		default:
			u := prev.Update
			if next.Update.TrackID.Set {
				u.TrackID = next.Update.TrackID
			}
			if next.Update.Next.Set {
				u.Next = next.Update.Next
			}
			if next.Update.Previous.Set {
				u.Previous = next.Update.Previous
			}
			out[hash] = Upsert(u)
		}
	}
	return out
}

func renameSlot(p Patch, from, to OrderHash) Patch {
	rename := func(f Field[OrderHash]) Field[OrderHash] {
		if f.Set && f.Value == from {
			f.Value = to
		}
		return f
	}
	out := make(Patch, len(p))
	for hash, ch := range p {
		ch.Update.Next = rename(ch.Update.Next)
		ch.Update.Previous = rename(ch.Update.Previous)
		if hash == from {
			hash = to
		}
		out[hash] = ch
	}
	return out
}

func (s Structure) has(hash OrderHash) bool {
	_, ok := s.order[hash]
	return ok
}
