package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// OpKind discriminates the mutation an operation carries.
type OpKind string

const (
	OpAddStroke OpKind = "add_stroke"
	OpAddNote   OpKind = "add_note"
	OpEditNote  OpKind = "edit_note"
	OpSetTitle  OpKind = "set_title"
)

// OpID identifies an operation: the originating actor plus that actor's
// monotonically increasing counter. Two replicas merging the same history
// deduplicate on this key.
type OpID struct {
	Actor string `json:"actor"`
	Seq   uint64 `json:"seq"`
}

// Op is one entry in the replicated operation log. Clock is a Lamport
// timestamp and Deps the emitting replica's version vector at emission time;
// together they let every replica replay the merged log in the same
// dependency-respecting total order.
type Op struct {
	ID    OpID              `json:"id"`
	Clock uint64            `json:"clock"`
	Deps  map[string]uint64 `json:"deps,omitempty"`
	Kind  OpKind            `json:"kind"`
	Time  time.Time         `json:"time"`

	// Payload, interpreted per Kind.
	ElemID string  `json:"elem_id,omitempty"`
	Points []Point `json:"points,omitempty"`
	Color  string  `json:"color,omitempty"`
	Width  int     `json:"width,omitempty"`
	Text   string  `json:"text,omitempty"`
	Pos    Point   `json:"pos"`
}

func (op Op) valid() error {
	if op.ID.Actor == "" {
		return fmt.Errorf("op without actor")
	}
	if op.ID.Seq == 0 {
		return fmt.Errorf("op %s with zero seq", op.ID.Actor)
	}
	switch op.Kind {
	case OpAddStroke:
		if op.ElemID == "" {
			return fmt.Errorf("add_stroke without element id")
		}
		if len(op.Points) < 1 {
			return fmt.Errorf("add_stroke %s with no points", op.ElemID)
		}
		if op.Width <= 0 {
			return fmt.Errorf("add_stroke %s with width %d", op.ElemID, op.Width)
		}
	case OpAddNote, OpEditNote:
		if op.ElemID == "" {
			return fmt.Errorf("%s without element id", op.Kind)
		}
	case OpSetTitle:
		// no payload constraints
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

// before defines the replay order: Lamport clock first, then actor id, then
// sequence number. Causal successors carry a strictly larger clock, so the
// order respects dependencies; the actor tie-break makes it total and
// identical on every replica, which is what decides concurrent last-writer
// conflicts deterministically.
func (op Op) before(other Op) bool {
	if op.Clock != other.Clock {
		return op.Clock < other.Clock
	}
	if op.ID.Actor != other.ID.Actor {
		return op.ID.Actor < other.ID.Actor
	}
	return op.ID.Seq < other.ID.Seq
}

// cursorRecord is the wire and merge form of one actor's cursor. Clock
// breaks the tie between two snapshots carrying the same actor's cursor.
type cursorRecord struct {
	Pos        Point     `json:"pos"`
	LastActive time.Time `json:"last_active"`
	Clock      uint64    `json:"clock"`
}

func (c cursorRecord) supersedes(other cursorRecord) bool {
	if c.Clock != other.Clock {
		return c.Clock > other.Clock
	}
	return c.LastActive.After(other.LastActive)
}

const snapshotVersion = 1

// snapshot is the self-describing serialized form of a replica: the full
// operation history plus the cursor map. The same encoding is used for wire
// broadcast, for Save, and for loading a persisted replica.
type snapshot struct {
	Version int                     `json:"version"`
	Ops     []Op                    `json:"ops"`
	Cursors map[string]cursorRecord `json:"cursors,omitempty"`
}

func encodeSnapshot(ops map[OpID]Op, cursors map[string]cursorRecord) ([]byte, error) {
	sn := snapshot{
		Version: snapshotVersion,
		Ops:     sortedOps(ops),
		Cursors: cursors,
	}
	data, err := json.Marshal(sn)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (snapshot, error) {
	var sn snapshot
	if err := json.Unmarshal(data, &sn); err != nil {
		return snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if sn.Version != snapshotVersion {
		return snapshot{}, fmt.Errorf("unsupported snapshot version %d", sn.Version)
	}
	for _, op := range sn.Ops {
		if err := op.valid(); err != nil {
			return snapshot{}, fmt.Errorf("invalid snapshot: %w", err)
		}
	}
	for actor := range sn.Cursors {
		if actor == "" {
			return snapshot{}, fmt.Errorf("invalid snapshot: cursor without actor")
		}
	}
	return sn, nil
}

func sortedOps(ops map[OpID]Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}
