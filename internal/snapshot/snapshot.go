// Package snapshot holds the per-frame world state the server publishes and
// the ring buffer both sides use to look it up and interpolate it.
package snapshot

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxAvatars is the fixed number of avatar slots in a duel.
const MaxAvatars = 8

// AvatarState is the replicated part of one avatar slot.
type AvatarState struct {
	Origin          mgl32.Vec3
	Orientation     mgl32.Vec3
	Speed           float32
	State           uint8
	StateStartFrame int32
	Flags           uint32
}

// NetObject is a replicated non-avatar entity.
type NetObject struct {
	ID          int16
	ParentID    int16
	HasParent   bool
	ModelID     uint16
	Origin      mgl32.Vec3
	Orientation mgl32.Vec3
}

// Snapshot is the world state at one simulation frame. Entities are kept
// sorted by ID with no duplicates.
type Snapshot struct {
	Frame    int32
	Avatars  [MaxAvatars]AvatarState
	Entities []NetObject
}

// Clone returns a copy that shares no memory with s.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	if s.Entities != nil {
		out.Entities = append([]NetObject(nil), s.Entities...)
	}
	return out
}

// CopyInto overwrites dst with s, reusing dst's entity storage.
func (s *Snapshot) CopyInto(dst *Snapshot) {
	ents := append(dst.Entities[:0], s.Entities...)
	*dst = *s
	dst.Entities = ents
}

// Validate checks the entity ordering invariant.
func (s *Snapshot) Validate() error {
	for i := 1; i < len(s.Entities); i++ {
		if s.Entities[i].ID <= s.Entities[i-1].ID {
			return fmt.Errorf("frame %d: entity %d out of order after %d",
				s.Frame, s.Entities[i].ID, s.Entities[i-1].ID)
		}
	}
	return nil
}
