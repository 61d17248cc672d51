package avatar

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/data"
	"github.com/moonduel/server/internal/snapshot"
)

// HitRecord is one attack that landed on an avatar during the current
// Struck episode. At most one record is kept per attacker.
type HitRecord struct {
	Attacker  int
	Attack    string
	Frame     int32
	Position  mgl32.Vec3
	Knockback float32
	KnockUp   float32
}

// Avatar is the simulation state of one slot.
type Avatar struct {
	State           State
	StateStartFrame int32
	Origin          mgl32.Vec3
	Orientation     mgl32.Vec3
	Speed           float32
	Velocity        mgl32.Vec3
	Flags           Flags
	HitBy           []HitRecord
	Input           Input

	// Active attack, set on entering an attack state.
	Attack      *data.Attack
	EntryOrigin mgl32.Vec3
	Momentum    mgl32.Vec3

	UTurnTarget   mgl32.Vec3
	GroundedFrame int32

	cycleHeld bool
	blade     [2]mgl32.Vec3
	hasBlade  bool
}

func (a *Avatar) Active() bool { return a.Flags.Has(FlagActive) }

// Elapsed is the number of frames spent in the current state.
func (a *Avatar) Elapsed(frame int32) int32 { return frame - a.StateStartFrame }

func (a *Avatar) hitBy(attacker int) bool {
	for _, h := range a.HitBy {
		if h.Attacker == attacker {
			return true
		}
	}
	return false
}

// NetState is the replicated projection of a.
func (a *Avatar) NetState() snapshot.AvatarState {
	return snapshot.AvatarState{
		Origin:          a.Origin,
		Orientation:     a.Orientation,
		Speed:           a.Speed,
		State:           uint8(a.State),
		StateStartFrame: a.StateStartFrame,
		Flags:           uint32(a.Flags),
	}
}
