package avatar

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/geom"
)

// Action is a bitmask of buttons held during one fixed step.
type Action uint16

const (
	ActionWalk Action = 1 << iota
	ActionAttackSide
	ActionAttackVertical
	ActionAttackPunch
	ActionTargetCycle
)

// Input is one fixed step of player or bot intent. Horizontal and Vertical
// are stick axes in [-1,1] relative to CameraForward.
type Input struct {
	Frame         int32
	Horizontal    float32
	Vertical      float32
	CameraForward mgl32.Vec3
	Actions       Action
}

func (in Input) Has(a Action) bool { return in.Actions&a != 0 }

// Sanitize clamps the axes and drops non-finite values from untrusted input.
func (in Input) Sanitize() Input {
	in.Horizontal = clampAxis(in.Horizontal)
	in.Vertical = clampAxis(in.Vertical)
	for i := range in.CameraForward {
		if !finite(in.CameraForward[i]) {
			in.CameraForward = mgl32.Vec3{}
			break
		}
	}
	return in
}

// MoveDir is the world-space XZ direction the stick points, length <= 1.
func (in Input) MoveDir() mgl32.Vec3 {
	fwd := geom.NormalizeOr(geom.Flat(in.CameraForward), mgl32.Vec3{0, 0, -1})
	right := Right(fwd)
	d := fwd.Mul(in.Vertical).Add(right.Mul(in.Horizontal))
	if l := d.Len(); l > 1 {
		d = d.Mul(1 / l)
	}
	return d
}

// Right is the horizontal right-hand vector for facing f.
func Right(f mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{-f.Z(), 0, f.X()}
}

func clampAxis(v float32) float32 {
	if !finite(v) {
		return 0
	}
	return mgl32.Clamp(v, -1, 1)
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
