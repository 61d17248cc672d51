package avatar

import "github.com/go-gl/mathgl/mgl32"

// Tuning holds the movement constants shared by every avatar. Speeds are in
// m/s, rates in rad/s.
type Tuning struct {
	WalkSpeed        float32
	RunSpeed         float32
	Acceleration     float32
	TurnRateStanding float32
	TurnRateMoving   float32
	TargetTurnRate   float32
	// UTurnDot is the facing·input threshold below which a U-turn starts.
	UTurnDot       float32
	MomentumDecay  float32
	Gravity        float32
	GroundFriction float32
	StruckGrace    int32 // frames on the ground before Struck ends
	BodyHalfExtent mgl32.Vec3
}

func DefaultTuning() Tuning {
	return Tuning{
		WalkSpeed:        1.8,
		RunSpeed:         5.5,
		Acceleration:     18,
		TurnRateStanding: 12,
		TurnRateMoving:   6,
		TargetTurnRate:   14,
		UTurnDot:         -0.85,
		MomentumDecay:    5,
		Gravity:          20,
		GroundFriction:   8,
		StruckGrace:      18,
		BodyHalfExtent:   mgl32.Vec3{0.35, 0.9, 0.35},
	}
}
