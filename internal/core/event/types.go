package event

import "github.com/go-gl/mathgl/mgl32"

// AvatarStruck is emitted by the combat pass when an attack lands.
type AvatarStruck struct {
	Frame      int32
	Victim     int
	Attacker   int
	AttackName string
	Position   mgl32.Vec3
}

type AvatarJoined struct {
	Slot      int
	SessionID uint64
	Name      string
	Bot       bool
}

type AvatarLeft struct {
	Slot      int
	SessionID uint64
}
