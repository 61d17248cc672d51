// Package geom collects the small vector helpers shared by the simulation.
// Y is up; facing and steering happen in the XZ plane.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var Up = mgl32.Vec3{0, 1, 0}

// UnitTolerance is how far a direction may drift from unit length before the
// development assertions fire.
const UnitTolerance = 1e-3

func Lerp(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

func LerpF(a, b, t float32) float32 {
	return a + (b-a)*t
}

// Flat projects v onto the XZ plane.
func Flat(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v.X(), 0, v.Z()}
}

// IsUnit reports whether v has unit length within UnitTolerance.
func IsUnit(v mgl32.Vec3) bool {
	return math.Abs(float64(v.Len())-1) <= UnitTolerance
}

// NormalizeOr returns v normalized, or fallback when v is (near) zero.
func NormalizeOr(v, fallback mgl32.Vec3) mgl32.Vec3 {
	if v.Len() < 1e-6 {
		return fallback
	}
	return v.Normalize()
}

// RotateY rotates v about the up axis by angle radians.
func RotateY(v mgl32.Vec3, angle float32) mgl32.Vec3 {
	return mgl32.Rotate3DY(angle).Mul3x1(v)
}

// YawBetween is the signed angle that RotateY must apply to bring the XZ
// projection of from onto the XZ projection of to.
func YawBetween(from, to mgl32.Vec3) float32 {
	cross := from.Z()*to.X() - from.X()*to.Z()
	dot := from.X()*to.X() + from.Z()*to.Z()
	return float32(math.Atan2(float64(cross), float64(dot)))
}

// TurnToward rotates from toward to by at most maxStep radians.
func TurnToward(from, to mgl32.Vec3, maxStep float32) mgl32.Vec3 {
	angle := YawBetween(from, to)
	step := mgl32.Clamp(angle, -maxStep, maxStep)
	return RotateY(from, step)
}

// Hermite evaluates the cubic Hermite spline through p0 and p1 with tangents
// m0 and m1 at u in [0, 1].
func Hermite(p0, m0, p1, m1 mgl32.Vec3, u float32) mgl32.Vec3 {
	u2 := u * u
	u3 := u2 * u
	h00 := 2*u3 - 3*u2 + 1
	h10 := u3 - 2*u2 + u
	h01 := -2*u3 + 3*u2
	h11 := u3 - u2
	return p0.Mul(h00).Add(m0.Mul(h10)).Add(p1.Mul(h01)).Add(m1.Mul(h11))
}
