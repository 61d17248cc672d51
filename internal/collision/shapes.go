package collision

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// parallelEpsilon is the |dir·axis| below which a ray is treated as parallel
// to a slab.
const parallelEpsilon = 1e-6

// Ray is a half-line from Origin along the unit vector Dir. A MaxLength of
// zero means unbounded.
type Ray struct {
	Origin    mgl32.Vec3
	Dir       mgl32.Vec3
	MaxLength float32
}

// Segment returns the ray from a to b bounded at |b-a|. ok is false when the
// points coincide.
func Segment(a, b mgl32.Vec3) (Ray, bool) {
	d := b.Sub(a)
	l := d.Len()
	if l < parallelEpsilon {
		return Ray{}, false
	}
	return Ray{Origin: a, Dir: d.Mul(1 / l), MaxLength: l}, true
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// OBB is an oriented box with orthonormal Axes and per-axis half extents.
type OBB struct {
	Center      mgl32.Vec3
	Axes        [3]mgl32.Vec3
	HalfLengths mgl32.Vec3
}

// AxisAligned builds a box aligned with the world axes.
func AxisAligned(center, half mgl32.Vec3) OBB {
	return OBB{
		Center:      center,
		Axes:        [3]mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		HalfLengths: half,
	}
}

// OBBFromMatrix decomposes a transform of the unit cube [-1,1]^3: the
// translation is the center and each basis column's length is the half
// extent along that column.
func OBBFromMatrix(m mgl32.Mat4) OBB {
	var b OBB
	b.Center = m.Col(3).Vec3()
	for i := 0; i < 3; i++ {
		axis := m.Col(i).Vec3()
		l := axis.Len()
		b.HalfLengths[i] = l
		if l > 0 {
			axis = axis.Mul(1 / l)
		}
		b.Axes[i] = axis
	}
	return b
}

// Matrix is the inverse of OBBFromMatrix.
func (b OBB) Matrix() mgl32.Mat4 {
	x := b.Axes[0].Mul(b.HalfLengths[0])
	y := b.Axes[1].Mul(b.HalfLengths[1])
	z := b.Axes[2].Mul(b.HalfLengths[2])
	return mgl32.Mat4FromCols(x.Vec4(0), y.Vec4(0), z.Vec4(0), b.Center.Vec4(1))
}

// IntersectRayOBB runs the slab test. tMin is the entry parameter and is
// negative when the ray starts inside the box. Hits that enter beyond the
// ray's MaxLength are rejected.
func IntersectRayOBB(r Ray, b OBB) (float32, bool) {
	tMin := float32(math.Inf(-1))
	tMax := float32(math.Inf(1))
	p := b.Center.Sub(r.Origin)

	for i := 0; i < 3; i++ {
		axis := b.Axes[i]
		h := b.HalfLengths[i]
		e := axis.Dot(p)
		f := axis.Dot(r.Dir)

		if float32(math.Abs(float64(f))) > parallelEpsilon {
			t1 := (e + h) / f
			t2 := (e - h) / f
			if t1 > t2 {
				t1, t2 = t2, t1
			}
			if t1 > tMin {
				tMin = t1
			}
			if t2 < tMax {
				tMax = t2
			}
			if tMin > tMax || tMax < 0 {
				return 0, false
			}
		} else if -e-h > 0 || -e+h < 0 {
			return 0, false
		}
	}

	if r.MaxLength > 0 && tMin > r.MaxLength {
		return 0, false
	}
	return tMin, true
}
