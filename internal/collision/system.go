// Package collision is the per-tick scratch registry of attack rays and
// target boxes. Everything registered is discarded by Clear at the start of
// the next fixed step.
package collision

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/core/assert"
)

// DefaultHitPool is the per-query hit limit used when none is configured.
const DefaultHitPool = 8

var (
	ErrHitPoolExhausted = errors.New("hit scratch pool exhausted")
	ErrUnknownTarget    = errors.New("unknown target handle")
)

// Owner identifies the game object that registered a shape. Attacks never
// hit a target with the same owner.
type Owner int

// TargetHandle is returned by AddTargetObb and is valid until Clear.
type TargetHandle int

// Quad is a weapon edge swept over one tick: V0/V1 are last tick's base and
// tip, V2/V3 this tick's tip and base.
type Quad [4]mgl32.Vec3

// Hit is one accepted ray/box intersection.
type Hit struct {
	Attack   int
	Attacker Owner
	Target   Owner
	TMin     float32
	Position mgl32.Vec3
}

// attack is one registered attack shape: a single line, or the up to three
// rays covering a swept quad. It yields at most one hit per target.
type attack struct {
	rays  [3]Ray
	n     int
	owner Owner
}

type target struct {
	obb   OBB
	owner Owner
}

type System struct {
	attacks []attack
	targets []target
	pool    []Hit
}

func New(hitPool int) *System {
	if hitPool <= 0 {
		hitPool = DefaultHitPool
	}
	return &System{
		attacks: make([]attack, 0, 32),
		targets: make([]target, 0, 16),
		pool:    make([]Hit, 0, hitPool),
	}
}

// Clear drops every shape registered this tick.
func (s *System) Clear() {
	s.attacks = s.attacks[:0]
	s.targets = s.targets[:0]
}

func checkDir(r Ray) {
	assert.That(r.Dir.Len() > 0.999 && r.Dir.Len() < 1.001, "attack ray direction %v not unit", r.Dir)
}

func (s *System) AddAttackLine(r Ray, owner Owner) {
	checkDir(r)
	a := attack{n: 1, owner: owner}
	a.rays[0] = r
	s.attacks = append(s.attacks, a)
}

// AddAttackQuad registers the swept quad as one attack tested along its
// current edge plus both diagonals, which together cover the area the blade
// passed through at the resolution of one tick. A degenerate quad adds
// nothing.
func (s *System) AddAttackQuad(q Quad, owner Owner) {
	edges := [3][2]int{{3, 2}, {0, 2}, {1, 3}}
	a := attack{owner: owner}
	for _, e := range edges {
		if r, ok := Segment(q[e[0]], q[e[1]]); ok {
			checkDir(r)
			a.rays[a.n] = r
			a.n++
		}
	}
	if a.n > 0 {
		s.attacks = append(s.attacks, a)
	}
}

func (s *System) AddTargetObb(b OBB, owner Owner) TargetHandle {
	s.targets = append(s.targets, target{obb: b, owner: owner})
	return TargetHandle(len(s.targets) - 1)
}

func (s *System) AddTargetMatrix(m mgl32.Mat4, owner Owner) TargetHandle {
	return s.AddTargetObb(OBBFromMatrix(m), owner)
}

// HitsForTarget tests every registered attack against one target and reports
// at most one hit per attack, at the nearest entry point among its rays. The
// returned slice is backed by the scratch pool and is only valid until the
// next call.
func (s *System) HitsForTarget(h TargetHandle) ([]Hit, error) {
	if h < 0 || int(h) >= len(s.targets) {
		return nil, assert.NoError(fmt.Errorf("%w: %d of %d", ErrUnknownTarget, h, len(s.targets)))
	}
	tgt := s.targets[h]
	hits := s.pool[:0]
	for i, a := range s.attacks {
		if a.owner == tgt.owner {
			continue
		}
		best, tMin, ok := -1, float32(0), false
		for k := 0; k < a.n; k++ {
			if t, hit := IntersectRayOBB(a.rays[k], tgt.obb); hit && (!ok || t < tMin) {
				best, tMin, ok = k, t, true
			}
		}
		if !ok {
			continue
		}
		if len(hits) == cap(s.pool) {
			return hits, assert.NoError(fmt.Errorf("%w: target %d, pool %d", ErrHitPoolExhausted, h, cap(s.pool)))
		}
		hits = append(hits, Hit{
			Attack:   i,
			Attacker: a.owner,
			Target:   tgt.owner,
			TMin:     tMin,
			Position: a.rays[best].At(tMin),
		})
	}
	return hits, nil
}

// AttackCount is the number of attacks, a quad counting once.
func (s *System) AttackCount() int { return len(s.attacks) }
func (s *System) TargetCount() int { return len(s.targets) }

// Shapes copies this tick's geometry for debug inspection, every ray of
// every attack flattened.
func (s *System) Shapes() (rays []Ray, boxes []OBB) {
	for _, a := range s.attacks {
		rays = append(rays, a.rays[:a.n]...)
	}
	boxes = make([]OBB, len(s.targets))
	for i, t := range s.targets {
		boxes[i] = t.obb
	}
	return rays, boxes
}
