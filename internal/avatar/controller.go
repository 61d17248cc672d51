// Package avatar runs the per-slot combat state machine: input and hit
// results in, transforms and combat state out.
package avatar

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/collision"
	"github.com/moonduel/server/internal/core/assert"
	"github.com/moonduel/server/internal/core/slot"
	"github.com/moonduel/server/internal/data"
	"github.com/moonduel/server/internal/geom"
	"github.com/moonduel/server/internal/snapshot"
)

// Strike is a hit that landed on Victim during UpdateFixedLate.
type Strike struct {
	Victim int
	HitRecord
}

// Controller owns the avatar slots and advances them in two passes per fixed
// step: UpdateFixed moves every avatar and registers its geometry,
// UpdateFixedLate resolves hits once all of them have moved.
type Controller struct {
	avatars *slot.Table[Avatar]
	col     *collision.System
	attacks *data.AttackTable
	tuning  Tuning
	log     *zap.Logger

	arenaRadius float32 // 0 = unbounded

	targets   [snapshot.MaxAvatars]collision.TargetHandle
	hasTarget [snapshot.MaxAvatars]bool
	strikes   []Strike
}

func NewController(col *collision.System, attacks *data.AttackTable, tuning Tuning, log *zap.Logger) *Controller {
	return &Controller{
		avatars: slot.NewTable[Avatar](snapshot.MaxAvatars),
		col:     col,
		attacks: attacks,
		tuning:  tuning,
		log:     log,
		strikes: make([]Strike, 0, snapshot.MaxAvatars),
	}
}

func (c *Controller) Tuning() Tuning { return c.tuning }

// SetArenaRadius bounds every avatar to a circle of r around the origin on
// the XZ plane. r <= 0 removes the bound.
func (c *Controller) SetArenaRadius(r float32) {
	c.arenaRadius = max(r, 0)
}

// Spawn activates a free slot at origin facing the XZ direction facing.
func (c *Controller) Spawn(frame int32, origin, facing mgl32.Vec3) (slot.Handle, error) {
	h, a, err := c.avatars.Allocate()
	if err != nil {
		return 0, fmt.Errorf("spawn avatar: %w", err)
	}
	*a = Avatar{
		StateStartFrame: frame,
		Origin:          origin,
		Orientation:     geom.NormalizeOr(geom.Flat(facing), mgl32.Vec3{0, 0, 1}),
		Flags:           FlagActive,
		GroundedFrame:   -1,
	}
	c.log.Debug("角色生成", zap.Int("slot", h.Index()), zap.Int32("frame", frame))
	return h, nil
}

// Despawn deactivates the avatar now and frees its slot on Flush.
func (c *Controller) Despawn(h slot.Handle) bool {
	a, ok := c.avatars.Get(h)
	if !ok {
		return false
	}
	a.Flags.Set(FlagActive, false)
	c.avatars.MarkForFree(h)
	return true
}

// Flush releases slots queued by Despawn.
func (c *Controller) Flush() int {
	return c.avatars.FlushFreeQueue()
}

func (c *Controller) Get(h slot.Handle) (*Avatar, bool) { return c.avatars.Get(h) }
func (c *Controller) At(index int) (*Avatar, bool)      { return c.avatars.At(index) }
func (c *Controller) Count() int                        { return c.avatars.Len() }

// Each visits live avatars in slot order.
func (c *Controller) Each(fn func(slot.Handle, *Avatar)) { c.avatars.Each(fn) }

// SetInput replaces the avatar's held input.
func (c *Controller) SetInput(h slot.Handle, in Input) bool {
	a, ok := c.avatars.Get(h)
	if !ok {
		return false
	}
	a.Input = in.Sanitize()
	return true
}

// Capture writes every slot's replicated state into s. Free slots are zero.
func (c *Controller) Capture(s *snapshot.Snapshot) {
	for i := range s.Avatars {
		if a, ok := c.avatars.At(i); ok {
			s.Avatars[i] = a.NetState()
		} else {
			s.Avatars[i] = snapshot.AvatarState{}
		}
	}
}

// target returns the avatar self has locked, or nil.
func (c *Controller) target(self int, a *Avatar) *Avatar {
	idx, ok := a.Flags.Target()
	if !ok || idx == self {
		return nil
	}
	t, ok := c.avatars.At(idx)
	if !ok || !t.Active() {
		return nil
	}
	return t
}

// UpdateFixed runs transition, motion and geometry registration for every
// active avatar. The collision registry must have been cleared for frame.
func (c *Controller) UpdateFixed(frame int32, dt float32) {
	for i := range c.hasTarget {
		c.hasTarget[i] = false
	}
	c.avatars.Each(func(h slot.Handle, a *Avatar) {
		if !a.Active() {
			return
		}
		s := step{c: c, slot: h.Index(), frame: frame, dt: dt}
		c.updateTargetLock(s.slot, a)
		if next := states[a.State].next(s, a); next != a.State {
			c.transition(s, a, next)
		}
		c.apply(a, states[a.State].move(s, a))
		c.register(s, a)
	})
}

// UpdateFixedLate queries hits for every avatar registered this frame. New
// hits are recorded once per attacker and move the victim into Struck unless
// it already is. The returned slice is reused by the next call.
func (c *Controller) UpdateFixedLate(frame int32) []Strike {
	c.strikes = c.strikes[:0]
	c.avatars.Each(func(h slot.Handle, a *Avatar) {
		i := h.Index()
		if !a.Active() || !c.hasTarget[i] {
			return
		}
		hits, err := c.col.HitsForTarget(c.targets[i])
		if err != nil {
			c.log.Warn("命中查詢失敗", zap.Int("slot", i), zap.Int32("frame", frame), zap.Error(err))
		}

		landed := false
		for _, hit := range hits {
			attacker := int(hit.Attacker)
			if a.hitBy(attacker) {
				continue
			}
			rec := HitRecord{Attacker: attacker, Frame: frame, Position: hit.Position}
			if src, ok := c.avatars.At(attacker); ok && src.Attack != nil {
				rec.Attack = src.Attack.Name
				rec.Knockback = src.Attack.Knockback
				rec.KnockUp = src.Attack.KnockUp
			}
			a.HitBy = append(a.HitBy, rec)
			c.strikes = append(c.strikes, Strike{Victim: i, HitRecord: rec})
			landed = true
		}
		if landed && a.State != StateStruck {
			c.transition(step{c: c, slot: i, frame: frame}, a, StateStruck)
		}
	})
	return c.strikes
}

func (c *Controller) transition(s step, a *Avatar, next State) {
	c.log.Debug("狀態轉換",
		zap.Int("slot", s.slot),
		zap.Int32("frame", s.frame),
		zap.Stringer("from", a.State),
		zap.Stringer("to", next),
	)
	states[a.State].exit(s, a)
	a.State = next
	a.StateStartFrame = s.frame
	states[next].enter(s, a)
}

// apply moves a by m and clamps it into the arena before its geometry is
// registered for this frame.
func (c *Controller) apply(a *Avatar, m Motion) {
	a.Origin = c.confine(a.Origin.Add(m.Delta))
	assert.That(geom.IsUnit(m.Facing), "avatar facing %v is not unit length", m.Facing)
	a.Orientation = geom.NormalizeOr(m.Facing, a.Orientation)
}

func (c *Controller) confine(p mgl32.Vec3) mgl32.Vec3 {
	r := c.arenaRadius
	if r <= 0 {
		return p
	}
	flat := geom.Flat(p)
	if d := flat.Len(); d > r {
		flat = flat.Mul(r / d)
		return mgl32.Vec3{flat.X(), p.Y(), flat.Z()}
	}
	return p
}

// register adds the body box and, while the damage window is open, the
// blade swept since last tick.
func (c *Controller) register(s step, a *Avatar) {
	half := c.tuning.BodyHalfExtent
	f := a.Orientation
	body := collision.OBB{
		Center:      a.Origin.Add(mgl32.Vec3{0, half.Y(), 0}),
		Axes:        [3]mgl32.Vec3{Right(f), geom.Up, f},
		HalfLengths: half,
	}
	c.targets[s.slot] = c.col.AddTargetObb(body, collision.Owner(s.slot))
	c.hasTarget[s.slot] = true

	rel := a.Elapsed(s.frame)
	if !a.State.IsAttack() || a.Attack == nil || !a.Attack.DamageOpen(rel) {
		a.hasBlade = false
		return
	}
	base, tip := blade(a, rel)
	q := collision.Quad{base, tip, tip, base}
	if a.hasBlade {
		q[0], q[1] = a.blade[0], a.blade[1]
	}
	c.col.AddAttackQuad(q, collision.Owner(s.slot))
	a.blade = [2]mgl32.Vec3{base, tip}
	a.hasBlade = true
}

// blade returns the weapon edge for rel frames into the attack.
func blade(a *Avatar, rel int32) (base, tip mgl32.Vec3) {
	atk := a.Attack
	var u float32
	if span := atk.Damage[1] - atk.Damage[0]; span > 1 {
		u = float32(rel-atk.Damage[0]) / float32(span-1)
	}
	angle := mgl32.DegToRad(geom.LerpF(atk.Sweep[0], atk.Sweep[1], u))

	dir := a.Orientation
	switch a.State {
	case StateAttackSide:
		dir = geom.RotateY(a.Orientation, angle)
	case StateAttackVertical:
		sin, cos := math.Sincos(float64(angle))
		dir = a.Orientation.Mul(float32(cos)).Add(geom.Up.Mul(float32(sin)))
	}
	pivot := a.Origin.Add(mgl32.Vec3{0, atk.BladeHeight, 0})
	return pivot.Add(dir.Mul(atk.Reach[0])), pivot.Add(dir.Mul(atk.Reach[1]))
}

// updateTargetLock drops a lock on an inactive slot and cycles the lock when
// the cycle action is pressed after having been released.
func (c *Controller) updateTargetLock(self int, a *Avatar) {
	if _, ok := a.Flags.Target(); ok && c.target(self, a) == nil {
		a.Flags.ClearTarget()
	}
	pressed := a.Input.Has(ActionTargetCycle)
	if pressed && !a.cycleHeld {
		c.cycleTarget(self, a)
	}
	a.cycleHeld = pressed
}

func (c *Controller) cycleTarget(self int, a *Avatar) {
	start := self
	if idx, ok := a.Flags.Target(); ok {
		start = idx
	}
	n := c.avatars.Cap()
	for k := 1; k <= n; k++ {
		j := (start + k) % n
		if j == self {
			continue
		}
		if t, ok := c.avatars.At(j); ok && t.Active() {
			a.Flags.SetTarget(j)
			return
		}
	}
	a.Flags.ClearTarget()
}
