package avatar

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/geom"
)

const (
	inputDeadzone = 0.1
	standingSpeed = 0.05
	minDistance   = 1e-3
	groundHeight  = 0
	// uTurnDone is the facing·target dot at which a U-turn is complete.
	uTurnDone = 0.9999

	// Hermite tangent angles for the lunge, relative to the to-target direction.
	lungeOutAngle = 0.4 * math.Pi
	lungeInAngle  = -0.7 * math.Pi
)

func approach(cur, target, maxStep float32) float32 {
	if cur < target {
		return mgl32.Clamp(cur+maxStep, cur, target)
	}
	return mgl32.Clamp(cur-maxStep, target, cur)
}

// --- None ---

func nextNone(s step, a *Avatar) State {
	for _, st := range []State{StateAttackSide, StateAttackVertical, StateAttackPunch} {
		if a.Input.Has(attackAction(st)) && s.c.attacks.Get(st.AttackKind()) != nil {
			return st
		}
	}
	return StateNone
}

func attackAction(st State) Action {
	switch st {
	case StateAttackSide:
		return ActionAttackSide
	case StateAttackVertical:
		return ActionAttackVertical
	case StateAttackPunch:
		return ActionAttackPunch
	}
	return 0
}

func enterNone(_ step, a *Avatar) {
	a.Momentum = mgl32.Vec3{}
}

func moveNone(s step, a *Avatar) Motion {
	t := &s.c.tuning
	dir := a.Input.MoveDir()
	mag := dir.Len()
	walk := a.Input.Has(ActionWalk)

	var want float32
	if mag > inputDeadzone {
		limit := t.RunSpeed
		if walk {
			limit = t.WalkSpeed
		}
		want = limit * mag
	}
	a.Speed = approach(a.Speed, want, t.Acceleration*s.dt)
	a.Flags.Set(FlagWalking, walk && a.Speed > standingSpeed)

	rate := t.TurnRateMoving
	if a.Speed < standingSpeed {
		rate = t.TurnRateStanding
	}

	facing := a.Orientation
	switch {
	case a.Flags.Has(FlagUTurn):
		// runs to completion even once the stick is released
		facing = geom.TurnToward(facing, a.UTurnTarget, 2*rate*s.dt)
		if facing.Dot(a.UTurnTarget) >= uTurnDone {
			a.Flags.Set(FlagUTurn, false)
		}
	case mag > inputDeadzone:
		to := dir.Mul(1 / mag)
		if facing.Dot(to) < t.UTurnDot {
			a.Flags.Set(FlagUTurn, true)
			a.UTurnTarget = to
			facing = geom.TurnToward(facing, to, 2*rate*s.dt)
		} else {
			facing = geom.TurnToward(facing, to, rate*s.dt)
		}
	}
	return Motion{Delta: facing.Mul(a.Speed * s.dt), Facing: facing}
}

// --- Attacks ---

func nextAttack(s step, a *Avatar) State {
	if a.Attack == nil || a.Elapsed(s.frame) >= a.Attack.Duration {
		return StateNone
	}
	return a.State
}

func enterAttack(s step, a *Avatar) {
	a.Attack = s.c.attacks.Get(a.State.AttackKind())
	a.EntryOrigin = a.Origin
	a.Momentum = geom.Flat(a.Orientation).Mul(a.Speed)
	a.Speed = 0
	a.hasBlade = false
	a.Flags.Set(FlagWalking|FlagUTurn, false)
}

func exitAttack(_ step, a *Avatar) {
	a.Attack = nil
	a.Momentum = mgl32.Vec3{}
	a.hasBlade = false
}

// faceTarget turns toward tgt at the target-lock rate.
func faceTarget(s step, a *Avatar, tgt *Avatar) mgl32.Vec3 {
	to := geom.Flat(tgt.Origin.Sub(a.Origin))
	if to.Len() < minDistance {
		return a.Orientation
	}
	return geom.TurnToward(a.Orientation, to.Normalize(), s.c.tuning.TargetTurnRate*s.dt)
}

// moveSwing steers toward the attack's stand-off distance from the locked
// target during the move window, carrying decaying run momentum.
func moveSwing(s step, a *Avatar) Motion {
	m := Motion{Facing: a.Orientation}
	tgt := s.c.target(s.slot, a)
	if tgt != nil {
		m.Facing = faceTarget(s, a, tgt)
	}
	if !a.Attack.Moving(a.Elapsed(s.frame)) {
		return m
	}

	decay := 1 - s.c.tuning.MomentumDecay*s.dt
	if decay < 0 {
		decay = 0
	}
	a.Momentum = a.Momentum.Mul(decay)
	m.Delta = a.Momentum.Mul(s.dt)

	if tgt != nil {
		to := geom.Flat(tgt.Origin.Sub(a.Origin))
		if dist := to.Len(); dist > minDistance {
			limit := a.Attack.ApproachSpeed * s.dt
			d := mgl32.Clamp(dist-a.Attack.IdealDistance, -limit, limit)
			m.Delta = m.Delta.Add(to.Mul(d / dist))
		}
	}
	return m
}

// moveLunge follows a Hermite curve from the entry point to the stand-off
// point in front of the target. Without a target it stays put.
func moveLunge(s step, a *Avatar) Motion {
	m := Motion{Facing: a.Orientation}
	tgt := s.c.target(s.slot, a)
	if tgt == nil {
		return m
	}
	m.Facing = faceTarget(s, a, tgt)

	atk := a.Attack
	rel := a.Elapsed(s.frame)
	if !atk.Moving(rel) {
		return m
	}
	to := geom.Flat(tgt.Origin.Sub(a.EntryOrigin))
	dist := to.Len()
	if dist < minDistance {
		return m
	}
	dir := to.Mul(1 / dist)

	u := float32(rel-atk.Move[0]+1) / float32(atk.Move[1]-atk.Move[0])
	end := a.EntryOrigin.Add(dir.Mul(dist - atk.IdealDistance))
	m0 := geom.RotateY(dir, lungeOutAngle).Mul(dist)
	m1 := geom.RotateY(dir, lungeInAngle).Mul(-dist)
	p := geom.Hermite(a.EntryOrigin, m0, end, m1, u)
	m.Delta = geom.Flat(p.Sub(a.Origin))
	return m
}

// --- Struck ---

func nextStruck(s step, a *Avatar) State {
	if a.GroundedFrame >= 0 && s.frame-a.GroundedFrame >= s.c.tuning.StruckGrace {
		return StateNone
	}
	return StateStruck
}

// enterStruck launches the avatar away from whoever hit it first.
func enterStruck(s step, a *Avatar) {
	a.Speed = 0
	a.GroundedFrame = -1
	a.Flags.Set(FlagWalking|FlagUTurn, false)
	if len(a.HitBy) == 0 {
		a.Velocity = mgl32.Vec3{}
		return
	}
	hit := a.HitBy[0]
	from := hit.Position
	if src, ok := s.c.avatars.At(hit.Attacker); ok {
		from = src.Origin
	}
	away := geom.NormalizeOr(geom.Flat(a.Origin.Sub(from)), a.Orientation.Mul(-1))
	a.Velocity = away.Mul(hit.Knockback).Add(geom.Up.Mul(hit.KnockUp))
}

func exitStruck(_ step, a *Avatar) {
	a.HitBy = a.HitBy[:0]
	a.Velocity = mgl32.Vec3{}
	a.GroundedFrame = -1
}

func moveStruck(s step, a *Avatar) Motion {
	t := &s.c.tuning
	if a.GroundedFrame < 0 {
		a.Velocity[1] -= t.Gravity * s.dt
	} else {
		f := 1 - t.GroundFriction*s.dt
		if f < 0 {
			f = 0
		}
		a.Velocity[0] *= f
		a.Velocity[2] *= f
	}

	m := Motion{Delta: a.Velocity.Mul(s.dt), Facing: a.Orientation}
	if a.Origin.Y()+m.Delta.Y() <= groundHeight {
		m.Delta[1] = groundHeight - a.Origin.Y()
		a.Velocity[1] = 0
		if a.GroundedFrame < 0 {
			a.GroundedFrame = s.frame
		}
	}
	return m
}
