package avatar

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/data"
)

type State uint8

const (
	StateNone State = iota
	StateAttackSide
	StateAttackVertical
	StateAttackPunch
	StateStruck

	stateCount
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateAttackSide:
		return "AttackSide"
	case StateAttackVertical:
		return "AttackVertical"
	case StateAttackPunch:
		return "AttackPunch"
	case StateStruck:
		return "Struck"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// IsAttack reports whether s is one of the attack states.
func (s State) IsAttack() bool {
	return s == StateAttackSide || s == StateAttackVertical || s == StateAttackPunch
}

// AttackKind is the attack table kind bound to an attack state.
func (s State) AttackKind() string {
	switch s {
	case StateAttackSide:
		return data.KindSide
	case StateAttackVertical:
		return data.KindVertical
	case StateAttackPunch:
		return data.KindPunch
	}
	return ""
}

// Motion is what one state's integration step produces: a translation for
// this tick and the new facing.
type Motion struct {
	Delta  mgl32.Vec3
	Facing mgl32.Vec3
}

// step is the read-only context a state function runs against.
type step struct {
	c     *Controller
	slot  int
	frame int32
	dt    float32
}

type stateFuncs struct {
	// next picks the state for this tick before motion runs.
	next  func(s step, a *Avatar) State
	enter func(s step, a *Avatar)
	exit  func(s step, a *Avatar)
	move  func(s step, a *Avatar) Motion
}

var states [stateCount]stateFuncs

func init() {
	attack := stateFuncs{next: nextAttack, enter: enterAttack, exit: exitAttack}
	states = [stateCount]stateFuncs{
		StateNone:   {next: nextNone, enter: enterNone, exit: noop, move: moveNone},
		StateStruck: {next: nextStruck, enter: enterStruck, exit: exitStruck, move: moveStruck},
	}
	for _, s := range []State{StateAttackSide, StateAttackVertical, StateAttackPunch} {
		states[s] = attack
	}
	states[StateAttackSide].move = moveSwing
	states[StateAttackVertical].move = moveSwing
	states[StateAttackPunch].move = moveLunge
}

func noop(step, *Avatar) {}
