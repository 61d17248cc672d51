package system

import (
	"time"

	"github.com/moonduel/server/internal/collision"
	"github.com/moonduel/server/internal/core/event"
	coresys "github.com/moonduel/server/internal/core/system"
)

// EventDispatchSystem delivers the events emitted during the previous step.
// Phase 1 (PreUpdate).
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

// CollisionClearSystem empties the collision registry before avatars
// register this step's geometry. Phase 1 (PreUpdate).
type CollisionClearSystem struct {
	col *collision.System
}

func NewCollisionClearSystem(col *collision.System) *CollisionClearSystem {
	return &CollisionClearSystem{col: col}
}

func (s *CollisionClearSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *CollisionClearSystem) Update(_ time.Duration) {
	s.col.Clear()
}
