package system

import (
	"time"

	"github.com/moonduel/server/internal/clock"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/world"
)

// AvatarSystem advances every avatar's state machine and movement inside the
// arena. Phase 2 (Update).
type AvatarSystem struct {
	world *world.State
	clock *clock.Clock
}

func NewAvatarSystem(ws *world.State, c *clock.Clock) *AvatarSystem {
	return &AvatarSystem{world: ws, clock: c}
}

func (s *AvatarSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *AvatarSystem) Update(dt time.Duration) {
	s.world.Avatars.UpdateFixed(s.clock.SimFrame(), float32(dt.Seconds()))
}
