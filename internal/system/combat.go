package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/core/event"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/world"
)

// CombatSystem resolves hits once every avatar has moved and announces each
// landed attack. Phase 3 (LateUpdate).
type CombatSystem struct {
	world   *world.State
	clock   *clock.Clock
	bus     *event.Bus
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewCombatSystem(ws *world.State, c *clock.Clock, bus *event.Bus, m *metrics.Metrics, log *zap.Logger) *CombatSystem {
	return &CombatSystem{world: ws, clock: c, bus: bus, metrics: m, log: log}
}

func (s *CombatSystem) Phase() coresys.Phase { return coresys.PhaseLateUpdate }

func (s *CombatSystem) Update(_ time.Duration) {
	frame := s.clock.SimFrame()
	for _, st := range s.world.Avatars.UpdateFixedLate(frame) {
		s.log.Debug("命中",
			zap.Int32("frame", frame),
			zap.Int("attacker", st.Attacker),
			zap.Int("victim", st.Victim),
			zap.String("attack", st.Attack),
		)
		event.Emit(s.bus, event.AvatarStruck{
			Frame:      frame,
			Victim:     st.Victim,
			Attacker:   st.Attacker,
			AttackName: st.Attack,
			Position:   st.Position,
		})
		if s.metrics != nil {
			s.metrics.Hit(st.Attack)
		}
	}
}
