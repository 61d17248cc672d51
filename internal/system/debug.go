package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/clock"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/debugapi"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/world"
)

// DebugSystem applies queued debug commands to the clock and publishes the
// read-only mirror. Phase 0 (Input); it also runs while the clock is paused.
type DebugSystem struct {
	api     *debugapi.API
	clock   *clock.Clock
	world   *world.State
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewDebugSystem(api *debugapi.API, c *clock.Clock, ws *world.State, m *metrics.Metrics, log *zap.Logger) *DebugSystem {
	return &DebugSystem{api: api, clock: c, world: ws, metrics: m, log: log}
}

func (s *DebugSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *DebugSystem) Update(_ time.Duration) {
	for {
		select {
		case cmd := <-s.api.Commands():
			debugapi.Apply(s.clock, cmd)
			s.log.Info("除錯指令套用",
				zap.Stringer("cmd", cmd.Kind),
				zap.Float64("value", cmd.Value),
				zap.Int32("frame", s.clock.SimFrame()),
			)
		default:
			return
		}
	}
}

// Publish refreshes the mirror served by the debug API.
func (s *DebugSystem) Publish() {
	v := debugapi.View{Clock: s.clock.State()}
	s.world.AllPlayers(func(p *world.PlayerInfo) {
		pv := debugapi.PlayerView{Slot: p.Slot, Name: p.Name, Bot: p.Bot}
		if a, ok := s.world.Avatars.Get(p.Handle); ok {
			pv.State = a.State.String()
			pv.X, pv.Y, pv.Z = a.Origin.X(), a.Origin.Y(), a.Origin.Z()
		} else {
			pv.State = avatar.StateNone.String()
		}
		v.Players = append(v.Players, pv)
	})
	if s.metrics != nil {
		v.Metrics = s.metrics.Totals()
	}
	s.api.Publish(v)
}
