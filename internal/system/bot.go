package system

import (
	"fmt"
	"math"
	"time"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/core/event"
	"github.com/moonduel/server/internal/core/slot"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/scripting"
	"github.com/moonduel/server/internal/world"
)

// BotSystem asks the Lua brain of every bot for this step's input.
// Phase 1 (PreUpdate), after collision clear.
type BotSystem struct {
	world  *world.State
	clock  *clock.Clock
	engine *scripting.Engine
}

func NewBotSystem(ws *world.State, c *clock.Clock, engine *scripting.Engine) *BotSystem {
	return &BotSystem{world: ws, clock: c, engine: engine}
}

func (s *BotSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *BotSystem) Update(_ time.Duration) {
	frame := s.clock.SimFrame()
	active := 0
	s.world.Avatars.Each(func(_ slot.Handle, a *avatar.Avatar) {
		if a.Active() {
			active++
		}
	})
	s.world.Bots(func(p *world.PlayerInfo) {
		a, ok := s.world.Avatars.Get(p.Handle)
		if !ok || !a.Active() {
			return
		}
		ctx := s.botContext(p.Slot, a, frame, active-1)
		cmd := s.engine.BotThink(ctx)
		s.world.Avatars.SetInput(p.Handle, cmd.Input(a.Orientation, frame))
	})
}

func (s *BotSystem) botContext(self int, a *avatar.Avatar, frame int32, opponents int) scripting.BotContext {
	ctx := scripting.BotContext{
		Slot:        self,
		Frame:       frame,
		X:           a.Origin.X(),
		Z:           a.Origin.Z(),
		FacingX:     a.Orientation.X(),
		FacingZ:     a.Orientation.Z(),
		State:       a.State.String(),
		Elapsed:     a.Elapsed(frame),
		Opponents:   opponents,
		ArenaRadius: s.world.ArenaRadius(),
	}
	idx, ok := a.Flags.Target()
	if !ok {
		return ctx
	}
	t, ok := s.world.Avatars.At(idx)
	if !ok || !t.Active() {
		return ctx
	}
	d := t.Origin.Sub(a.Origin)
	ctx.HasTarget = true
	ctx.TargetSlot = idx
	ctx.TargetX = t.Origin.X()
	ctx.TargetZ = t.Origin.Z()
	ctx.TargetDist = float32(math.Hypot(float64(d.X()), float64(d.Z())))
	ctx.TargetState = t.State.String()
	return ctx
}

// SpawnBots adds count bots named from names, falling back to "bot-N".
func SpawnBots(ws *world.State, bus *event.Bus, names []string, count int, frame int32) (int, error) {
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("bot-%d", i+1)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		p, err := ws.AddBot(name, frame)
		if err != nil {
			return i, fmt.Errorf("spawn bot %q: %w", name, err)
		}
		event.Emit(bus, event.AvatarJoined{Slot: p.Slot, Name: name, Bot: true})
	}
	return count, nil
}
