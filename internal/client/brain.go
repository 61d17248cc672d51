package client

import (
	"math"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/scripting"
	"github.com/moonduel/server/internal/snapshot"
)

// Brain drives the client's own avatar from a Lua bot_think script that
// sees the world as interpolated at the render frame.
func Brain(engine *scripting.Engine, c *Client, arenaRadius float32) InputSource {
	return func(frame int32, view *snapshot.Snapshot) avatar.Input {
		ctx, ok := BrainContext(view, c.Slot(), frame, arenaRadius)
		if !ok {
			return idleInput(frame, view)
		}
		facing := view.Avatars[ctx.Slot].Orientation
		return engine.BotThink(ctx).Input(facing, frame)
	}
}

// BrainContext describes slot self of view to a bot brain. ok is false when
// there is no view or the slot is not active in it.
func BrainContext(view *snapshot.Snapshot, self int, frame int32, arenaRadius float32) (scripting.BotContext, bool) {
	if view == nil || self < 0 || self >= snapshot.MaxAvatars {
		return scripting.BotContext{}, false
	}
	me := view.Avatars[self]
	flags := avatar.Flags(me.Flags)
	if !flags.Has(avatar.FlagActive) {
		return scripting.BotContext{}, false
	}

	ctx := scripting.BotContext{
		Slot:        self,
		Frame:       frame,
		X:           me.Origin.X(),
		Z:           me.Origin.Z(),
		FacingX:     me.Orientation.X(),
		FacingZ:     me.Orientation.Z(),
		State:       avatar.State(me.State).String(),
		Elapsed:     frame - me.StateStartFrame,
		ArenaRadius: arenaRadius,
	}
	for i := range view.Avatars {
		if i != self && avatar.Flags(view.Avatars[i].Flags).Has(avatar.FlagActive) {
			ctx.Opponents++
		}
	}

	idx, ok := flags.Target()
	if !ok || idx == self || idx >= snapshot.MaxAvatars {
		return ctx, true
	}
	t := view.Avatars[idx]
	if !avatar.Flags(t.Flags).Has(avatar.FlagActive) {
		return ctx, true
	}
	d := t.Origin.Sub(me.Origin)
	ctx.HasTarget = true
	ctx.TargetSlot = idx
	ctx.TargetX = t.Origin.X()
	ctx.TargetZ = t.Origin.Z()
	ctx.TargetDist = float32(math.Hypot(float64(d.X()), float64(d.Z())))
	ctx.TargetState = avatar.State(t.State).String()
	return ctx, true
}
