package handler

import (
	"github.com/moonduel/server/internal/core/event"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
)

// HandleLeave processes C_LEAVE. The connection stays open and may join again.
func HandleLeave(sess *net.Session, _ *packet.Reader, deps *Deps) {
	LeaveWorld(sess.ID, deps)
	sess.SetState(packet.StateHandshake)
}

// LeaveWorld releases the avatar owned by a session, if any, and announces
// it. Used by C_LEAVE and by disconnect cleanup.
func LeaveWorld(sessionID uint64, deps *Deps) bool {
	p := deps.World.Leave(sessionID)
	if p == nil {
		return false
	}
	event.Emit(deps.Bus, event.AvatarLeft{Slot: p.Slot, SessionID: sessionID})
	return true
}
