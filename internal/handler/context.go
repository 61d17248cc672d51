package handler

import (
	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/config"
	"github.com/moonduel/server/internal/core/event"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config *config.Config
	Log    *zap.Logger
	World  *world.State
	Clock  *clock.Clock
	Bus    *event.Bus
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	// Handshake phase
	reg.Register(packet.C_OPCODE_JOIN,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleJoin(sess.(*net.Session), r, deps)
		},
	)

	// Clock sync works before and after joining
	reg.Register(packet.C_OPCODE_PING,
		[]packet.SessionState{packet.StateHandshake, packet.StateInWorld},
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)

	// In-world phase
	inWorldStates := []packet.SessionState{packet.StateInWorld}

	reg.Register(packet.C_OPCODE_INPUT, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleInput(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_LEAVE, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleLeave(sess.(*net.Session), r, deps)
		},
	)
}
