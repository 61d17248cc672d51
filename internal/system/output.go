package system

import (
	"time"

	"github.com/moonduel/server/internal/clock"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/handler"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/world"
)

// OutputSystem broadcasts the step's snapshot to joined players, sends the
// periodic S_CLOCK to every connected session and flushes all output.
// Phase 5 (Output).
type OutputSystem struct {
	world     *world.State
	store     *net.SessionStore
	clock     *clock.Clock
	snapshots *SnapshotSystem

	clockEvery int // steps between S_CLOCK broadcasts
	counter    int
}

func NewOutputSystem(ws *world.State, store *net.SessionStore, c *clock.Clock, snapshots *SnapshotSystem, clockInterval time.Duration) *OutputSystem {
	every := int(clockInterval / c.SimDtDuration())
	if every < 1 {
		every = 1
	}
	return &OutputSystem{
		world:      ws,
		store:      store,
		clock:      c,
		snapshots:  snapshots,
		clockEvery: every,
	}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	if data := s.snapshots.Packet(); data != nil {
		handler.BroadcastToPlayers(s.world, data)
	}

	s.counter++
	if s.counter >= s.clockEvery {
		s.counter = 0
		now := s.clock.ServerTime()
		s.store.ForEach(func(sess *net.Session) {
			if sess.State() != packet.StateDisconnecting {
				handler.SendClock(sess, now, 0)
			}
		})
	}

	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
