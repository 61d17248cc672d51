package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/handler"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
)

// SessionSource is the part of *net.Server the input system consumes.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
}

// InputSystem drains packet queues from all sessions and dispatches them
// through the packet registry. Phase 0 (Input).
type InputSystem struct {
	source     SessionSource
	registry   *packet.Registry
	store      *net.SessionStore
	maxPerTick int
	deps       *handler.Deps
	log        *zap.Logger
}

func NewInputSystem(
	source SessionSource,
	registry *packet.Registry,
	store *net.SessionStore,
	maxPerTick int,
	deps *handler.Deps,
	log *zap.Logger,
) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 16
	}
	return &InputSystem{
		source:     source,
		registry:   registry,
		store:      store,
		maxPerTick: maxPerTick,
		deps:       deps,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.source.NewSessions():
			s.store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	// Process dead sessions
	for {
		select {
		case id := <-s.source.DeadSessions():
			if sess := s.store.Get(id); sess != nil {
				s.drainClosing(sess)
				s.handleDisconnect(sess)
				s.store.Remove(id)
			}
		default:
			goto doneDead
		}
	}
doneDead:

	// Drain packets from each session (up to maxPerTick per session)
	for id, sess := range s.store.Raw() {
		if sess.IsClosed() {
			s.drainClosing(sess)
			s.handleDisconnect(sess)
			s.store.Remove(id)
			continue
		}

		for i := 0; i < s.maxPerTick; i++ {
			select {
			case data := <-sess.InQueue:
				if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
					s.log.Debug("封包分派錯誤",
						zap.Uint64("session", sess.ID),
						zap.Error(err),
					)
				}
			default:
				goto nextSession
			}
		}
	nextSession:
	}

	// 提前 flush：讓 Phase 0 產生的回應（S_WELCOME、S_CLOCK）立即進入 OutQueue。
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

// drainClosing discards packets still queued on a closed session. Its state
// is Disconnecting, which no handler accepts.
func (s *InputSystem) drainClosing(sess *net.Session) {
	dropped := 0
	for {
		select {
		case <-sess.InQueue:
			dropped++
		default:
			if dropped > 0 {
				s.log.Debug("丟棄斷線連線的封包", zap.Uint64("session", sess.ID), zap.Int("count", dropped))
			}
			return
		}
	}
}

// handleDisconnect releases the session's avatar slot.
func (s *InputSystem) handleDisconnect(sess *net.Session) {
	if handler.LeaveWorld(sess.ID, s.deps) {
		s.log.Info("玩家斷線", zap.Uint64("session", sess.ID), zap.String("name", sess.Name))
	}
}
