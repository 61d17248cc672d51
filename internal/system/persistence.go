package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/moonduel/server/internal/core/event"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/persist"
)

// CombatLog is the write side of the combat log repository.
type CombatLog interface {
	WriteHits(ctx context.Context, entries []persist.HitEntry) error
	WritePresence(ctx context.Context, entries []persist.PresenceEntry) error
}

// maxPending caps queued entries while the database is unreachable.
const maxPending = 4096

// PersistenceSystem queues hit and presence events and writes them in
// batches every interval steps. Phase 6 (Persist).
type PersistenceSystem struct {
	repo      CombatLog
	log       *zap.Logger
	tickCount int
	interval  int // flush every N steps

	hits     []persist.HitEntry
	presence []persist.PresenceEntry
}

func NewPersistenceSystem(bus *event.Bus, repo CombatLog, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	s := &PersistenceSystem{repo: repo, log: log, interval: intervalTicks}
	event.Subscribe(bus, func(e event.AvatarStruck) {
		s.hits = appendCapped(s.hits, persist.HitEntry{
			Frame:    e.Frame,
			Victim:   e.Victim,
			Attacker: e.Attacker,
			Attack:   e.AttackName,
			X:        e.Position.X(),
			Y:        e.Position.Y(),
			Z:        e.Position.Z(),
		})
	})
	event.Subscribe(bus, func(e event.AvatarJoined) {
		s.presence = appendCapped(s.presence, persist.PresenceEntry{
			Slot: e.Slot, SessionID: e.SessionID, Name: e.Name, Bot: e.Bot, Joined: true,
		})
	})
	event.Subscribe(bus, func(e event.AvatarLeft) {
		s.presence = appendCapped(s.presence, persist.PresenceEntry{
			Slot: e.Slot, SessionID: e.SessionID,
		})
	})
	return s
}

func appendCapped[T any](q []T, v T) []T {
	if len(q) >= maxPending {
		q = append(q[:0], q[1:]...)
	}
	return append(q, v)
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.Flush()
}

// Pending is the number of queued entries.
func (s *PersistenceSystem) Pending() int {
	return len(s.hits) + len(s.presence)
}

// Flush writes everything queued. Failed batches stay queued for the next
// attempt. Also called on shutdown.
func (s *PersistenceSystem) Flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(s.hits) > 0 {
		if err := s.repo.WriteHits(ctx, s.hits); err != nil {
			s.log.Error("命中紀錄寫入失敗", zap.Int("count", len(s.hits)), zap.Error(err))
		} else {
			s.hits = s.hits[:0]
		}
	}
	if len(s.presence) > 0 {
		if err := s.repo.WritePresence(ctx, s.presence); err != nil {
			s.log.Error("進出紀錄寫入失敗", zap.Int("count", len(s.presence)), zap.Error(err))
		} else {
			s.presence = s.presence[:0]
		}
	}
}
