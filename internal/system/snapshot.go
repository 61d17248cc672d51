package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/moonduel/server/internal/clock"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/snapshot"
	"github.com/moonduel/server/internal/world"
)

// SnapshotRecorder receives every captured snapshot.
type SnapshotRecorder interface {
	Record(s *snapshot.Snapshot) error
}

// SnapshotSystem captures the replicated world after combat resolution,
// keeps the recent history and encodes the packet OutputSystem broadcasts.
// Phase 4 (PostUpdate).
type SnapshotSystem struct {
	world    *world.State
	clock    *clock.Clock
	history  *snapshot.Buffer
	recorder SnapshotRecorder // nil = not recording
	log      *zap.Logger

	cur    snapshot.Snapshot
	packet []byte
}

func NewSnapshotSystem(ws *world.State, c *clock.Clock, history *snapshot.Buffer, rec SnapshotRecorder, log *zap.Logger) *SnapshotSystem {
	return &SnapshotSystem{world: ws, clock: c, history: history, recorder: rec, log: log}
}

func (s *SnapshotSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *SnapshotSystem) Update(_ time.Duration) {
	frame := s.clock.SimFrame()
	s.world.Capture(frame, &s.cur)

	if s.history.Accepts(frame) {
		if err := s.history.Set(s.cur); err != nil {
			s.log.Warn("快照寫入歷史失敗", zap.Int32("frame", frame), zap.Error(err))
		}
	}

	data, err := snapshot.EncodePacket(&s.cur)
	if err != nil {
		s.log.Error("快照編碼失敗", zap.Int32("frame", frame), zap.Error(err))
		s.packet = nil
		return
	}
	s.packet = data

	if s.recorder != nil {
		if err := s.recorder.Record(&s.cur); err != nil {
			s.log.Error("快照錄製失敗，停止錄製", zap.Error(err))
			s.recorder = nil
		}
	}
}

// Packet is the encoded S_SNAPSHOT of the latest step, nil if encoding failed.
func (s *SnapshotSystem) Packet() []byte { return s.packet }

// Current is the latest captured snapshot. Valid until the next Update.
func (s *SnapshotSystem) Current() *snapshot.Snapshot { return &s.cur }

func (s *SnapshotSystem) History() *snapshot.Buffer { return s.history }
