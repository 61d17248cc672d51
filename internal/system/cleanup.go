package system

import (
	"time"

	"github.com/moonduel/server/internal/avatar"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/metrics"
)

// CleanupSystem releases avatar slots of departed players at step end so
// their final state still makes it into this step's snapshot.
// Phase 7 (Cleanup).
type CleanupSystem struct {
	avatars *avatar.Controller
	metrics *metrics.Metrics
}

func NewCleanupSystem(avatars *avatar.Controller, m *metrics.Metrics) *CleanupSystem {
	return &CleanupSystem{avatars: avatars, metrics: m}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.avatars.Flush()
	if s.metrics != nil {
		s.metrics.SetPlayers(s.avatars.Count())
	}
}
