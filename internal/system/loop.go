package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/moonduel/server/internal/clock"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/metrics"
)

// Loop drives the runner from display ticks: every tick advances the clock
// and runs one full step per fixed frame that came due.
type Loop struct {
	clock     *clock.Clock
	runner    *coresys.Runner
	metrics   *metrics.Metrics
	log       *zap.Logger
	afterTick func()
}

func NewLoop(c *clock.Clock, runner *coresys.Runner, m *metrics.Metrics, log *zap.Logger) *Loop {
	return &Loop{clock: c, runner: runner, metrics: m, log: log}
}

// AfterTick registers fn to run at the end of every display tick.
func (l *Loop) AfterTick(fn func()) {
	l.afterTick = fn
}

// DisplayTick returns the number of fixed steps it ran. With none due, only
// the Input phase runs so packets and debug commands are still served.
func (l *Loop) DisplayTick() int {
	l.clock.Tick()
	steps := 0
	for l.clock.UpdateFixed() {
		l.runner.Tick(l.clock.SimDtDuration())
		steps++
		if l.metrics != nil {
			l.metrics.FixedStep()
		}
	}
	if steps == 0 {
		l.runner.TickPhase(coresys.PhaseInput, 0)
	}
	if steps > 1 {
		l.log.Warn("單一顯示幀執行多個模擬步",
			zap.Int("steps", steps),
			zap.Int32("frame", l.clock.SimFrame()),
		)
		if l.metrics != nil {
			l.metrics.CatchUp(steps)
		}
	}
	if l.afterTick != nil {
		l.afterTick()
	}
	return steps
}

// Run ticks every interval until ctx is done.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.DisplayTick()
		case <-ctx.Done():
			return
		}
	}
}
