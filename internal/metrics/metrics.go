// Package metrics publishes simulation counters through the global
// OpenTelemetry meter. Without an installed SDK every instrument is a no-op;
// totals are also kept locally for the debug API.
package metrics

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/moonduel/server/internal/metrics"

// Totals is a point-in-time copy of the local counters.
type Totals struct {
	FixedSteps   int64 `json:"fixed_steps"`
	CatchUpTicks int64 `json:"catch_up_ticks"`
	Hits         int64 `json:"hits"`
	LerpMisses   int64 `json:"lerp_misses"`
	Players      int64 `json:"players"`
}

type Metrics struct {
	steps   metric.Int64Counter
	catchUp metric.Int64Counter
	hits    metric.Int64Counter
	misses  metric.Int64Counter
	players metric.Int64ObservableGauge

	totalSteps   atomic.Int64
	totalCatchUp atomic.Int64
	totalHits    atomic.Int64
	totalMisses  atomic.Int64
	livePlayers  atomic.Int64
}

// New uses the global meter provider.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(instrumentationName))
}

func NewWithMeter(m metric.Meter) (*Metrics, error) {
	x := &Metrics{}
	var err error

	x.steps, err = m.Int64Counter(
		"moonduel.sim.fixed_steps",
		metric.WithDescription("Fixed simulation steps executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fixed step counter: %w", err)
	}

	x.catchUp, err = m.Int64Counter(
		"moonduel.sim.catch_up_ticks",
		metric.WithDescription("Display ticks that ran more than one fixed step"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catch-up counter: %w", err)
	}

	x.hits, err = m.Int64Counter(
		"moonduel.combat.hits",
		metric.WithDescription("Attacks that landed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating hit counter: %w", err)
	}

	x.misses, err = m.Int64Counter(
		"moonduel.snapshot.lerp_misses",
		metric.WithDescription("Render frames with no snapshot pair to interpolate"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating lerp miss counter: %w", err)
	}

	x.players, err = m.Int64ObservableGauge(
		"moonduel.world.players",
		metric.WithDescription("Occupied avatar slots"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating player gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(x.players, x.livePlayers.Load())
			return nil
		},
		x.players,
	)
	if err != nil {
		return nil, fmt.Errorf("registering player callback: %w", err)
	}
	return x, nil
}

func (x *Metrics) FixedStep() {
	x.totalSteps.Add(1)
	x.steps.Add(context.Background(), 1)
}

// CatchUp records a display tick that needed n > 1 fixed steps.
func (x *Metrics) CatchUp(n int) {
	x.totalCatchUp.Add(1)
	x.catchUp.Add(context.Background(), 1, metric.WithAttributes(attribute.Int("steps", n)))
}

func (x *Metrics) Hit(attack string) {
	x.totalHits.Add(1)
	x.hits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("attack", attack)))
}

// LerpMiss records a failed interpolation; reason is the error text.
func (x *Metrics) LerpMiss(reason string) {
	x.totalMisses.Add(1)
	x.misses.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (x *Metrics) SetPlayers(n int) {
	x.livePlayers.Store(int64(n))
}

func (x *Metrics) Totals() Totals {
	return Totals{
		FixedSteps:   x.totalSteps.Load(),
		CatchUpTicks: x.totalCatchUp.Load(),
		Hits:         x.totalHits.Load(),
		LerpMisses:   x.totalMisses.Load(),
		Players:      x.livePlayers.Load(),
	}
}
