// Package clock derives the local simulation and render timelines from a
// drifting estimate of the authoritative server time.
//
// Three timelines are tracked in milliseconds:
//
//   - server: best guess of the server's clock, advanced by wall time and
//     replaced whenever an authoritative timestamp arrives.
//   - client: the timeline the local fixed-step simulation runs on; it sits
//     clientDelay ahead of the server estimate (clientDelay <= 0).
//   - render: the display timeline, renderDelay behind the server estimate so
//     that snapshots on both sides of it are usually buffered.
//
// Client and render time never jump during normal play. Each Tick they
// advance by the scaled wall delta, stretched or shrunk by at most 5% (client)
// or 25% (render) to converge on their targets. Gaps larger than
// SnapThreshold snap forward instead.
package clock

import (
	"math"
	"time"

	"github.com/moonduel/server/internal/core/assert"
)

const (
	ClientWarpLimit = 0.05
	RenderWarpLimit = 0.25
	SnapThreshold   = 250.0 // ms
)

type Config struct {
	SimDt       time.Duration
	ClientDelay time.Duration
	RenderDelay time.Duration
}

// State is a read-only copy of the clock, used by the debug API and tests.
type State struct {
	ServerTime  float64 `json:"server_time"`
	ClientTime  float64 `json:"client_time"`
	RenderTime  float64 `json:"render_time"`
	SimFrame    int32   `json:"sim_frame"`
	SimDt       float64 `json:"sim_dt"`
	ClientDelay float64 `json:"client_delay"`
	RenderDelay float64 `json:"render_delay"`
	Paused      bool    `json:"paused"`
	Speed       float64 `json:"speed"`
}

type Clock struct {
	now      func() time.Time
	lastReal time.Time
	started  bool

	serverTime float64
	clientTime float64
	renderTime float64

	simFrame int32
	simDt    float64

	clientDelay float64
	renderDelay float64

	paused  bool
	speed   float64
	stepDt  float64
	snapped bool
}

// New builds a clock. now is the wall clock source; nil means time.Now.
func New(cfg Config, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	c := &Clock{
		now:   now,
		simDt: ms(cfg.SimDt),
		speed: 1,
	}
	assert.That(c.simDt > 0, "sim dt must be positive, got %v", cfg.SimDt)
	c.SetClientDelay(ms(cfg.ClientDelay))
	c.SetRenderDelay(ms(cfg.RenderDelay))
	return c
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Tick advances all three timelines by the wall time elapsed since the last
// call. The first call only latches the wall clock.
func (c *Clock) Tick() {
	now := c.now()
	if !c.started {
		c.lastReal = now
		c.started = true
	}
	realDt := ms(now.Sub(c.lastReal))
	c.lastReal = now
	if realDt < 0 {
		realDt = 0
	}

	var dt float64
	if c.paused {
		dt = c.stepDt
		c.stepDt = 0
	} else {
		dt = realDt * c.speed
	}
	c.serverTime += dt

	var snapped bool
	c.clientTime, snapped = warp(c.clientTime, c.serverTime-c.clientDelay, dt, ClientWarpLimit)
	c.renderTime, _ = warp(c.renderTime, c.serverTime-c.renderDelay, dt, RenderWarpLimit)

	c.snapped = snapped
	if snapped {
		// Frames skipped by a snap are never simulated.
		c.simFrame = c.frameAt(c.clientTime)
	}
}

// warp moves cur toward target by roughly dt, never faster or slower than the
// rate limit allows. Timelines are monotonic: a target far behind is waited
// out rather than snapped to.
func warp(cur, target, dt, limit float64) (float64, bool) {
	gap := target - cur
	switch {
	case gap > SnapThreshold:
		return target, true
	case gap < -SnapThreshold:
		return cur, false
	}
	lo, hi := dt*(1-limit), dt*(1+limit)
	return cur + math.Min(math.Max(gap, lo), hi), false
}

// SyncToServerTime replaces the server time estimate with an authoritative
// timestamp and returns how far the estimate moved.
func (c *Clock) SyncToServerTime(serverTime float64) float64 {
	assert.That(serverTime >= 0, "negative server time %f", serverTime)
	c.Tick()
	delta := serverTime - c.serverTime
	c.serverTime = serverTime
	return delta
}

// UpdateFixed advances the simulation frame by one if the client timeline
// has moved past it. Callers loop until it returns false.
func (c *Clock) UpdateFixed() bool {
	if c.frameAt(c.clientTime) > c.simFrame {
		c.simFrame++
		return true
	}
	return false
}

func (c *Clock) frameAt(t float64) int32 {
	return int32(math.Floor(t / c.simDt))
}

// Step pauses the clock and makes the next Tick advance by exactly stepMs.
func (c *Clock) Step(stepMs float64) {
	assert.That(stepMs >= 0, "negative step %f", stepMs)
	c.paused = true
	c.stepDt = stepMs
}

func (c *Clock) SetPaused(paused bool) {
	c.paused = paused
	if !paused {
		c.stepDt = 0
	}
}

func (c *Clock) SetSpeed(speed float64) {
	assert.That(speed >= 0, "negative clock speed %f", speed)
	c.speed = speed
}

// SetSimDt changes the fixed step. All timelines restart from zero so the
// frame counter stays consistent with client time.
func (c *Clock) SetSimDt(d time.Duration) {
	assert.That(d > 0, "sim dt must be positive, got %v", d)
	c.simDt = ms(d)
	c.serverTime = 0
	c.clientTime = 0
	c.renderTime = 0
	c.simFrame = 0
}

func (c *Clock) SetClientDelay(delayMs float64) {
	assert.That(delayMs <= 0, "client delay must be <= 0, got %f", delayMs)
	c.clientDelay = delayMs
}

func (c *Clock) SetRenderDelay(delayMs float64) {
	assert.That(delayMs >= 0, "render delay must be >= 0, got %f", delayMs)
	c.renderDelay = delayMs
}

func (c *Clock) ServerTime() float64 { return c.serverTime }
func (c *Clock) ClientTime() float64 { return c.clientTime }
func (c *Clock) RenderTime() float64 { return c.renderTime }
func (c *Clock) SimFrame() int32     { return c.simFrame }
func (c *Clock) SimDt() float64      { return c.simDt }
func (c *Clock) Paused() bool        { return c.paused }
func (c *Clock) Snapped() bool       { return c.snapped }

// SimDtDuration returns the fixed step as a time.Duration.
func (c *Clock) SimDtDuration() time.Duration {
	return time.Duration(c.simDt * float64(time.Millisecond))
}

// RenderFrame is the render time expressed in fractional simulation frames,
// the argument snapshot interpolation expects.
func (c *Clock) RenderFrame() float64 { return c.renderTime / c.simDt }

func (c *Clock) State() State {
	return State{
		ServerTime:  c.serverTime,
		ClientTime:  c.clientTime,
		RenderTime:  c.renderTime,
		SimFrame:    c.simFrame,
		SimDt:       c.simDt,
		ClientDelay: c.clientDelay,
		RenderDelay: c.renderDelay,
		Paused:      c.paused,
		Speed:       c.speed,
	}
}
