// Package debugapi serves the clock debug controls over HTTP. Handlers never
// touch game state: commands are queued for the game loop and reads are
// served from a mirror the loop publishes once per display tick.
package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/persist"
)

var ErrQueueFull = errors.New("debug command queue full")

type CommandKind int

const (
	CmdPause CommandKind = iota
	CmdResume
	CmdStep
	CmdSpeed
)

func (k CommandKind) String() string {
	switch k {
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStep:
		return "step"
	case CmdSpeed:
		return "speed"
	default:
		return "unknown"
	}
}

// Command is applied by the game loop. Value is the step length in ms for
// CmdStep and the time scale for CmdSpeed.
type Command struct {
	Kind  CommandKind
	Value float64
}

type PlayerView struct {
	Slot  int     `json:"slot"`
	Name  string  `json:"name"`
	Bot   bool    `json:"bot"`
	State string  `json:"state"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Z     float32 `json:"z"`
}

// View is the mirror of the game loop served by GET /debug/state.
type View struct {
	Clock   clock.State    `json:"clock"`
	Players []PlayerView   `json:"players"`
	Metrics metrics.Totals `json:"metrics"`
}

// HitSource is the read side of the combat log.
type HitSource interface {
	RecentHits(ctx context.Context, limit int) ([]persist.HitEntry, error)
}

type API struct {
	cmds chan Command
	hits HitSource // nil when the combat log is disabled
	log  *zap.Logger

	mu   deadlock.RWMutex
	view View
}

func New(queueSize int, hits HitSource, log *zap.Logger) *API {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &API{
		cmds: make(chan Command, queueSize),
		hits: hits,
		log:  log,
	}
}

// Commands is drained by the game loop.
func (a *API) Commands() <-chan Command {
	return a.cmds
}

// Publish replaces the mirror. Game loop only.
func (a *API) Publish(v View) {
	a.mu.Lock()
	a.view = v
	a.mu.Unlock()
}

// Snapshot returns the current mirror.
func (a *API) Snapshot() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.view
}

func (a *API) enqueue(cmd Command) error {
	select {
	case a.cmds <- cmd:
		a.log.Info("除錯指令排入", zap.Stringer("cmd", cmd.Kind), zap.Float64("value", cmd.Value))
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *API) RegisterRoutes(s *server.Hertz) {
	g := s.Group("/debug")
	g.POST("/pause", a.pause)
	g.POST("/resume", a.resume)
	g.POST("/step", a.step)
	g.POST("/speed", a.speed)
	g.GET("/state", a.state)
	g.GET("/hits", a.recentHits)
}

type stepRequest struct {
	Ms float64 `json:"ms"`
}

type speedRequest struct {
	Value float64 `json:"value"`
}

func (a *API) pause(_ context.Context, ctx *app.RequestContext) {
	a.respond(ctx, a.enqueue(Command{Kind: CmdPause}))
}

func (a *API) resume(_ context.Context, ctx *app.RequestContext) {
	a.respond(ctx, a.enqueue(Command{Kind: CmdResume}))
}

func (a *API) step(_ context.Context, ctx *app.RequestContext) {
	var req stepRequest
	if body := ctx.Request.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(ctx, consts.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.Ms == 0 {
		req.Ms = a.Snapshot().Clock.SimDt
	}
	if req.Ms <= 0 || req.Ms > 1000 {
		writeError(ctx, consts.StatusBadRequest, "ms must be in (0, 1000]")
		return
	}
	a.respond(ctx, a.enqueue(Command{Kind: CmdStep, Value: req.Ms}))
}

func (a *API) speed(_ context.Context, ctx *app.RequestContext) {
	var req speedRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		writeError(ctx, consts.StatusBadRequest, "invalid json")
		return
	}
	if req.Value <= 0 || req.Value > 8 {
		writeError(ctx, consts.StatusBadRequest, "value must be in (0, 8]")
		return
	}
	a.respond(ctx, a.enqueue(Command{Kind: CmdSpeed, Value: req.Value}))
}

func (a *API) state(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, a.Snapshot())
}

func (a *API) recentHits(c context.Context, ctx *app.RequestContext) {
	if a.hits == nil {
		writeError(ctx, consts.StatusNotFound, "combat log disabled")
		return
	}
	limit, _ := strconv.Atoi(string(ctx.Query("limit")))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	hits, err := a.hits.RecentHits(c, limit)
	if err != nil {
		a.log.Error("讀取命中紀錄失敗", zap.Error(err))
		writeError(ctx, consts.StatusInternalServerError, "combat log unavailable")
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"hits": hits})
}

func (a *API) respond(ctx *app.RequestContext, err error) {
	if err != nil {
		writeError(ctx, consts.StatusServiceUnavailable, err.Error())
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]any{"queued": true})
}

func writeError(ctx *app.RequestContext, status int, msg string) {
	ctx.JSON(status, map[string]any{"error": msg})
}

// Apply runs cmd against the clock. Game loop only.
func Apply(c *clock.Clock, cmd Command) {
	switch cmd.Kind {
	case CmdPause:
		c.SetPaused(true)
	case CmdResume:
		c.SetPaused(false)
	case CmdStep:
		c.Step(cmd.Value)
	case CmdSpeed:
		c.SetSpeed(cmd.Value)
	}
}
