package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/data"
)

// Engine wraps a single gopher-lua VM that hosts bot brains.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads path, which may be one script or
// a directory of scripts.
func NewEngine(path string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	info, err := os.Stat(path)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("stat scripts %s: %w", path, err)
	}
	if info.IsDir() {
		err = e.loadDir(path)
	} else {
		err = e.vm.DoFile(path)
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("load scripts %s: %w", path, err)
	}
	e.log.Debug("loaded lua script", zap.String("path", path))
	return e, nil
}

// NewEngineFromSource creates an engine from inline Lua source.
func NewEngineFromSource(src string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.vm.DoString(src); err != nil {
		e.Close()
		return nil, fmt.Errorf("load lua source: %w", err)
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	return &Engine{vm: vm, log: log}
}

func (e *Engine) Close() {
	e.vm.Close()
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// --- Bot bridge ---

// BotContext is the world as one bot sees it for a single fixed step.
type BotContext struct {
	Slot        int
	Frame       int32
	X, Z        float32
	FacingX     float32
	FacingZ     float32
	State       string
	Elapsed     int32 // frames in State
	Opponents   int   // other active avatars
	ArenaRadius float32

	// Locked target (HasTarget false = none)
	HasTarget   bool
	TargetSlot  int
	TargetX     float32
	TargetZ     float32
	TargetDist  float32
	TargetState string
}

// BotCommand is what bot_think returns. MoveX/MoveZ is a world-space XZ
// direction; its length is the stick deflection.
type BotCommand struct {
	MoveX       float32
	MoveZ       float32
	Walk        bool
	Attack      string // "side", "vertical", "punch" or ""
	CycleTarget bool
}

// Input converts the command into the stick-and-buttons form players send.
// The stick points along the world-space move direction; with no movement
// the camera keeps facing.
func (cmd BotCommand) Input(facing mgl32.Vec3, frame int32) avatar.Input {
	in := avatar.Input{Frame: frame, CameraForward: facing}
	move := mgl32.Vec3{cmd.MoveX, 0, cmd.MoveZ}
	if l := move.Len(); l > 1e-4 {
		in.CameraForward = move.Mul(1 / l)
		in.Vertical = mgl32.Clamp(l, 0, 1)
	}
	if cmd.Walk {
		in.Actions |= avatar.ActionWalk
	}
	if cmd.CycleTarget {
		in.Actions |= avatar.ActionTargetCycle
	}
	switch cmd.Attack {
	case data.KindSide:
		in.Actions |= avatar.ActionAttackSide
	case data.KindVertical:
		in.Actions |= avatar.ActionAttackVertical
	case data.KindPunch:
		in.Actions |= avatar.ActionAttackPunch
	}
	return in
}

// BotThink calls Lua bot_think(ctx). A missing function or a script error
// yields an idle command.
func (e *Engine) BotThink(ctx BotContext) BotCommand {
	fn := e.vm.GetGlobal("bot_think")
	if fn == lua.LNil {
		return BotCommand{}
	}

	t := e.vm.NewTable()
	t.RawSetString("slot", lua.LNumber(ctx.Slot))
	t.RawSetString("frame", lua.LNumber(ctx.Frame))
	t.RawSetString("x", lua.LNumber(ctx.X))
	t.RawSetString("z", lua.LNumber(ctx.Z))
	t.RawSetString("facing_x", lua.LNumber(ctx.FacingX))
	t.RawSetString("facing_z", lua.LNumber(ctx.FacingZ))
	t.RawSetString("state", lua.LString(ctx.State))
	t.RawSetString("elapsed", lua.LNumber(ctx.Elapsed))
	t.RawSetString("opponents", lua.LNumber(ctx.Opponents))
	t.RawSetString("arena_radius", lua.LNumber(ctx.ArenaRadius))

	if ctx.HasTarget {
		tgt := e.vm.NewTable()
		tgt.RawSetString("slot", lua.LNumber(ctx.TargetSlot))
		tgt.RawSetString("x", lua.LNumber(ctx.TargetX))
		tgt.RawSetString("z", lua.LNumber(ctx.TargetZ))
		tgt.RawSetString("dist", lua.LNumber(ctx.TargetDist))
		tgt.RawSetString("state", lua.LString(ctx.TargetState))
		t.RawSetString("target", tgt)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua bot_think error", zap.Error(err), zap.Int("slot", ctx.Slot))
		return BotCommand{}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return BotCommand{}
	}
	return BotCommand{
		MoveX:       lFloat(rt, "move_x"),
		MoveZ:       lFloat(rt, "move_z"),
		Walk:        lua.LVAsBool(rt.RawGetString("walk")),
		Attack:      lStr(rt, "attack"),
		CycleTarget: lua.LVAsBool(rt.RawGetString("cycle_target")),
	}
}

// lFloat reads a numeric field from a Lua table.
func lFloat(t *lua.LTable, key string) float32 {
	return float32(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}
