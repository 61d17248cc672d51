package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/collision"
	"github.com/moonduel/server/internal/config"
	"github.com/moonduel/server/internal/core/event"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/data"
	"github.com/moonduel/server/internal/debugapi"
	"github.com/moonduel/server/internal/handler"
	"github.com/moonduel/server/internal/metrics"
	gonet "github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/persist"
	"github.com/moonduel/server/internal/record"
	"github.com/moonduel/server/internal/scripting"
	"github.com/moonduel/server/internal/snapshot"
	"github.com/moonduel/server/internal/system"
	"github.com/moonduel/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              MoonDuel  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         月下決鬥 · 權威模擬伺服器         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s\n\n", serverName)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value string) {
	dotsLen := 42 - displayWidth(label) - len(value)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), value)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printSkip(msg string) {
	fmt.Printf("  \033[90m–\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Optional PostgreSQL combat log
	printSection("資料庫")
	var combatLog *persist.CombatLogRepo
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, cfg.Server.Name, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		version, err := db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printStat("資料庫版本", fmt.Sprint(version))
		combatLog = persist.NewCombatLogRepo(db, cfg.Server.Name)
	} else {
		printSkip("未設定 DSN，停用戰鬥紀錄")
	}
	fmt.Println()

	// 4. Static data
	printSection("資料載入")
	attacks, err := data.LoadAttackTable(cfg.Combat.AttackTable)
	if err != nil {
		return fmt.Errorf("load attack table: %w", err)
	}
	printStat("攻擊招式", fmt.Sprint(attacks.Count()))

	var engine *scripting.Engine
	if cfg.Bots.Count > 0 {
		engine, err = scripting.NewEngine(cfg.Bots.Script, log)
		if err != nil {
			return fmt.Errorf("bot scripts: %w", err)
		}
		defer engine.Close()
		printOK("機器人腳本已載入")
	}
	fmt.Println()

	// 5. Simulation core
	simClock := clock.New(clock.Config{
		SimDt:       cfg.Clock.SimTick,
		ClientDelay: cfg.Clock.ClientDelay,
		RenderDelay: cfg.Clock.RenderDelay,
	}, nil)
	col := collision.New(cfg.Combat.HitPoolSize)
	avatars := avatar.NewController(col, attacks, tuningFromConfig(cfg.Combat), log)
	worldState := world.NewState(avatars, cfg.Combat.ArenaRadius, log)
	bus := event.NewBus()

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// 6. Packet handlers
	pktReg := packet.NewRegistry(log)
	deps := &handler.Deps{
		Config: cfg,
		Log:    log,
		World:  worldState,
		Clock:  simClock,
		Bus:    bus,
	}
	handler.RegisterAll(pktReg, deps)

	// 7. Network server
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.Options{
		Path:             cfg.Network.Path,
		InQueueSize:      cfg.Network.InQueueSize,
		OutQueueSize:     cfg.Network.OutQueueSize,
		MaxMessageSize:   cfg.Network.MaxMessageSize,
		ReadTimeout:      cfg.Network.ReadTimeout,
		WriteTimeout:     cfg.Network.WriteTimeout,
		PacketsPerSecond: packetsPerSecond(cfg.RateLimit),
		CloseConcurrency: cfg.Network.CloseConcurrency,
	}, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go func() {
		if err := netServer.Serve(); err != nil {
			log.Error("網路服務中止", zap.Error(err))
		}
	}()

	// 8. Bots
	printSection("決鬥場")
	printStat("場地半徑", fmt.Sprintf("%.1fm", cfg.Combat.ArenaRadius))
	bots, err := system.SpawnBots(worldState, bus, cfg.Bots.Names, cfg.Bots.Count, simClock.SimFrame())
	if err != nil {
		return fmt.Errorf("bots: %w", err)
	}
	printStat("機器人", fmt.Sprint(bots))

	// 9. Snapshot recording
	var recorder *record.Recorder
	var snapRec system.SnapshotRecorder
	if cfg.Snapshot.RecordPath != "" {
		recorder, err = record.Create(cfg.Snapshot.RecordPath, float32(simClock.SimDt()))
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		snapRec = recorder
		printOK(fmt.Sprintf("快照錄製至 %s", cfg.Snapshot.RecordPath))
	}
	fmt.Println()

	// 10. Debug API
	var debugAPI *debugapi.API
	var debugSrv *server.Hertz
	if cfg.Debug.Enabled {
		var hits debugapi.HitSource
		if combatLog != nil {
			hits = combatLog
		}
		debugAPI = debugapi.New(16, hits, log)
		debugSrv = server.Default(server.WithHostPorts(cfg.Debug.BindAddress))
		debugAPI.RegisterRoutes(debugSrv)
		go func() {
			if err := debugSrv.Run(); err != nil {
				log.Error("除錯服務中止", zap.Error(err))
			}
		}()
	}

	// 11. Systems, in phase order
	store := gonet.NewSessionStore()
	snapshots := system.NewSnapshotSystem(worldState, simClock, snapshot.NewBuffer(cfg.Snapshot.BufferFrames), snapRec, log)

	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(netServer, pktReg, store, cfg.Network.MaxPacketsPerTick, deps, log))
	var debugSys *system.DebugSystem
	if debugAPI != nil {
		debugSys = system.NewDebugSystem(debugAPI, simClock, worldState, m, log)
		runner.Register(debugSys)
	}
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewCollisionClearSystem(col))
	if engine != nil {
		runner.Register(system.NewBotSystem(worldState, simClock, engine))
	}
	runner.Register(system.NewAvatarSystem(worldState, simClock))
	runner.Register(system.NewCombatSystem(worldState, simClock, bus, m, log))
	runner.Register(snapshots)
	runner.Register(system.NewOutputSystem(worldState, store, simClock, snapshots, cfg.Network.ClockInterval))
	var persistSys *system.PersistenceSystem
	if combatLog != nil {
		every := int(cfg.Database.FlushInterval / cfg.Clock.SimTick)
		persistSys = system.NewPersistenceSystem(bus, combatLog, log, every)
		runner.Register(persistSys)
	}
	runner.Register(system.NewCleanupSystem(avatars, m))

	loop := system.NewLoop(simClock, runner, m, log)
	if debugSys != nil {
		loop.AfterTick(debugSys.Publish)
	}

	// 12. Start game loop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 ws://%s%s", netServer.Addr().String(), cfg.Network.Path))
	if debugSrv != nil {
		printReady(fmt.Sprintf("除錯介面 http://%s/debug/state", cfg.Debug.BindAddress))
	}
	printReady(fmt.Sprintf("遊戲迴圈啟動 (模擬步長: %s, 顯示週期: %s)", cfg.Clock.SimTick, cfg.Clock.DisplayRate))
	fmt.Println()

	loop.Run(ctx, cfg.Clock.DisplayRate)

	// 13. Shutdown
	log.Info("收到關閉信號", zap.Int32("frame", simClock.SimFrame()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := netServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("網路服務關閉逾時", zap.Error(err))
	}
	if debugSrv != nil {
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("除錯服務關閉失敗", zap.Error(err))
		}
	}
	if persistSys != nil {
		persistSys.Flush()
		if n := persistSys.Pending(); n > 0 {
			log.Warn("戰鬥紀錄未完全寫入", zap.Int("pending", n))
		}
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Error("錄製檔關閉失敗", zap.Error(err))
		} else {
			log.Info("錄製完成", zap.Int("frames", recorder.Frames()))
		}
	}
	log.Info("伺服器已停止")
	return nil
}

func tuningFromConfig(cfg config.CombatConfig) avatar.Tuning {
	t := avatar.DefaultTuning()
	if cfg.WalkSpeed > 0 {
		t.WalkSpeed = cfg.WalkSpeed
	}
	if cfg.RunSpeed > 0 {
		t.RunSpeed = cfg.RunSpeed
	}
	if cfg.Gravity > 0 {
		t.Gravity = cfg.Gravity
	}
	if cfg.StruckGrace > 0 {
		t.StruckGrace = cfg.StruckGrace
	}
	return t
}

func packetsPerSecond(cfg config.RateLimitConfig) int {
	if !cfg.Enabled {
		return 0
	}
	return cfg.PacketsPerSecond
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
