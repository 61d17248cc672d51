// Command duelclient is a headless MoonDuel client. It joins the arena,
// drives its avatar from a Lua brain and logs the interpolated world.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/client"
	"github.com/moonduel/server/internal/config"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  = flag.String("config", config.PathFromEnv(), "config file")
		url      = flag.String("url", "", "server websocket url (overrides client.server_url)")
		name     = flag.String("name", "", "player name (overrides client.name)")
		script   = flag.String("brain", "", "Lua bot_think script; empty = bots.script, \"-\" = idle")
		tick     = flag.Duration("tick", 4*time.Millisecond, "client loop period")
		report   = flag.Duration("report", time.Second, "world log period")
		duration = flag.Duration("duration", 0, "leave after this long; 0 = until interrupted")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *url != "" {
		cfg.Client.ServerURL = *url
	}
	if *name != "" {
		cfg.Client.Name = *name
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, cfg.Client.ServerURL, client.OptionsFromConfig(cfg), m, log)
	cancelDial()
	if err != nil {
		return err
	}
	log.Info("已連線", zap.String("url", cfg.Client.ServerURL), zap.String("name", cfg.Client.Name))

	brainPath := *script
	if brainPath == "" {
		brainPath = cfg.Bots.Script
	}
	if brainPath != "-" {
		engine, err := scripting.NewEngine(brainPath, log)
		if err != nil {
			return fmt.Errorf("brain: %w", err)
		}
		defer engine.Close()
		c.SetInputSource(client.Brain(engine, c, cfg.Combat.ArenaRadius))
	}

	c.AfterTick(worldReporter(c, *report, log))

	err = c.Run(ctx, *tick)
	totals := m.Totals()
	log.Info("離開決鬥場",
		zap.Int32("last_input_frame", c.LastSentFrame()),
		zap.Int64("lerp_misses", totals.LerpMisses),
		zap.Float64("rtt_ms", c.RTT()),
	)
	if errors.Is(err, client.ErrRejected) {
		return err
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// worldReporter logs the displayed world at most once per every. It runs on
// the client goroutine through AfterTick.
func worldReporter(c *client.Client, every time.Duration, log *zap.Logger) func() {
	var last time.Time
	return func() {
		if every <= 0 || time.Since(last) < every {
			return
		}
		view, ok := c.Display()
		if !ok {
			return
		}
		last = time.Now()
		for i, a := range view.Avatars {
			if !avatar.Flags(a.Flags).Has(avatar.FlagActive) {
				continue
			}
			log.Info("角色",
				zap.Int32("frame", view.Frame),
				zap.Int("slot", i),
				zap.Bool("self", i == c.Slot()),
				zap.Stringer("state", avatar.State(a.State)),
				zap.Float32("x", a.Origin.X()),
				zap.Float32("z", a.Origin.Z()),
			)
		}
	}
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
