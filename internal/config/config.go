package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when MOONDUEL_CONFIG is unset.
const DefaultPath = "config/server.toml"

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Network   NetworkConfig   `toml:"network"`
	Clock     ClockConfig     `toml:"clock"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Combat    CombatConfig    `toml:"combat"`
	Bots      BotConfig       `toml:"bots"`
	Database  DatabaseConfig  `toml:"database"`
	Debug     DebugConfig     `toml:"debug"`
	Client    ClientConfig    `toml:"client"`
	Logging   LoggingConfig   `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	StartTime int64  // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address"`
	Path              string        `toml:"path"` // websocket upgrade path
	InQueueSize       int           `toml:"in_queue_size"`
	OutQueueSize      int           `toml:"out_queue_size"`
	MaxPacketsPerTick int           `toml:"max_packets_per_tick"`
	MaxMessageSize    int64         `toml:"max_message_size"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	ClockInterval     time.Duration `toml:"clock_interval"`     // S_CLOCK broadcast period
	JoinPasswordHash  string        `toml:"join_password_hash"` // bcrypt; empty = open server
	CloseConcurrency  int           `toml:"close_concurrency"`
}

type ClockConfig struct {
	SimTick     time.Duration `toml:"sim_tick"`
	DisplayRate time.Duration `toml:"display_rate"` // main loop wake-up period
	ClientDelay time.Duration `toml:"client_delay"`
	RenderDelay time.Duration `toml:"render_delay"`
}

type SnapshotConfig struct {
	BufferFrames int    `toml:"buffer_frames"`
	RecordPath   string `toml:"record_path"` // empty = no recording
}

type CombatConfig struct {
	AttackTable string  `toml:"attack_table"` // empty = built-in table
	HitPoolSize int     `toml:"hit_pool_size"`
	WalkSpeed   float32 `toml:"walk_speed"`
	RunSpeed    float32 `toml:"run_speed"`
	Gravity     float32 `toml:"gravity"`
	StruckGrace int32   `toml:"struck_grace_frames"`
	ArenaRadius float32 `toml:"arena_radius"`
}

type BotConfig struct {
	Count  int      `toml:"count"`
	Script string   `toml:"script"`
	Names  []string `toml:"names"`
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty disables the hit log
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	FlushInterval   time.Duration `toml:"flush_interval"`
}

type DebugConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
}

// ClientConfig is read by the headless client.
type ClientConfig struct {
	ServerURL    string        `toml:"server_url"`
	Name         string        `toml:"name"`
	Password     string        `toml:"password"`
	ClientDelay  time.Duration `toml:"client_delay"` // <= 0, runs ahead of the server
	RenderDelay  time.Duration `toml:"render_delay"` // >= 0, interpolation lag
	PingInterval time.Duration `toml:"ping_interval"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type RateLimitConfig struct {
	Enabled             bool `toml:"enabled"`
	JoinAttemptsPerConn int  `toml:"join_attempts_per_conn"`
	PacketsPerSecond    int  `toml:"packets_per_second"`
}

// PathFromEnv returns MOONDUEL_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("MOONDUEL_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func (c *Config) validate() error {
	if c.Clock.SimTick <= 0 {
		return fmt.Errorf("clock.sim_tick must be positive")
	}
	if c.Clock.ClientDelay > 0 || c.Client.ClientDelay > 0 {
		return fmt.Errorf("client_delay must be <= 0")
	}
	if c.Clock.RenderDelay < 0 || c.Client.RenderDelay < 0 {
		return fmt.Errorf("render_delay must be >= 0")
	}
	if c.Bots.Count < 0 || c.Bots.Count > 8 {
		return fmt.Errorf("bots.count %d out of range [0,8]", c.Bots.Count)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "MoonDuel",
		},
		Network: NetworkConfig{
			BindAddress:       "0.0.0.0:7010",
			Path:              "/duel",
			InQueueSize:       128,
			OutQueueSize:      256,
			MaxPacketsPerTick: 16,
			MaxMessageSize:    4096,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       60 * time.Second,
			ClockInterval:     time.Second,
			CloseConcurrency:  4,
		},
		Clock: ClockConfig{
			SimTick:     16 * time.Millisecond,
			DisplayRate: 4 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			BufferFrames: 64,
		},
		Combat: CombatConfig{
			HitPoolSize: 8,
			WalkSpeed:   1.8,
			RunSpeed:    5.5,
			Gravity:     20,
			StruckGrace: 18,
			ArenaRadius: 12,
		},
		Bots: BotConfig{
			Count:  1,
			Script: "scripts/bot/duelist.lua",
			Names:  []string{"Selene", "Artemis", "Chang'e", "Mani"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
			FlushInterval:   2 * time.Second,
		},
		Debug: DebugConfig{
			Enabled:     true,
			BindAddress: "127.0.0.1:7011",
		},
		Client: ClientConfig{
			ServerURL:    "ws://127.0.0.1:7010/duel",
			Name:         "wanderer",
			ClientDelay:  -50 * time.Millisecond,
			RenderDelay:  100 * time.Millisecond,
			PingInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			JoinAttemptsPerConn: 3,
			PacketsPerSecond:    180,
		},
	}
}
