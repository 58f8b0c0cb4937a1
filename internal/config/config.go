package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Render RenderConfig
	Engine EngineConfig
	Jobs   JobsConfig
}

type ServerConfig struct {
	Port             string
	LogLevel         string
	AuthSecret       string // empty disables auth
	CreateRatePerMin int
}

type RenderConfig struct {
	OutputDir     string
	EntryPoint    string
	CompositionID string
	Concurrency   int
	TimeoutMs     int
	MemoryLimitMB int
	ForceRebundle bool
}

type EngineConfig struct {
	Command string
	Script  string
	Port    int
}

type JobsConfig struct {
	TTLMinutes       int
	SweepIntervalSec int
}

func (r RenderConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

func (j JobsConfig) TTL() time.Duration {
	return time.Duration(j.TTLMinutes) * time.Minute
}

func (j JobsConfig) SweepInterval() time.Duration {
	return time.Duration(j.SweepIntervalSec) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "RENDER_SERVER_PORT")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.auth_secret", "AUTH_SECRET")
	_ = viper.BindEnv("server.create_rate_per_min", "CREATE_RATE_PER_MIN")
	_ = viper.BindEnv("render.output_dir", "OUTPUT_DIR")
	_ = viper.BindEnv("render.entry_point", "RENDER_ENTRY_POINT")
	_ = viper.BindEnv("render.composition_id", "RENDER_COMPOSITION_ID")
	_ = viper.BindEnv("render.concurrency", "RENDER_CONCURRENCY")
	_ = viper.BindEnv("render.timeout_ms", "RENDER_TIMEOUT_MS")
	_ = viper.BindEnv("render.memory_limit_mb", "MEMORY_LIMIT_MB")
	_ = viper.BindEnv("render.force_rebundle", "FORCE_REBUNDLE")
	_ = viper.BindEnv("engine.command", "ENGINE_COMMAND")
	_ = viper.BindEnv("engine.script", "ENGINE_SCRIPT")
	_ = viper.BindEnv("engine.port", "RENDER_ENGINE_PORT")
	_ = viper.BindEnv("jobs.ttl_minutes", "JOB_TTL_MINUTES")
	_ = viper.BindEnv("jobs.sweep_interval_sec", "JOB_SWEEP_INTERVAL_SEC")

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.auth_secret", "")
	viper.SetDefault("server.create_rate_per_min", 10)
	viper.SetDefault("render.output_dir", "output")
	viper.SetDefault("render.entry_point", "src/remotion/index.tsx")
	viper.SetDefault("render.composition_id", "MyVideo")
	viper.SetDefault("render.concurrency", 1)
	viper.SetDefault("render.timeout_ms", 120000)
	viper.SetDefault("render.memory_limit_mb", 8192)
	viper.SetDefault("render.force_rebundle", false)
	viper.SetDefault("engine.command", "node")
	viper.SetDefault("engine.script", "server/render-helper.cjs")
	viper.SetDefault("engine.port", 3100)
	viper.SetDefault("jobs.ttl_minutes", 30)
	viper.SetDefault("jobs.sweep_interval_sec", 60)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:             viper.GetString("server.port"),
			LogLevel:         viper.GetString("server.log_level"),
			AuthSecret:       viper.GetString("server.auth_secret"),
			CreateRatePerMin: viper.GetInt("server.create_rate_per_min"),
		},
		Render: RenderConfig{
			OutputDir:     viper.GetString("render.output_dir"),
			EntryPoint:    viper.GetString("render.entry_point"),
			CompositionID: viper.GetString("render.composition_id"),
			Concurrency:   viper.GetInt("render.concurrency"),
			TimeoutMs:     viper.GetInt("render.timeout_ms"),
			MemoryLimitMB: viper.GetInt("render.memory_limit_mb"),
			ForceRebundle: viper.GetBool("render.force_rebundle"),
		},
		Engine: EngineConfig{
			Command: viper.GetString("engine.command"),
			Script:  viper.GetString("engine.script"),
			Port:    viper.GetInt("engine.port"),
		},
		Jobs: JobsConfig{
			TTLMinutes:       viper.GetInt("jobs.ttl_minutes"),
			SweepIntervalSec: viper.GetInt("jobs.sweep_interval_sec"),
		},
	}

	return cfg, nil
}
