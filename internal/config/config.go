package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/render"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "scribe.db"
	defaultSiteName      = "Scribe"
	defaultServer        = "http://localhost:8080"
	defaultLanguage      = "en"
	defaultInvokeTimeout = 30 * time.Second
	defaultMemoryLimit   = engine.DefaultMemoryLimit

	envListenAddr     = "SCRIBE_LISTEN_ADDR"
	envDBPath         = "SCRIBE_DB_PATH"
	envLogLevel       = "SCRIBE_LOG_LEVEL"
	envSiteName       = "SCRIBE_SITE_NAME"
	envServer         = "SCRIBE_SERVER"
	envLanguage       = "SCRIBE_LANGUAGE"
	envBackend        = "SCRIBE_BACKEND"
	envCPULimit       = "SCRIBE_CPU_LIMIT"
	envMemoryLimit    = "SCRIBE_MEMORY_LIMIT"
	envLuaPath        = "SCRIBE_LUA_PATH"
	envErrorFile      = "SCRIBE_ERROR_FILE"
	envExpensiveLimit = "SCRIBE_EXPENSIVE_LIMIT"
	envMaxDepth       = "SCRIBE_MAX_DEPTH"
	envInvokeTimeout  = "SCRIBE_INVOKE_TIMEOUT"
)

// Config holds application configuration loaded from environment variables
// and an optional TOML file.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	SiteName string
	Server   string
	Language string

	Backend        string
	CPULimit       time.Duration
	MemoryLimit    uint64
	LuaPath        string
	ErrorFile      string
	ExpensiveLimit int
	MaxDepth       int
	// InvokeTimeout bounds the wall-clock time of one API invocation.
	InvokeTimeout time.Duration
}

// fileConfig is the TOML layout. Durations are strings such as "10s".
type fileConfig struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`
	LogLevel   string `toml:"log_level"`

	Site struct {
		Name     string `toml:"name"`
		Server   string `toml:"server"`
		Language string `toml:"language"`
	} `toml:"site"`

	Engine struct {
		Backend        string `toml:"backend"`
		CPULimit       string `toml:"cpu_limit"`
		MemoryLimit    uint64 `toml:"memory_limit"`
		LuaPath        string `toml:"lua_path"`
		ErrorFile      string `toml:"error_file"`
		ExpensiveLimit int    `toml:"expensive_limit"`
		MaxDepth       int    `toml:"max_depth"`
		InvokeTimeout  string `toml:"invoke_timeout"`
	} `toml:"engine"`
}

func defaults() Config {
	return Config{
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		LogLevel:      slog.LevelInfo,
		SiteName:      defaultSiteName,
		Server:        defaultServer,
		Language:      defaultLanguage,
		InvokeTimeout: defaultInvokeTimeout,
		MemoryLimit:   defaultMemoryLimit,
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads the TOML file at path over the defaults, then applies the
// environment, which wins over the file.
func LoadFile(path string) (Config, error) {
	cfg := defaults()

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.applyFile(fc); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(fc fileConfig) error {
	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.DBPath, fc.DBPath)
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	setString(&c.SiteName, fc.Site.Name)
	setString(&c.Server, fc.Site.Server)
	setString(&c.Language, fc.Site.Language)

	setString(&c.Backend, fc.Engine.Backend)
	setString(&c.LuaPath, fc.Engine.LuaPath)
	setString(&c.ErrorFile, fc.Engine.ErrorFile)
	if fc.Engine.MemoryLimit > 0 {
		c.MemoryLimit = fc.Engine.MemoryLimit
	}
	if fc.Engine.ExpensiveLimit > 0 {
		c.ExpensiveLimit = fc.Engine.ExpensiveLimit
	}
	if fc.Engine.MaxDepth > 0 {
		c.MaxDepth = fc.Engine.MaxDepth
	}
	if fc.Engine.CPULimit != "" {
		d, err := time.ParseDuration(fc.Engine.CPULimit)
		if err != nil {
			return fmt.Errorf("engine.cpu_limit: %w", err)
		}
		c.CPULimit = d
	}
	if fc.Engine.InvokeTimeout != "" {
		d, err := time.ParseDuration(fc.Engine.InvokeTimeout)
		if err != nil {
			return fmt.Errorf("engine.invoke_timeout: %w", err)
		}
		c.InvokeTimeout = d
	}
	return nil
}

// applyEnv overrides c from the environment. Malformed numeric values are
// ignored.
func (c *Config) applyEnv() {
	setString(&c.ListenAddr, os.Getenv(envListenAddr))
	setString(&c.DBPath, os.Getenv(envDBPath))
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	setString(&c.SiteName, os.Getenv(envSiteName))
	setString(&c.Server, os.Getenv(envServer))
	setString(&c.Language, os.Getenv(envLanguage))
	setString(&c.Backend, os.Getenv(envBackend))
	setString(&c.LuaPath, os.Getenv(envLuaPath))
	setString(&c.ErrorFile, os.Getenv(envErrorFile))

	if d, err := time.ParseDuration(os.Getenv(envCPULimit)); err == nil && d > 0 {
		c.CPULimit = d
	}
	if d, err := time.ParseDuration(os.Getenv(envInvokeTimeout)); err == nil && d > 0 {
		c.InvokeTimeout = d
	}
	if n, err := strconv.ParseUint(os.Getenv(envMemoryLimit), 10, 64); err == nil && n > 0 {
		c.MemoryLimit = n
	}
	if n, err := strconv.Atoi(os.Getenv(envExpensiveLimit)); err == nil && n > 0 {
		c.ExpensiveLimit = n
	}
	if n, err := strconv.Atoi(os.Getenv(envMaxDepth)); err == nil && n > 0 {
		c.MaxDepth = n
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Engine returns the engine configuration for one render.
func (c Config) Engine(logger *slog.Logger) engine.Config {
	return engine.Config{
		Backend:        c.Backend,
		CPULimit:       c.CPULimit,
		MemoryLimit:    c.MemoryLimit,
		LuaPath:        c.LuaPath,
		ErrorFile:      c.ErrorFile,
		ExpensiveLimit: c.ExpensiveLimit,
		MaxDepth:       c.MaxDepth,
		Logger:         logger,
	}
}

// Render returns the site configuration of the reference host. reg may be
// nil to use the built-in backends.
func (c Config) Render(logger *slog.Logger, reg *backend.Registry) render.Config {
	return render.Config{
		SiteName: c.SiteName,
		Server:   c.Server,
		Language: c.Language,
		Timeout:  c.InvokeTimeout,
		Engine:   c.Engine(logger),
		Backends: reg,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
