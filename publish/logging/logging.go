package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "JV_LOG_LEVEL"
	EnvLogNoColor = "JV_LOG_NOCOLOR"
	EnvLogJSON    = "JV_LOG_JSON"
)

type Config struct {
	Level   zerolog.Level
	NoColor bool
	JSON    bool
	Out     io.Writer
}

func DefaultConfig() Config {
	return Config{Level: zerolog.InfoLevel, Out: os.Stderr}
}

// New builds the logger for one invocation. Every line carries the app name
// and a run id, so the records of one run can be pulled out of shared logs.
// Logs go to stderr; stdout is kept for command output.
func New(app, level string) zerolog.Logger {
	cfg := DefaultConfig()
	if lvl, ok := ParseLevel(level); ok {
		cfg.Level = lvl
	}
	applyEnvOverrides(&cfg)
	return NewWithConfig(app, cfg)
}

func NewWithConfig(app string, cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}
	return zerolog.New(out).
		Level(cfg.Level).
		With().
		Timestamp().
		Str("app", app).
		Str("run_id", uuid.NewString()).
		Logger()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
