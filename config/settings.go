package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by LoadSettings.
// REQPIPE_LOG_LEVEL sets log.level, REQPIPE_HTTP_TIMEOUT sets http.timeout.
const EnvPrefix = "REQPIPE_"

// Settings are the runtime settings of the reqpipe command.
type Settings struct {
	Log     LogSettings     `koanf:"log"`
	HTTP    HTTPSettings    `koanf:"http"`
	History HistorySettings `koanf:"history"`
	Tracing TracingSettings `koanf:"tracing"`
}

type LogSettings struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type HTTPSettings struct {
	Timeout time.Duration `koanf:"timeout"`
	Safe    bool          `koanf:"safe"` // refuse private destinations
}

type HistorySettings struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type TracingSettings struct {
	Enabled bool   `koanf:"enabled"`
	Service string `koanf:"service"`
}

var defaults = map[string]interface{}{
	"log.level":       "info",
	"log.format":      "json",
	"http.timeout":    "30s",
	"http.safe":       false,
	"history.enabled": true,
	"history.path":    "reqpipe.db",
	"tracing.enabled": false,
	"tracing.service": "reqpipe",
}

// LoadSettings reads settings from path (skipped when empty or missing), then
// from REQPIPE_* environment variables, over the defaults.
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load settings %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat settings %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if _, err := s.Log.SlogLevel(); err != nil {
		return nil, err
	}
	return &s, nil
}

// SlogLevel parses Level.
func (l LogSettings) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger returns a logger writing to stderr in the configured format.
func (l LogSettings) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
