// Package config loads recur's runtime configuration in layers: built-in
// defaults, an optional project JSON file, environment variables, and
// finally CLI flags — each layer overriding the one before it.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPath is where the project config file lives, relative to
// the project root.
const DefaultConfigPath = ".recur/config.json"

// Config is recur's fully resolved runtime configuration.
type Config struct {
	// Port is the HTTP listen port for `recur serve`.
	Port int `koanf:"port"`
	// GrammarDir is where downloaded grammar shared libraries are cached.
	GrammarDir string `koanf:"grammar_dir"`
	// HistoryDir is where the analysis history database and search index live.
	HistoryDir string `koanf:"history_dir"`
	// GrammarURL is the URL template used to download grammar assets.
	GrammarURL string `koanf:"grammar_url"`
	// AutoDownload controls whether missing grammars are fetched automatically.
	AutoDownload bool `koanf:"auto_download"`
	// LogLevel is a free-form string consumed by the CLI's loggers.
	LogLevel string `koanf:"log_level"`
}

func defaults(projectRoot string) map[string]interface{} {
	return map[string]interface{}{
		"port":          DefaultPort,
		"grammar_dir":   filepath.Join(projectRoot, ".recur", "grammars"),
		"history_dir":   filepath.Join(projectRoot, ".recur", "history"),
		"grammar_url":   "",
		"auto_download": true,
		"log_level":     "info",
	}
}

// DefaultPort mirrors cmd/recur's --port default (kept here too so
// pkg/config has no import-cycle dependency on cmd/recur).
const DefaultPort = 7001

// Load resolves configuration for the given project root: defaults, then
// <projectRoot>/.recur/config.json if present, then RECUR_* environment
// variables. CLI flags are applied by the caller afterward via the
// Override* methods, since flag parsing happens in cmd/recur.
func Load(projectRoot string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(projectRoot), "."), nil); err != nil {
		return nil, err
	}

	configPath := filepath.Join(projectRoot, DefaultConfigPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), json.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider(".", env.Opts{
		Prefix: "RECUR_",
		TransformFunc: func(k, v string) (string, any) {
			key := strings.ToLower(strings.TrimPrefix(k, "RECUR_"))
			return key, v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OverridePort applies a --port flag value if it is non-zero.
func (c *Config) OverridePort(port int) {
	if port != 0 {
		c.Port = port
	}
}
