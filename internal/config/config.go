// Package config holds the two configuration surfaces of the service: the
// process-level Config (defaults plus CTQA_* environment overrides) and the
// immutable per-device parameter documents loaded from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	// DataDir holds the SQLite database.
	DataDir string
	// CasesDir is the root under which per-device case directories live.
	CasesDir string
	// DevicesDir holds one <device>.yaml parameter document per scanner.
	DevicesDir string
}

type WorkerConfig struct {
	PollIntervalMs int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	base := defaultBaseDir()
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir:    base,
			CasesDir:   filepath.Join(base, "cases"),
			DevicesDir: filepath.Join(base, "devices"),
		},
		Worker: WorkerConfig{
			PollIntervalMs: 500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultBaseDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".ctqa")
	}
	return ".ctqa"
}

// Load builds the service configuration from defaults and CTQA_*
// environment variables. The API token is required: the case endpoints
// accept patient-adjacent data and must not run open.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable CTQA_API_TOKEN")
	}
	return cfg, nil
}
