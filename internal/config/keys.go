package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CTQA_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.api_token", typ: kString, env: "CTQA_API_TOKEN",
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CTQA_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "storage.cases_dir", typ: kString, env: "CTQA_STORAGE_CASES_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.CasesDir = v.(string) },
	},
	{
		key: "storage.devices_dir", typ: kString, env: "CTQA_STORAGE_DEVICES_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DevicesDir = v.(string) },
	},
	{
		key: "worker.poll_interval_ms", typ: kInt, env: "CTQA_WORKER_POLL_INTERVAL_MS",
		apply: func(cfg *Config, v any) { cfg.Worker.PollIntervalMs = v.(int) },
	},
	{
		key: "log.level", typ: kString, env: "CTQA_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
