package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

const envExtractorKey = "FATROCU_EXTRACTOR_API_KEY"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FATROCU_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FATROCU_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "extractor.base_url", typ: kString, env: "FATROCU_EXTRACTOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Extractor.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.BaseURL },
	},
	{
		key: "extractor.model", typ: kString, env: "FATROCU_EXTRACTOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.Model },
	},
	{
		key: "extractor.api_key", typ: kString, env: envExtractorKey,
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Extractor.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.APIKey },
	},
	{
		key: "extractor.temperature", typ: kFloat, env: "FATROCU_EXTRACTOR_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Extractor.Temperature },
	},
	{
		key: "queue.concurrency", typ: kInt, env: "FATROCU_QUEUE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Queue.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.Concurrency },
	},
	{
		key: "queue.cooldown", typ: kDuration, env: "FATROCU_QUEUE_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Queue.Cooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.Cooldown },
	},
	{
		key: "intake.max_file_mb", typ: kInt, env: "FATROCU_INTAKE_MAX_FILE_MB",
		apply:   func(cfg *Config, v any) { cfg.Intake.MaxFileMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Intake.MaxFileMB },
	},
	{
		key: "log.level", typ: kString, env: "FATROCU_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts raw into the Go type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
