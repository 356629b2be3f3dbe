package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Extractor ExtractorConfig
	Queue     QueueConfig
	Intake    IntakeConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type ExtractorConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
}

type QueueConfig struct {
	Concurrency int
	Cooldown    time.Duration
}

type IntakeConfig struct {
	MaxFileMB int
}

// MaxBytes is the per-file size limit in bytes.
func (c IntakeConfig) MaxBytes() int64 {
	return int64(c.MaxFileMB) << 20
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Extractor: ExtractorConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
		},
		Queue: QueueConfig{
			Concurrency: 1,
			Cooldown:    60 * time.Second,
		},
		Intake: IntakeConfig{
			MaxFileMB: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fatrocu.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/fatrocu/config.json
// and secrets come from the environment or $XDG_DATA_HOME/fatrocu/secrets.json.
//
// Environment variables (FATROCU_*) override backend values on all platforms.
// A missing extractor API key is not an error: PDF and image jobs fail at
// extraction while XML and manual jobs still work.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Extractor.APIKey == "" {
		if key, err := kc.Get(keychainService, accountExtractorKey); err == nil && key != "" {
			cfg.Extractor.APIKey = key
		}
	}

	return cfg, nil
}

// MissingAPIKeyHint tells the user where the extractor API key is looked up.
func MissingAPIKeyHint() string {
	return "extractor API key not set. Set it via environment variable " +
		envExtractorKey + apiKeyHint()
}
