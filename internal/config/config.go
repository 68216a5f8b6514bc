package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "clinichat.toml"
	DefaultBackendBaseURL  = "http://127.0.0.1:8080"
	DefaultAIBaseURL       = "http://127.0.0.1:5001"
	DefaultIdentityBaseURL = "http://127.0.0.1:8081"
	DefaultRequestTimeout  = "60s"
	DefaultPollInterval    = "1s"
	DefaultPollAttempts    = 60
	DefaultPageSize        = 50
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Backend  BackendConfig  `toml:"backend"`
	AI       AIConfig       `toml:"ai"`
	Identity IdentityConfig `toml:"identity"`
	OCR      OCRConfig      `toml:"ocr"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// BackendConfig points at the persistence collaborator (conversations,
// messages, uploads, OCR status).
type BackendConfig struct {
	BaseURL  string `toml:"base_url" validate:"required,url"`
	Timeout  string `toml:"timeout"`
	PageSize int    `toml:"page_size" validate:"gte=1,lte=200"`
}

// AIConfig points at the chat-completion collaborator.
type AIConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"`
	Timeout string `toml:"timeout"`
}

// IdentityConfig points at the identity collaborator used for token refresh.
type IdentityConfig struct {
	BaseURL   string `toml:"base_url" validate:"required,url"`
	TokenFile string `toml:"token_file"`
}

type OCRConfig struct {
	PollInterval string `toml:"poll_interval"`
	MaxAttempts  int    `toml:"max_attempts" validate:"gte=1"`
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backend: BackendConfig{
			BaseURL:  DefaultBackendBaseURL,
			Timeout:  DefaultRequestTimeout,
			PageSize: DefaultPageSize,
		},
		AI: AIConfig{
			BaseURL: DefaultAIBaseURL,
			Timeout: DefaultRequestTimeout,
		},
		Identity: IdentityConfig{
			BaseURL: DefaultIdentityBaseURL,
		},
		OCR: OCRConfig{
			PollInterval: DefaultPollInterval,
			MaxAttempts:  DefaultPollAttempts,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseDuration parses a config duration string with a fallback default.
func ParseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
