package voiceplate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/voiceplate/voiceplate/pkg/notify"
	"github.com/voiceplate/voiceplate/pkg/order"
	"github.com/voiceplate/voiceplate/pkg/session"
	"github.com/voiceplate/voiceplate/pkg/transports/ws"
)

type Config struct {
	Environment   string                `mapstructure:"environment"`
	LogLevel      string                `mapstructure:"log_level"`
	LogFormat     string                `mapstructure:"log_format"`
	Server        ServerConfig          `mapstructure:"server"`
	ASR           VendorConfig          `mapstructure:"asr"`
	Session       SessionConfig         `mapstructure:"session"`
	WS            ws.Config             `mapstructure:"ws"`
	Store         StoreConfig           `mapstructure:"store"`
	Notify        notify.Config         `mapstructure:"notify"`
	Orders        order.AssemblerConfig `mapstructure:"orders"`
	Vocabulary    order.Vocabulary      `mapstructure:"vocabulary"`
	Privacy       PrivacyConfig         `mapstructure:"privacy"`
	Observability ObservabilityConfig   `mapstructure:"observability"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// SessionConfig uses millisecond integers, matching the rest of the
// config file's *_ms convention.
type SessionConfig struct {
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	BackoffBaseMS        int `mapstructure:"backoff_base_ms"`
	BackoffMaxMS         int `mapstructure:"backoff_max_ms"`
	ConnectTimeoutMS     int `mapstructure:"connect_timeout_ms"`
	BufferFrames         int `mapstructure:"buffer_frames"`
}

func (c SessionConfig) build() session.Config {
	return session.Config{
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		BackoffBase:          time.Duration(c.BackoffBaseMS) * time.Millisecond,
		BackoffMax:           time.Duration(c.BackoffMaxMS) * time.Millisecond,
		ConnectTimeout:       time.Duration(c.ConnectTimeoutMS) * time.Millisecond,
		BufferFrames:         c.BufferFrames,
	}
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	EventsPath string `mapstructure:"events_path"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("asr.provider", "deepgram")
	v.SetDefault("session.max_reconnect_attempts", 5)
	v.SetDefault("session.backoff_base_ms", 500)
	v.SetDefault("session.backoff_max_ms", 10000)
	v.SetDefault("session.connect_timeout_ms", 15000)
	v.SetDefault("session.buffer_frames", 256)
	v.SetDefault("ws.path", "/ws")
	v.SetDefault("store.path", "voiceplate.db")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.topic_created", "orders.created")
	v.SetDefault("notify.topic_status", "orders.status")
	v.SetDefault("orders.require_table", false)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.ASR.Settings = expandSettings(cfg.ASR.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ASR.Provider) == "" {
		return fmt.Errorf("asr.provider is required")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// expandSettings lets config files carry ${DEEPGRAM_API_KEY}-style values.
func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
