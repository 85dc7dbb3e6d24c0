package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eleven-am/rtms-sentiment/internal/protocol"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var ErrMissingRTMSCredentials = errors.New("ZM_RTMS_CLIENT and ZM_RTMS_SECRET are required")

type Config struct {
	ServerAddr string
	LogLevel   string

	RTMSClientID string
	RTMSSecret   string

	SDKKey      string
	SDKSecret   string
	SDKTokenTTL time.Duration

	ContentTypes     protocol.ContentType
	Transcript       transcript.Config
	HandshakeTimeout time.Duration

	ClassifierModelPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AudioDumpDir string

	WebhookRateLimit float64
	WebhookRateBurst int

	MetricsNamespace string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "")
	v.SetDefault("port", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("zm_rtms_client", "")
	v.SetDefault("zm_rtms_secret", "")
	v.SetDefault("zm_sdk_key", "")
	v.SetDefault("zm_sdk_secret", "")
	v.SetDefault("zm_sdk_token_ttl", "2h")
	v.SetDefault("content_types", "transcript")
	v.SetDefault("transcript_threshold", 100)
	v.SetDefault("transcript_threshold_unit", "chars")
	v.SetDefault("handshake_timeout_ms", 10000)
	v.SetDefault("classifier_model_path", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("audio_dump_dir", "")
	v.SetDefault("webhook_rate_limit", 10.0)
	v.SetDefault("webhook_rate_burst", 20)
	v.SetDefault("metrics_namespace", "rtms")
}

// LoadConfig reads .env (if present), an optional file named by CONFIG_FILE,
// then the environment. Environment variables win.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return configFrom(v)
}

// rawConfig mirrors the viper keys before validation.
type rawConfig struct {
	ServerAddr string `mapstructure:"server_addr"`
	Port       string `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`

	RTMSClient  string        `mapstructure:"zm_rtms_client"`
	RTMSSecret  string        `mapstructure:"zm_rtms_secret"`
	SDKKey      string        `mapstructure:"zm_sdk_key"`
	SDKSecret   string        `mapstructure:"zm_sdk_secret"`
	SDKTokenTTL time.Duration `mapstructure:"zm_sdk_token_ttl"`

	ContentTypes       string `mapstructure:"content_types"`
	Threshold          int    `mapstructure:"transcript_threshold"`
	ThresholdUnit      string `mapstructure:"transcript_threshold_unit"`
	HandshakeTimeoutMS int    `mapstructure:"handshake_timeout_ms"`

	ClassifierModelPath string `mapstructure:"classifier_model_path"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	AudioDumpDir string `mapstructure:"audio_dump_dir"`

	WebhookRateLimit float64 `mapstructure:"webhook_rate_limit"`
	WebhookRateBurst int     `mapstructure:"webhook_rate_burst"`

	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

func decodeSettings(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func configFrom(v *viper.Viper) (*Config, error) {
	var raw rawConfig
	if err := decodeSettings(v.AllSettings(), &raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg := &Config{
		ServerAddr: raw.ServerAddr,
		LogLevel:   strings.ToLower(raw.LogLevel),

		RTMSClientID: raw.RTMSClient,
		RTMSSecret:   raw.RTMSSecret,

		SDKKey:      raw.SDKKey,
		SDKSecret:   raw.SDKSecret,
		SDKTokenTTL: raw.SDKTokenTTL,

		HandshakeTimeout: time.Duration(raw.HandshakeTimeoutMS) * time.Millisecond,

		ClassifierModelPath: raw.ClassifierModelPath,

		RedisAddr:     raw.RedisAddr,
		RedisPassword: raw.RedisPassword,
		RedisDB:       raw.RedisDB,

		AudioDumpDir: raw.AudioDumpDir,

		WebhookRateLimit: raw.WebhookRateLimit,
		WebhookRateBurst: raw.WebhookRateBurst,

		MetricsNamespace: raw.MetricsNamespace,
	}

	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
		if raw.Port != "" {
			cfg.ServerAddr = ":" + raw.Port
		}
	}

	if cfg.RTMSClientID == "" || cfg.RTMSSecret == "" {
		return nil, ErrMissingRTMSCredentials
	}

	mask, err := protocol.ParseContentTypes(raw.ContentTypes)
	if err != nil {
		return nil, fmt.Errorf("CONTENT_TYPES: %w", err)
	}
	cfg.ContentTypes = mask

	unit, err := transcript.ParseUnit(raw.ThresholdUnit)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIPT_THRESHOLD_UNIT: %w", err)
	}
	if raw.Threshold <= 0 {
		return nil, fmt.Errorf("TRANSCRIPT_THRESHOLD: %w", transcript.ErrInvalidThreshold)
	}
	cfg.Transcript = transcript.Config{Threshold: raw.Threshold, Unit: unit}

	if cfg.HandshakeTimeout <= 0 {
		return nil, errors.New("HANDSHAKE_TIMEOUT_MS must be positive")
	}

	return cfg, nil
}

func (c *Config) SDKConfigured() bool {
	return c.SDKKey != "" && c.SDKSecret != ""
}
