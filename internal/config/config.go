package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Brownie44l1/handpose-api/internal/imaging"
)

// Configs holds everything the server reads from the environment.
type Configs struct {
	AppName     string `mapstructure:"app_name"`
	AppEnv      string `mapstructure:"app_env"`
	AppLogLevel string `mapstructure:"app_log_level"`
	AppPort     int    `mapstructure:"app_port"`

	ModelPath             string `mapstructure:"model_path"`
	ModelMetadataPath     string `mapstructure:"model_metadata_path"`
	OnnxSharedLibraryPath string `mapstructure:"onnx_shared_library_path"`

	ClassifyTimeoutMs int    `mapstructure:"classify_timeout_ms"`
	ChannelOrder      string `mapstructure:"channel_order"`
	SamplerIntervalMs int    `mapstructure:"sampler_interval_ms"`
	UploadMaxBytes    int64  `mapstructure:"upload_max_bytes"`

	MetricsSamplingRate float64 `mapstructure:"metrics_sampling_rate"`
	TelegrafHost        string  `mapstructure:"telegraf_host"`
	TelegrafPort        string  `mapstructure:"telegraf_port"`
}

var envBindings = map[string]string{
	"app_name":                 "APP_NAME",
	"app_env":                  "APP_ENV",
	"app_log_level":            "APP_LOG_LEVEL",
	"app_port":                 "APP_PORT",
	"model_path":               "MODEL_PATH",
	"model_metadata_path":      "MODEL_METADATA_PATH",
	"onnx_shared_library_path": "ONNX_SHARED_LIBRARY_PATH",
	"classify_timeout_ms":      "CLASSIFY_TIMEOUT_MS",
	"channel_order":            "CHANNEL_ORDER",
	"sampler_interval_ms":      "SAMPLER_INTERVAL_MS",
	"upload_max_bytes":         "UPLOAD_MAX_BYTES",
	"metrics_sampling_rate":    "METRICS_SAMPLING_RATE",
	"telegraf_host":            "TELEGRAF_HOST",
	"telegraf_port":            "TELEGRAF_PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "handpose-api")
	v.SetDefault("app_env", "local")
	v.SetDefault("app_log_level", "INFO")
	v.SetDefault("app_port", 8080)
	v.SetDefault("model_path", "models/mobilenet_handpose.onnx")
	v.SetDefault("model_metadata_path", "models/model_metadata.json")
	v.SetDefault("classify_timeout_ms", 5000)
	v.SetDefault("channel_order", "RGB")
	v.SetDefault("sampler_interval_ms", 2000)
	v.SetDefault("upload_max_bytes", 10<<20)
	v.SetDefault("metrics_sampling_rate", 1.0)
	v.SetDefault("telegraf_host", "localhost")
	v.SetDefault("telegraf_port", "8125")
}

// Load reads the configuration from the environment.
func Load() (*Configs, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Configs, error) {
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Configs{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configs) validate() error {
	if c.AppName == "" {
		return fmt.Errorf("APP_NAME is not set")
	}
	if c.AppPort <= 0 {
		return fmt.Errorf("invalid APP_PORT %d", c.AppPort)
	}
	if c.ClassifyTimeoutMs < 0 || c.SamplerIntervalMs < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("invalid UPLOAD_MAX_BYTES %d", c.UploadMaxBytes)
	}
	if _, err := imaging.ParseChannelOrder(c.ChannelOrder); err != nil {
		return err
	}
	return nil
}

// Order returns the parsed CHANNEL_ORDER.
func (c *Configs) Order() imaging.ChannelOrder {
	o, _ := imaging.ParseChannelOrder(c.ChannelOrder)
	return o
}

// ClassifyTimeout is zero when inference is unbounded.
func (c *Configs) ClassifyTimeout() time.Duration {
	return time.Duration(c.ClassifyTimeoutMs) * time.Millisecond
}

func (c *Configs) SamplerInterval() time.Duration {
	return time.Duration(c.SamplerIntervalMs) * time.Millisecond
}

func (c *Configs) Addr() string {
	return fmt.Sprintf(":%d", c.AppPort)
}
