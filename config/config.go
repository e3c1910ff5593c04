// Package config loads the relay's process configuration using Viper,
// supporting a config file plus environment variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ServerConfig holds the relay process's configuration. Tags map config
// file keys and environment variables (VOICERELAY_ prefixed) onto fields;
// validate tags are enforced by Validate after loading.
type ServerConfig struct {
	ListenAddr           string `mapstructure:"listen_addr" validate:"required"`
	PathPrefix           string `mapstructure:"path_prefix" validate:"required"`
	MaxSessionsPerTenant int    `mapstructure:"max_sessions_per_tenant" validate:"required,min=1"`
	MaxSessionDurationMs int    `mapstructure:"max_session_duration_ms" validate:"required,min=1"`
	HeartbeatIntervalMs  int    `mapstructure:"heartbeat_interval_ms" validate:"required,min=1"`
	InactivityTimeoutMs  int    `mapstructure:"inactivity_timeout_ms" validate:"required,min=1"`
	MaxAudioBufferBytes  int    `mapstructure:"max_audio_buffer_bytes" validate:"required,min=1"`
	UpstreamWSBase       string `mapstructure:"upstream_ws_base" validate:"required,url"`

	JWT struct {
		Secret string `mapstructure:"secret" validate:"required"`
	} `mapstructure:"jwt"`

	Postgres struct {
		ConnString string `mapstructure:"conn_string"`
	} `mapstructure:"postgres"`

	OTel struct {
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"otel"`
}

// Load reads ServerConfig from a "voicerelay" config file (yaml, searched
// in the current directory, /etc/voicerelay/, $HOME/.voicerelay, and any
// extraPaths), environment variables prefixed VOICERELAY_, and validates
// the result.
func Load(extraPaths ...string) (*ServerConfig, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("path_prefix", "/ws/voice")
	v.SetDefault("max_sessions_per_tenant", 50)
	v.SetDefault("max_session_duration_ms", 1_800_000)
	v.SetDefault("heartbeat_interval_ms", 30_000)
	v.SetDefault("inactivity_timeout_ms", 120_000)
	v.SetDefault("max_audio_buffer_bytes", 1_048_576)

	v.SetConfigName("voicerelay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/voicerelay/")
	v.AddConfigPath("$HOME/.voicerelay")
	for _, path := range extraPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("VOICERELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// ConfigFileUsed runs the same config-file search Load performs and returns
// the path Viper resolved, or "" if no voicerelay config file was found (a
// deployment driven entirely by environment variables). Callers use this to
// decide whether hot-reload via a [FileWatcher] is possible.
func ConfigFileUsed(extraPaths ...string) string {
	v := viper.New()
	v.SetConfigName("voicerelay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/voicerelay/")
	v.AddConfigPath("$HOME/.voicerelay")
	for _, path := range extraPaths {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}
