package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/channel"
	pkgconfig "github.com/weiawesome/wes-io-consult/pkg/config"
	"github.com/weiawesome/wes-io-consult/pkg/database"
)

type Config struct {
	Participant ParticipantConfig
	Auth        AuthConfig
	Relay       channel.Config
	Backend     BackendConfig
	Session     SessionConfig
	Cache       CacheConfig
	Media       MediaConfig
	Log         LogConfig
}

type ParticipantConfig struct {
	ID          string
	DisplayName string `mapstructure:"display_name"`
	Role        string
}

// AuthConfig carries the access token. When Token is empty and JWTSecret is
// set the agent signs its own token, which only works against a development
// deployment sharing that secret.
type AuthConfig struct {
	Token     string
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
}

type CacheConfig struct {
	Enabled    bool
	SecretPath string `mapstructure:"secret_path"`
	Info       string
	Database   database.Config
}

type MediaConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level  string
	Pretty bool
	File   string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "agent")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("participant.role", "provider")
	v.SetDefault("auth.issuer", "wes-io-consult")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("relay.url", "ws://localhost:8090/ws")
	v.SetDefault("relay.min_backoff", "500ms")
	v.SetDefault("relay.max_backoff", "30s")
	v.SetDefault("relay.handshake_timeout", "10s")
	v.SetDefault("relay.ping_interval", "30s")
	v.SetDefault("relay.pong_wait", "60s")
	v.SetDefault("relay.write_wait", "10s")
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("backend.base_url", "http://localhost:8091")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("session.stale_after", "2m")
	v.SetDefault("session.request_timeout", "10s")
	v.SetDefault("session.tick_interval", "1s")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.secret_path", "./data/device.key")
	v.SetDefault("cache.info", "consult-agent/profile-cache")
	v.SetDefault("cache.database.driver", "sqlite")
	v.SetDefault("cache.database.file_path", "./data/agent-cache.db")
	v.SetDefault("cache.database.log_level", "silent")
	v.SetDefault("media.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.file", "./data/agent.log")

	// Override from environment
	v.BindEnv("participant.id", "PARTICIPANT_ID")
	v.BindEnv("participant.display_name", "PARTICIPANT_NAME")
	v.BindEnv("participant.role", "PARTICIPANT_ROLE")
	v.BindEnv("auth.token", "ACCESS_TOKEN")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("relay.url", "RELAY_URL")
	v.BindEnv("backend.base_url", "SESSION_SERVICE_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Auth.TokenTTL = pkgconfig.Duration(v, "auth.token_ttl", 12*time.Hour)
	cfg.Relay.MinBackoff = pkgconfig.Duration(v, "relay.min_backoff", 500*time.Millisecond)
	cfg.Relay.MaxBackoff = pkgconfig.Duration(v, "relay.max_backoff", 30*time.Second)
	cfg.Relay.HandshakeTimeout = pkgconfig.Duration(v, "relay.handshake_timeout", 10*time.Second)
	cfg.Relay.PingInterval = pkgconfig.Duration(v, "relay.ping_interval", 30*time.Second)
	cfg.Relay.PongWait = pkgconfig.Duration(v, "relay.pong_wait", 60*time.Second)
	cfg.Relay.WriteWait = pkgconfig.Duration(v, "relay.write_wait", 10*time.Second)
	cfg.Backend.Timeout = pkgconfig.Duration(v, "backend.timeout", 10*time.Second)
	cfg.Session.StaleAfter = staleAfter(v)
	cfg.Session.RequestTimeout = pkgconfig.Duration(v, "session.request_timeout", 10*time.Second)
	cfg.Session.TickInterval = pkgconfig.Duration(v, "session.tick_interval", time.Second)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// staleAfter allows "0" to switch local eviction off.
func staleAfter(v *viper.Viper) time.Duration {
	if v.GetString("session.stale_after") == "0" {
		return 0
	}
	return pkgconfig.Duration(v, "session.stale_after", 2*time.Minute)
}

func (c *Config) validate() error {
	if c.Participant.ID == "" {
		return fmt.Errorf("participant.id is required")
	}
	switch c.Participant.Role {
	case "provider", "requester":
	default:
		return fmt.Errorf("participant.role must be provider or requester, got %q", c.Participant.Role)
	}
	if c.Auth.Token == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.token or auth.jwt_secret is required")
	}
	if c.Participant.DisplayName == "" {
		c.Participant.DisplayName = c.Participant.ID
	}
	return nil
}
