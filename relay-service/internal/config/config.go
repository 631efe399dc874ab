package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-io-consult/pkg/config"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
)

type Config struct {
	Server         ServerConfig
	WebSocket      WebSocketConfig
	Auth           AuthConfig
	SessionService SessionServiceConfig `mapstructure:"session_service"`
	PubSub         pubsub.Config
	Log            LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	Issuer          string
	ServiceTokenTTL time.Duration `mapstructure:"service_token_ttl"`
}

type SessionServiceConfig struct {
	HTTPAddress string        `mapstructure:"http_address"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Timeout     time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.auth_timeout", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.issuer", "wes-io-consult")
	v.SetDefault("auth.service_token_ttl", "720h")
	v.SetDefault("session_service.http_address", "http://localhost:8091")
	v.SetDefault("session_service.cache_ttl", "5m")
	v.SetDefault("session_service.timeout", "5s")
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "relay-service")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("log.level", "info")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("session_service.http_address", "SESSION_SERVICE_URL")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.group_id", "KAFKA_PUBSUB_GROUP_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.AuthTimeout = pkgconfig.Duration(v, "websocket.auth_timeout", 10*time.Second)
	cfg.Auth.ServiceTokenTTL = pkgconfig.Duration(v, "auth.service_token_ttl", 720*time.Hour)
	cfg.SessionService.CacheTTL = pkgconfig.Duration(v, "session_service.cache_ttl", 5*time.Minute)
	cfg.SessionService.Timeout = pkgconfig.Duration(v, "session_service.timeout", 5*time.Second)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.Duration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.Duration(v, "pubsub.redis.write_timeout", 3*time.Second)

	return &cfg, nil
}
