package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-io-consult/pkg/config"
	"github.com/weiawesome/wes-io-consult/pkg/database"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/storage"
)

type Config struct {
	Server   ServerConfig
	Database database.Config
	Redis    RedisConfig
	Cache    CacheConfig
	PubSub   pubsub.Config
	Kafka    KafkaConfig
	Auth     AuthConfig
	Session  SessionConfig
	Storage  StorageConfig
	Media    MediaConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	MediaTTL  time.Duration `mapstructure:"media_ttl"`
}

// SessionConfig holds the business rules of consultations.
type SessionConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	DefaultRate     float64       `mapstructure:"default_rate"`
	StartingBalance float64       `mapstructure:"starting_balance"`
}

type StorageConfig struct {
	Enabled        bool
	Prefix         string
	storage.Config `mapstructure:",squash"`
}

type MediaConfig struct {
	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

// ICEServer is one STUN or TURN server handed to media engines.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
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
	v.SetDefault("server.port", 8091)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "session_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/session.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.prefix", "consult")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "session-service")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "consult-session-events")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("auth.issuer", "wes-io-consult")
	v.SetDefault("auth.access_ttl", "24h")
	v.SetDefault("auth.media_ttl", "5m")
	v.SetDefault("session.request_timeout", "2m")
	v.SetDefault("session.sweep_interval", "5s")
	v.SetDefault("session.default_rate", 10)
	v.SetDefault("session.starting_balance", 100)
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.prefix", "transcripts")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/archive")
	v.SetDefault("log.level", "info")

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.region", "S3_REGION")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 10*time.Minute)
	cfg.Auth.AccessTTL = pkgconfig.Duration(v, "auth.access_ttl", 24*time.Hour)
	cfg.Auth.MediaTTL = pkgconfig.Duration(v, "auth.media_ttl", 5*time.Minute)
	cfg.Session.RequestTimeout = pkgconfig.Duration(v, "session.request_timeout", 2*time.Minute)
	cfg.Session.SweepInterval = pkgconfig.Duration(v, "session.sweep_interval", 5*time.Second)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.Duration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.Duration(v, "pubsub.redis.write_timeout", 3*time.Second)

	return &cfg, nil
}
