package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	AppEnv     string          `mapstructure:"APP_ENV"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	InstanceID string          `mapstructure:"INSTANCE_ID"` // 为空时由进程启动时生成
	Server     ServerConfig    `mapstructure:"SERVER"`      // ChatServer (websocket 推送)
	APIServer  APIServerConfig `mapstructure:"API_SERVER"`
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Feed       FeedConfig      `mapstructure:"FEED"`
	Ranking    RankingConfig   `mapstructure:"RANKING"`
	RateLimit  RateLimitConfig `mapstructure:"RATE_LIMIT"`
}

// ServerConfig holds configuration for the chat (websocket) server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"BROKERS"`
	ClientID        string   `mapstructure:"CLIENT_ID"`
	ChangeFeedTopic string   `mapstructure:"CHANGE_FEED_TOPIC"` // 变更事件 (scope 失效信号)
	// 每个实例都必须收到全部变更事件，所以实际的消费者组是 ConsumerGroupPrefix + "-" + InstanceID。
	ConsumerGroupPrefix string `mapstructure:"CONSUMER_GROUP_PREFIX"`
	Protocol            string `mapstructure:"PROTOCOL"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type       string `mapstructure:"TYPE"` // "postgres" or "sqlite"
	Host       string `mapstructure:"HOST"`
	Port       int    `mapstructure:"PORT"`
	User       string `mapstructure:"USER"`
	Password   string `mapstructure:"PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	SSLMode    string `mapstructure:"SSL_MODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	LogLevel   string `mapstructure:"LOG_LEVEL"` // gorm logger: silent, error, warn, info
}

// StorageConfig holds configuration for media storage.
type StorageConfig struct {
	Type          string `mapstructure:"TYPE"` // only "local" for now
	LocalPath     string `mapstructure:"LOCAL_PATH"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	// 会话重新校验的周期（token 被注销后连接会被关闭）
	SessionCheckSeconds int `mapstructure:"SESSION_CHECK_SECONDS"`
}

// FeedConfig selects the live change feed that links notifier instances.
type FeedConfig struct {
	Type      string `mapstructure:"TYPE"` // local, redis, kafka
	QueueSize int    `mapstructure:"QUEUE_SIZE"`
}

// RankingConfig controls leaderboard windows and caching.
type RankingConfig struct {
	Timezone string        `mapstructure:"TIMEZONE"`
	TopN     int           `mapstructure:"TOP_N"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
}

// RateLimitConfig throttles message sends per user.
type RateLimitConfig struct {
	MessagesPerWindow int           `mapstructure:"MESSAGES_PER_WINDOW"`
	Window            time.Duration `mapstructure:"WINDOW"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "chatsync")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("INSTANCE_ID", "")

	// Server Defaults (ChatServer)
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Kafka Defaults
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "chatsync")
	v.SetDefault("KAFKA.CHANGE_FEED_TOPIC", "chatsync-changes")
	v.SetDefault("KAFKA.CONSUMER_GROUP_PREFIX", "chatsync-feed")
	v.SetDefault("KAFKA.PROTOCOL", "")

	// Database Defaults
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "chatsync")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.SQLITE_PATH", "chatsync.db")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	// Storage Defaults
	v.SetDefault("STORAGE.TYPE", "local")
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.PUBLIC_BASE_URL", "/uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 50)

	// Auth Defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)

	// Redis Defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// WebSocket Defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 512)
	v.SetDefault("WEBSOCKET.SESSION_CHECK_SECONDS", 60)

	// Change feed / notifier
	v.SetDefault("FEED.TYPE", "local")
	v.SetDefault("FEED.QUEUE_SIZE", 64)

	// Rankings
	v.SetDefault("RANKING.TIMEZONE", "UTC")
	v.SetDefault("RANKING.TOP_N", 50)
	v.SetDefault("RANKING.CACHE_TTL", 30*time.Second)

	v.SetDefault("RATE_LIMIT.MESSAGES_PER_WINDOW", 30)
	v.SetDefault("RATE_LIMIT.WINDOW", time.Minute)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	// SERVER_PORT 覆盖 SERVER.PORT，嵌套键同理 (RANKING_TIMEZONE)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// 没有配置文件时使用默认值 + 环境变量
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate checks values that would otherwise only fail at first use.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Ranking.Timezone); err != nil {
		return fmt.Errorf("invalid RANKING.TIMEZONE %q: %w", c.Ranking.Timezone, err)
	}
	if c.Ranking.TopN <= 0 {
		return fmt.Errorf("RANKING.TOP_N must be positive, got %d", c.Ranking.TopN)
	}
	switch c.Feed.Type {
	case "local", "redis", "kafka":
	default:
		return fmt.Errorf("unsupported FEED.TYPE: %s", c.Feed.Type)
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE.TYPE: %s", c.Database.Type)
	}
	if c.IsProduction() && len(c.Auth.JWTSecretKey) < 32 {
		return fmt.Errorf("AUTH.JWT_SECRET_KEY must be at least 32 characters in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// RankingLocation returns the single reference zone used for period windows.
func (c *Config) RankingLocation() *time.Location {
	loc, err := time.LoadLocation(c.Ranking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
