package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-totp-chat/pkg/config"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	PubSub    PubSubConfig `mapstructure:"pubsub"`
	Auth      AuthConfig
	Secret    SecretConfig
	Totp      TotpConfig
	Chat      ChatConfig
	AI        AIConfig `mapstructure:"ai"`
	WebSocket WebSocketConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Driver     string        // memory, redis
	Prefix     string
	CodeTTL    time.Duration `mapstructure:"code_ttl"`
	MemoryPath string        `mapstructure:"memory_path"`
}

type PubSubConfig struct {
	Driver string // memory, redis
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type SecretConfig struct {
	MasterKeyB64 string `mapstructure:"master_key_b64"`
}

type TotpConfig struct {
	Period time.Duration
	Skew   uint
}

type ChatConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
	JoinDebounce     time.Duration `mapstructure:"join_debounce"`
	PresenceCapacity int           `mapstructure:"presence_capacity"`
}

type AIConfig struct {
	Provider           string
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string
	Temperature        float32
	Timeout            time.Duration
	ContextMessages    int           `mapstructure:"context_messages"`
	MaxMessageLength   int           `mapstructure:"max_message_length"`
	HistoryPageSize    int           `mapstructure:"history_page_size"`
	Username           string
	Persona            string
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	ReaperSchedule     string        `mapstructure:"reaper_schedule"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

const defaultPersona = "You are a friendly and helpful AI assistant taking part in a group chat room. " +
	"Answer concisely and address the person who asked."

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 15*time.Second)
	cfg.Cache.CodeTTL = pkgconfig.Duration(v, "cache.code_ttl", 30*time.Second)
	cfg.Auth.TokenTTL = pkgconfig.Duration(v, "auth.token_ttl", 24*time.Hour)
	cfg.Totp.Period = pkgconfig.Duration(v, "totp.period", 30*time.Second)
	cfg.Chat.JoinDebounce = pkgconfig.Duration(v, "chat.join_debounce", 5*time.Minute)
	cfg.AI.Timeout = pkgconfig.Duration(v, "ai.timeout", 15*time.Second)
	cfg.AI.SessionIdleTimeout = pkgconfig.Duration(v, "ai.session_idle_timeout", 24*time.Hour)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "totp_chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/chat.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.prefix", "totp:code")
	v.SetDefault("cache.code_ttl", "30s")
	v.SetDefault("cache.memory_path", ":memory:")
	v.SetDefault("pubsub.driver", "memory")
	v.SetDefault("auth.issuer", "wes-totp-chat")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("totp.period", "30s")
	v.SetDefault("totp.skew", 1)
	v.SetDefault("chat.max_message_length", 1000)
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.max_page_size", 100)
	v.SetDefault("chat.join_debounce", "5m")
	v.SetDefault("chat.presence_capacity", 10000)
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-3.5-turbo")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.timeout", "15s")
	v.SetDefault("ai.context_messages", 10)
	v.SetDefault("ai.max_message_length", 2000)
	v.SetDefault("ai.history_page_size", 50)
	v.SetDefault("ai.username", "AI Assistant")
	v.SetDefault("ai.persona", defaultPersona)
	v.SetDefault("ai.session_idle_timeout", "24h")
	v.SetDefault("ai.reaper_schedule", "@every 10m")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.driver", "CODE_CACHE_DRIVER")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("secret.master_key_b64", "MASTER_KEY_B64")
	v.BindEnv("ai.api_key", "OPENAI_API_KEY")
	v.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("ai.model", "OPENAI_MODEL")
	v.BindEnv("log.level", "LOG_LEVEL")
}
