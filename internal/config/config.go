package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Liveness   LivenessConfig   `mapstructure:"liveness"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Blob       BlobConfig       `mapstructure:"blob"`
	WorkerPool WorkerPoolConfig `mapstructure:"workerpool"`
	GroupCache GroupCacheConfig `mapstructure:"group_cache"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type AppConfig struct {
	Name   string `mapstructure:"name"`
	Mode   string `mapstructure:"mode"` // gin 模式：debug | release | test
	NodeID int64  `mapstructure:"node_id"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	HealthAddr      string        `mapstructure:"health_addr"`
	WSPath          string        `mapstructure:"ws_path"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	InboundBuffer   int           `mapstructure:"inbound_buffer"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LivenessConfig 探活配置：每 ProbeInterval 发送一次 ping，ProbeDeadline 内未收到 pong 即判定死亡
type LivenessConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeDeadline time.Duration `mapstructure:"probe_deadline"`
}

type AuthConfig struct {
	Mode        string `mapstructure:"mode"` // jwt | redis
	TokenSecret string `mapstructure:"token_secret"`
	CookieName  string `mapstructure:"cookie_name"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN 构造 PostgreSQL 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr 获取 Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	EventsEnabled bool          `mapstructure:"events_enabled"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ObjectBucket  string        `mapstructure:"object_bucket"`
}

// BlobConfig 附件存储配置
type BlobConfig struct {
	Driver string `mapstructure:"driver"` // local | jetstream
	Dir    string `mapstructure:"dir"`
}

type WorkerPoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type GroupCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "im-chat")
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("server.addr", ":4000")
	v.SetDefault("server.health_addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.max_message_bytes", 16<<20)
	v.SetDefault("server.send_buffer", 256)
	v.SetDefault("server.inbound_buffer", 64)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("liveness.probe_interval", 5*time.Second)
	v.SetDefault("liveness.probe_deadline", time.Second)

	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.cookie_name", "token")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.query_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.subject_prefix", "im.chat")
	v.SetDefault("nats.object_bucket", "chat-attachments")

	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.dir", "uploads")

	v.SetDefault("workerpool.workers", 8)
	v.SetDefault("workerpool.queue_size", 1024)

	v.SetDefault("group_cache.enabled", true)
	v.SetDefault("group_cache.ttl", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load 从指定路径加载配置，环境变量 CHAT_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if c.Liveness.ProbeInterval <= 0 {
		errs = append(errs, errors.New("liveness.probe_interval must be positive"))
	}
	if c.Liveness.ProbeDeadline <= 0 {
		errs = append(errs, errors.New("liveness.probe_deadline must be positive"))
	}
	if c.Liveness.ProbeDeadline >= c.Liveness.ProbeInterval {
		errs = append(errs, errors.New("liveness.probe_deadline must be shorter than liveness.probe_interval"))
	}

	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.TokenSecret == "" {
			errs = append(errs, errors.New("auth.token_secret is required in jwt mode"))
		}
	case "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}

	switch c.Blob.Driver {
	case "local":
		if c.Blob.Dir == "" {
			errs = append(errs, errors.New("blob.dir is required for the local driver"))
		}
	case "jetstream":
		if c.NATS.ObjectBucket == "" {
			errs = append(errs, errors.New("nats.object_bucket is required for the jetstream driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob.driver %q", c.Blob.Driver))
	}

	if c.Server.SendBuffer <= 0 {
		errs = append(errs, errors.New("server.send_buffer must be positive"))
	}

	return errors.Join(errs...)
}
