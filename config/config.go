package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 服务整体配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Shards    ShardsConfig    `mapstructure:"shards"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Feed      FeedConfig      `mapstructure:"feed"`
	FeedStore FeedStoreConfig `mapstructure:"feed_store"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Relation  RelationConfig  `mapstructure:"relation"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

// ShardsConfig 分库配置，仅 feed_store.backend=sharded 时使用
type ShardsConfig struct {
	DSNs   []string `mapstructure:"dsns"`
	Tables int      `mapstructure:"tables" validate:"gte=1"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr" validate:"required"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	ObjectTTL time.Duration `mapstructure:"object_ttl"`
}

// FeedConfig newsfeed 缓存与分页
type FeedConfig struct {
	ListLimit       int `mapstructure:"list_limit" validate:"gte=1"`
	DefaultPageSize int `mapstructure:"default_page_size" validate:"gte=1"`
	MaxPageSize     int `mapstructure:"max_page_size" validate:"gtefield=DefaultPageSize"`
}

type FeedStoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=single sharded"`
}

// FanoutConfig 扇出参数
type FanoutConfig struct {
	BatchSize        int           `mapstructure:"batch_size" validate:"gte=1"`
	Workers          int           `mapstructure:"workers" validate:"gte=1"`
	ClaimLimit       int           `mapstructure:"claim_limit" validate:"gte=1"`
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	TaskTimeLimit    time.Duration `mapstructure:"task_time_limit" validate:"gt=0"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gte=1"`
	BatchesPerSecond float64       `mapstructure:"batches_per_second" validate:"gte=0"`
	ReapSpec         string        `mapstructure:"reap_spec" validate:"required"`
}

// RelationConfig 粉丝表写入方式；async 时由 FanReplicator 异步补写
type RelationConfig struct {
	AsyncFans bool `mapstructure:"async_fans"`
	QueueSize int  `mapstructure:"queue_size" validate:"gte=1"`
	Workers   int  `mapstructure:"workers" validate:"gte=1"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "feed.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("shards.tables", 8)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.object_ttl", time.Duration(0))

	v.SetDefault("feed.list_limit", 200)
	v.SetDefault("feed.default_page_size", 20)
	v.SetDefault("feed.max_page_size", 100)

	v.SetDefault("feed_store.backend", "single")

	v.SetDefault("fanout.batch_size", 1000)
	v.SetDefault("fanout.workers", 8)
	v.SetDefault("fanout.claim_limit", 64)
	v.SetDefault("fanout.poll_interval", 50*time.Millisecond)
	v.SetDefault("fanout.task_time_limit", time.Hour)
	v.SetDefault("fanout.max_attempts", 5)
	v.SetDefault("fanout.batches_per_second", 0)
	v.SetDefault("fanout.reap_spec", "@every 1m")

	v.SetDefault("relation.async_fans", false)
	v.SetDefault("relation.queue_size", 10000)
	v.SetDefault("relation.workers", 4)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.issuer", "feedfanout")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.service_name", "feedfanout")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load 读取 config.yaml（可选）并叠加 FEED_ 前缀的环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
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

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.FeedStore.Backend == "sharded" && len(c.Shards.DSNs) == 0 {
		return errors.New("invalid config: feed_store.backend=sharded requires shards.dsns")
	}
	return nil
}
