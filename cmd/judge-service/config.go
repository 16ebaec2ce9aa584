package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nageing/nano-oj-backend/internal/common/cache"
	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/common/mq"
	"github.com/nageing/nano-oj-backend/internal/judge/sandbox"
	"github.com/nageing/nano-oj-backend/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultWorkerPoolSize  = 4
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds broker and consumer settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	PrefetchCount int           `yaml:"prefetchCount"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

func (c KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:  c.Brokers,
		ClientID: c.ClientID,
	}
}

// SandboxConfig selects and tunes the execution engine.
type SandboxConfig struct {
	// Engine is "docker" or "fake"; fake is for local development only.
	Engine string `yaml:"engine"`

	// Languages points at the language table; empty uses the built-ins.
	Languages string `yaml:"languages"`

	Docker sandbox.DockerConfig `yaml:"docker"`
}

// WorkerConfig bounds concurrent judge runs.
type WorkerConfig struct {
	PoolSize int `yaml:"poolSize"`
}

// AppConfig is the root configuration for the judge service binary.
type AppConfig struct {
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Sandbox  SandboxConfig     `yaml:"sandbox"`
	Worker   WorkerConfig      `yaml:"worker"`
	Server   ServerConfig      `yaml:"server"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = defaultWorkerPoolSize
	}
	if c.Sandbox.Engine == "" {
		c.Sandbox.Engine = "docker"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "nanooj-judge"
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "nanooj-judge"
	}
}

func (c *AppConfig) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	switch c.Sandbox.Engine {
	case "docker", "fake":
	default:
		return fmt.Errorf("sandbox.engine %q is not supported", c.Sandbox.Engine)
	}
	return nil
}
