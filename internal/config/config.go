// Package config assembles the service configuration from config/base.yaml,
// the CONFIG_ENV overlay and environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"charityledger/internal/chain"
	"charityledger/pkg/config"
	"charityledger/pkg/rbac"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// LedgerConfig 账本存储配置
type LedgerConfig struct {
	Backend       string `yaml:"backend" env:"LEDGER_BACKEND"`
	RecheckBuffer int    `yaml:"recheck_buffer" env:"LEDGER_RECHECK_BUFFER"`
	StreamMaxLen  int64  `yaml:"stream_max_len" env:"LEDGER_STREAM_MAX_LEN"`
}

// OutboxConfig outbox 投递配置
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL"`
	BatchSize  int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE"`
	MaxRetries int           `yaml:"max_retries" env:"OUTBOX_MAX_RETRIES"`
}

// WorkerConfig 链上捐赠消费者配置
type WorkerConfig struct {
	Enabled    bool          `yaml:"enabled" env:"WORKER_ENABLED"`
	Queue      string        `yaml:"queue" env:"WORKER_QUEUE"`
	DedupeTTL  time.Duration `yaml:"dedupe_ttl" env:"WORKER_DEDUPE_TTL"`
	RetryTTL   time.Duration `yaml:"retry_ttl" env:"WORKER_RETRY_TTL"`
	MaxRetries int64         `yaml:"max_retries" env:"WORKER_MAX_RETRIES"`
}

// Operator 可以换取 token 的运维账号，password_hash 为 bcrypt
type Operator struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
}

type Config struct {
	DB     config.DBConfig     `yaml:"db"`
	Redis  config.RedisConfig  `yaml:"redis"`
	MQ     config.MQConfig     `yaml:"mq"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Server config.ServerConfig `yaml:"server"`
	Log    config.LogConfig    `yaml:"log"`
	Otel   config.OtelConfig   `yaml:"otel"`
	Ledger LedgerConfig        `yaml:"ledger"`
	Outbox OutboxConfig        `yaml:"outbox"`
	Worker WorkerConfig        `yaml:"worker"`
	Chain  chain.Config        `yaml:"chain"`

	Operators []Operator `yaml:"operators"`
}

// Load 读取 CONFIG_ENV / CONFIG_DIR 指定的配置
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	cfg := &Config{}
	if err := config.Decode(env, dir, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = BackendMemory
	}
	if c.Ledger.RecheckBuffer == 0 {
		c.Ledger.RecheckBuffer = 64
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Worker.Queue == "" {
		c.Worker.Queue = "ledger.chain_donations"
	}
	if c.Worker.DedupeTTL == 0 {
		c.Worker.DedupeTTL = 24 * time.Hour
	}
	if c.Worker.RetryTTL == 0 {
		c.Worker.RetryTTL = time.Hour
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 3
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 24 * time.Hour
	}
	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = 10 * time.Second
	}
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	for _, op := range c.Operators {
		if op.ID == "" || op.PasswordHash == "" || !rbac.ValidRole(op.Role) {
			return fmt.Errorf("operator %q needs an id, a password_hash and a known role", op.ID)
		}
	}
	if c.Chain.Enabled && (c.Chain.RelayerURL == "" || c.Chain.ModuleAddress == "") {
		return errors.New("chain.relayer_url and chain.module_address are required when chain is enabled")
	}
	return nil
}
