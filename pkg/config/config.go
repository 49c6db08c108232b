package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Name     string `yaml:"name" env:"DB_NAME"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS"`

	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" env:"DB_SLOW_QUERY_THRESHOLD"`
}

// DSN 返回 pgx 连接串
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url" env:"MQ_URL"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	Issuer string        `yaml:"issuer" env:"JWT_ISSUER"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            string        `yaml:"port" env:"SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled     bool   `yaml:"enabled" env:"OTEL_ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// ParseEnv 用环境变量覆盖 target 中带 env tag 的字段（未设置的变量保持原值）
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
