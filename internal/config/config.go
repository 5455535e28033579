// Package config loads process configuration from the environment,
// following the teacher's precedence rule: real environment variables
// win over a local .env file, which wins over the struct's defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Broker holds everything needed to dial the pub/sub broker and run
// the liveness protocol, per spec.md §6.
type Broker struct {
	Addr string `env:"INFRA_ADDR"`
	Host string `env:"INFRA_HOST" envDefault:"redis"`
	Port int    `env:"INFRA_PORT" envDefault:"6379"`

	PingDelay   float64 `env:"INFRA_PING_DELAY" envDefault:"30"`
	PingTimeout float64 `env:"INFRA_PING_TIMEOUT" envDefault:"2"`
	Reconnect   float64 `env:"INFRA_RECONNECT" envDefault:"10"`
}

// Address resolves the broker's host:port, preferring the combined
// INFRA_ADDR form when present.
func (b Broker) Address() string {
	if b.Addr != "" {
		return b.Addr
	}
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Service is the configuration a service-runtime process loads at boot.
type Service struct {
	Broker

	Name    string `env:"SERVICE_NAME,required"`
	Workers int    `env:"SERVICE_WORKERS" envDefault:"1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`
}

// Updater is the configuration the incremental-stats-updater binary
// loads at boot, per spec.md §6 "Updater configuration".
type Updater struct {
	Broker

	PipeSize  int `env:"PIPE_SIZE" envDefault:"100"`
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`

	InternalDB DBConn `envPrefix:"DB_"`
	SourceDB   DBConn `envPrefix:"A801_"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// DBConn is one MySQL-compatible connection target. The two env
// prefixes in spec.md §6 (DB_* for the internal database, A801_* for
// the external source) both decode into this same shape.
type DBConn struct {
	Host string `env:"IP" envDefault:"database"`
	User string `env:"USER" envDefault:"test"`
	Pass string `env:"PASS" envDefault:"test"`
	Name string `env:"DB" envDefault:"api_data"`
}

// DSN renders the go-sql-driver/mysql data source name for this
// connection target.
func (c DBConn) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:3306)/%s?parseTime=true", c.User, c.Pass, c.Host, c.Name)
}

// Load reads a .env file (if present) then parses environment
// variables into dst, logging what it did along the way. A missing
// .env file is not an error — production deployments set real env
// vars directly.
func Load(dst any, logger *zerolog.Logger) error {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration overrides from .env file")
	}

	if err := env.Parse(dst); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if s, ok := dst.(*Service); ok && strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("SERVICE_NAME is required")
	}

	return nil
}
