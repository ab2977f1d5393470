// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package weaprous

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is shared by the backend engine and the proxy. Each executable
// reads it under its own environment prefix.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	// Port is left zero when unset so each executable can apply its own default.
	Port int `env:"PORT"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT"      envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"30s"`
	MaxRequestSize  int           `env:"MAX_REQUEST_SIZE"  envDefault:"1048576"`

	// Observability servers are disabled when their port is zero.
	MetricsPort int `env:"METRICS_PORT"`
	HealthPort  int `env:"HEALTH_PORT"`

	// Backend engine
	StaticDir     string        `env:"STATIC_DIR"     envDefault:"www"`
	UsersFile     string        `env:"USERS_FILE"     envDefault:"db/users.json"`
	SessionExpiry time.Duration `env:"SESSION_EXPIRY" envDefault:"15s"`
	// LoginBurst attempts per username, regaining one every LoginInterval.
	LoginBurst    int64         `env:"LOGIN_BURST"    envDefault:"5"`
	LoginInterval time.Duration `env:"LOGIN_INTERVAL" envDefault:"2s"`

	// Proxy
	RoutesFile          string        `env:"ROUTES_FILE"           envDefault:"config/proxy.yaml"`
	BackendTimeout      time.Duration `env:"BACKEND_TIMEOUT"       envDefault:"30s"`
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
}

// NewConfig parses the environment into a Config.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}
