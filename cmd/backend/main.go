// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command backend serves the sample application on the HTTP engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/absmach/weaprous"
	"github.com/absmach/weaprous/examples/sampleapp"
	"github.com/absmach/weaprous/pkg/backend"
	"github.com/absmach/weaprous/pkg/health"
	"github.com/absmach/weaprous/pkg/metrics"
	"github.com/absmach/weaprous/pkg/ratelimit"
	"github.com/absmach/weaprous/pkg/response"
	"github.com/absmach/weaprous/pkg/server/tcp"
	"github.com/absmach/weaprous/pkg/session"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix   = "WEAPROUS_BACKEND_"
	defaultPort = 9001

	maxSessions   = 100000
	maxGoroutines = 50000
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := weaprous.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	flag.StringVar(&cfg.Host, "server-ip", cfg.Host, "IP to bind")
	flag.IntVar(&cfg.Port, "server-port", cfg.Port, "Port number")
	flag.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "Directory served for unmatched paths")
	flag.StringVar(&cfg.UsersFile, "users-file", cfg.UsersFile, "JSON file of username to password")
	flag.Parse()

	logger := weaprous.NewLogger(cfg.LogLevel, cfg.LogFormat)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("weaprous_backend", reg)

	sessions := session.NewStore(cfg.SessionExpiry)
	app := sampleapp.New(sampleapp.Config{
		StaticDir:    cfg.StaticDir,
		UsersFile:    cfg.UsersFile,
		LoginLimiter: ratelimit.NewLimiter(cfg.LoginBurst, cfg.LoginInterval, maxSessions),
		Logger:       logger,
		Metrics:      m,
	}, sessions)
	routes := app.Routes()

	engine := backend.New(backend.Config{
		ReadTimeout:    cfg.ReadTimeout,
		MaxRequestSize: cfg.MaxRequestSize,
		Logger:         logger,
		Metrics:        m,
	}, routes, sessions, response.NewStatic(cfg.StaticDir, logger))

	checker := health.NewChecker(10 * time.Second)
	checker.Register("sessions", health.CountCheck("sessions", sessions.Len, maxSessions))
	checker.Register("goroutines", health.GoroutineCheck(maxGoroutines))

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	server := tcp.New(tcp.Config{
		Address:         address,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, engine)

	logger.Info("Starting backend",
		slog.String("address", address),
		slog.Any("routes", routes.Describe()),
		slog.Duration("session_expiry", sessions.Expiry()),
		slog.Int("cpus", runtime.NumCPU()))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Listen(ctx)
	})
	g.Go(func() error {
		return weaprous.ServeHTTP(ctx, "metrics", cfg.MetricsPort, weaprous.MetricsHandler(reg), logger)
	})
	g.Go(func() error {
		return weaprous.ServeHTTP(ctx, "health", cfg.HealthPort, checker.Mux(), logger)
	})
	g.Go(func() error {
		return weaprous.StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("backend terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("backend stopped")
}
