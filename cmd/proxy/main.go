// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command proxy runs the host-based reverse proxy.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/absmach/weaprous"
	"github.com/absmach/weaprous/pkg/breaker"
	"github.com/absmach/weaprous/pkg/health"
	"github.com/absmach/weaprous/pkg/metrics"
	"github.com/absmach/weaprous/pkg/proxy"
	"github.com/absmach/weaprous/pkg/server/tcp"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix   = "WEAPROUS_PROXY_"
	defaultPort = 8080

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
	flag.StringVar(&cfg.RoutesFile, "routes", cfg.RoutesFile, "YAML backend routing table")
	flag.Parse()

	logger := weaprous.NewLogger(cfg.LogLevel, cfg.LogFormat)

	routes, err := proxy.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		logger.Error("failed to load routes", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("weaprous_proxy", reg)

	p := proxy.New(proxy.Config{
		ListenPort:     cfg.Port,
		ReadTimeout:    cfg.ReadTimeout,
		BackendTimeout: cfg.BackendTimeout,
		MaxRequestSize: cfg.MaxRequestSize,
		Breaker: breaker.Config{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		},
		Logger:  logger,
		Metrics: m,
	}, routes)

	checker := health.NewChecker(10 * time.Second)
	checker.Register("goroutines", health.GoroutineCheck(maxGoroutines))

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	server := tcp.New(tcp.Config{
		Address:         address,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, p)

	logger.Info("Starting proxy",
		slog.String("address", address),
		slog.String("routes_file", cfg.RoutesFile),
		slog.Int("routes", len(routes)))

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
		logger.Error(fmt.Sprintf("proxy terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("proxy stopped")
}
