// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/weaprous/pkg/breaker"
	perrors "github.com/absmach/weaprous/pkg/errors"
	"github.com/absmach/weaprous/pkg/metrics"
	"github.com/absmach/weaprous/pkg/parser"
	"github.com/absmach/weaprous/pkg/response"
	"github.com/absmach/weaprous/pkg/server/tcp"
)

const component = "proxy"

// DialFunc opens an outbound connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds the reverse proxy configuration.
type Config struct {
	// ListenPort is the proxy's own port, used for "hostname:port" route keys.
	ListenPort int

	// ReadTimeout bounds reading the client request and writing the reply.
	ReadTimeout time.Duration

	// BackendTimeout bounds dialing, writing to and reading from a backend.
	BackendTimeout time.Duration

	// MaxRequestSize caps the number of bytes read from the client.
	MaxRequestSize int

	// Breaker configures the per-backend circuit breakers.
	Breaker breaker.Config

	// Dial overrides the outbound dialer.
	Dial DialFunc

	// Intn overrides the random source used to pick among backends.
	Intn func(int) int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Proxy forwards each client request to the backend its Host header
// resolves to and relays the backend's bytes back unchanged. It
// implements tcp.Handler.
type Proxy struct {
	config   Config
	routes   Table
	breakers *breaker.Group
}

var _ tcp.Handler = (*Proxy)(nil)

// New creates a proxy over an immutable routing table.
func New(cfg Config, routes Table) *Proxy {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 30 * time.Second
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = parser.DefaultMaxMessageSize
	}
	if cfg.Dial == nil {
		cfg.Dial = (&net.Dialer{}).DialContext
	}
	if routes == nil {
		routes = Table{}
	}

	p := &Proxy{
		config: cfg,
		routes: routes,
	}
	p.breakers = breaker.NewGroup(cfg.Breaker, breaker.WithStateChange(p.breakerChanged))
	return p
}

func (p *Proxy) breakerChanged(backend string, from, to breaker.State) {
	p.config.Logger.Warn("backend circuit breaker changed state",
		slog.String("backend", backend),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	p.config.Metrics.SetBreakerState(backend, int(to))
}

// ExtractHost returns the hostname of the first line that starts with
// "host:" in any case. Any ":port" suffix is dropped.
func ExtractHost(raw []byte) (string, bool) {
	for _, b := range bytes.Split(raw, []byte("\n")) {
		line := strings.TrimRight(string(b), "\r")
		if len(line) < 5 || !strings.EqualFold(line[:5], "host:") {
			continue
		}
		value := strings.TrimSpace(line[5:])
		host, _, _ := strings.Cut(value, ":")
		if host == "" {
			return "", false
		}
		return host, true
	}
	return "", false
}

// Resolve maps hostname to the backend to dial.
func (p *Proxy) Resolve(hostname string) (string, int) {
	route, key, ok := p.routes.Lookup(hostname, p.config.ListenPort)
	if !ok {
		p.config.Logger.Debug("no route for host, using default backend", slog.String("host", hostname))
		return DefaultHost, DefaultPort
	}

	entry := route.Pick(p.config.Intn)
	if entry == "" {
		p.config.Logger.Warn("empty backend list, using default backend", slog.String("route", key))
		return DefaultHost, DefaultPort
	}

	host, port := SplitBackend(entry)
	p.config.Logger.Debug("route resolved",
		slog.String("route", key),
		slog.String("policy", route.Policy),
		slog.String("backend", net.JoinHostPort(host, strconv.Itoa(port))))
	return host, port
}

// Forward sends raw to addr over a fresh connection and returns everything
// the backend writes until it closes. Any failure yields the canned 404.
func (p *Proxy) Forward(ctx context.Context, addr string, raw []byte) []byte {
	cb := p.breakers.Get(addr)
	if err := cb.Allow(); err != nil {
		p.config.Logger.Warn("backend circuit open, not dialing", slog.String("backend", addr))
		p.config.Metrics.ObserveBackend(addr, 0, "circuit_open")
		return response.FromError(fmt.Errorf("%w: %w", perrors.ErrBackendUnavailable, err)).Bytes()
	}

	start := time.Now()
	out, errType, err := p.roundTrip(ctx, addr, raw)
	cb.Record(err)
	p.config.Metrics.ObserveBackend(addr, time.Since(start), errType)

	if err != nil {
		err = fmt.Errorf("%w: %w", perrors.ErrBackendUnavailable, err)
		p.config.Logger.Error("failed to forward request",
			slog.String("backend", addr),
			slog.String("error", err.Error()))
		return response.FromError(err).Bytes()
	}
	return out
}

func (p *Proxy) roundTrip(ctx context.Context, addr string, raw []byte) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.BackendTimeout)
	defer cancel()

	conn, err := p.config.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, "dial", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(raw); err != nil {
		return nil, "write", err
	}

	out, err := io.ReadAll(conn)
	if err != nil {
		return nil, "read", err
	}
	return out, "", nil
}

// ServeConn reads one request, forwards it and relays the reply.
func (p *Proxy) ServeConn(ctx context.Context, conn net.Conn, info tcp.ConnInfo) error {
	return p.config.Metrics.ObserveConnection(func() error {
		return p.serve(ctx, conn, info)
	})
}

func (p *Proxy) serve(ctx context.Context, conn net.Conn, info tcp.ConnInfo) (err error) {
	logger := p.config.Logger.With(slog.String("conn", info.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("proxy panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			p.reply(conn, info, "", response.InternalError(fmt.Sprintf("Proxy error: %v", r)).Bytes(), 0)
			err = nil
		}
	}()

	conn.SetReadDeadline(time.Now().Add(p.config.ReadTimeout))

	raw, err := parser.ReadMessage(conn, p.config.MaxRequestSize)
	switch {
	case err == io.EOF:
		return nil
	case perrors.Is(err, perrors.ErrRequestTooLarge):
		logger.Warn("request exceeds size limit", slog.Int("limit", p.config.MaxRequestSize))
		return p.reply(conn, info, "", response.FromError(err).Bytes(), len(raw))
	case err != nil && len(raw) == 0:
		return perrors.New("read", component, info.ID, info.RemoteAddr, err)
	}

	method, _, _, _ := parser.ParseRequestLine(string(raw))

	hostname, ok := ExtractHost(raw)
	if !ok {
		logger.Warn("no Host header, rejecting", slog.String("client", info.RemoteAddr))
		return p.reply(conn, info, method, response.FromError(perrors.ErrMissingHost).Bytes(), len(raw))
	}

	host, port := p.Resolve(hostname)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger.Info("forwarding request",
		slog.String("client", info.RemoteAddr),
		slog.String("host", hostname),
		slog.String("backend", addr))

	return p.reply(conn, info, method, p.Forward(ctx, addr, raw), len(raw))
}

func (p *Proxy) reply(conn net.Conn, info tcp.ConnInfo, method string, out []byte, reqSize int) error {
	conn.SetWriteDeadline(time.Now().Add(p.config.ReadTimeout))
	n, err := conn.Write(out)
	p.config.Metrics.ObserveRequest(method, statusOf(out), reqSize, n)
	if err != nil {
		return perrors.New("write", component, info.ID, info.RemoteAddr, err)
	}
	return nil
}

// statusOf reads the status code from a relayed status line, or 0.
func statusOf(out []byte) int {
	line, _, _ := bytes.Cut(out, []byte("\r\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}
