// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package backend is the HTTP engine: it reads one request per connection,
// dispatches it to a registered handler or the static responder, and writes
// back a single response before the connection is closed.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	perrors "github.com/absmach/weaprous/pkg/errors"
	"github.com/absmach/weaprous/pkg/handler"
	"github.com/absmach/weaprous/pkg/metrics"
	"github.com/absmach/weaprous/pkg/parser"
	"github.com/absmach/weaprous/pkg/response"
	"github.com/absmach/weaprous/pkg/server/tcp"
)

const component = "backend"

// Config holds the engine configuration.
type Config struct {
	// ReadTimeout bounds reading the request and writing the response.
	ReadTimeout time.Duration

	// MaxRequestSize caps the number of bytes read per request.
	MaxRequestSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine serves the HTTP engine over accepted connections. It implements
// tcp.Handler.
type Engine struct {
	config   Config
	parser   *parser.Parser
	static   *response.Static
	sessions parser.SessionValidator
}

var _ tcp.Handler = (*Engine)(nil)

// New creates an engine. static may be nil, in which case unmatched paths
// answer 404.
func New(cfg Config, routes *handler.Routes, sessions parser.SessionValidator, static *response.Static) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = parser.DefaultMaxMessageSize
	}

	return &Engine{
		config:   cfg,
		parser:   parser.New(routes, sessions, cfg.Logger),
		static:   static,
		sessions: sessions,
	}
}

// ServeConn handles exactly one request on conn.
func (e *Engine) ServeConn(ctx context.Context, conn net.Conn, info tcp.ConnInfo) error {
	return e.config.Metrics.ObserveConnection(func() error {
		return e.serve(ctx, conn, info)
	})
}

func (e *Engine) serve(ctx context.Context, conn net.Conn, info tcp.ConnInfo) (err error) {
	logger := e.config.Logger.With(slog.String("conn", info.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			n, werr := response.InternalError(fmt.Sprintf("Server error: %v", r)).WriteTo(conn)
			e.config.Metrics.ObserveRequest("", http.StatusInternalServerError, 0, int(n))
			err = nil
			if werr != nil {
				err = perrors.New("write", component, info.ID, info.RemoteAddr, werr)
			}
		}
	}()

	conn.SetDeadline(time.Now().Add(e.config.ReadTimeout))

	raw, err := parser.ReadMessage(conn, e.config.MaxRequestSize)
	var resp *response.Response
	method := ""
	switch {
	case err == io.EOF:
		logger.Debug("client closed without sending data")
		return nil
	case perrors.Is(err, perrors.ErrRequestTooLarge):
		logger.Warn("request exceeds size limit", slog.Int("limit", e.config.MaxRequestSize))
		resp = response.FromError(err)
	case err != nil && len(raw) == 0:
		return perrors.New("read", component, info.ID, info.RemoteAddr, err)
	default:
		if err != nil {
			logger.Debug("partial request read", slog.String("error", err.Error()))
		}
		var req *parser.Request
		req, resp = e.Handle(ctx, raw)
		method = req.Method
		logger.Info("request served",
			slog.String("client", info.RemoteAddr),
			slog.String("request", req.RequestLine()),
			slog.Int("status", resp.Status))
	}

	n, werr := resp.WriteTo(conn)
	e.config.Metrics.ObserveRequest(method, resp.Status, len(raw), int(n))
	if counter, ok := e.sessions.(interface{ Len() int }); ok {
		e.config.Metrics.SetSessions(counter.Len())
	}
	if werr != nil {
		return perrors.New("write", component, info.ID, info.RemoteAddr, werr)
	}
	return nil
}

// Handle turns raw request bytes into the response to send back.
func (e *Engine) Handle(ctx context.Context, raw []byte) (*parser.Request, *response.Response) {
	req := e.parser.Prepare(raw)
	if !req.Valid() {
		return req, response.FromError(perrors.ErrMalformedRequest)
	}

	if req.Handler == nil {
		if e.static == nil {
			return req, response.FromError(perrors.ErrNotFound)
		}
		return req, e.static.Serve(req.Path)
	}

	res, err := e.invoke(ctx, req)
	if err != nil {
		e.config.Logger.Error("handler failed",
			slog.String("request", req.RequestLine()),
			slog.String("error", err.Error()))
		e.config.Metrics.HandlerFailed(req.Path)
		return req, response.InternalError(err.Error())
	}

	resp, err := response.FromResult(res)
	if err != nil {
		e.config.Logger.Error("failed to serialize handler result",
			slog.String("request", req.RequestLine()),
			slog.String("kind", res.Kind.String()),
			slog.String("error", err.Error()))
		e.config.Metrics.HandlerFailed(req.Path)
		return req, response.InternalError(err.Error())
	}
	return req, resp
}

// invoke runs the matched handler, converting a panic into an error.
func (e *Engine) invoke(ctx context.Context, req *parser.Request) (res handler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Error("handler panicked",
				slog.String("request", req.RequestLine()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: panic: %v", perrors.ErrHandlerFault, r)
		}
	}()

	return req.Handler(ctx, req.Headers, req.Body)
}
