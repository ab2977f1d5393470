// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/absmach/weaprous/pkg/errors"
	"github.com/absmach/weaprous/pkg/handler"
	"github.com/absmach/weaprous/pkg/header"
)

const (
	// IndexPath replaces "/" before any routing decision.
	IndexPath = "/index.html"

	// AuthCookie and SessionCookie are read for the index auth check.
	AuthCookie    = "auth"
	SessionCookie = "sessionid"

	headerEnd = "\r\n\r\n"

	// logPrefixLen bounds how much of a bad request line is logged.
	logPrefixLen = 50
)

// AuthStatus is the informational result of the index page session check.
type AuthStatus int

const (
	// AuthNone means the check did not apply to the request path.
	AuthNone AuthStatus = iota
	// AuthOK means both cookies were present and the session validated.
	AuthOK
	// AuthFail means the cookies were missing or the session was invalid.
	AuthFail
)

// String returns a string representation of the status.
func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "AUTH_OK"
	case AuthFail:
		return "AUTH_FAIL"
	default:
		return "none"
	}
}

// SessionValidator checks whether a session id is live.
type SessionValidator interface {
	Validate(id string) bool
}

// Request is a parsed inbound HTTP request. A request whose line could
// not be parsed has an empty Method and must be answered with a 400.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers *header.Map
	Cookies map[string]string
	Body    []byte

	// Handler is nil when no route matched; the engine then serves a static file.
	Handler handler.Func
	Auth    AuthStatus
}

// Valid reports whether the request line was parsed.
func (r *Request) Valid() bool {
	return r.Method != ""
}

// RequestLine re-serializes the parsed request line.
func (r *Request) RequestLine() string {
	return r.Method + " " + r.Path + " " + r.Version
}

// ParseRequestLine splits the first line of raw into exactly three
// whitespace-separated tokens. The method is upper-cased and "/" becomes
// IndexPath.
func ParseRequestLine(raw string) (method, path, version string, err error) {
	line := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", "", fmt.Errorf("%w: expected 3 tokens, got %d", errors.ErrMalformedRequest, len(fields))
	}

	method, path, version = strings.ToUpper(fields[0]), fields[1], fields[2]
	if path == "/" {
		path = IndexPath
	}
	return method, path, version, nil
}

// ParseHeaders reads the header lines that follow the request line, up to
// the first empty line. Each line is split on the first ": "; lines
// without that separator are skipped.
func ParseHeaders(raw string) *header.Map {
	headers := &header.Map{}
	if end := strings.Index(raw, headerEnd); end >= 0 {
		raw = raw[:end]
	}

	lines := strings.Split(raw, "\n")
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return headers
}

// ParseCookies decodes the Cookie header. Pairs are separated by ";" and
// split on the first "="; pairs without "=" are skipped. A later pair with
// the same name wins.
func ParseCookies(headers *header.Map) map[string]string {
	cookies := make(map[string]string)
	for _, pair := range strings.Split(headers.Get("Cookie"), ";") {
		pair = strings.TrimSpace(pair)
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cookies[name] = value
	}
	return cookies
}

// Body returns everything after the first blank line, or nil when the
// message has no header terminator.
func Body(raw []byte) []byte {
	i := bytes.Index(raw, []byte(headerEnd))
	if i < 0 {
		return nil
	}
	return raw[i+len(headerEnd):]
}

// Parser turns raw request bytes into a routed Request.
type Parser struct {
	routes   *handler.Routes
	sessions SessionValidator
	logger   *slog.Logger
}

// New creates a parser bound to a route table and a session validator.
// Either may be nil.
func New(routes *handler.Routes, sessions SessionValidator, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		routes:   routes,
		sessions: sessions,
		logger:   logger,
	}
}

// Prepare parses raw and resolves it against the route table. It never
// fails; callers check Request.Valid.
func (p *Parser) Prepare(raw []byte) *Request {
	req := &Request{
		Headers: &header.Map{},
		Cookies: map[string]string{},
	}
	msg := string(raw)

	method, path, version, err := ParseRequestLine(msg)
	if err != nil {
		p.logger.Warn("failed to parse request line",
			slog.String("prefix", prefix(msg, logPrefixLen)),
			slog.String("error", err.Error()))
		return req
	}
	req.Method, req.Path, req.Version = method, path, version

	req.Headers = ParseHeaders(msg)
	req.Cookies = ParseCookies(req.Headers)
	req.Body = Body(raw)

	if fn, ok := p.routes.Lookup(req.Method, req.Path); ok {
		req.Handler = fn
		p.logger.Debug("route matched", slog.String("method", req.Method), slog.String("path", req.Path))
	} else {
		p.logger.Debug("no route matched", slog.String("method", req.Method), slog.String("path", req.Path))
	}

	if req.Path == IndexPath {
		req.Auth = p.checkIndexAuth(req.Cookies)
		p.logger.Debug("index auth check", slog.String("status", req.Auth.String()))
	}

	return req
}

// checkIndexAuth is informational; handlers enforce access themselves.
func (p *Parser) checkIndexAuth(cookies map[string]string) AuthStatus {
	sid := cookies[SessionCookie]
	if cookies[AuthCookie] != "true" || sid == "" {
		return AuthFail
	}
	if p.sessions != nil && p.sessions.Validate(sid) {
		return AuthOK
	}
	delete(cookies, AuthCookie)
	return AuthFail
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
