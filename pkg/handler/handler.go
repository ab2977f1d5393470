// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"strings"

	"github.com/absmach/weaprous/pkg/header"
)

// Func handles one routed request. It receives the parsed request headers
// and the raw body and decides the response shape by returning a Result.
// A non-nil error is reported to the client as a 500 response.
type Func func(ctx context.Context, headers *header.Map, body []byte) (Result, error)

// Kind tags the shape of a Result.
type Kind int

const (
	// KindFallback produces a generic not-found response.
	KindFallback Kind = iota

	// KindStructured carries an explicit status, header block and body.
	KindStructured

	// KindJSON carries a value serialized as an application/json body.
	KindJSON

	// KindHTML carries text served as text/html.
	KindHTML
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindJSON:
		return "json"
	case KindHTML:
		return "html"
	default:
		return "fallback"
	}
}

// Result is the tagged value returned by a Func. Use the constructors
// below; the zero Result is a fallback.
type Result struct {
	Kind    Kind
	Status  int
	Headers *header.Map
	Body    []byte
	Value   any
	Text    string
}

// Structured returns an explicit response. Headers may repeat a name, for
// example to set several cookies; nil headers are allowed.
func Structured(status int, headers *header.Map, body []byte) Result {
	if headers == nil {
		headers = &header.Map{}
	}
	return Result{
		Kind:    KindStructured,
		Status:  status,
		Headers: headers,
		Body:    body,
	}
}

// StructuredString is Structured with a string body.
func StructuredString(status int, headers *header.Map, body string) Result {
	return Structured(status, headers, []byte(body))
}

// JSON returns a 200 response whose body is v encoded as JSON.
func JSON(v any) Result {
	return Result{Kind: KindJSON, Value: v}
}

// HTML returns a 200 text/html response.
func HTML(text string) Result {
	return Result{Kind: KindHTML, Text: text}
}

// Fallback returns the generic not-found response.
func Fallback() Result {
	return Result{Kind: KindFallback}
}

type routeKey struct {
	method string
	path   string
}

// Routes maps an exact (method, path) pair to a handler. It is populated
// before serving starts and only read afterwards, so it carries no lock.
type Routes struct {
	table map[routeKey]Func
	order []routeKey
}

// NewRoutes returns an empty route table.
func NewRoutes() *Routes {
	return &Routes{table: make(map[routeKey]Func)}
}

// Handle registers fn for every method on path. Methods are upper-cased;
// a later registration for the same pair replaces the earlier one.
func (r *Routes) Handle(path string, fn Func, methods ...string) {
	for _, m := range methods {
		key := routeKey{method: strings.ToUpper(m), path: path}
		if _, ok := r.table[key]; !ok {
			r.order = append(r.order, key)
		}
		r.table[key] = fn
	}
}

// Lookup returns the handler registered for the exact method and path.
func (r *Routes) Lookup(method, path string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.table[routeKey{method: method, path: path}]
	return fn, ok
}

// Len returns the number of registered (method, path) pairs.
func (r *Routes) Len() int {
	if r == nil {
		return 0
	}
	return len(r.table)
}

// Describe lists registered routes as "METHOD path" in registration order.
func (r *Routes) Describe() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, k.method+" "+k.path)
	}
	return out
}
