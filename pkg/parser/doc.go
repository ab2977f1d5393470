// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser turns raw HTTP/1.1 request bytes into a routed Request.
//
// # Reading
//
// ReadMessage pulls one message off a connection: the header block up to
// "\r\n\r\n" and, when a Content-Length header is present, that many body
// bytes. The result is the exact byte sequence received, which lets the
// proxy forward it unchanged.
//
// # Parsing
//
// Prepare runs the individual steps in order:
//
//  1. ParseRequestLine: exactly three tokens, method upper-cased,
//     "/" rewritten to "/index.html"
//  2. ParseHeaders: "Name: value" lines until the blank line
//  3. ParseCookies: "a=b; c=d" from the Cookie header
//  4. Body: everything after the blank line, not checked against Content-Length
//  5. Route lookup on the exact (method, path) pair
//  6. For "/index.html", an informational auth status from the auth and
//     sessionid cookies
//
// A request line that fails step 1 leaves Method empty; the caller answers
// with 400 Bad Request.
//
// # Example
//
//	p := parser.New(routes, sessions, logger)
//	req := p.Prepare(raw)
//	if !req.Valid() {
//		// 400
//	}
//	if req.Handler == nil {
//		// static file
//	}
package parser
