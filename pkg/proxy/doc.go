// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements a host-based reverse proxy for plain HTTP/1.1.
//
// # Overview
//
// Each accepted connection carries exactly one request. The proxy reads it,
// picks a backend from the Host header and relays the backend's reply:
//
//	client ──► Proxy.ServeConn ──► ExtractHost ──► Resolve ──► Forward ──► backend
//	   ◄──────────────────────── raw reply bytes ◄────────────────────────────┘
//
// The request bytes are written to the backend verbatim and the reply is
// read until the backend closes its side. Nothing is rewritten in either
// direction and backend connections are never reused.
//
// # Routing
//
// Routes are loaded once from YAML and never change afterwards:
//
//	app1.local: 127.0.0.1:9001
//	192.168.56.103:8080: 127.0.0.1:9000
//	app2.local:
//	  backends: [127.0.0.1:9002, 127.0.0.1:9003]
//	  policy: round-robin
//
// A hostname is looked up as-is, then as "hostname:listenPort". Unknown
// hosts and empty backend lists go to 127.0.0.1:9000. With several
// backends one is chosen uniformly at random whatever the policy label.
//
// # Failure Handling
//
//   - No Host header: 400 Bad Request, no backend is dialed
//   - Backend unreachable or failing mid-exchange: canned 404 Not Found
//   - Backend circuit open: canned 404 Not Found without dialing
//   - Unexpected fault: 500 with body "Proxy error: <description>"
//
// Host extraction splits on the first ':' so IPv6 literal hosts are not
// supported.
package proxy
