// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the connection-level TCP server shared by the HTTP
// engine and the reverse proxy.
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server accepts connection and assigns it a uuid
//  3. Server spawns one goroutine running Handler.ServeConn
//  4. ServeConn reads the request, writes the response and returns
//  5. Server closes the connection
//
// There is no admission control: every accepted connection gets a
// goroutine, and a slow peer only blocks its own goroutine. Read and write
// deadlines are the handler's responsibility.
//
// # Graceful Shutdown
//
// When the context is cancelled:
//
//  1. Server closes the listener
//  2. Server waits for active connections (with timeout)
//  3. After ShutdownTimeout, closes the remaining connections
//  4. Returns ErrShutdownTimeout if the timeout was exceeded
//
// # Example
//
//	srv := tcp.New(tcp.Config{Address: ":9001"}, engine)
//	if err := srv.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
