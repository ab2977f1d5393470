// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type echoHandler struct {
	mu    sync.Mutex
	infos []ConnInfo
}

func (h *echoHandler) ServeConn(ctx context.Context, conn net.Conn, info ConnInfo) error {
	h.mu.Lock()
	h.infos = append(h.infos, info)
	h.mu.Unlock()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}
	_, err = conn.Write(buf[:n])
	return err
}

// startServer serves h on a loopback listener and returns the listener's
// address, which is known before Serve records it.
func startServer(t *testing.T, cfg Config, h Handler) (net.Addr, context.CancelFunc, <-chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	server := New(cfg, h)
	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(ctx, listener)
	}()

	return listener.Addr(), cancel, serverErr
}

func TestTCPServer_ServeConn(t *testing.T) {
	h := &echoHandler{}
	addr, cancel, serverErr := startServer(t, Config{ShutdownTimeout: time.Second, Logger: testLogger()}, h)
	defer cancel()

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		if _, err := conn.Write([]byte("ping")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		got, err := io.ReadAll(conn)
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if string(got) != "ping" {
			t.Errorf("Expected ping, got %q", got)
		}
		conn.Close()
	}

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Server shutdown with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server shutdown timeout")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.infos) != 3 {
		t.Fatalf("Expected 3 connections, got %d", len(h.infos))
	}
	seen := map[string]bool{}
	for _, info := range h.infos {
		if info.ID == "" || seen[info.ID] {
			t.Errorf("Expected unique connection id, got %q", info.ID)
		}
		seen[info.ID] = true
		if info.RemoteAddr == "" || info.LocalAddr == "" {
			t.Error("Expected connection addresses to be set")
		}
	}
}

func TestTCPServer_ShutdownTimeout(t *testing.T) {
	started := make(chan struct{})
	blocking := HandlerFunc(func(ctx context.Context, conn net.Conn, info ConnInfo) error {
		close(started)
		// Blocks until the server force-closes the connection.
		_, err := io.ReadAll(conn)
		return err
	})

	addr, cancel, serverErr := startServer(t, Config{ShutdownTimeout: 100 * time.Millisecond, Logger: testLogger()}, blocking)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Handler was not started")
	}

	cancel()
	select {
	case err := <-serverErr:
		if err != ErrShutdownTimeout {
			t.Errorf("Expected ErrShutdownTimeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Test timeout waiting for server shutdown")
	}
}

func TestTCPServer_HandlerPanic(t *testing.T) {
	calls := make(chan struct{}, 2)
	panicky := HandlerFunc(func(ctx context.Context, conn net.Conn, info ConnInfo) error {
		calls <- struct{}{}
		panic("boom")
	})

	addr, cancel, serverErr := startServer(t, Config{ShutdownTimeout: time.Second, Logger: testLogger()}, panicky)

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatalf("Server stopped accepting after panic: %v", err)
		}
		// The server closes the connection after the panic.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.ReadAll(conn); err != nil {
			t.Errorf("Expected clean close, got %v", err)
		}
		conn.Close()
	}

	if len(calls) != 2 {
		t.Errorf("Expected 2 handler calls, got %d", len(calls))
	}

	cancel()
	<-serverErr
}

func TestTCPServer_InvalidAddress(t *testing.T) {
	cfg := Config{
		Address: "invalid:address:99999",
		Logger:  testLogger(),
	}

	server := New(cfg, &echoHandler{})
	if err := server.Listen(context.Background()); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	server := New(Config{Address: "localhost:0"}, &echoHandler{})

	if server.config.Logger == nil {
		t.Error("Expected default logger to be set")
	}
	if server.config.ShutdownTimeout == 0 {
		t.Error("Expected default shutdown timeout to be set")
	}
	if server.Addr() != nil {
		t.Error("Expected nil address before serving")
	}
}
