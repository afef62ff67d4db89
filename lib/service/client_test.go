// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/muster-project/muster/lib/codec"
)

// startServer runs a SocketServer for the duration of the test and
// waits until its socket is accepting connections.
func startServer(t *testing.T, server *SocketServer) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	waitForSocket(t, server.socketPath)
	return ctx
}

func TestClientCall(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"uptime_seconds": 42}, nil
	})
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	var result map[string]any
	if err := client.Call(ctx, "status", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["uptime_seconds"] != uint64(42) {
		t.Errorf("uptime_seconds: got %v (%T), want 42", result["uptime_seconds"], result["uptime_seconds"])
	}
}

func TestClientCallWithFields(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("profile", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Action string `cbor:"action"`
			Player string `cbor:"player"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.Action != "profile" {
			return nil, fmt.Errorf("action not injected: %q", request.Action)
		}
		return map[string]any{"player": request.Player, "rating": 1200}, nil
	})
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	var result map[string]any
	err := client.Call(ctx, "profile", map[string]any{"player": "@alice:local"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["player"] != "@alice:local" {
		t.Errorf("player: got %v, want @alice:local", result["player"])
	}
	if result["rating"] != uint64(1200) {
		t.Errorf("rating: got %v (%T), want 1200", result["rating"], result["rating"])
	}
}

func TestClientCallNilResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"pong": true}, nil
	})
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	// Call with nil result — should succeed, just discard data.
	if err := client.Call(ctx, "ping", nil, nil); err != nil {
		t.Fatalf("Call with nil result: %v", err)
	}
}

func TestClientCallNoResponseData(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	// Call with a result target but server returns no data — should
	// succeed without decoding.
	var result map[string]any
	if err := client.Call(ctx, "noop", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != nil {
		t.Errorf("result should be nil when server returns no data, got %v", result)
	}
}

func TestClientCallServiceError(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, fmt.Errorf("no such player")
	})
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	err := client.Call(ctx, "fail", nil, nil)
	if err == nil {
		t.Fatal("expected error from failing handler")
	}

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if serviceErr.Action != "fail" {
		t.Errorf("Action: got %q, want %q", serviceErr.Action, "fail")
	}
	if serviceErr.Message != "no such player" {
		t.Errorf("Message: got %q, want %q", serviceErr.Message, "no such player")
	}
}

func TestClientCallUnknownAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	err := client.Call(ctx, "nonexistent", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	client := NewServiceClient("/nonexistent/path/to/socket.sock")

	err := client.Call(context.Background(), "status", nil, nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
	// Connection failures are plain errors, not ServiceError.
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		t.Errorf("connection failure should not be a *ServiceError: %v", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value int `cbor:"value"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"value": request.Value}, nil
	})
	ctx := startServer(t, server)

	client := NewServiceClient(socketPath)

	const concurrency = 20
	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result map[string]any
			err := client.Call(ctx, "echo", map[string]any{"value": i}, &result)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if result["value"] != uint64(i) {
				t.Errorf("call %d: got %v, want %d", i, result["value"], i)
			}
		}()
	}
	wg.Wait()
}
