// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeHTTPServer struct {
	serveErr    error
	shutdownErr error
	started     chan struct{}
	release     chan struct{}
	shutdowns   int
}

func newFakeHTTPServer(serveErr error) *fakeHTTPServer {
	return &fakeHTTPServer{
		serveErr: serveErr,
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	close(f.started)
	if f.serveErr != nil {
		return f.serveErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(_ context.Context) error {
	f.shutdowns++
	close(f.release)
	return f.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	t.Parallel()

	srv := newFakeHTTPServer(nil)
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if srv.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", srv.shutdowns)
	}
}

func TestHTTPServiceSurfacesServeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("listen tcp: address in use")
	svc := NewHTTPService(newFakeHTTPServer(boom), time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, boom) {
		t.Errorf("Serve() = %v, want wrapped %v", err, boom)
	}
}

type fakeRouter struct {
	runErr error
}

func (f *fakeRouter) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeRouter) Close() error { return nil }

func TestRouterServiceRunsUntilCancel(t *testing.T) {
	t.Parallel()

	svc := NewRouterService(&fakeRouter{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRouterServiceSurfacesRunError(t *testing.T) {
	t.Parallel()

	boom := errors.New("subscriber gone")
	svc := NewRouterService(&fakeRouter{runErr: boom})

	if err := svc.Serve(context.Background()); err == nil || !errors.Is(err, boom) {
		t.Errorf("Serve() = %v, want wrapped %v", err, boom)
	}
}

func TestServiceNames(t *testing.T) {
	t.Parallel()

	if got := NewHTTPService(newFakeHTTPServer(nil), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
	if got := NewRouterService(&fakeRouter{}).String(); got != "event-router" {
		t.Errorf("String() = %q", got)
	}
}
