package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type stubChecker struct {
	mu   sync.Mutex
	name string
	err  error
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) CheckReady(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubChecker) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func startHealthServer(t *testing.T, checks ...ReadinessChecker) *HealthServer {
	t.Helper()
	h := NewHealthServer("127.0.0.1:0", nil)
	for _, c := range checks {
		h.RegisterReadiness(c)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func getStatus(t *testing.T, addr, path string) (int, HealthStatus) {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, status
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := startHealthServer(t, &stubChecker{name: "upstream", err: errors.New("down")})
	code, status := getStatus(t, h.Addr(), "/healthz")
	if code != http.StatusOK || status.Status != "ok" {
		t.Errorf("healthz = (%d, %+v)", code, status)
	}
}

func TestReadyzReflectsCheckers(t *testing.T) {
	check := &stubChecker{name: "upstream"}
	h := startHealthServer(t, check)

	code, status := getStatus(t, h.Addr(), "/readyz")
	if code != http.StatusOK || !status.Checks["upstream"].Ready {
		t.Fatalf("expected ready, got (%d, %+v)", code, status)
	}

	check.setErr(errors.New("no healthy backends in cluster web"))
	code, status = getStatus(t, h.Addr(), "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	result := status.Checks["upstream"]
	if result.Ready || result.Message == "" {
		t.Errorf("check result = %+v", result)
	}

	check.setErr(nil)
	code, _ = getStatus(t, h.Addr(), "/readyz")
	if code != http.StatusOK {
		t.Errorf("expected recovery to 200, got %d", code)
	}
}

func TestReadyzTimeoutBound(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", nil)
	h.timeout = 50 * time.Millisecond
	slow := &blockingChecker{}
	h.RegisterReadiness(slow)
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	start := time.Now()
	code, _ := getStatus(t, h.Addr(), "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 from timed-out check, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("readiness not bounded by timeout, took %v", elapsed)
	}
}

type blockingChecker struct{}

func (b *blockingChecker) Name() string { return "slow" }

func (b *blockingChecker) CheckReady(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
