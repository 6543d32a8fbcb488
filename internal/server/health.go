// Package server provides the operational endpoints of the proxy: HTTP
// liveness/readiness probes and a gRPC health service.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lodestar-proxy/lodestar/internal/logging"
)

// ReadinessChecker is implemented by components that can report readiness.
type ReadinessChecker interface {
	// Name identifies the component in health status output.
	Name() string

	// CheckReady returns nil when the component is ready to serve.
	CheckReady(ctx context.Context) error
}

// DefaultReadinessTimeout bounds a full readiness evaluation.
const DefaultReadinessTimeout = 5 * time.Second

// HealthStatus is the response body of /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one component's readiness.
type CheckResult struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// HealthServer serves /healthz for liveness and /readyz for readiness.
type HealthServer struct {
	mu        sync.RWMutex
	addr      string
	boundAddr string
	server    *http.Server
	logger    *logging.Logger
	checks    []ReadinessChecker
	timeout   time.Duration
}

// NewHealthServer creates a HealthServer listening on addr.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:    addr,
		logger:  logger.WithComponent("health"),
		timeout: DefaultReadinessTimeout,
	}
}

// RegisterReadiness adds a component to readiness evaluation. Must be called
// before Start.
func (h *HealthServer) RegisterReadiness(c ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Errorf("health server failed", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured address before Start.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts down the health server.
func (h *HealthServer) Close() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// Liveness: the process is up and serving.
func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{Status: "ok"})
}

// Readiness: every registered component must report ready.
func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := HealthStatus{Status: "ok", Checks: map[string]CheckResult{}}
	code := http.StatusOK

	h.mu.RLock()
	checks := h.checks
	h.mu.RUnlock()

	for _, c := range checks {
		if err := c.CheckReady(ctx); err != nil {
			status.Status = "not ready"
			status.Checks[c.Name()] = CheckResult{Ready: false, Message: err.Error()}
			code = http.StatusServiceUnavailable
		} else {
			status.Checks[c.Name()] = CheckResult{Ready: true}
		}
	}

	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
