package server

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lodestar-proxy/lodestar/internal/logging"
)

// GRPCHealthServer exposes the standard gRPC health service, mirroring the
// HTTP readiness state for orchestrators that probe over gRPC.
type GRPCHealthServer struct {
	addr      string
	boundAddr string
	server    *grpc.Server
	health    *health.Server
	logger    *logging.Logger
	checks    []ReadinessChecker
	interval  time.Duration
}

// NewGRPCHealthServer creates a gRPC health server listening on addr.
func NewGRPCHealthServer(addr string, logger *logging.Logger) *GRPCHealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &GRPCHealthServer{
		addr:     addr,
		health:   health.NewServer(),
		logger:   logger.WithComponent("grpc-health"),
		interval: 2 * time.Second,
	}
}

// RegisterReadiness adds a component whose readiness feeds the serving
// status. Must be called before Start.
func (g *GRPCHealthServer) RegisterReadiness(c ReadinessChecker) {
	g.checks = append(g.checks, c)
}

// Start binds the listener, serves in the background, and keeps the serving
// status in sync with component readiness until ctx is cancelled.
func (g *GRPCHealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	g.boundAddr = ln.Addr().String()

	g.server = grpc.NewServer()
	healthpb.RegisterHealthServer(g.server, g.health)
	g.refresh(ctx)

	go func() {
		if err := g.server.Serve(ln); err != nil {
			g.logger.Errorf("grpc health server failed", map[string]any{"error": err.Error()})
		}
	}()

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.refresh(ctx)
			}
		}
	}()

	return nil
}

func (g *GRPCHealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for _, c := range g.checks {
		if err := c.CheckReady(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	g.health.SetServingStatus("", status)
}

// Addr returns the bound address, or the configured address before Start.
func (g *GRPCHealthServer) Addr() string {
	if g.boundAddr != "" {
		return g.boundAddr
	}
	return g.addr
}

// Close stops the gRPC server.
func (g *GRPCHealthServer) Close() {
	if g.server != nil {
		g.health.Shutdown()
		g.server.GracefulStop()
	}
}
