package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/lodestar-proxy/lodestar/internal/config"
	"github.com/lodestar-proxy/lodestar/internal/filter"
	"github.com/lodestar-proxy/lodestar/internal/logging"
	"github.com/lodestar-proxy/lodestar/internal/metrics"
	"github.com/lodestar-proxy/lodestar/internal/proxy"
	"github.com/lodestar-proxy/lodestar/internal/routing"
	"github.com/lodestar-proxy/lodestar/internal/server"
	"github.com/lodestar-proxy/lodestar/internal/session"
	"github.com/lodestar-proxy/lodestar/internal/upstream"
)

// ProxyOptions bundles everything needed to assemble a Proxy.
type ProxyOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	Version   string
	GitCommit string
	BuildTime string
}

// Proxy owns the data plane and its operational servers.
type Proxy struct {
	cfg    *config.Config
	logger *logging.Logger

	clusters      *upstream.Set
	checker       *upstream.Checker
	httpServer    *http.Server
	metricsServer *metrics.Server
	healthServer  *server.HealthServer
	grpcHealth    *server.GRPCHealthServer

	checkerCtx    context.Context
	checkerCancel context.CancelFunc
	checkerDone   chan struct{}
}

// NewProxy wires the data plane from validated configuration. Any error here
// is a configuration error and aborts startup.
func NewProxy(opts ProxyOptions) (*Proxy, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}

	clusters := make([]*upstream.Cluster, 0, len(cfg.Clusters))
	for _, cc := range cfg.Clusters {
		backends := make([]upstream.Backend, len(cc.Backends))
		for i, addr := range cc.Backends {
			backends[i] = upstream.Backend{Address: addr}
		}
		cluster, err := upstream.NewCluster(cc.Name, backends)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	set, err := upstream.NewSet(clusters)
	if err != nil {
		return nil, err
	}

	table, err := routing.NewTable(routing.SpecsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	for _, r := range table.Routes() {
		if set.Get(r.Cluster()) == nil {
			return nil, fmt.Errorf("route %q references unknown cluster %q", r.Name(), r.Cluster())
		}
	}

	var listenerFactory session.Factory
	if cfg.SessionState != nil {
		listenerFactory, err = session.NewFactory(routing.SessionFromConfig(*cfg.SessionState))
		if err != nil {
			return nil, err
		}
	}

	proxyMetrics := metrics.NewProxyMetrics()
	upstreamMetrics := metrics.NewUpstreamMetrics()

	var handler http.Handler = proxy.NewHandler(proxy.Options{
		Table:    table,
		Clusters: set,
		Session:  filter.New(listenerFactory),
		Logger:   logger,
		Metrics:  proxyMetrics,
		Upstream: upstreamMetrics,
	})
	if cfg.Listener.Compression {
		handler = gzhttp.GzipHandler(handler)
	}

	healthServer := server.NewHealthServer(cfg.Observability.HealthAddr, logger)
	healthServer.RegisterReadiness(set)

	var grpcHealth *server.GRPCHealthServer
	if cfg.Observability.GRPCHealthAddr != "" {
		grpcHealth = server.NewGRPCHealthServer(cfg.Observability.GRPCHealthAddr, logger)
		grpcHealth.RegisterReadiness(set)
	}

	checker := upstream.NewChecker(upstream.CheckerOptions{
		Set:      set,
		Interval: time.Duration(cfg.HealthCheck.IntervalMs) * time.Millisecond,
		Timeout:  time.Duration(cfg.HealthCheck.TimeoutMs) * time.Millisecond,
		Logger:   logger,
		Metrics:  upstreamMetrics,
	})

	checkerCtx, checkerCancel := context.WithCancel(context.Background())

	return &Proxy{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		clusters:      set,
		checker:       checker,
		metricsServer: metrics.NewServer(cfg.Observability.MetricsAddr),
		healthServer:  healthServer,
		grpcHealth:    grpcHealth,
		checkerCtx:    checkerCtx,
		checkerCancel: checkerCancel,
		checkerDone:   make(chan struct{}),
	}, nil
}

// Start brings up the operational servers, the health checker, and finally
// the data-plane listener. Blocks until the listener stops.
func (p *Proxy) Start(ctx context.Context) error {
	// The checker stops on Shutdown; tie it to the start context too so it
	// dies with the process if Shutdown is never reached.
	context.AfterFunc(ctx, p.checkerCancel)
	go func() {
		defer close(p.checkerDone)
		p.checker.Run(p.checkerCtx)
	}()

	if err := p.metricsServer.Start(); err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}
	if err := p.healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}
	if p.grpcHealth != nil {
		if err := p.grpcHealth.Start(ctx); err != nil {
			return fmt.Errorf("starting grpc health server: %w", err)
		}
	}

	ln, err := net.Listen("tcp", p.cfg.Listener.Addr)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	p.logger.Infof("proxy listening", map[string]any{
		"addr":     ln.Addr().String(),
		"clusters": len(p.clusters.All()),
	})

	return p.httpServer.Serve(ln)
}

// Shutdown drains the data plane and stops the operational servers.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.checkerCancel()

	var firstErr error
	if err := p.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if p.grpcHealth != nil {
		p.grpcHealth.Close()
	}
	if err := p.healthServer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.metricsServer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	// checkerDone only closes if Start launched the checker; the ctx arm
	// covers a Shutdown racing a Start that never got that far.
	select {
	case <-p.checkerDone:
	case <-ctx.Done():
	}
	return firstErr
}
