// Package proxy implements the HTTP data plane: route matching, session
// affinity, backend selection, and the upstream round trip.
package proxy

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodestar-proxy/lodestar/internal/filter"
	"github.com/lodestar-proxy/lodestar/internal/logging"
	"github.com/lodestar-proxy/lodestar/internal/metrics"
	"github.com/lodestar-proxy/lodestar/internal/routing"
	"github.com/lodestar-proxy/lodestar/internal/upstream"
)

// Handler proxies inbound requests to upstream backends. One instance serves
// all requests; everything mutable is request-scoped.
type Handler struct {
	table     *routing.Table
	clusters  *upstream.Set
	session   *filter.StatefulSession
	transport http.RoundTripper
	logger    *logging.Logger
	metrics   *metrics.ProxyMetrics
	upstreamM *metrics.UpstreamMetrics
}

// Options configures a Handler. Table, Clusters and Session are required.
type Options struct {
	Table     *routing.Table
	Clusters  *upstream.Set
	Session   *filter.StatefulSession
	Transport http.RoundTripper
	Logger    *logging.Logger
	Metrics   *metrics.ProxyMetrics
	Upstream  *metrics.UpstreamMetrics
}

// NewHandler creates the proxy handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		table:     opts.Table,
		clusters:  opts.Clusters,
		session:   opts.Session,
		transport: opts.Transport,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		upstreamM: opts.Upstream,
	}
	if h.transport == nil {
		h.transport = defaultTransport()
	}
	if h.logger == nil {
		h.logger = logging.Global()
	}
	h.logger = h.logger.WithComponent("proxy")
	return h
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()
	logger := h.logger.WithRequestID(reqID)

	route := h.table.Match(r.Host, r.URL.Path)
	if route == nil {
		h.countRequest("", "no_route")
		logger.Debugf("no route", map[string]any{"host": r.Host, "path": r.URL.Path})
		http.Error(w, "no route", http.StatusNotFound)
		return
	}

	cluster := h.clusters.Get(route.Cluster())
	if cluster == nil {
		// Route/cluster references are validated at load; this is a bug.
		h.countRequest(route.Name(), "no_cluster")
		logger.Errorf("route references unknown cluster", map[string]any{
			"route":   route.Name(),
			"cluster": route.Cluster(),
		})
		http.Error(w, "misrouted", http.StatusInternalServerError)
		return
	}

	// Request phase: policy resolution and hint extraction.
	exchange := h.session.OnRequest(r, route)

	backend, ok := cluster.Pick(exchange.Hint())
	if !ok {
		h.countRequest(route.Name(), "no_upstream")
		logger.Warnf("no healthy upstream", map[string]any{"cluster": cluster.Name()})
		http.Error(w, "no healthy upstream", http.StatusServiceUnavailable)
		return
	}
	h.countAffinity(exchange.Hint(), backend)

	resp, err := h.roundTrip(r, backend, reqID)
	if err != nil {
		if h.upstreamM != nil {
			h.upstreamM.UpstreamErrorsTotal.WithLabelValues(cluster.Name()).Inc()
		}
		h.countRequest(route.Name(), "upstream_error")
		logger.Warnf("upstream round trip failed", map[string]any{
			"backend": backend.Address,
			"error":   err.Error(),
		})
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	removeHopByHop(resp.Header)

	// Response phase: refresh the client's token against the backend that
	// actually served the request.
	if exchange.OnResponse(backend.Address, resp.Header) && h.metrics != nil {
		h.metrics.CookiesIssuedTotal.Inc()
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)

	h.countRequest(route.Name(), strconv.Itoa(resp.StatusCode))
	if h.metrics != nil {
		h.metrics.RequestDuration.WithLabelValues(route.Name()).Observe(time.Since(start).Seconds())
	}
	logger.Debugf("request proxied", map[string]any{
		"route":   route.Name(),
		"backend": backend.Address,
		"status":  resp.StatusCode,
	})
}

// roundTrip forwards the request to the chosen backend.
func (h *Handler) roundTrip(r *http.Request, backend upstream.Backend, reqID string) (*http.Response, error) {
	ctx := logging.WithRequestIDCtx(r.Context(), reqID)
	out := r.Clone(ctx)
	out.URL.Scheme = "http"
	out.URL.Host = backend.Address
	out.Host = r.Host
	out.RequestURI = ""
	out.Close = false

	removeHopByHop(out.Header)
	out.Header.Set("X-Request-Id", reqID)
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}

	return h.transport.RoundTrip(out)
}

func (h *Handler) countRequest(route, status string) {
	if h.metrics == nil {
		return
	}
	if route == "" {
		route = "_unmatched"
	}
	h.metrics.RequestsTotal.WithLabelValues(route, status).Inc()
}

func (h *Handler) countAffinity(hint *upstream.OverrideHint, backend upstream.Backend) {
	if h.metrics == nil {
		return
	}
	switch {
	case hint == nil:
		h.metrics.AffinityTotal.WithLabelValues(metrics.AffinityNone).Inc()
	case hint.Address == backend.Address:
		h.metrics.AffinityTotal.WithLabelValues(metrics.AffinityHinted).Inc()
	default:
		h.metrics.AffinityTotal.WithLabelValues(metrics.AffinityFallback).Inc()
	}
}

// hopByHopHeaders are connection-scoped and must not be forwarded.
// RFC 7230 section 6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHop(header http.Header) {
	for _, f := range header.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
