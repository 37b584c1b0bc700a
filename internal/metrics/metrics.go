// Package metrics exposes the service's Prometheus collectors. A Collector
// satisfies the event interfaces of the cache, ingestion and orchestrator
// packages so those packages never import Prometheus themselves.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "gnss"

type Collector struct {
	gatherer prometheus.Gatherer

	CacheEvents      *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	Statuses         *prometheus.CounterVec
	StatusLevel      *prometheus.GaugeVec
	Breaker          prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
}

// New registers every collector against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.CacheEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_events_total",
		Help:      "Cache lookups by cache name and result (hit, miss, stale).",
	}, []string{"cache", "result"})); err != nil {
		return nil, err
	}
	if c.UpstreamFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_failures_total",
		Help:      "Failed fetches from external data sources.",
	}, []string{"source"})); err != nil {
		return nil, err
	}
	if c.Outcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orchestrator_outcomes_total",
		Help:      "Status resolutions by outcome (primary, fallback, both_failed).",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.Statuses, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_evaluations_total",
		Help:      "Published risk statuses by constellation group and level.",
	}, []string{"group", "level"})); err != nil {
		return nil, err
	}
	if c.StatusLevel, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "status_level",
		Help:      "Most recent risk level per group: 0 green, 1 amber, 2 red, 3 unknown.",
	}, []string{"group"})); err != nil {
		return nil, err
	}
	if c.Breaker, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "primary_breaker_state",
		Help:      "Primary backend circuit breaker: 0 closed, 1 half-open, 2 open.",
	})); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grpc_requests_total",
		Help:      "gRPC calls by method and status code.",
	}, []string{"method", "code"})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return collector, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return collector, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return existing, nil
	}
	return collector, nil
}

func (c *Collector) CacheHit(cache string)   { c.CacheEvents.WithLabelValues(cache, "hit").Inc() }
func (c *Collector) CacheMiss(cache string)  { c.CacheEvents.WithLabelValues(cache, "miss").Inc() }
func (c *Collector) CacheStale(cache string) { c.CacheEvents.WithLabelValues(cache, "stale").Inc() }

func (c *Collector) UpstreamFailure(source string) {
	c.UpstreamFailures.WithLabelValues(source).Inc()
}

func (c *Collector) Outcome(kind string) {
	c.Outcomes.WithLabelValues(kind).Inc()
}

func (c *Collector) Status(group, level string) {
	c.Statuses.WithLabelValues(group, level).Inc()
	c.StatusLevel.WithLabelValues(group).Set(levelValue(level))
}

func levelValue(level string) float64 {
	switch level {
	case "GREEN":
		return 0
	case "AMBER":
		return 1
	case "RED":
		return 2
	default:
		return 3
	}
}

// BreakerState records a circuit breaker transition.
func (c *Collector) BreakerState(state string) {
	switch state {
	case "closed":
		c.Breaker.Set(0)
	case "half_open":
		c.Breaker.Set(1)
	case "open":
		c.Breaker.Set(2)
	}
}

// Middleware records request counts and latency for every gin route.
// Unmatched paths are grouped under "unmatched" to bound label cardinality.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.HTTPDurations.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		c.RPCRequests.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
		return resp, err
	}
}

func (c *Collector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		c.RPCRequests.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
		return err
	}
}

func methodName(fullMethod string) string {
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 && i+1 < len(fullMethod) {
		return fullMethod[i+1:]
	}
	return "unknown"
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
