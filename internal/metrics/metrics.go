package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leaddesk"

// Metrics holds all application collectors
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	assignmentsTotal     *prometheus.CounterVec
	assignmentConflicts  prometheus.Counter
	distributionRuns     *prometheus.CounterVec
	distributionDuration prometheus.Histogram
	distributionSlack    prometheus.Counter
	leadsLoaded          prometheus.Histogram

	// Event fan-out metrics
	eventsPublished *prometheus.CounterVec

	// WebSocket metrics
	wsConnections     prometheus.Counter
	wsDisconnections  prometheus.Counter
	wsMessages        prometheus.Counter
	wsErrors          prometheus.Counter
	wsActive          prometheus.Gauge
	activeConnections int64

	// Summary broadcast metrics
	broadcastCycles   prometheus.Counter
	broadcastErrors   prometheus.Counter
	broadcastDuration prometheus.Gauge
	activeAgents      prometheus.Gauge

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "assignments_total",
			Help: "Leads assigned or moved, by method.",
		}, []string{"method"}),
		assignmentConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "assignment_conflicts_total",
			Help: "Leads skipped because another assignment won the insert.",
		}),
		distributionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "distribution_runs_total",
			Help: "Percentage distribution runs, by outcome.",
		}, []string{"outcome"}),
		distributionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "distribution_duration_seconds",
			Help:    "Wall time of percentage distribution runs.",
			Buckets: prometheus.DefBuckets,
		}),
		distributionSlack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "distribution_slack_total",
			Help: "Leads left unassigned by quota rounding.",
		}),
		leadsLoaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "catalog_leads_loaded",
			Help:    "Leads returned per catalog load after filtering.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Assignment events handed to a sink, by sink and result.",
		}, []string{"sink", "result"}),
		wsConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_connections_total", Help: "WebSocket connections opened.",
		}),
		wsDisconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_disconnections_total", Help: "WebSocket connections closed.",
		}),
		wsMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_messages_total", Help: "Messages written to WebSocket clients.",
		}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_errors_total", Help: "WebSocket read and write errors.",
		}),
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_active_connections", Help: "Open WebSocket connections.",
		}),
		broadcastCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "summary_broadcasts_total", Help: "Agent summary broadcast cycles.",
		}),
		broadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "summary_broadcast_errors_total", Help: "Failed agent summary cycles.",
		}),
		broadcastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "summary_broadcast_duration_seconds", Help: "Duration of the last summary cycle.",
		}),
		activeAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "agents_active", Help: "Active agents in the last summary cycle.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status.",
		}, []string{"endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.assignmentsTotal, m.assignmentConflicts,
		m.distributionRuns, m.distributionDuration, m.distributionSlack,
		m.leadsLoaded, m.eventsPublished,
		m.wsConnections, m.wsDisconnections, m.wsMessages, m.wsErrors, m.wsActive,
		m.broadcastCycles, m.broadcastErrors, m.broadcastDuration, m.activeAgents,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// RecordAssignments counts leads written with the given method
func (m *Metrics) RecordAssignments(method string, n int) {
	if n > 0 {
		m.assignmentsTotal.WithLabelValues(method).Add(float64(n))
	}
}

// RecordConflicts counts leads lost to a concurrent assignment
func (m *Metrics) RecordConflicts(n int) {
	if n > 0 {
		m.assignmentConflicts.Add(float64(n))
	}
}

// RecordDistributionRun records one run with outcome ok, noop or error
func (m *Metrics) RecordDistributionRun(outcome string, duration time.Duration, slack int) {
	m.distributionRuns.WithLabelValues(outcome).Inc()
	m.distributionDuration.Observe(duration.Seconds())
	if slack > 0 {
		m.distributionSlack.Add(float64(slack))
	}
}

// RecordLeadsLoaded observes the size of a filtered catalog
func (m *Metrics) RecordLeadsLoaded(n int) {
	m.leadsLoaded.Observe(float64(n))
}

// RecordEventPublished counts an event handed to a sink
func (m *Metrics) RecordEventPublished(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(sink, result).Inc()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
	m.wsActive.Inc()
	atomic.AddInt64(&m.activeConnections, 1)
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsDisconnections.Inc()
	m.wsActive.Dec()
	atomic.AddInt64(&m.activeConnections, -1)
}

func (m *Metrics) RecordWebSocketMessage() { m.wsMessages.Inc() }
func (m *Metrics) RecordWebSocketError()   { m.wsErrors.Inc() }

// RecordBroadcastCycle records a summary broadcast cycle
func (m *Metrics) RecordBroadcastCycle(duration time.Duration, agentCount int) {
	m.broadcastCycles.Inc()
	m.broadcastDuration.Set(duration.Seconds())
	m.activeAgents.Set(float64(agentCount))
}

func (m *Metrics) RecordBroadcastError() { m.broadcastErrors.Inc() }

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	return atomic.LoadInt64(&m.activeConnections)
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
