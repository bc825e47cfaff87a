package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries both the Prometheus collectors and the plain counter
// snapshot served as JSON from /metrics.
type Metrics struct {
	RequestsTotal    prometheus.Counter
	ResponsesOK      prometheus.Counter
	ResponsesError   prometheus.Counter
	StreamingActive  prometheus.Gauge
	ProviderLatency  prometheus.Histogram
	ToolExecutions   *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Terminations     *prometheus.CounterVec

	requests       atomic.Uint64
	responsesOK    atomic.Uint64
	responsesError atomic.Uint64
	streaming      atomic.Int64
	toolCounts     *countMap
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total /v1/messages requests received.",
		}),
		ResponsesOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_responses_success_total",
			Help: "Responses completed with 2xx status.",
		}),
		ResponsesError: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_responses_error_total",
			Help: "Responses completed with non-2xx status.",
		}),
		StreamingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_streaming_sessions",
			Help: "SSE responses currently open.",
		}),
		ProviderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_provider_latency_seconds",
			Help:    "Upstream provider call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_prompt_cache_hits_total",
			Help: "Prompt cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_prompt_cache_misses_total",
			Help: "Prompt cache misses.",
		}),
		Terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_terminations_total",
			Help: "Agent loop terminations by reason.",
		}, []string{"reason"}),
		toolCounts: newCountMap(),
	}
}

func (m *Metrics) IncRequest() {
	m.RequestsTotal.Inc()
	m.requests.Add(1)
}

func (m *Metrics) IncResponse(status int) {
	if status >= 200 && status < 300 {
		m.ResponsesOK.Inc()
		m.responsesOK.Add(1)
	} else {
		m.ResponsesError.Inc()
		m.responsesError.Add(1)
	}
}

func (m *Metrics) StreamStart() {
	m.StreamingActive.Inc()
	m.streaming.Add(1)
}

func (m *Metrics) StreamEnd() {
	m.StreamingActive.Dec()
	m.streaming.Add(-1)
}

func (m *Metrics) IncTool(tool string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.toolCounts.inc(tool)
}

func (m *Metrics) IncTermination(reason string) {
	m.Terminations.WithLabelValues(reason).Inc()
}

// Snapshot is the JSON payload served from /metrics.
type Snapshot struct {
	Requests          uint64            `json:"requests"`
	ResponsesSuccess  uint64            `json:"responses_success"`
	ResponsesError    uint64            `json:"responses_error"`
	StreamingSessions int64             `json:"streaming_sessions"`
	ToolExecutions    map[string]uint64 `json:"tool_executions"`
	Timestamp         time.Time         `json:"timestamp"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Requests:          m.requests.Load(),
		ResponsesSuccess:  m.responsesOK.Load(),
		ResponsesError:    m.responsesError.Load(),
		StreamingSessions: m.streaming.Load(),
		ToolExecutions:    m.toolCounts.snapshot(),
		Timestamp:         time.Now().UTC(),
	}
}
