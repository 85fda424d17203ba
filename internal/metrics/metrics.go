// Package metrics exposes the pipeline's Prometheus collectors. A nil
// *Pipeline is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hkbot"

type Pipeline struct {
	registry *prometheus.Registry

	messages   *prometheus.CounterVec
	duplicates prometheus.Counter
	runs       *prometheus.CounterVec
	runTime    *prometheus.HistogramVec
	tools      *prometheus.CounterVec
	sends      *prometheus.CounterVec
	queueDepth prometheus.Gauge
	startTime  time.Time
}

// New registers the pipeline collectors, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Pipeline {
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by type and outcome.",
		}, []string{"type", "outcome"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Inbound messages skipped because they were already processed.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by agent and outcome.",
		}, []string{"agent", "outcome"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_seconds",
			Help:      "Agent run duration.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"agent"}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Deliveries waiting in the work queue.",
		}),
		startTime: time.Now(),
	}
	p.registry.MustRegister(
		p.messages, p.duplicates, p.runs, p.runTime, p.tools, p.sends, p.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		}, func() float64 { return time.Since(p.startTime).Seconds() }),
	)
	return p
}

// Registry is exposed for tests.
func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Pipeline) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Pipeline) Message(msgType, outcome string) {
	if p == nil {
		return
	}
	p.messages.WithLabelValues(msgType, outcome).Inc()
}

func (p *Pipeline) Duplicate() {
	if p == nil {
		return
	}
	p.duplicates.Inc()
}

func (p *Pipeline) AgentRun(agent, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(agent, outcome).Inc()
	p.runTime.WithLabelValues(agent).Observe(d.Seconds())
}

func (p *Pipeline) ToolCall(tool string, ok bool) {
	if p == nil {
		return
	}
	p.tools.WithLabelValues(tool, outcome(ok)).Inc()
}

func (p *Pipeline) Send(kind string, ok bool) {
	if p == nil {
		return
	}
	p.sends.WithLabelValues(kind, outcome(ok)).Inc()
}

func (p *Pipeline) QueueDepth(n int) {
	if p == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
