//go:build !noprom

package metrics

import (
	"fmt"
	"net"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	opTotal     *prom.CounterVec
	opSeconds   *prom.HistogramVec
	toolTotal   *prom.CounterVec
	toolSeconds *prom.HistogramVec
	schemaCache *prom.CounterVec
	indexSize   *prom.GaugeVec
}

func (p *promRecorder) IncOpTotal(op string, success bool) {
	p.opTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveOpSeconds(op string, success bool, seconds float64) {
	p.opSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncSchemaCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.schemaCache.WithLabelValues(result).Inc()
}

func (p *promRecorder) SetIndexSize(kind string, n int) {
	p.indexSize.WithLabelValues(kind).Set(float64(n))
}

func newPromRecorder(registry *prom.Registry) *promRecorder {
	p := &promRecorder{
		opTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "kg_ops_total",
			Help: "Total number of knowledge-graph operations",
		}, []string{"op", "success"}),
		opSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "kg_op_seconds",
			Help:    "Knowledge-graph operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		schemaCache: prom.NewCounterVec(prom.CounterOpts{
			Name: "schema_cache_total",
			Help: "Schema cache lookups by result",
		}, []string{"result"}),
		indexSize: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "index_size",
			Help: "Number of stored items by kind (nodes, relations, embeddings)",
		}, []string{"kind"}),
	}
	registry.MustRegister(p.opTotal, p.opSeconds, p.toolTotal, p.toolSeconds, p.schemaCache, p.indexSize)
	return p
}

// enablePrometheus binds addr before swapping the recorder, so a busy port
// leaves the no-op recorder in place and is reported to the caller.
func enablePrometheus(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}
	registry := prom.NewRegistry()
	SetRecorder(newPromRecorder(registry))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.Serve(ln, mux) }()
	return nil
}
