// Package metrics records provider and tool timings, schema cache hits and
// store sizes. Recording is a no-op until Init installs the Prometheus
// exporter.
package metrics

import (
	"sync"
	"time"
)

// DefaultAddr is where the exporter listens when no address is configured.
const DefaultAddr = ":9090"

type Recorder interface {
	IncOpTotal(op string, success bool)
	ObserveOpSeconds(op string, success bool, seconds float64)
	IncToolTotal(tool string, success bool)
	ObserveToolSeconds(tool string, success bool, seconds float64)
	IncSchemaCache(hit bool)
	// SetIndexSize reports the stored count of kind (nodes, relations,
	// embeddings).
	SetIndexSize(kind string, n int)
}

type discard struct{}

func (discard) IncOpTotal(string, bool)                  {}
func (discard) ObserveOpSeconds(string, bool, float64)   {}
func (discard) IncToolTotal(string, bool)                {}
func (discard) ObserveToolSeconds(string, bool, float64) {}
func (discard) IncSchemaCache(bool)                      {}
func (discard) SetIndexSize(string, int)                 {}

var (
	mu      sync.RWMutex
	current Recorder = discard{}

	initOnce sync.Once
	initErr  error
)

func Default() Recorder {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetRecorder replaces the process recorder. Tests use it to capture calls.
func SetRecorder(r Recorder) {
	if r == nil {
		r = discard{}
	}
	mu.Lock()
	defer mu.Unlock()
	current = r
}

// TimeOp starts timing a provider operation such as kg_upsert_nodes. The
// returned func records the outcome.
func TimeOp(op string) func(success bool) {
	return stopwatch(func(r Recorder, ok bool, secs float64) {
		r.IncOpTotal(op, ok)
		r.ObserveOpSeconds(op, ok, secs)
	})
}

// TimeTool starts timing an MCP tool call.
func TimeTool(tool string) func(success bool) {
	return stopwatch(func(r Recorder, ok bool, secs float64) {
		r.IncToolTotal(tool, ok)
		r.ObserveToolSeconds(tool, ok, secs)
	})
}

func stopwatch(record func(r Recorder, ok bool, secs float64)) func(bool) {
	start := time.Now()
	return func(ok bool) {
		record(Default(), ok, time.Since(start).Seconds())
	}
}

// Init installs the Prometheus recorder and serves /metrics and /healthz on
// addr. Only the first enabled call has an effect; later calls return its
// error. With enabled false the no-op recorder stays in place.
func Init(enabled bool, addr string) error {
	if !enabled {
		return nil
	}
	if addr == "" {
		addr = DefaultAddr
	}
	initOnce.Do(func() { initErr = enablePrometheus(addr) })
	return initErr
}
