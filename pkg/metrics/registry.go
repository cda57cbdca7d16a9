// Package metrics owns the process-wide Prometheus registry. Subsystems
// never create their own registry; they call GetRegistry() and register
// collectors through promauto.With(reg), matching the teacher's
// pkg/metrics/prometheus convention.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry enables metrics collection and creates the process-wide
// registry. Calling it more than once replaces the previous registry,
// matching the teacher's bootstrap-once lifecycle (called by the entry
// point before any subsystem constructs its collectors).
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	enabled = true
	return registry
}

// GetRegistry returns the process-wide registry, initialising a disabled
// no-metrics registry if InitRegistry was never called.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// IsEnabled reports whether InitRegistry has run. Subsystems use this to
// skip collector construction entirely rather than registering collectors
// that are never scraped.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}
