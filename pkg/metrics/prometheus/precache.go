// Package prometheus registers this gateway's collectors against the
// shared registry from pkg/metrics, following the promauto.With(reg)
// construction idiom of the teacher's pkg/metrics/prometheus/cache.go.
package prometheus

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wtsi-hgi/irobot/internal/precache"
	"github.com/wtsi-hgi/irobot/internal/precache/manager"
	"github.com/wtsi-hgi/irobot/pkg/metrics"
)

// RegisterPrecacheCollectors wires gauges that sample mgr's live state on
// every scrape. Unlike the teacher's cache metrics (which are pushed to
// from the hot read/write path), commitment and production rate are
// already maintained by the tracking store's rolling aggregates, so a
// GaugeFunc reading them on demand avoids a second bookkeeping path.
func RegisterPrecacheCollectors(mgr *manager.Manager) {
	if !metrics.IsEnabled() {
		return
	}
	reg := metrics.GetRegistry()

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "irobot_precache_commitment_bytes",
		Help: "Bytes currently reserved against the precache budget, including in-flight admissions.",
	}, func() float64 {
		commit, err := mgr.Commitment(context.Background())
		if err != nil {
			return 0
		}
		return float64(commit)
	})

	for _, proc := range []precache.Process{precache.ProcessDownload, precache.ProcessChecksum} {
		proc := proc
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "irobot_precache_production_rate_bytes_per_second",
			Help:        "Rolling mean production rate sampled from the tracking store, by process.",
			ConstLabels: prometheus.Labels{"process": string(proc)},
		}, func() float64 {
			rates, err := mgr.ProductionRates(context.Background())
			if err != nil {
				return 0
			}
			return rates[proc].MeanBytesPerSec
		})
	}
}

// EventCounters are discrete admission/eviction/contention events that a
// GaugeFunc can't sample after the fact; the manager calls these directly
// at the point the event occurs.
type EventCounters struct {
	admissions *prometheus.CounterVec
	evictions  prometheus.Counter
	contended  prometheus.Counter
}

// NewEventCounters constructs the admission/eviction/contention counters,
// or nil if metrics are disabled. All methods are nil-receiver safe.
func NewEventCounters() *EventCounters {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &EventCounters{
		admissions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "irobot_precache_admissions_total",
			Help: "Total admission attempts by outcome.",
		}, []string{"outcome"}), // "admitted", "full", "error"
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "irobot_precache_evictions_total",
			Help: "Total entries evicted to free budget for an admission.",
		}),
		contended: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "irobot_precache_contended_total",
			Help: "Total operations rejected because the entry was contended.",
		}),
	}
}

func (c *EventCounters) RecordAdmission(outcome string) {
	if c == nil {
		return
	}
	c.admissions.WithLabelValues(outcome).Inc()
}

func (c *EventCounters) RecordEviction() {
	if c == nil {
		return
	}
	c.evictions.Inc()
}

func (c *EventCounters) RecordContended() {
	if c == nil {
		return
	}
	c.contended.Inc()
}
