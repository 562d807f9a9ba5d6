// Package prometheus exports View metrics to a Prometheus registry.
package prometheus

import (
	"time"

	"github.com/hupe1980/featview"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Collector implements featview.MetricsCollector.
type Collector struct {
	rebuildLatency *prom.HistogramVec
	rebuildRecords prom.Histogram
	workerLatency  *prom.HistogramVec
	workerRecords  prom.Counter
	degraded       prom.Counter
	invalidations  prom.Counter
	lastWorkers    prom.Gauge
}

var _ featview.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers it with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(namespace string, reg prom.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	c := &Collector{
		rebuildLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of snapshot rebuilds",
			Buckets:   prom.DefBuckets,
		}, []string{"status"}),
		rebuildRecords: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_records",
			Help:      "Records per published snapshot",
			Buckets:   prom.ExponentialBuckets(1, 4, 12),
		}),
		workerLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_duration_seconds",
			Help:      "Duration of record worker chunks",
			Buckets:   prom.DefBuckets,
		}, []string{"status"}),
		workerRecords: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "worker_records_total",
			Help:      "Records produced by record workers",
		}),
		degraded: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Chunks filled with missing values after a store failure",
		}),
		invalidations: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Cache invalidations",
		}),
		lastWorkers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "rebuild_workers",
			Help:      "Record workers used by the last rebuild",
		}),
	}

	for _, m := range []prom.Collector{
		c.rebuildLatency, c.rebuildRecords, c.workerLatency,
		c.workerRecords, c.degraded, c.invalidations, c.lastWorkers,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRebuild implements featview.MetricsCollector.
func (c *Collector) RecordRebuild(records, workers, _ int, duration time.Duration, err error) {
	c.rebuildLatency.WithLabelValues(status(err)).Observe(duration.Seconds())
	if err != nil {
		return
	}
	c.rebuildRecords.Observe(float64(records))
	c.lastWorkers.Set(float64(workers))
}

// RecordWorker implements featview.MetricsCollector.
func (c *Collector) RecordWorker(records int, duration time.Duration, err error) {
	c.workerLatency.WithLabelValues(status(err)).Observe(duration.Seconds())
	c.workerRecords.Add(float64(records))
	if err != nil {
		c.degraded.Inc()
	}
}

// RecordInvalidate implements featview.MetricsCollector.
func (c *Collector) RecordInvalidate() {
	c.invalidations.Inc()
}
