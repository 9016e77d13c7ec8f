// Package metrics exports estimator activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/pulse.report/internal/pulse"
)

const namespace = "pulse"

// Collector is a pulse.Observer that records samples and batch outcomes in
// its own registry.
type Collector struct {
	registry *prometheus.Registry

	samples   *prometheus.CounterVec // by result: accepted/rejected
	batches   *prometheus.CounterVec // by stage and outcome
	skipped   prometheus.Counter
	bpm       prometheus.Gauge
	candidate prometheus.Gauge
	peaks     prometheus.Gauge
	intervals prometheus.Histogram
}

// New creates a Collector. Process and Go runtime collectors are registered
// alongside the pulse metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Device lines read, by parse result",
		}, []string{"result"}),

		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_outcomes_total",
			Help:      "Pipeline stage outcomes per processed batch",
		}, []string{"stage", "outcome"}),

		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_skipped_total",
			Help:      "Batches abandoned because filtering changed their length",
		}),

		bpm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_bpm",
			Help:      "Current smoothed heart rate estimate (0 = none yet)",
		}),

		candidate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_bpm",
			Help:      "Unsmoothed rate from the most recent batch (0 = rejected)",
		}),

		peaks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_peaks",
			Help:      "Beats detected in the most recent batch",
		}),

		intervals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "beat_interval_seconds",
			Help:      "Beat-to-beat intervals of batches whose rate was accepted",
			Buckets:   prometheus.LinearBuckets(0.4, 0.1, 17), // 0.4s .. 2.0s
		}),
	}

	c.registry.MustRegister(
		c.samples, c.batches, c.skipped, c.bpm, c.candidate, c.peaks, c.intervals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveSample implements pulse.Observer.
func (c *Collector) ObserveSample(accepted bool) {
	if accepted {
		c.samples.WithLabelValues("accepted").Inc()
		return
	}
	c.samples.WithLabelValues("rejected").Inc()
}

// ObserveBatch implements pulse.Observer.
func (c *Collector) ObserveBatch(res pulse.BatchResult) {
	c.batches.WithLabelValues("filter", res.Filter.String()).Inc()
	c.bpm.Set(float64(res.BPM))

	if res.Skipped {
		c.skipped.Inc()
		return
	}
	c.batches.WithLabelValues("peaks", res.Peaks.Outcome.String()).Inc()
	c.batches.WithLabelValues("rate", res.Rate.Outcome.String()).Inc()
	c.peaks.Set(float64(len(res.Peaks.Peaks)))
	c.candidate.Set(float64(res.Rate.BPM))
	if res.Rate.Outcome != pulse.RateAccepted {
		return
	}
	for _, iv := range res.Rate.Intervals {
		c.intervals.Observe(iv)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
