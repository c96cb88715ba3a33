package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrydata/marketplace-crawler/internal/progress"
)

// PrometheusSink exports crawler progress metrics. It owns the collectors
// for run lifecycle, item outcomes and fetch behavior.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	itemsInFlight prometheus.Gauge
	items         *prometheus.CounterVec
	itemFailures  *prometheus.CounterVec
	retries       *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	fetchBytes    *prometheus.CounterVec
	rendered      prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_runs_completed_total",
			Help: "Total crawl runs finished partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		itemsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_items_in_flight",
			Help: "Items currently inside the worker pool.",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_items_total",
			Help: "Item completions partitioned by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_item_failures_total",
			Help: "Failed items partitioned by entity kind and failure category.",
		}, []string{"kind", "failure"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_retries_total",
			Help: "Fetch retry attempts partitioned by entity kind.",
		}, []string{"kind"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_item_duration_seconds",
			Help:    "Elapsed time per completed item partitioned by kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_fetch_bytes_total",
			Help: "Response body bytes downloaded partitioned by kind.",
		}, []string{"kind"}),
		rendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_items_rendered_total",
			Help: "Items that went through headless promotion.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.itemsInFlight,
		s.items,
		s.itemFailures,
		s.retries,
		s.itemDuration,
		s.fetchBytes,
		s.rendered,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent
// use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		result := string(evt.Outcome)
		if result == "" {
			result = string(progress.OutcomeCompleted)
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
	case progress.StageItemStart:
		s.itemsInFlight.Inc()
	case progress.StageItemDone:
		s.itemsInFlight.Dec()
		s.handleItemDone(evt)
	case progress.StageRetry:
		// Workers emit one RETRY event per item carrying the total attempt
		// count, so the counter advances by attempts minus the first try.
		delta := float64(evt.Attempts - 1)
		if delta < 1 {
			delta = 1
		}
		s.retries.WithLabelValues(kindLabel(evt)).Add(delta)
	}
}

func (s *PrometheusSink) handleItemDone(evt progress.Event) {
	kind := kindLabel(evt)
	s.items.WithLabelValues(kind, string(evt.Outcome)).Inc()
	if evt.Outcome == progress.OutcomeFailed && evt.Failure != "" {
		s.itemFailures.WithLabelValues(kind, string(evt.Failure)).Inc()
	}
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(kind).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(kind).Add(float64(evt.Bytes))
	}
	if evt.Rendered {
		s.rendered.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func kindLabel(evt progress.Event) string {
	if evt.Kind == "" {
		return "unknown"
	}
	return string(evt.Kind)
}
