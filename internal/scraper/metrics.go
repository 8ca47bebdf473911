package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for catalog crawls.
type Metrics struct {
	Registry              *prometheus.Registry
	PagesProcessedTotal   prometheus.Counter
	ListingsInsertedTotal prometheus.Counter
	StallsTotal           prometheus.Counter
	RetriesTotal          prometheus.Counter
	RunsTotal             *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
	PageDuration          prometheus.Histogram
	ActiveRuns            prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_crawler_pages_processed_total",
		Help: "Total catalog pages settled, extracted and merged.",
	})
	inserted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_crawler_listings_inserted_total",
		Help: "Total distinct listings inserted across runs.",
	})
	stalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_crawler_stalls_total",
		Help: "Total failed attempts to advance the pagination control.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_crawler_retries_total",
		Help: "Total page retries scheduled after a stall.",
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_crawler_runs_total",
		Help: "Total finished runs by terminal state.",
	}, []string{"terminal"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_crawler_errors_total",
		Help: "Total crawl errors by kind.",
	}, []string{"kind"})
	pageDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_crawler_page_duration_seconds",
		Help:    "Time spent processing one catalog page.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_crawler_active_runs",
		Help: "Runs currently holding a browser session.",
	})

	registry.MustRegister(pages, inserted, stalls, retries, runs, errorsTotal, pageDuration, active)

	return &Metrics{
		Registry:              registry,
		PagesProcessedTotal:   pages,
		ListingsInsertedTotal: inserted,
		StallsTotal:           stalls,
		RetriesTotal:          retries,
		RunsTotal:             runs,
		ErrorsTotal:           errorsTotal,
		PageDuration:          pageDuration,
		ActiveRuns:            active,
	}
}

func (m *Metrics) ObservePage(d time.Duration, inserted int) {
	if m == nil {
		return
	}
	m.PagesProcessedTotal.Inc()
	m.ListingsInsertedTotal.Add(float64(inserted))
	m.PageDuration.Observe(d.Seconds())
}

func (m *Metrics) IncStall() {
	if m == nil {
		return
	}
	m.StallsTotal.Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) IncError(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished(terminal Terminal) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(string(terminal)).Inc()
}
