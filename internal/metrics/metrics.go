package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ocrinvoice"

// Metrics holds the service collectors on a private registry, so tests can
// build as many instances as they like. All methods are safe on a nil
// receiver.
type Metrics struct {
	registry *prometheus.Registry

	uploads          *prometheus.CounterVec
	ocrRequests      *prometheus.CounterVec
	ocrDuration      prometheus.Histogram
	pdfDownloads     *prometheus.CounterVec
	extractions      *prometheus.CounterVec
	tempFilesRemoved *prometheus.CounterVec
	templatesLoaded  prometheus.Gauge
	breakerOpen      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads handled, by HTTP status.",
		}, []string{"status"}),
		ocrRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_requests_total",
			Help:      "Calls to the OCR provider, by outcome.",
		}, []string{"outcome"}),
		ocrDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_request_duration_seconds",
			Help:      "Latency of calls to the OCR provider.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 180},
		}),
		pdfDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_downloads_total",
			Help:      "Searchable PDF downloads, by outcome.",
		}, []string{"outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Invoice template extractions, by outcome.",
		}, []string{"outcome"}),
		tempFilesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temp_files_removed_total",
			Help:      "Temporary PDFs removed, by who removed them.",
		}, []string{"by"}),
		templatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "templates_loaded",
			Help:      "Invoice templates currently loaded.",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ocr_breaker_open",
			Help:      "1 while the OCR circuit breaker is not closed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads,
		m.ocrRequests,
		m.ocrDuration,
		m.pdfDownloads,
		m.extractions,
		m.tempFilesRemoved,
		m.templatesLoaded,
		m.breakerOpen,
	)

	return m
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordUpload(status int) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordOCRRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ocrRequests.WithLabelValues(outcome).Inc()
	m.ocrDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPDFDownload(outcome string) {
	if m == nil {
		return
	}
	m.pdfDownloads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTempFileRemoved(by string) {
	if m == nil {
		return
	}
	m.tempFilesRemoved.WithLabelValues(by).Inc()
}

func (m *Metrics) SetTemplatesLoaded(n int) {
	if m == nil {
		return
	}
	m.templatesLoaded.Set(float64(n))
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}
