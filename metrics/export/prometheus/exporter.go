package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   authgate.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   authgate.MetricID
	desc *prometheus.Desc
}

// Exporter is a prometheus.Collector over engine snapshots. Every Collect
// reads one fresh snapshot.
type Exporter struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter creates an exporter reading from engine.
func NewExporter(engine *authgate.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource creates an exporter over any snapshot source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(
			"authgate_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return e
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.auditDropped
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, le := range internaldefs.HistogramBounds {
			buckets[le] = cumulative[i]
		}
		// Snapshots carry no sum.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves the exporter from a private registry, so nothing is added
// to the global default registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
