package promutil

import "github.com/prometheus/client_golang/prometheus"

// MetricDesc builds const metrics whose label sets are only known at
// collection time.
type MetricDesc struct {
	fqName string
	help   string
}

func NewMetricDesc(opts prometheus.Opts) *MetricDesc {
	return &MetricDesc{
		fqName: prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name),
		help:   opts.Help,
	}
}

func (d *MetricDesc) Desc(labels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc(d.fqName, d.help, nil, labels)
}

func (d *MetricDesc) Gauge(value float64, labels prometheus.Labels) prometheus.Metric {
	return prometheus.MustNewConstMetric(d.Desc(labels), prometheus.GaugeValue, value)
}

// CollectorFunc is an unchecked collector: it describes nothing up front,
// so its metrics may carry any label set.
type CollectorFunc func(ch chan<- prometheus.Metric)

func (f CollectorFunc) Describe(ch chan<- *prometheus.Desc) {}

func (f CollectorFunc) Collect(ch chan<- prometheus.Metric) {
	f(ch)
}
