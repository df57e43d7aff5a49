package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/contrast-oss/license-exporter/internal/licensing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Options controls which collectors a Publisher registers.
type Options struct {
	// RuntimeCollectors adds Go runtime and process collectors. Useful when
	// serving; usually unwanted when pushing to a gateway.
	RuntimeCollectors bool
}

// Publisher owns the process-scoped metrics registry. Publish is the only
// writer of license gauges; scrape handlers and pushes only read.
type Publisher struct {
	registry *prometheus.Registry
	licenses *licenseCollector

	cycleDuration    prometheus.Histogram
	cycles           *prometheus.CounterVec
	lastSuccess      prometheus.Gauge
	lastCycleSuccess prometheus.Gauge
}

// NewPublisher creates a Publisher with a dedicated registry.
func NewPublisher(opts Options) *Publisher {
	p := &Publisher{
		registry: prometheus.NewRegistry(),
		licenses: &licenseCollector{},
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "contrast_assess",
				Subsystem: "exporter",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of aggregation cycles across all environments.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "contrast_assess",
				Subsystem: "exporter",
				Name:      "cycles_total",
				Help:      "Total aggregation cycles partitioned by result.",
			},
			[]string{"result"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "contrast_assess",
				Subsystem: "exporter",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix timestamp of the last successfully published cycle.",
			},
		),
		lastCycleSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "contrast_assess",
				Subsystem: "exporter",
				Name:      "last_cycle_success",
				Help:      "Whether the most recent cycle succeeded (1) or failed (0). License gauges keep the last good values while this is 0.",
			},
		),
	}

	p.registry.MustRegister(
		p.licenses,
		p.cycleDuration,
		p.cycles,
		p.lastSuccess,
		p.lastCycleSuccess,
	)
	if opts.RuntimeCollectors {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return p
}

// Publish replaces every license gauge with the values from result.
func (p *Publisher) Publish(result *licensing.Result) {
	p.licenses.store(result)

	p.cycleDuration.Observe(result.Duration.Seconds())
	p.cycles.WithLabelValues("success").Inc()
	p.lastSuccess.Set(float64(result.StartedAt.Add(result.Duration).Unix()))
	p.lastCycleSuccess.Set(1)
}

// RecordFailure marks a failed cycle. License gauges are left untouched.
func (p *Publisher) RecordFailure(duration time.Duration) {
	p.cycleDuration.Observe(duration.Seconds())
	p.cycles.WithLabelValues("error").Inc()
	p.lastCycleSuccess.Set(0)
}

// Registry exposes the underlying registry for gatherers and tests.
func (p *Publisher) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Publisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		Registry:          p.registry,
		EnableOpenMetrics: true,
	})
}

// Gather collects the current metric families.
func (p *Publisher) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

// Push sends the registry to a Pushgateway, replacing the job's group.
func (p *Publisher) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(p.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push to gateway %s: %w", url, err)
	}
	return nil
}

// WriteText writes the current metrics in the Prometheus text format.
func (p *Publisher) WriteText(w io.Writer) error {
	families, err := p.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
