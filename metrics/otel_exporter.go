package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector
	registry      *promclient.Registry

	// OTel meters and instruments
	meter              metric.Meter
	entriesGauge       metric.Int64ObservableGauge
	subscribersGauge   metric.Int64ObservableGauge
	requestsCounter    metric.Int64ObservableCounter
	mutationsCounter   metric.Int64ObservableCounter
	invalidationsCount metric.Int64ObservableCounter
	refetchesCount     metric.Int64ObservableCounter
	evictionsCount     metric.Int64ObservableCounter
}

// ExporterOption customises an OTelExporter.
type ExporterOption func(*OTelExporter)

// WithRegistry exports into reg instead of the default Prometheus registry.
func WithRegistry(reg *promclient.Registry) ExporterOption {
	return func(oe *OTelExporter) {
		oe.registry = reg
	}
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector, opts ...ExporterOption) (*OTelExporter, error) {
	oe := &OTelExporter{
		collector: collector,
	}
	for _, opt := range opts {
		opt(oe)
	}

	// Create Prometheus exporter
	var exporterOpts []prometheus.Option
	if oe.registry != nil {
		exporterOpts = append(exporterOpts, prometheus.WithRegisterer(oe.registry))
	}
	exporter, err := prometheus.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	oe.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(oe.meterProvider)

	// Create meter with service info
	oe.meter = oe.meterProvider.Meter(
		"library-catalog",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Entries gauge (per status)
	oe.entriesGauge, err = oe.meter.Int64ObservableGauge(
		"catalog.cache.entries",
		metric.WithDescription("Number of cache entries by status"),
		metric.WithUnit("{entries}"),
		metric.WithInt64Callback(oe.observeEntries),
	)
	if err != nil {
		return fmt.Errorf("creating entries gauge: %w", err)
	}

	oe.subscribersGauge, err = oe.meter.Int64ObservableGauge(
		"catalog.cache.subscribers",
		metric.WithDescription("Number of active subscriptions over all cache entries"),
		metric.WithUnit("{subscribers}"),
		metric.WithInt64Callback(oe.observeSubscribers),
	)
	if err != nil {
		return fmt.Errorf("creating subscribers gauge: %w", err)
	}

	// Read outcomes (hit, miss, fetch...)
	oe.requestsCounter, err = oe.meter.Int64ObservableCounter(
		"catalog.cache.requests",
		metric.WithDescription("Number of cache reads by outcome"),
		metric.WithUnit("{requests}"),
		metric.WithInt64Callback(oe.observeRequests),
	)
	if err != nil {
		return fmt.Errorf("creating requests counter: %w", err)
	}

	oe.mutationsCounter, err = oe.meter.Int64ObservableCounter(
		"catalog.mutations",
		metric.WithDescription("Number of backend writes by result"),
		metric.WithUnit("{mutations}"),
		metric.WithInt64Callback(oe.observeMutations),
	)
	if err != nil {
		return fmt.Errorf("creating mutations counter: %w", err)
	}

	oe.invalidationsCount, err = oe.meter.Int64ObservableCounter(
		"catalog.cache.invalidations",
		metric.WithDescription("Number of tag invalidations"),
		metric.WithUnit("{invalidations}"),
		metric.WithInt64Callback(oe.observeActivity(func(a ActivityMetrics) int64 { return a.Invalidations })),
	)
	if err != nil {
		return fmt.Errorf("creating invalidations counter: %w", err)
	}

	oe.refetchesCount, err = oe.meter.Int64ObservableCounter(
		"catalog.cache.refetches",
		metric.WithDescription("Number of background refetches"),
		metric.WithUnit("{refetches}"),
		metric.WithInt64Callback(oe.observeActivity(func(a ActivityMetrics) int64 { return a.Refetches })),
	)
	if err != nil {
		return fmt.Errorf("creating refetches counter: %w", err)
	}

	oe.evictionsCount, err = oe.meter.Int64ObservableCounter(
		"catalog.cache.evictions",
		metric.WithDescription("Number of evicted cache entries"),
		metric.WithUnit("{entries}"),
		metric.WithInt64Callback(oe.observeActivity(func(a ActivityMetrics) int64 { return a.Evictions })),
	)
	if err != nil {
		return fmt.Errorf("creating evictions counter: %w", err)
	}

	return nil
}

// observeEntries is a callback that reports entry counts by status
func (oe *OTelExporter) observeEntries(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetEntryCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("status", status),
		))
	}

	return nil
}

func (oe *OTelExporter) observeSubscribers(ctx context.Context, observer metric.Int64Observer) error {
	total, err := oe.collector.GetSubscribers(ctx)
	if err != nil {
		return err
	}
	observer.Observe(total)
	return nil
}

// observeRequests is a callback that reports cache reads by outcome
func (oe *OTelExporter) observeRequests(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetRequestCounts(ctx)
	if err != nil {
		return err
	}

	for outcome, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}

	return nil
}

func (oe *OTelExporter) observeMutations(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetMutationCounts(ctx)
	if err != nil {
		return err
	}

	for result, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("result", result),
		))
	}

	return nil
}

// observeActivity builds a callback reporting one field of the activity metrics
func (oe *OTelExporter) observeActivity(field func(ActivityMetrics) int64) metric.Int64Callback {
	return func(ctx context.Context, observer metric.Int64Observer) error {
		activity, err := oe.collector.GetActivity(ctx)
		if err != nil {
			return err
		}
		observer.Observe(field(activity))
		return nil
	}
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	if oe.registry != nil {
		return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
