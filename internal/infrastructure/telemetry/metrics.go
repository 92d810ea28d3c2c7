// Package telemetry provides OpenTelemetry tracing and metrics for the
// integration core.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	Insecure          bool
}

// MeterProvider wraps the OpenTelemetry meter provider with lifecycle
// management. When disabled it leaves the global no-op meter in place.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider creates and registers a meter provider exporting over
// OTLP gRPC.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}

	if !cfg.Enabled {
		logger.Info("metrics disabled, using no-op meter provider")
		return mp, nil
	}

	exportInterval := cfg.ExportInterval
	if exportInterval == 0 {
		exportInterval = 60 * time.Second
	}

	exporterOpts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(mp.provider)
	logger.Info("metrics enabled", zap.String("endpoint", cfg.CollectorEndpoint))
	return mp, nil
}

// Shutdown flushes and stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}

// CacheMetrics records cache effectiveness per logical resource
// (patient, patient-schedules, flow-match, ...). A nil receiver is valid and
// records nothing, so callers never need to guard instrumentation.
type CacheMetrics struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	invalidations metric.Int64Counter
	rejections    metric.Int64Counter
}

// NewCacheMetrics creates the integration-cache instrument set on the global
// meter provider.
func NewCacheMetrics() (*CacheMetrics, error) {
	meter := otel.Meter("medagenda.integration.cache")

	hits, err := meter.Int64Counter("cache.hits",
		metric.WithDescription("Cache lookups answered from the store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.hits counter: %w", err)
	}
	misses, err := meter.Int64Counter("cache.misses",
		metric.WithDescription("Cache lookups that fell through to the upstream"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.misses counter: %w", err)
	}
	invalidations, err := meter.Int64Counter("cache.invalidations",
		metric.WithDescription("Keys removed by explicit invalidation"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.invalidations counter: %w", err)
	}
	rejections, err := meter.Int64Counter("ratelimit.rejections",
		metric.WithDescription("Requests rejected by the rate limiter"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.rejections counter: %w", err)
	}

	return &CacheMetrics{
		hits:          hits,
		misses:        misses,
		invalidations: invalidations,
		rejections:    rejections,
	}, nil
}

// RecordHit counts a cache hit for the given logical resource.
func (m *CacheMetrics) RecordHit(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordMiss counts a cache miss for the given logical resource.
func (m *CacheMetrics) RecordMiss(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordInvalidation counts keys removed by an explicit invalidation.
func (m *CacheMetrics) RecordInvalidation(ctx context.Context, resource string, keys int) {
	if m == nil {
		return
	}
	m.invalidations.Add(ctx, int64(keys), metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordRateLimitRejection counts a request rejected by the rate limiter.
func (m *CacheMetrics) RecordRateLimitRejection(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}
