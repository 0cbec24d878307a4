// Package telemetry exports bridge metrics over OTLP.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string // host:port of an OTLP/HTTP collector
	Insecure bool
	Service  string
	Version  string
}

// Provider owns the meter and the bridge's instruments. A nil *Provider is
// valid and records nothing.
type Provider struct {
	Enabled bool
	meter   metric.Meter

	sessions       metric.Int64Counter
	updates        metric.Int64Counter
	restarts       metric.Int64Counter
	searchDuration metric.Float64Histogram
	shutdown       func(context.Context) error
}

// NewProvider configures the OTLP exporter. When disabled it returns a
// provider backed by a no-op meter.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		p := &Provider{meter: noop.NewMeterProvider().Meter("")}
		p.initInstruments()
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:  true,
		meter:    mp.Meter("remote-uci"),
		shutdown: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	// Instrument errors only happen for invalid names; telemetry is best-effort.
	p.sessions, _ = p.meter.Int64Counter("remote_uci_sessions_total")
	p.updates, _ = p.meter.Int64Counter("remote_uci_updates_total")
	p.restarts, _ = p.meter.Int64Counter("remote_uci_engine_restarts_total")
	p.searchDuration, _ = p.meter.Float64Histogram("remote_uci_search_duration_ms")
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// SessionFinished counts a terminal session. dur is zero for sessions that
// never reached the engine.
func (p *Provider) SessionFinished(ctx context.Context, status string, dur time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.sessions.Add(ctx, 1, attrs)
	if dur > 0 {
		p.searchDuration.Record(ctx, float64(dur)/float64(time.Millisecond), attrs)
	}
}

// UpdateRelayed counts one analysis update.
func (p *Provider) UpdateRelayed(ctx context.Context) {
	if p == nil {
		return
	}
	p.updates.Add(ctx, 1)
}

// EngineRestarted counts a respawn after a failure.
func (p *Provider) EngineRestarted(ctx context.Context) {
	if p == nil {
		return
	}
	p.restarts.Add(ctx, 1)
}
