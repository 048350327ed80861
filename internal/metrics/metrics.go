// Package metrics records sync activity through OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "agent-console"
	serviceVersion = "0.1.0"
)

type Config struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	polls           metric.Int64Counter
	pollFailures    metric.Int64Counter
	mutations       metric.Int64Counter
	mutationLatency metric.Float64Histogram
	staleDiscards   metric.Int64Counter
}

// NewRecorder creates instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	polls, err := meter.Int64Counter(
		"agent_console_polls_total",
		metric.WithDescription("Session snapshot fetches"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polls counter: %w", err)
	}

	pollFailures, err := meter.Int64Counter(
		"agent_console_poll_failures_total",
		metric.WithDescription("Session snapshot fetches that failed after retries"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating poll failures counter: %w", err)
	}

	mutations, err := meter.Int64Counter(
		"agent_console_mutations_total",
		metric.WithDescription("Start, continue and approval requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mutations counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"agent_console_mutation_duration_seconds",
		metric.WithDescription("Mutation round-trip time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mutation histogram: %w", err)
	}

	stale, err := meter.Int64Counter(
		"agent_console_stale_snapshots_total",
		metric.WithDescription("Fetched snapshots dropped because newer state was already applied"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stale counter: %w", err)
	}

	return &Recorder{
		polls:           polls,
		pollFailures:    pollFailures,
		mutations:       mutations,
		mutationLatency: latency,
		staleDiscards:   stale,
	}, nil
}

// Poll records one fetch. outcome is "ok", "not_found" or "error".
func (r *Recorder) Poll(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String("outcome", outcome))
	r.polls.Add(ctx, 1, opt)
	if outcome != "ok" {
		r.pollFailures.Add(ctx, 1, opt)
	}
}

func (r *Recorder) Mutation(ctx context.Context, op string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opt := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	r.mutations.Add(ctx, 1, opt)
	r.mutationLatency.Record(ctx, elapsed.Seconds(), opt)
}

func (r *Recorder) StaleDiscard(ctx context.Context) {
	if r == nil {
		return
	}
	r.staleDiscards.Add(ctx, 1)
}

// Setup installs a global meter provider. When disabled it installs a no-op
// provider and the returned shutdown does nothing.
func Setup(ctx context.Context, cfg Config) (*Recorder, func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		rec, err := NewRecorder(noop.NewMeterProvider().Meter(serviceName))
		return rec, func(context.Context) error { return nil }, err
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	rec, err := NewRecorder(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return rec, provider.Shutdown, nil
}
