// common/telemetry/otel.go
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
)

// Config содержит параметры для инициализации OpenTelemetry.
type Config struct {
	Enabled         bool          `mapstructure:"enabled"`          // false → no-op провайдер
	Endpoint        string        `mapstructure:"otel_endpoint"`    // OTLP-collector "host:port"
	Insecure        bool          `mapstructure:"insecure"`         // true → gRPC без TLS
	ReconnectPeriod time.Duration `mapstructure:"reconnect_period"` // период переподключения экспортёра
	Timeout         time.Duration `mapstructure:"timeout"`          // таймаут Init/Shutdown
	SamplerRatio    float64       `mapstructure:"sampler_ratio"`    // 0.0…1.0

	ServiceName    string `mapstructure:"-"`
	ServiceVersion string `mapstructure:"-"`
}

func applyDefaults(cfg *Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ReconnectPeriod <= 0 {
		cfg.ReconnectPeriod = 5 * time.Second
	}
	if cfg.SamplerRatio <= 0 || cfg.SamplerRatio > 1 {
		cfg.SamplerRatio = 1
	}
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Endpoint == "":
		return fmt.Errorf("telemetry: endpoint is required")
	case cfg.ServiceName == "":
		return fmt.Errorf("telemetry: service name is required")
	case cfg.ServiceVersion == "":
		return fmt.Errorf("telemetry: service version is required")
	default:
		return nil
	}
}

// ShutdownFunc останавливает провайдер трейсов.
type ShutdownFunc func(context.Context) error

// InitTracer инициализирует глобальный TracerProvider и возвращает Shutdown-функцию.
// При Enabled=false глобальный провайдер не трогается (no-op от otel).
func InitTracer(ctx context.Context, cfg Config, log *logger.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		log.Info("telemetry: disabled")
		return func(context.Context) error { return nil }, nil
	}

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	exp, err := newExporter(initCtx, cfg)
	if err != nil {
		log.Error("telemetry: exporter creation failed", zap.Error(err))
		return nil, fmt.Errorf("telemetry: exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("telemetry: initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.ServiceVersion),
		zap.String("endpoint", cfg.Endpoint),
	)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Error("telemetry: shutdown failed", zap.Error(err))
			return err
		}
		log.Info("telemetry: shutdown complete")
		return nil
	}, nil
}

// Tracer возвращает именованный трейсер глобального провайдера.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithReconnectionPeriod(cfg.ReconnectPeriod),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
}
