// Package observability sets up OpenTelemetry tracing for listenlog runs.
//
// Tracing is off unless LISTENLOG_TRACE_EXPORTER names an exporter. The stdout
// exporter writes finished spans as JSON, one document per span.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/listenlog/listenlog/internal/config"
)

const (
	// ExporterNone disables tracing.
	ExporterNone = "none"
	// ExporterStdout writes spans to the writer passed to InitTracing.
	ExporterStdout = "stdout"

	defaultServiceName  = "listenlog"
	instrumentationName = "github.com/listenlog/listenlog"
)

var (
	// ErrUnknownExporter is returned when the configured exporter is not supported.
	ErrUnknownExporter = errors.New("unknown trace exporter")
	// ErrServiceNameEmpty is returned when tracing is enabled without a service name.
	ErrServiceNameEmpty = errors.New("trace service name cannot be empty")
	// ErrTracingInitFailed wraps exporter construction errors.
	ErrTracingInitFailed = errors.New("failed to initialise tracing")
)

// Config selects the trace exporter.
type Config struct {
	Exporter    string
	ServiceName string
}

// Shutdown flushes buffered spans and stops the provider.
type Shutdown func(context.Context) error

// LoadConfig loads the tracing configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Exporter:    config.GetEnvStr("LISTENLOG_TRACE_EXPORTER", ExporterNone),
		ServiceName: config.GetEnvStr("LISTENLOG_TRACE_SERVICE_NAME", defaultServiceName),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.exporter() {
	case ExporterNone:
		return nil
	case ExporterStdout:
		if strings.TrimSpace(c.ServiceName) == "" {
			return ErrServiceNameEmpty
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExporter, c.Exporter)
	}
}

func (c *Config) exporter() string {
	e := strings.ToLower(strings.TrimSpace(c.Exporter))
	if e == "" {
		return ExporterNone
	}

	return e
}

// InitTracing installs the global tracer provider described by cfg.
// With ExporterNone a no-op provider is installed and Shutdown does nothing.
func InitTracing(cfg *Config, w io.Writer) (Shutdown, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.exporter() == ExporterNone {
		otel.SetTracerProvider(noop.NewTracerProvider())

		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTracingInitFailed, err)
	}

	tp := NewTracerProvider(cfg.ServiceName, sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// NewTracerProvider builds an SDK provider whose spans carry service.name.
func NewTracerProvider(serviceName string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	}, opts...)

	return sdktrace.NewTracerProvider(opts...)
}

// Tracer returns the listenlog tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
