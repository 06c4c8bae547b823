// Package telemetry wires OpenTelemetry tracing for sessions and model calls.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ServiceName        = "feedpilot"
	DefaultEnvironment = "dev"
	DefaultEndpoint    = "http://localhost:4318"

	// BatchTimeout bounds both the batch flush interval and shutdown.
	BatchTimeout = 5 * time.Second
	BatchSize    = 512
)

// ServiceVersion is overridden at build time with -ldflags.
var ServiceVersion = "dev"

// Options configures tracing. Blank fields fall back to the OTEL_* variables
// and then to the package defaults.
type Options struct {
	Endpoint    string
	Environment string
	// Certificate is a PEM bundle trusted for the collector's TLS endpoint.
	Certificate string
	// Fallback receives console span output when no OTLP exporter can be
	// built. Defaults to stderr.
	Fallback io.Writer
}

var newOTLPExporter = func(ctx context.Context, endpoint string, tlsConfig *tls.Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if tlsConfig != nil {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsConfig))
	}
	return otlptracehttp.New(ctx, opts...)
}

func (o Options) resolved() Options {
	o.Endpoint = firstNonBlank(o.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), DefaultEndpoint)
	o.Certificate = firstNonBlank(o.Certificate, os.Getenv("OTEL_EXPORTER_OTLP_CERTIFICATE"))
	o.Environment = strings.ToLower(firstNonBlank(
		o.Environment,
		os.Getenv("FEEDPILOT_ENV"),
		os.Getenv("ENVIRONMENT"),
		os.Getenv("ENV"),
		DefaultEnvironment,
	))
	if o.Fallback == nil {
		o.Fallback = os.Stderr
	}
	return o
}

// Init installs the global tracer provider and returns a shutdown func that
// flushes pending spans. Shutdown is safe to call more than once. An
// unreadable certificate is an error; any other exporter failure degrades to
// console output on opts.Fallback.
func Init(ctx context.Context, opts Options) (func(), error) {
	opts = opts.resolved()

	var tlsConfig *tls.Config
	if opts.Certificate != "" {
		var err error
		if tlsConfig, err = trustBundle(opts.Certificate); err != nil {
			return nil, err
		}
	}
	exporter, err := newOTLPExporter(ctx, opts.Endpoint, tlsConfig)
	if err != nil {
		fmt.Fprintf(opts.Fallback, "telemetry: printing spans to the console, OTLP export to %s failed: %v\n", opts.Endpoint, err)
		exporter = &consoleExporter{out: opts.Fallback}
	}

	version := firstNonBlank(ServiceVersion, "dev")
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", version),
			attribute.String("deployment.environment", opts.Environment),
		)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(BatchTimeout),
			sdktrace.WithMaxExportBatchSize(BatchSize),
		),
	)
	otel.SetTracerProvider(provider)

	return sync.OnceFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), BatchTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			otel.Handle(err)
		}
	}), nil
}

func trustBundle(path string) (*tls.Config, error) {
	// #nosec G304 -- operator-supplied certificate path.
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: read certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("telemetry: %s holds no PEM certificates", path)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// consoleExporter prints one line per span and one indented line per event.
type consoleExporter struct {
	mu  sync.Mutex
	out io.Writer
}

func (e *consoleExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, span := range spans {
		elapsed := span.EndTime().Sub(span.StartTime()).Round(time.Millisecond)
		_, err := fmt.Fprintf(e.out, "span %s %s %s\n", span.Name(), elapsed, span.Status().Code)
		errs = append(errs, err)
		for _, event := range span.Events() {
			_, err := fmt.Fprintf(e.out, "  event %s\n", event.Name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *consoleExporter) Shutdown(context.Context) error { return nil }
