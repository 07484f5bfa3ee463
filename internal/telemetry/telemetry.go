// Package telemetry wires OpenTelemetry traces and metrics to rotating files.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	serviceName    = "carevoice"
	exportInterval = 10 * time.Second
	shutdownWait   = 5 * time.Second
)

// Options controls telemetry export.
type Options struct {
	Enabled bool
	Dir     string // Directory for traces.log and metrics.log
	Version string
}

// Init installs global tracer and meter providers exporting to files under
// opts.Dir. When disabled the otel no-op globals stay in place. The returned
// func flushes and closes everything; it is never nil.
func Init(ctx context.Context, opts Options, logger zerolog.Logger) (func(), error) {
	log := logger.With().Str("component", "telemetry").Logger()
	if !opts.Enabled {
		log.Debug().Msg("Telemetry disabled")
		return func() {}, nil
	}
	if opts.Dir == "" {
		return func() {}, fmt.Errorf("telemetry dir is required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return func() {}, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return func() {}, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	traceFile := rotatingFile(filepath.Join(opts.Dir, "traces.log"))
	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(traceFile),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		traceFile.Close()
		return func() {}, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	metricsFile := rotatingFile(filepath.Join(opts.Dir, "metrics.log"))
	metricExporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(metricsFile),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		traceFile.Close()
		metricsFile.Close()
		return func() {}, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(exportInterval)),
		),
		sdkmetric.WithResource(res),
	)

	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	log.Info().Str("dir", opts.Dir).Msg("Telemetry enabled")

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()

		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracer provider")
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown meter provider")
		}
		if err := traceFile.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close trace file")
		}
		if err := metricsFile.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close metrics file")
		}
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}
	return shutdown, nil
}

func rotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}
