// Package observability wires OpenTelemetry trace and log export for the
// attribute engine. Both signals share one resource and one OTLP exporter
// configuration shape; each may target its own collector over gRPC or HTTP.
package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

const shutdownTimeout = 5 * time.Second

// Config holds OpenTelemetry configuration for one signal.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

// OTLPExporterConfig holds OTLP exporter configuration options
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

func newResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// exporterSettings is the protocol-neutral form of an OTLPExporterConfig.
// Each exporter builder below translates it into its own option type.
type exporterSettings struct {
	endpoint    string
	endpointURL bool
	insecure    bool
	tls         *tls.Config
	headers     map[string]string
	timeout     time.Duration
	gzip        bool
	retry       bool
}

// Retry bounds applied to every exporter with retries enabled.
const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

func resolveExporterSettings(cfg OTLPExporterConfig) (exporterSettings, error) {
	s := exporterSettings{
		endpoint:    cfg.Endpoint,
		endpointURL: isHTTPEndpointURL(cfg.Endpoint),
		insecure:    cfg.Insecure,
		headers:     cfg.Headers,
		timeout:     cfg.Timeout,
		gzip:        cfg.Compression == "gzip",
		retry:       cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
	}
	if !cfg.Insecure {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return exporterSettings{}, err
		}
		s.tls = tlsConfig
	}
	return s, nil
}

func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = certPool
	}

	if cfg.TLSClientCertFile != "" || cfg.TLSClientKeyFile != "" {
		if cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "" {
			return nil, fmt.Errorf("OTLP TLS client cert and key must both be set")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func isHTTPEndpointURL(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

func grpcTraceOptions(s exporterSettings) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

func httpTraceOptions(s exporterSettings) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if s.endpointURL {
		opts = append(opts, otlptracehttp.WithEndpointURL(s.endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(s.endpoint))
	}
	if s.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(s.tls))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

func grpcLogOptions(s exporterSettings) []otlploggrpc.Option {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

func httpLogOptions(s exporterSettings) []otlploghttp.Option {
	var opts []otlploghttp.Option
	if s.endpointURL {
		opts = append(opts, otlploghttp.WithEndpointURL(s.endpoint))
	} else {
		opts = append(opts, otlploghttp.WithEndpoint(s.endpoint))
	}
	if s.insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	} else {
		opts = append(opts, otlploghttp.WithTLSClientConfig(s.tls))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

// TracerProvider wraps the OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider creates a batching OTLP tracer provider and installs it
// as the global provider, so spans started by the attribute engine are exported.
func InitTracerProvider(ctx context.Context, cfg Config) (*TracerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	protocol, err := parseOTLPProtocol(cfg.OTLPConfig.Protocol)
	if err != nil {
		return nil, err
	}
	settings, err := resolveExporterSettings(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch protocol {
	case otlpProtocolHTTP:
		exporter, err = otlptracehttp.New(ctx, httpTraceOptions(settings)...)
	default:
		exporter, err = otlptracegrpc.New(ctx, grpcTraceOptions(settings)...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(traceSamplerForRatio(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

func traceSamplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithTimeout(ctx, logger, "tracer provider", tp.provider.Shutdown)
}

// LoggerProvider wraps the OpenTelemetry logger provider
type LoggerProvider struct {
	provider *log.LoggerProvider
}

// InitLoggerProvider creates a batching OTLP logger provider. It is not made
// global; the logging package bridges slog records into it.
func InitLoggerProvider(ctx context.Context, cfg Config) (*LoggerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	protocol, err := parseOTLPProtocol(cfg.OTLPConfig.Protocol)
	if err != nil {
		return nil, err
	}
	settings, err := resolveExporterSettings(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}

	var exporter log.Exporter
	switch protocol {
	case otlpProtocolHTTP:
		exporter, err = otlploghttp.New(ctx, httpLogOptions(settings)...)
	default:
		exporter, err = otlploggrpc.New(ctx, grpcLogOptions(settings)...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)
	return &LoggerProvider{provider: provider}, nil
}

// Shutdown flushes pending records and stops the exporter.
func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithTimeout(ctx, logger, "logger provider", lp.provider.Shutdown)
}

// Provider returns the underlying logger provider
func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}

func shutdownWithTimeout(ctx context.Context, logger *slog.Logger, name string, shutdown func(context.Context) error) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown "+name, slog.String("error", err.Error()))
		return err
	}
	logger.Debug(name + " shutdown successfully")
	return nil
}
