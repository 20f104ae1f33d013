package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"selectattr/internal/attribute"
	"selectattr/internal/config"
	"selectattr/internal/dbexec"
	"selectattr/internal/logging"
	"selectattr/internal/observability"
	"selectattr/internal/sqlutil"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// maxRetryInterval caps the exponential backoff between connection attempts.
const maxRetryInterval = 30 * time.Second

// InitLogger builds the process logger writing to out, and, when log export is
// enabled, an OTLP logger provider bridged into it.
func InitLogger(ctx context.Context, cfg *config.Config, out io.Writer) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: out,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Debug("initializing OpenTelemetry logging",
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, observabilityConfig(cfg.Observability, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Debug("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(ctx, observabilityConfig(cfg.Observability, tracesConfig))
}

func observabilityConfig(obs config.ObservabilityConfig, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      obs.ServiceName,
		ServiceVersion:   obs.ServiceVersion,
		Environment:      obs.Environment,
		TraceSampleRatio: obs.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func loadCatalog(cfg *config.Config, logger *logging.Logger) (*attribute.Catalog, error) {
	catalog, skipped, err := attribute.LoadCatalog(cfg.Attributes.CatalogDir, cfg.Attributes.Policy())
	if err != nil {
		return nil, err
	}
	for _, name := range skipped {
		logger.Warn("attribute skipped by table policy", slog.String("attribute", name))
	}
	logger.Debug("attribute catalog loaded",
		slog.String("dir", cfg.Attributes.CatalogDir),
		slog.Int("attributes", catalog.Len()),
		slog.Int("skipped", len(skipped)),
	)
	return catalog, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, error) {
	// verify-ca and verify-full need the TLS config registered before the DSN is used.
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, err
	}

	if !cfg.Observability.TracingEnabled {
		return sql.Open("mysql", dsn)
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemMySQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	}
	if cfg.Observability.SQLCommenterEnabled {
		opts = append(opts, otelsql.WithSQLCommenter(true))
	}

	db, err := otelsql.Open("mysql", dsn, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("database instrumentation enabled",
		slog.Bool("sqlcommenter", cfg.Observability.SQLCommenterEnabled),
	)
	return db, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db, effectiveDatabase); err != nil {
		return err
	}

	logger.Debug("connected to database",
		slog.String("database_effective", effectiveDatabase),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings the database, retrying with exponential backoff until
// ConnectionTimeout elapses. A zero timeout makes a single attempt.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	tryConnect := func() error {
		if role := strings.TrimSpace(cfg.Database.Role); role != "" {
			return verifyRoleDatabaseAccess(ctx, db, role, effectiveDatabase)
		}
		return db.PingContext(ctx)
	}

	if timeout == 0 {
		return tryConnect()
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := tryConnect()
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, maxRetryInterval)
	}
}

// verifyRoleDatabaseAccess checks that the configured role can be activated and
// can reach the database, on a single pinned connection.
func verifyRoleDatabaseAccess(ctx context.Context, db *sql.DB, role, effectiveDatabase string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SET ROLE DEFAULT")
		_ = conn.Close()
	}()

	if _, err := conn.ExecContext(ctx, "SET ROLE "+sqlutil.QuoteIdentifier(role)); err != nil {
		return fmt.Errorf("failed to set role %s: %w", role, err)
	}
	if effectiveDatabase != "" {
		if _, err := conn.ExecContext(ctx, "USE "+sqlutil.QuoteIdentifier(effectiveDatabase)); err != nil {
			return fmt.Errorf("failed to select database %s: %w", effectiveDatabase, err)
		}
	}
	if _, err := conn.ExecContext(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to validate database access: %w", err)
	}
	return nil
}

func buildQueryExecutor(cfg *config.Config, db *sql.DB, effectiveDatabase string) dbexec.QueryExecutor {
	role := strings.TrimSpace(cfg.Database.Role)
	if role == "" {
		return dbexec.NewStandardExecutor(db)
	}
	return dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
		DB:           db,
		DatabaseName: effectiveDatabase,
		DefaultRole:  role,
		AllowedRoles: []string{role},
	})
}
