package app

import (
	"context"
	"fmt"
	"log/slog"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	// The catalog is read before connecting so a broken catalog fails fast.
	catalog, err := loadCatalog(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load attribute catalog: %w", err)
	}

	a.logger.Debug("connecting to MySQL",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database_effective", a.effectiveDatabase),
		slog.Bool("dsn_present", a.dsnPresent),
	)

	db, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.effectiveDatabase); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	executor := buildQueryExecutor(a.cfg, db, a.effectiveDatabase)

	a.stateMu.Lock()
	a.tracerProvider = tracerProvider
	a.db = db
	a.executor = executor
	a.catalog = catalog
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
