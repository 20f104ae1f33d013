// Package app owns the runtime resources behind a selectattr invocation: the
// logger and tracer providers, the database handle, the query executor and
// the attribute catalog.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"selectattr/internal/attribute"
	"selectattr/internal/config"
	"selectattr/internal/dbexec"
	"selectattr/internal/logging"
	"selectattr/internal/observability"
	"selectattr/internal/selectattr"
)

// App owns runtime resources for one CLI invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	tracerProvider *observability.TracerProvider

	effectiveDatabase string
	dsnPresent        bool

	db       *sql.DB
	executor dbexec.QueryExecutor
	catalog  *attribute.Catalog

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	effectiveDatabase, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: effectiveDatabase,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Catalog returns the loaded attribute catalog. It is nil before Init.
func (a *App) Catalog() *attribute.Catalog {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.catalog
}

// Attribute binds the named catalog attribute to the app's executor.
func (a *App) Attribute(name string) (*selectattr.Attribute, error) {
	a.stateMu.Lock()
	catalog, executor, initialized := a.catalog, a.executor, a.initialized
	a.stateMu.Unlock()

	if !initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	def, err := catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	return selectattr.New(def, executor, selectattr.WithBatchSize(a.cfg.Attributes.BatchSize)), nil
}

// Context returns ctx carrying the app logger, so attribute operations log
// through it.
func (a *App) Context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.logger)
}
