package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"selectattr/internal/sqlutil"
)

type roleContextKey struct{}

// WithRole scopes the database role used for queries issued with ctx.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleContextKey{}, role)
}

// RoleFromContext returns the role set by WithRole.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleContextKey{}).(string)
	return role, ok
}

// RoleExecutor executes queries using SET ROLE on a dedicated connection.
type RoleExecutor struct {
	db           *sql.DB
	databaseName string
	defaultRole  string
	allowedRoles map[string]struct{}
}

// RoleExecutorConfig controls role execution behavior.
type RoleExecutorConfig struct {
	DB           *sql.DB
	DatabaseName string
	// DefaultRole is applied when the context carries no role.
	DefaultRole string
	// AllowedRoles restricts context-supplied roles. Empty means any role.
	AllowedRoles []string
}

// NewRoleExecutor creates an executor that applies SET ROLE before each statement,
// so lookup and owning tables are read and written with the configured grants.
func NewRoleExecutor(cfg RoleExecutorConfig) *RoleExecutor {
	allowed := make(map[string]struct{}, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = struct{}{}
	}
	return &RoleExecutor{
		db:           cfg.DB,
		databaseName: cfg.DatabaseName,
		defaultRole:  cfg.DefaultRole,
		allowedRoles: allowed,
	}
}

func (e *RoleExecutor) resolveRole(ctx context.Context) (string, error) {
	role, ok := RoleFromContext(ctx)
	if !ok || role == "" {
		return e.defaultRole, nil
	}
	if len(e.allowedRoles) > 0 {
		if _, allowed := e.allowedRoles[role]; !allowed {
			return "", fmt.Errorf("role not allowed: %s", role)
		}
	}
	return role, nil
}

// prepare acquires a dedicated connection with the effective role and database selected.
func (e *RoleExecutor) prepare(ctx context.Context) (*sql.Conn, func(), error) {
	if e.db == nil {
		return nil, nil, sql.ErrConnDone
	}
	role, err := e.resolveRole(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	cleanup := func() {
		_, _ = conn.ExecContext(context.Background(), "SET ROLE DEFAULT")
		_ = conn.Close()
	}

	if role != "" {
		// MySQL doesn't support parameterized SET ROLE; the role comes from
		// configuration or the allowlist above.
		setRoleSQL := fmt.Sprintf("SET ROLE %s", sqlutil.QuoteIdentifier(role))
		if _, err := conn.ExecContext(ctx, setRoleSQL); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to set role %s: %w", role, err)
		}
	}
	if e.databaseName != "" {
		useSQL := fmt.Sprintf("USE %s", sqlutil.QuoteIdentifier(e.databaseName))
		if _, err := conn.ExecContext(ctx, useSQL); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to select database %s: %w", e.databaseName, err)
		}
	}
	return conn, cleanup, nil
}

func (e *RoleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, cleanup, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &roleAwareRows{
		Rows:    rows,
		cleanup: cleanup,
	}, nil
}

func (e *RoleExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, cleanup, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return conn.ExecContext(ctx, query, args...)
}

type roleAwareRows struct {
	*sql.Rows
	cleanup func()
}

func (r *roleAwareRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
