package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strings"

	"selectattr/internal/sqlutil"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns fatal errors and warnings.
// A valid database section has Database set to the effective database name.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Attributes.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	if role := strings.TrimSpace(d.Role); role != "" && !sqlutil.ValidIdentifier(role) {
		result.addError("database.role", fmt.Sprintf("invalid role name %q", d.Role), "")
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}

	effective, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.addError("database.dsn", err.Error(), "set a valid MySQL DSN in database.dsn/database.dsn_file")
		default:
			result.addError("database.database", err.Error(), "set database.database or include a /database in database.dsn")
		}
		return
	}
	d.Database = effective
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "")
	}
	if (t.CertFile != "") != (t.KeyFile != "") {
		result.addError("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (a *AttributesConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(a.CatalogDir) == "" {
		result.addError("attributes.catalog_dir", "catalog_dir is required", "")
	} else if info, err := os.Stat(a.CatalogDir); err != nil {
		result.addError("attributes.catalog_dir", fmt.Sprintf("catalog_dir is not readable: %v", err), "")
	} else if !info.IsDir() {
		result.addError("attributes.catalog_dir", fmt.Sprintf("%q is not a directory", a.CatalogDir), "")
	}

	if a.BatchSize <= 0 {
		result.addError("attributes.batch_size", "batch_size must be positive", "")
	} else if a.BatchSize > 65535 {
		result.addWarning("attributes.batch_size", "batch_size exceeds the MySQL placeholder limit", "ids will fail to bind; use 1000 or less")
	}

	validateGlobList(result, "attributes.allow_tables", a.AllowTables)
	validateGlobList(result, "attributes.deny_tables", a.DenyTables)
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.addError(field, "glob pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "table"); err != nil {
			result.addError(field, fmt.Sprintf("invalid glob pattern %q: %v", pattern, err), "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is out of range", o.TraceSampleRatio), "use a value from 0.0 to 1.0")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}
	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
