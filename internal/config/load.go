package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment override, e.g. SELATTR_DATABASE_DSN.
const EnvPrefix = "SELATTR"

// Load resolves configuration with the following precedence:
// 1. Explicit overrides (v.Set) for secrets read from files or the terminal
// 2. Command line flags that were explicitly set
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// flags must already be parsed; DefineFlags registers the config keys on it.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := ""
	if flags != nil {
		cfgPath, _ = flags.GetString("config")
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("selectattr")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/selectattr/")
		v.AddConfigPath("$HOME/.selectattr")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindChangedFlagsToViper(v, flags)
	}
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}

	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set config flags into Viper,
// preserving precedence: flags > env > file > defaults. Command flags carry no
// dotted section prefix and are left to the caller.
func bindChangedFlagsToViper(v *viper.Viper, flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		if !strings.Contains(f.Name, ".") {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := flags.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := flags.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := flags.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := flags.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := flags.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := flags.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags registers the configuration flags using canonical snake_case keys.
func DefineFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Config file path")

	flags.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	flags.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	flags.String("database.host", "", "Database host")
	flags.Int("database.port", 0, "Database port")
	flags.String("database.user", "", "Database user")
	flags.String("database.password", "", "Database password")
	flags.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	flags.Bool("database.password_prompt", false, "Prompt for database password securely")
	flags.String("database.database", "", "Database name")
	flags.String("database.role", "", "Database role activated with SET ROLE for every statement")

	flags.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	flags.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	flags.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	flags.String("database.tls.key_file", "", "Path to client private key for mTLS")
	flags.String("database.tls.server_name", "", "Override TLS server name for verification")

	flags.Int("database.pool.max_open", 0, "Maximum open database connections")
	flags.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	flags.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	flags.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	flags.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	flags.String("attributes.catalog_dir", "", "Directory of attribute catalog YAML files")
	flags.StringSlice("attributes.allow_tables", nil, "Lookup table glob patterns attributes may use")
	flags.StringSlice("attributes.deny_tables", nil, "Lookup table glob patterns attributes may not use")
	flags.Int("attributes.batch_size", 0, "Maximum owning ids per batch lookup query")

	flags.String("observability.service_name", "", "Service name for observability")
	flags.String("observability.service_version", "", "Service version for observability")
	flags.String("observability.environment", "", "Environment name (dev, staging, prod)")
	flags.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	flags.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	flags.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	flags.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	flags.String("observability.logging.format", "", "Log format (json, text)")
	flags.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	flags.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	flags.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	flags.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	flags.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	flags.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "selectattr")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.role", "")

	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")

	v.SetDefault("database.pool.max_open", 10)
	v.SetDefault("database.pool.max_idle", 2)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 0)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("attributes.catalog_dir", "catalog")
	v.SetDefault("attributes.allow_tables", []string{})
	v.SetDefault("attributes.deny_tables", []string{})
	v.SetDefault("attributes.batch_size", 1000)

	v.SetDefault("observability.service_name", "selectattr")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)

	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword reads a password from the terminal without echo. The prompt
// goes to stderr so stdout stays machine-readable.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	stdinBackedKeys := []string{
		"database.dsn_file",
		"database.password_file",
	}

	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
