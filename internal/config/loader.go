package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/labelflow/internal/parser"
)

// Load reads configuration from environment variables, applies defaults and
// validates the result. Every missing or malformed variable is reported in
// one error.
func Load() (*Config, error) {
	return load(true)
}

// LoadLocal is Load for commands that run without a database. Required
// values may be missing and the Database section is not validated.
func LoadLocal() (*Config, error) {
	return load(false)
}

func load(withDatabase bool) (*Config, error) {
	cfg := &Config{}

	l := envLoader{lookup: os.Getenv, enforceRequired: withDatabase}
	l.fill(reflect.ValueOf(cfg).Elem())
	if len(l.problems) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(l.problems, "\n  - "))
	}

	if err := cfg.validate(withDatabase); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// envVar is the parsed form of a field's env, envAlt, default and required
// tags.
type envVar struct {
	name     string
	alt      string
	fallback string
	required bool
}

func envVarOf(f reflect.StructField) (envVar, bool) {
	name := f.Tag.Get("env")
	if name == "" {
		return envVar{}, false
	}
	return envVar{
		name:     name,
		alt:      f.Tag.Get("envAlt"),
		fallback: f.Tag.Get("default"),
		required: f.Tag.Get("required") == "true",
	}, true
}

// envLoader walks a config struct and fills tagged fields, recording every
// problem instead of stopping at the first.
type envLoader struct {
	lookup          func(string) string
	enforceRequired bool
	problems        []string
}

func (l *envLoader) fill(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct && field.Type != timeType {
			l.fill(fv)
			continue
		}

		ev, ok := envVarOf(field)
		if !ok {
			continue
		}
		value, ok := l.value(ev)
		if !ok {
			continue
		}
		if err := setField(fv, value); err != nil {
			l.problems = append(l.problems, fmt.Sprintf("%s=%q: %v", ev.name, value, err))
		}
	}
}

// value resolves an env var: primary name, then alternate, then default.
func (l *envLoader) value(ev envVar) (string, bool) {
	if v := l.lookup(ev.name); v != "" {
		return v, true
	}
	if ev.alt != "" {
		if v := l.lookup(ev.alt); v != "" {
			return v, true
		}
	}
	if ev.required && l.enforceRequired {
		l.problems = append(l.problems, fmt.Sprintf("required environment variable %s is not set", ev.name))
		return "", false
	}
	return ev.fallback, ev.fallback != ""
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(ByteSize(0))
)

// setField parses value into field according to the field's type.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return errors.New("invalid duration")
		}
		field.SetInt(int64(d))
		return nil
	case field.Type() == byteSizeType:
		n, err := ParseByteSize(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.New("invalid integer")
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.New("invalid boolean")
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(withDatabase bool) error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	if withDatabase {
		check(c.Database.URL != "", "DATABASE_URL is required")
		check(c.Database.MaxConns >= c.Database.MinConns,
			"DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
		check(c.Database.MaxConns > 0, "DB_MAX_CONNS must be positive")
		check(c.Database.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	check(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	check(c.Import.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	check(c.Import.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	check(c.Import.BatchSize > 0, "IMPORT_BATCH_SIZE must be positive")
	check(c.Import.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	check(c.Import.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	check(c.Import.ResultTTL > 0, "IMPORT_RESULT_TTL must be positive")
	if _, err := parser.LookupEncoding(c.Import.DefaultEncoding); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_ENCODING (%q) is not a supported encoding", c.Import.DefaultEncoding))
	}

	check(c.Export.Dir != "", "EXPORT_DIR must not be empty")
	check(c.Export.Retention > 0, "EXPORT_RETENTION must be positive")
	check(c.Export.CleanupInterval > 0, "EXPORT_CLEANUP_INTERVAL must be positive")

	if c.Rate.Enabled {
		check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		check(c.Rate.JobsPerMinute > 0, "RATE_LIMIT_JOBS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String renders the configuration for startup logs with the database URL
// masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %s, Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Import: {MaxFileSize: %s, MaxConcurrent: %d, BatchSize: %d, DefaultEncoding: %q}, "+
		"Export: {Dir: %q, Retention: %s}, Rate: {Enabled: %v, RequestsPerMinute: %d, JobsPerMinute: %d}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Server.Addr(), c.Database.MaxConns, c.Database.MinConns,
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.BatchSize, c.Import.DefaultEncoding,
		c.Export.Dir, c.Export.Retention, c.Rate.Enabled, c.Rate.RequestsPerMinute, c.Rate.JobsPerMinute,
		c.Logging.Level, c.Logging.Format)
}
