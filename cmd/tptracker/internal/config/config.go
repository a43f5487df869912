package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/tptracker/tptracker/gw2"
	rlog "github.com/tptracker/tptracker/log"
	"github.com/tptracker/tptracker/poller"
)

// DefaultTenantName is registered for the legacy GW2_KEY variable.
const DefaultTenantName = "default"

type AppConfig struct {
	StoragePath string
	EnvFile     string

	Tenants []string
	GW2Key  string

	Schedule       string
	Workers        int
	PollTimeout    time.Duration
	RequestTimeout time.Duration
	APIBaseURL     string
	RateLimit      int

	HTTPListen   string
	PublicOrigin string

	LogLevel      string
	LogFormatJSON bool
	LogGroups     []string
	PersistLogs   bool
}

// TenantSpec is one name=key pair from the configuration.
type TenantSpec struct {
	Name   string
	APIKey string
}

func DefaultConfig() AppConfig {
	return AppConfig{
		StoragePath:    "tptracker.sqlite3",
		EnvFile:        ".env",
		Schedule:       poller.DefaultSchedule,
		Workers:        poller.DefaultWorkers,
		PollTimeout:    poller.DefaultPollTimeout,
		RequestTimeout: gw2.DefaultTimeout,
		APIBaseURL:     gw2.DefaultBaseURL,
		RateLimit:      300,
		HTTPListen:     ":8480",
		LogLevel:       "info",
		LogFormatJSON:  false,
		PersistLogs:    false,
	}
}

// NewConfigFlagSet declares the flags against the provided struct but does not parse.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("tptracker", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite database path (env: TPTRACKER_STORAGE_PATH)")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Optional dotenv file loaded before env defaults (env: TPTRACKER_ENV_FILE)")

	fs.StringArrayVar(&cfg.Tenants, "tenant", cfg.Tenants, "Tenant as name=api-key, repeatable (env: TPTRACKER_TENANTS, comma separated)")
	fs.StringVar(&cfg.GW2Key, "gw2-key", cfg.GW2Key, "API key registered as tenant \"default\" (env: GW2_KEY)")

	fs.StringVar(&cfg.Schedule, "schedule", cfg.Schedule, "Poll schedule as a cron spec (env: TPTRACKER_SCHEDULE)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Tenants polled concurrently (env: TPTRACKER_WORKERS)")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "Upper bound for one poll cycle (env: TPTRACKER_POLL_TIMEOUT)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout per upstream request (env: TPTRACKER_REQUEST_TIMEOUT)")
	fs.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "Marketplace API base URL (env: TPTRACKER_API_URL)")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Upstream requests per minute, 0 disables (env: TPTRACKER_RATE_LIMIT)")

	fs.StringVar(&cfg.HTTPListen, "http-listen", cfg.HTTPListen, "Query API listen address, empty disables (env: TPTRACKER_HTTP_LISTEN)")
	fs.StringVar(&cfg.PublicOrigin, "public-origin", cfg.PublicOrigin, "Browser origins allowed by CORS (env: TPTRACKER_PUBLIC_ORIGIN)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: TPTRACKER_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: TPTRACKER_LOG_JSON)")
	fs.StringSliceVar(&cfg.LogGroups, "log-groups", cfg.LogGroups, "Only emit these log groups, -name hides one, e.g. poller,gw2 or -storage (env: TPTRACKER_LOG_GROUPS)")
	fs.BoolVar(&cfg.PersistLogs, "persist-logs", cfg.PersistLogs, "Also write logs to the app_logs table (env: TPTRACKER_PERSIST_LOGS)")

	return fs
}

// LoadEnvFile loads cfg.EnvFile into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(flags *pflag.FlagSet, cfg *AppConfig) error {
	if !flags.Changed("env-file") {
		if v, ok := os.LookupEnv("TPTRACKER_ENV_FILE"); ok && v != "" {
			cfg.EnvFile = v
		}
	}
	if cfg.EnvFile == "" {
		return nil
	}
	if err := godotenv.Load(cfg.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", cfg.EnvFile, err)
	}
	return nil
}

// ApplyEnvDefaults inspects flags that were not set on the command line and pulls from env.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { flagSet[f.Name] = struct{}{} })

	var errs []error
	setString := func(name, envKey string, target *string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = v
		}
	}
	setList := func(name, envKey string, target *[]string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = splitList(v)
		}
	}
	setInt := func(name, envKey string, target *int) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", envKey, err))
				return
			}
			*target = parsed
		}
	}
	setBool := func(name, envKey string, target *bool) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", envKey, err))
				return
			}
			*target = parsed
		}
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", envKey, err))
				return
			}
			*target = parsed
		}
	}

	setString("storage-path", "TPTRACKER_STORAGE_PATH", &cfg.StoragePath)
	setList("tenant", "TPTRACKER_TENANTS", &cfg.Tenants)
	setString("gw2-key", "GW2_KEY", &cfg.GW2Key)
	setString("schedule", "TPTRACKER_SCHEDULE", &cfg.Schedule)
	setInt("workers", "TPTRACKER_WORKERS", &cfg.Workers)
	setDuration("poll-timeout", "TPTRACKER_POLL_TIMEOUT", &cfg.PollTimeout)
	setDuration("request-timeout", "TPTRACKER_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	setString("api-url", "TPTRACKER_API_URL", &cfg.APIBaseURL)
	setInt("rate-limit", "TPTRACKER_RATE_LIMIT", &cfg.RateLimit)
	setString("http-listen", "TPTRACKER_HTTP_LISTEN", &cfg.HTTPListen)
	setString("public-origin", "TPTRACKER_PUBLIC_ORIGIN", &cfg.PublicOrigin)
	setString("log-level", "TPTRACKER_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "TPTRACKER_LOG_JSON", &cfg.LogFormatJSON)
	setList("log-groups", "TPTRACKER_LOG_GROUPS", &cfg.LogGroups)
	setBool("persist-logs", "TPTRACKER_PERSIST_LOGS", &cfg.PersistLogs)

	return errors.Join(errs...)
}

// TenantSpecs returns the configured tenants in declaration order, with the
// GW2_KEY tenant first.
func TenantSpecs(cfg AppConfig) ([]TenantSpec, error) {
	var (
		out  []TenantSpec
		seen = map[string]struct{}{}
	)
	add := func(spec TenantSpec) error {
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("tenant %q configured twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		out = append(out, spec)
		return nil
	}

	if key := strings.TrimSpace(cfg.GW2Key); key != "" {
		if err := add(TenantSpec{Name: DefaultTenantName, APIKey: key}); err != nil {
			return nil, err
		}
	}
	for _, raw := range cfg.Tenants {
		name, key, ok := strings.Cut(raw, "=")
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("tenant %q: want name=api-key", redact(raw))
		}
		if err := add(TenantSpec{Name: name, APIKey: key}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if strings.TrimSpace(cfg.StoragePath) == "" {
		missing = append(missing, "storage-path")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		missing = append(missing, "api-url")
	}
	if strings.TrimSpace(cfg.GW2Key) == "" && len(cfg.Tenants) == 0 {
		missing = append(missing, "tenant or gw2-key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.PollTimeout <= 0 || cfg.RequestTimeout <= 0 {
		return errors.New("poll-timeout and request-timeout must be positive")
	}
	if cfg.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative, got %d", cfg.RateLimit)
	}
	if _, err := TenantSpecs(cfg); err != nil {
		return err
	}
	return nil
}

// GetLogHandler builds the console handler. w defaults to os.Stderr.
func GetLogHandler(cfg AppConfig, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return rlog.NewGroupFilterHandler(handler, cfg.LogGroups)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// redact keeps the tenant name of a malformed entry and drops the key.
func redact(raw string) string {
	if name, _, ok := strings.Cut(raw, "="); ok {
		return name + "=***"
	}
	if len(raw) > 4 {
		return raw[:4] + "***"
	}
	return raw
}
