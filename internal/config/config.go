package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gtfs-routeserver/internal/calendar"
	"gtfs-routeserver/internal/graph"
)

type Config struct {
	// Feed source: a directory of GTFS text files or a Postgres database.
	FeedDir     string `yaml:"feed_dir"`
	DatabaseURL string `yaml:"database_url"`
	City        string `yaml:"city"`

	TransferPenalty int    `yaml:"transfer_penalty_sec" validate:"gte=0"`
	TransferLimit   int    `yaml:"transfer_limit_sec" validate:"gt=0"`
	CalendarPolicy  string `yaml:"calendar_policy"`
	ServiceDate     string `yaml:"service_date" validate:"omitempty,len=8,numeric"`
	ServiceDay      string `yaml:"service_day" validate:"omitempty,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	MaxRowErrorLogs int    `yaml:"max_row_error_logs" validate:"gt=0"`

	HTTPAddr          string `yaml:"http_addr"`
	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix" validate:"required"`
	MetricsAddr       string `yaml:"metrics_addr"`

	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`

	Policy calendar.Policy `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		TransferPenalty:   650,
		TransferLimit:     graph.DefaultTransferLimit,
		CalendarPolicy:    "merged",
		MaxRowErrorLogs:   graph.DefaultMaxRowErrorLogs,
		HTTPAddr:          ":8000",
		NATSSubjectPrefix: "routeserver",
		LogLevel:          "info",
	}
}

// Load reads .env (ignored if missing), then the optional YAML file named by
// CONFIG_FILE, then environment variables, which take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FEED_DIR"); v != "" {
		c.FeedDir = v
	}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	// when a database or city is named.
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		c.DatabaseURL = dsn
	}
	if v := firstNonEmpty(os.Getenv("FEED_CITY"), os.Getenv("CITY")); v != "" {
		c.City = v
	}
	if c.DatabaseURL == "" {
		db := os.Getenv("PGDATABASE")
		if db == "" && c.City != "" {
			db = "postgres"
		}
		if db != "" {
			c.DatabaseURL = buildDSN(db)
		}
	}

	if err := envInt("TRANSFER_PENALTY_SEC", &c.TransferPenalty); err != nil {
		return err
	}
	if err := envInt("TRANSFER_LIMIT_SEC", &c.TransferLimit); err != nil {
		return err
	}
	if err := envInt("MAX_ROW_ERROR_LOGS", &c.MaxRowErrorLogs); err != nil {
		return err
	}

	c.CalendarPolicy = getenvDefault("CALENDAR_POLICY", c.CalendarPolicy)
	c.ServiceDate = strings.TrimSpace(getenvDefault("SERVICE_DATE", c.ServiceDate))
	c.ServiceDay = strings.ToLower(strings.TrimSpace(getenvDefault("SERVICE_DAY", c.ServiceDay)))

	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)
	c.NATSURL = getenvDefault("NATS_URL", c.NATSURL)
	c.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", c.NATSSubjectPrefix)
	// Empty disables the metrics server.
	c.MetricsAddr = getenvDefault("METRICS_ADDR", c.MetricsAddr)

	c.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", c.LogLevel))
	if v := os.Getenv("OTEL_TRACING_ENABLED"); v != "" {
		c.TracingEnabled = parseBool(v)
	}
	c.OTLPEndpoint = getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	return nil
}

var validate = validator.New()

func (c *Config) finalize() error {
	p, err := calendar.ParsePolicy(c.CalendarPolicy)
	if err != nil {
		return fmt.Errorf("invalid CALENDAR_POLICY: %q", c.CalendarPolicy)
	}
	c.Policy = p

	if c.ServiceDate != "" {
		if _, err := time.Parse(calendar.DateLayout, c.ServiceDate); err != nil {
			return fmt.Errorf("invalid SERVICE_DATE: %q", c.ServiceDate)
		}
		if c.ServiceDay == "" {
			c.ServiceDay, _ = calendar.DayOf(c.ServiceDate)
		}
	}
	switch p {
	case calendar.Weekday:
		if c.ServiceDay == "" {
			return errors.New("SERVICE_DAY or SERVICE_DATE must be set for the weekday calendar policy")
		}
	case calendar.DateException, calendar.Merged:
		if c.ServiceDate == "" {
			return fmt.Errorf("SERVICE_DATE must be set for the %s calendar policy", p)
		}
	}

	switch {
	case c.FeedDir == "" && c.DatabaseURL == "":
		return errors.New("FEED_DIR or DATABASE_URL must be set")
	case c.FeedDir != "" && c.DatabaseURL != "":
		return errors.New("only one of FEED_DIR and DATABASE_URL may be set")
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) CalendarRequest() calendar.Request {
	return calendar.Request{Policy: c.Policy, Date: c.ServiceDate, Day: c.ServiceDay}
}

func (c *Config) GraphOptions() graph.Options {
	return graph.Options{
		TransferPenalty: c.TransferPenalty,
		TransferLimit:   c.TransferLimit,
		MaxRowErrorLogs: c.MaxRowErrorLogs,
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func buildDSN(db string) string {
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func envInt(k string, dst *int) error {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %q", k, v)
	}
	*dst = n
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
