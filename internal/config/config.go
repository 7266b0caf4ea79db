// Package config loads the newsletter service configuration.
//
// Configuration comes from an optional YAML file chosen by the --config flag
// or the NEWSLETTER_CONFIG environment variable. Every field has a default,
// and a fixed set of environment variables override the file so the same
// binary runs locally and on Lambda without a file at all.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Email transports.
const (
	TransportHTTP = "http"
	TransportSQS  = "sqs"
)

// Config is the root configuration.
type Config struct {
	RunLocal bool   `yaml:"run_local"`
	Port     int    `yaml:"port"`
	BaseURL  string `yaml:"base_url"`

	// TrustedProxies lists the addresses or CIDRs whose X-Forwarded-For is
	// believed when resolving the client address. Empty trusts no proxy.
	TrustedProxies []string `yaml:"trusted_proxies"`

	Database    DatabaseConfig    `yaml:"database"`
	Email       EmailConfig       `yaml:"email"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Session     SessionConfig     `yaml:"session"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	AWS         AWSConfig         `yaml:"aws"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
	Admin       AdminConfig       `yaml:"admin"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "dynamodb".
	Driver string `yaml:"driver"`

	SQLitePath     string `yaml:"sqlite_path"`
	SQLitePoolSize int    `yaml:"sqlite_pool_size"`
	// SQLiteBusyTimeout is how long a write waits for the database lock.
	SQLiteBusyTimeout time.Duration `yaml:"sqlite_busy_timeout"`

	IdempotencyTable   string `yaml:"idempotency_table"`
	SubscriptionsTable string `yaml:"subscriptions_table"`
	TokensTable        string `yaml:"tokens_table"`
	UsersTable         string `yaml:"users_table"`
}

// EmailConfig configures the outbound email transport.
type EmailConfig struct {
	// Transport is "http" (deliver directly) or "sqs" (enqueue for the worker).
	Transport string        `yaml:"transport"`
	Sender    string        `yaml:"sender"`
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueURL  string        `yaml:"queue_url"`
	// ConfirmationTimeout bounds the single confirmation send made while a
	// subscription is being registered.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
}

// IdempotencyConfig tunes how long a duplicate request waits for the
// in-flight original before giving up with a conflict.
type IdempotencyConfig struct {
	PollAttempts  int           `yaml:"poll_attempts"`
	PollBaseDelay time.Duration `yaml:"poll_base_delay"`
	PollMaxDelay  time.Duration `yaml:"poll_max_delay"`
}

// SessionConfig configures the admin session cookie.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
}

// RedisConfig enables the Redis session store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig enables domain event publishing when URL is set.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	SubjectPrefix string        `yaml:"subject_prefix"`
}

// RateLimitConfig bounds subscribe attempts per client address.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Rate    float64       `yaml:"rate"`
	Burst   int           `yaml:"burst"`
	TTL     time.Duration `yaml:"ttl"`
}

// AWSConfig configures the AWS SDK.
type AWSConfig struct {
	Region           string `yaml:"region"`
	EndpointOverride string `yaml:"endpoint_override"`
}

// MetricsConfig enables CloudWatch metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig enables the OTLP trace exporter when Endpoint is set.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

// AdminConfig bootstraps the first administrator when both fields are set.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns a configuration that runs locally on SQLite with the HTTP
// transport pointed at a local mail API.
func Default() Config {
	return Config{
		Port:    8080,
		BaseURL: "http://localhost:8080",
		Database: DatabaseConfig{
			Driver:             DriverSQLite,
			SQLitePath:         "newsletter.db",
			SQLiteBusyTimeout:  10 * time.Second,
			IdempotencyTable:   "newsletter-idempotency",
			SubscriptionsTable: "newsletter-subscriptions",
			TokensTable:        "newsletter-subscription-tokens",
			UsersTable:         "newsletter-users",
		},
		Email: EmailConfig{
			Transport: TransportHTTP,
			Sender:    "newsletter@example.com",
			BaseURL:   "http://localhost:7070",
			Timeout:   10 * time.Second,

			ConfirmationTimeout: 3 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			PollAttempts:  5,
			PollBaseDelay: 25 * time.Millisecond,
			PollMaxDelay:  400 * time.Millisecond,
		},
		Session: SessionConfig{
			CookieName: "newsletter_session",
			TTL:        24 * time.Hour,
		},
		NATS: NATSConfig{
			Timeout:       5 * time.Second,
			SubjectPrefix: "newsletter",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    1,
			Burst:   5,
			TTL:     10 * time.Minute,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Metrics: MetricsConfig{
			Namespace: "Newsletter",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "newsletter-api",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load reads path (if non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Path resolves the configuration file: the flag value wins over
// NEWSLETTER_CONFIG. An empty result means "defaults and environment only".
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("NEWSLETTER_CONFIG")
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("SQLITE_PATH", &c.Database.SQLitePath)
	str("IDEMPOTENCY_TABLE", &c.Database.IdempotencyTable)
	str("SUBSCRIPTIONS_TABLE", &c.Database.SubscriptionsTable)
	str("TOKENS_TABLE", &c.Database.TokensTable)
	str("USERS_TABLE", &c.Database.UsersTable)
	str("APP_BASE_URL", &c.BaseURL)
	str("EMAIL_TRANSPORT", &c.Email.Transport)
	str("EMAIL_SENDER", &c.Email.Sender)
	str("EMAIL_BASE_URL", &c.Email.BaseURL)
	str("EMAIL_AUTH_TOKEN", &c.Email.AuthToken)
	str("EMAIL_QUEUE_URL", &c.Email.QueueURL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("NATS_URL", &c.NATS.URL)
	str("AWS_REGION", &c.AWS.Region)
	str("AWS_ENDPOINT_OVERRIDE", &c.AWS.EndpointOverride)
	str("LOG_LEVEL", &c.Log.Level)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("ADMIN_USERNAME", &c.Admin.Username)
	str("ADMIN_PASSWORD", &c.Admin.Password)

	if v, ok := lookup("RUN_LOCAL"); ok && v != "" {
		c.RunLocal = v == "true"
	}
	if v, ok := lookup("APP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("APP_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		c.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.TrustedProxies = append(c.TrustedProxies, p)
			}
		}
	}
	if v, ok := lookup("METRICS_ENABLED"); ok && v != "" {
		c.Metrics.Enabled = v == "true"
	}

	return nil
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
		// the subscription unit of work holds the write lock across the send
		if c.Email.ConfirmationTimeout >= c.Database.SQLiteBusyTimeout {
			errs = append(errs, fmt.Errorf("email.confirmation_timeout %s must be shorter than database.sqlite_busy_timeout %s",
				c.Email.ConfirmationTimeout, c.Database.SQLiteBusyTimeout))
		}
	case DriverDynamoDB:
		if c.Database.IdempotencyTable == "" || c.Database.SubscriptionsTable == "" ||
			c.Database.TokensTable == "" || c.Database.UsersTable == "" {
			errs = append(errs, errors.New("all dynamodb table names are required for the dynamodb driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of %s, %s", c.Database.Driver, DriverSQLite, DriverDynamoDB))
	}

	switch c.Email.Transport {
	case TransportHTTP:
		if c.Email.BaseURL == "" {
			errs = append(errs, errors.New("email.base_url is required for the http transport"))
		}
	case TransportSQS:
		if c.Email.QueueURL == "" {
			errs = append(errs, errors.New("email.queue_url is required for the sqs transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("email.transport %q is not one of %s, %s", c.Email.Transport, TransportHTTP, TransportSQS))
	}

	if c.Email.ConfirmationTimeout <= 0 {
		errs = append(errs, errors.New("email.confirmation_timeout must be positive"))
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				errs = append(errs, fmt.Errorf("trusted_proxies: %q is neither an IP nor a CIDR", p))
			}
		}
	}
	if c.Email.Sender == "" {
		errs = append(errs, errors.New("email.sender is required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.rate and rate_limit.burst must be positive"))
	}
	if c.Idempotency.PollAttempts < 0 {
		errs = append(errs, errors.New("idempotency.poll_attempts must not be negative"))
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("admin.username and admin.password must be set together"))
	}

	return errors.Join(errs...)
}

// UsesAWS reports whether any configured component needs AWS clients.
func (c Config) UsesAWS() bool {
	return c.Database.Driver == DriverDynamoDB ||
		c.Email.Transport == TransportSQS ||
		c.Metrics.Enabled
}
