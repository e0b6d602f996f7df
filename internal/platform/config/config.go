// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // attendance zones must resolve on minimal images

	"github.com/caarlos0/env/v11"

	pstrings "presence/pkg/platform/strings"
)

// Config groups every setting the server and presencectl read at startup.
type Config struct {
	Server         Server         `envPrefix:"PRESENCE_"`
	Database       Database       `envPrefix:"DATABASE_"`
	Redis          RedisConfig    `envPrefix:"REDIS_"`
	Attendance     Attendance     `envPrefix:"ATTENDANCE_"`
	IdentityIndex  IdentityIndex  `envPrefix:"IDENTITY_INDEX_"`
	Reconciliation Reconciliation `envPrefix:"RECONCILE_"`
	Kafka          Kafka          `envPrefix:"KAFKA_"`
	Auth           Auth           `envPrefix:"AUTH_"`
	Log            Log            `envPrefix:"LOG_"`
	Tracing        Tracing        `envPrefix:"OTEL_"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	// SessionBackend selects the attendance session store: memory, postgres or redis.
	SessionBackend string `env:"SESSION_BACKEND" envDefault:"memory"`
	// DirectoryBackend selects the employee directory: memory or postgres.
	DirectoryBackend string `env:"DIRECTORY_BACKEND" envDefault:"memory"`
	// AuditBackend selects the audit sink: memory, postgres or kafka.
	AuditBackend string `env:"AUDIT_BACKEND" envDefault:"memory"`
}

// Database configures the Postgres connection pool. An empty URL disables Postgres.
type Database struct {
	URL             string        `env:"URL"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	Migrate         bool          `env:"MIGRATE" envDefault:"true"`
}

// RedisConfig configures the Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// Attendance holds the attendance policy.
type Attendance struct {
	TimeZone   string        `env:"TIME_ZONE" envDefault:"UTC"`
	ShiftStart string        `env:"SHIFT_START" envDefault:"09:00"`
	LateGrace  time.Duration `env:"LATE_GRACE" envDefault:"15m"`
}

// Location resolves TimeZone.
func (a Attendance) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load attendance time zone %q: %w", a.TimeZone, err)
	}
	return loc, nil
}

// ShiftStartOffset parses ShiftStart ("HH:MM") into an offset from midnight.
func (a Attendance) ShiftStartOffset() (time.Duration, error) {
	hh, mm, ok := strings.Cut(a.ShiftStart, ":")
	if !ok {
		return 0, fmt.Errorf("shift start %q: expected HH:MM", a.ShiftStart)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("shift start %q: invalid hour", a.ShiftStart)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("shift start %q: invalid minute", a.ShiftStart)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// IdentityIndex configures the external biometric index. An empty URL selects the
// in-memory index.
type IdentityIndex struct {
	URL              string        `env:"URL"`
	Collection       string        `env:"COLLECTION" envDefault:"employees"`
	APIKey           string        `env:"API_KEY"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"5s"`
	PageSize         int           `env:"PAGE_SIZE" envDefault:"100"`
	MaxBatchDelete   int           `env:"MAX_BATCH_DELETE" envDefault:"100"`
	MinConfidence    float64       `env:"MIN_CONFIDENCE" envDefault:"0.8"`
	BreakerFailures  int           `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerSuccesses int           `env:"BREAKER_SUCCESSES" envDefault:"2"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// Reconciliation configures the background reconciliation scheduler.
type Reconciliation struct {
	Enabled    bool          `env:"ENABLED" envDefault:"false"`
	Interval   time.Duration `env:"INTERVAL" envDefault:"1h"`
	Mode       string        `env:"MODE" envDefault:"audit"`
	Workers    int           `env:"WORKERS" envDefault:"4"`
	MaxRetries uint64        `env:"MAX_RETRIES" envDefault:"5"`
}

// Kafka configures the audit publisher and directory event listener. No brokers
// disables both.
type Kafka struct {
	Brokers        []string `env:"BROKERS" envSeparator:","`
	AuditTopic     string   `env:"AUDIT_TOPIC" envDefault:"presence.audit"`
	DirectoryTopic string   `env:"DIRECTORY_TOPIC" envDefault:"directory.employees"`
	ConsumerGroup  string   `env:"CONSUMER_GROUP" envDefault:"presence-reconcile"`
	// ProvisionTopics creates missing topics at startup.
	ProvisionTopics   bool  `env:"PROVISION_TOPICS" envDefault:"false"`
	Partitions        int32 `env:"PARTITIONS" envDefault:"3"`
	ReplicationFactor int16 `env:"REPLICATION_FACTOR" envDefault:"1"`
}

// Enabled reports whether any non-blank broker is configured.
func (k Kafka) Enabled() bool { return len(pstrings.DedupeAndTrim(k.Brokers)) > 0 }

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"presence"`
	Audience      string        `env:"JWT_AUDIENCE" envDefault:"presence-api"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Tracing configures the OTLP exporter. An empty endpoint keeps the no-op provider.
type Tracing struct {
	Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"presence"`
}

// FromEnv parses the process environment.
func FromEnv() (Config, error) {
	return Parse(env.Options{})
}

// Parse builds a Config with explicit env options (tests pass Environment).
func Parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := c.Attendance.Location(); err != nil {
		return err
	}
	if _, err := c.Attendance.ShiftStartOffset(); err != nil {
		return err
	}
	switch c.Server.SessionBackend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown session backend %q", c.Server.SessionBackend)
	}
	switch c.Server.DirectoryBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown directory backend %q", c.Server.DirectoryBackend)
	}
	switch c.Server.AuditBackend {
	case "memory", "postgres", "kafka":
	default:
		return fmt.Errorf("unknown audit backend %q", c.Server.AuditBackend)
	}
	if c.Server.SessionBackend == "postgres" || c.Server.DirectoryBackend == "postgres" || c.Server.AuditBackend == "postgres" {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres backends")
		}
	}
	if c.Server.SessionBackend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis session backend")
	}
	if c.Server.AuditBackend == "kafka" && !c.Kafka.Enabled() {
		return fmt.Errorf("KAFKA_BROKERS is required for the kafka audit backend")
	}
	if c.IdentityIndex.MaxBatchDelete <= 0 {
		return fmt.Errorf("IDENTITY_INDEX_MAX_BATCH_DELETE must be positive")
	}
	if c.IdentityIndex.MinConfidence < 0 || c.IdentityIndex.MinConfidence > 1 {
		return fmt.Errorf("IDENTITY_INDEX_MIN_CONFIDENCE must be within [0, 1]")
	}
	if c.Reconciliation.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.Reconciliation.Workers <= 0 {
		return fmt.Errorf("RECONCILE_WORKERS must be positive")
	}
	return nil
}
