// Package app wires configuration into running components. The server and
// presencectl share Build so both see the same backends.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	attendancehandler "presence/internal/attendance/handler"
	attendancemetrics "presence/internal/attendance/metrics"
	attendanceservice "presence/internal/attendance/service"
	attendancestore "presence/internal/attendance/store"
	"presence/internal/directory/events"
	dirstore "presence/internal/directory/store"
	httpapi "presence/internal/http"
	identityhandler "presence/internal/identity/handler"
	"presence/internal/identity/index"
	identitymetrics "presence/internal/identity/metrics"
	identityservice "presence/internal/identity/service"
	jwttoken "presence/internal/jwt_token"
	"presence/internal/platform/config"
	"presence/internal/platform/httpserver"
	platformkafka "presence/internal/platform/kafka"
	platformmetrics "presence/internal/platform/metrics"
	"presence/internal/platform/postgres"
	platformredis "presence/internal/platform/redis"
	"presence/internal/reconcile"
	reconcilehandler "presence/internal/reconcile/handler"
	reconcilemetrics "presence/internal/reconcile/metrics"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/audit/publisher"
	auditkafka "presence/pkg/platform/audit/store/kafka"
	auditmemory "presence/pkg/platform/audit/store/memory"
	auditpostgres "presence/pkg/platform/audit/store/postgres"
	"presence/pkg/platform/circuit"
)

const auditBuffer = 1024

// directoryStore is what every component needs from the employee directory.
type directoryStore interface {
	identityservice.Directory
	reconcile.Directory
}

// sessionStore is what every component needs from the session store.
type sessionStore interface {
	attendanceservice.SessionStore
	reconcile.SessionStore
}

// App holds the wired components of one process.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Identity   *identityservice.Service
	Attendance *attendanceservice.Service
	Engine     *reconcile.Engine
	JWT        *jwttoken.JWTService
	Location   *time.Location
	// Mode is the configured mode of scheduled reconciliation runs.
	Mode reconcile.Mode

	db       *sql.DB
	redis    *redis.Client
	producer *kgo.Client
	auditor  *publisher.Publisher
	reg      prometheus.Registerer
}

// Build opens the configured backends and assembles the services. Metrics
// register with reg. Callers must Close the App.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (a *App, err error) {
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return nil, err
	}
	shiftStart, err := cfg.Attendance.ShiftStartOffset()
	if err != nil {
		return nil, err
	}
	mode, err := reconcile.ParseMode(cfg.Reconciliation.Mode)
	if err != nil {
		return nil, fmt.Errorf("reconcile mode: %w", err)
	}

	a = &App{Config: cfg, Logger: logger, Location: loc, Mode: mode, reg: reg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if needsPostgres(cfg) {
		if a.db, err = postgres.Open(ctx, cfg.Database); err != nil {
			return nil, err
		}
	}
	if cfg.Server.SessionBackend == "redis" {
		if a.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}

	directory := a.directory()
	sessions := a.sessions()
	idx := a.identityIndex()

	auditStore, err := a.auditStore()
	if err != nil {
		return nil, err
	}
	if a.producer != nil && cfg.Kafka.ProvisionTopics {
		if err := platformkafka.EnsureTopics(ctx, a.producer, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor,
			cfg.Kafka.AuditTopic, cfg.Kafka.DirectoryTopic); err != nil {
			return nil, err
		}
	}
	pubOpts := []publisher.Option{publisher.WithLogger(logger)}
	if cfg.Server.AuditBackend == "kafka" {
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(auditBuffer))
	}
	a.auditor = publisher.NewPublisher(auditStore, pubOpts...)

	purger := index.NewPurger(idx,
		index.WithWorkers(cfg.Reconciliation.Workers),
		index.WithMaxRetries(cfg.Reconciliation.MaxRetries),
		index.WithPurgeLogger(logger),
	)

	a.Identity = identityservice.New(directory, idx,
		identityservice.WithLogger(logger),
		identityservice.WithMetrics(identitymetrics.NewWithRegisterer(reg)),
		identityservice.WithAuditPublisher(a.auditor),
		identityservice.WithPurger(purger),
		identityservice.WithMinConfidence(cfg.IdentityIndex.MinConfidence),
	)
	a.Attendance = attendanceservice.New(directory, a.Identity, sessions,
		attendanceservice.WithPolicy(attendanceservice.Policy{
			Location:   loc,
			ShiftStart: shiftStart,
			LateGrace:  cfg.Attendance.LateGrace,
		}),
		attendanceservice.WithLogger(logger),
		attendanceservice.WithMetrics(attendancemetrics.NewWithRegisterer(reg)),
		attendanceservice.WithAuditPublisher(a.auditor),
	)
	a.Engine = reconcile.New(idx, directory, sessions,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(reconcilemetrics.NewWithRegisterer(reg)),
		reconcile.WithAuditPublisher(a.auditor),
		reconcile.WithPurger(purger),
	)
	a.JWT = jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	return a, nil
}

// Handler builds the HTTP surface. metricsHandler may be nil.
func (a *App) Handler(metricsHandler http.Handler) http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Logger:         a.Logger,
		Metrics:        platformmetrics.NewWithRegisterer(a.reg),
		Validator:      jwttoken.NewJWTServiceAdapter(a.JWT),
		Identity:       identityhandler.New(a.Identity, a.Logger),
		Attendance:     attendancehandler.New(a.Attendance, a.Logger),
		Reconcile:      reconcilehandler.New(a.Engine, a.Location, a.Logger),
		MetricsHandler: metricsHandler,
	})
}

// Scheduler builds the background reconciliation loop from config.
func (a *App) Scheduler() *reconcile.Scheduler {
	return reconcile.NewScheduler(a.Engine, a.Config.Reconciliation.Interval, a.Mode,
		reconcile.WithSchedulerLogger(a.Logger),
		reconcile.WithLocation(a.Location),
	)
}

// Serve runs the HTTP server, the scheduler when enabled and the directory
// event listener when Kafka is configured, until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	srv := httpserver.New(cfg.Server, a.Handler(platformmetrics.Handler()))

	var scheduler *reconcile.Scheduler
	var listener *events.Listener
	var consumer *kgo.Client
	if cfg.Reconciliation.Enabled {
		scheduler = a.Scheduler()
		if cfg.Kafka.Enabled() {
			var err error
			if consumer, err = platformkafka.NewConsumer(cfg.Kafka); err != nil {
				return err
			}
			defer consumer.Close()
			listener = events.NewListener(consumer, scheduler, a.Logger)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(ctx, "starting presence", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if scheduler != nil {
		g.Go(func() error {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if listener != nil {
		g.Go(func() error { return listener.Run(ctx) })
	}

	return g.Wait()
}

// Close releases every opened backend. Pending async audit events are
// flushed first.
func (a *App) Close() {
	if a.auditor != nil {
		a.auditor.Close()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func needsPostgres(cfg config.Config) bool {
	return cfg.Server.SessionBackend == "postgres" ||
		cfg.Server.DirectoryBackend == "postgres" ||
		cfg.Server.AuditBackend == "postgres"
}

func (a *App) directory() directoryStore {
	if a.Config.Server.DirectoryBackend == "postgres" {
		return dirstore.NewPostgres(a.db)
	}
	return dirstore.NewInMemory()
}

func (a *App) sessions() sessionStore {
	switch a.Config.Server.SessionBackend {
	case "postgres":
		return attendancestore.NewPostgres(a.db)
	case "redis":
		return attendancestore.NewRedis(a.redis)
	default:
		return attendancestore.NewInMemory()
	}
}

// identityIndex returns the HTTP client when a URL is configured and an
// in-memory index otherwise.
func (a *App) identityIndex() identityservice.Index {
	cfg := a.Config.IdentityIndex
	if cfg.URL == "" {
		a.Logger.Warn("IDENTITY_INDEX_URL not set, using in-memory identity index")
		return index.NewInMemory(index.WithPageSize(cfg.PageSize), index.WithMaxBatchSize(cfg.MaxBatchDelete))
	}
	breaker := circuit.New("identity-index",
		circuit.WithFailureThreshold(cfg.BreakerFailures),
		circuit.WithSuccessThreshold(cfg.BreakerSuccesses),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)
	return index.NewHTTPClient(cfg.URL, cfg.Collection,
		index.WithAPIKey(cfg.APIKey),
		index.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		index.WithBreaker(breaker),
		index.WithListPageSize(cfg.PageSize),
		index.WithBatchLimit(cfg.MaxBatchDelete),
		index.WithLogger(a.Logger),
	)
}

func (a *App) auditStore() (audit.Store, error) {
	switch a.Config.Server.AuditBackend {
	case "postgres":
		return auditpostgres.New(a.db), nil
	case "kafka":
		producer, err := platformkafka.NewProducer(a.Config.Kafka)
		if err != nil {
			return nil, err
		}
		a.producer = producer
		return auditkafka.New(producer, a.Config.Kafka.AuditTopic), nil
	default:
		return auditmemory.NewInMemoryStore(), nil
	}
}
