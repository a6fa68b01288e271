// Package runtime assembles the process: database, stores, services and
// the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	app "github.com/atproject/projectone/internal/app"
	"github.com/atproject/projectone/internal/app/auth"
	"github.com/atproject/projectone/internal/app/httpapi"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/internal/app/storage/cache"
	"github.com/atproject/projectone/internal/app/storage/sqlstore"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/internal/middleware"
	"github.com/atproject/projectone/internal/platform/database"
	"github.com/atproject/projectone/internal/platform/migrations"
	"github.com/atproject/projectone/pkg/logger"
)

const (
	cacheKeyPrefix    = "projectone:"
	healthTimeout     = 2 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	db      *sqlx.DB
	redis   *cache.Redis
	tracer  *sdktrace.TracerProvider
	audit   *httpapi.AuditLog
	handler http.Handler
	server  *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// NewApplication constructs the application from cfg. A nil cfg is loaded
// from the environment.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	a := &Application{cfg: cfg, log: log, done: make(chan struct{})}
	if err := a.build(ctx); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, cfg.Database, db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	sqlStore := sqlstore.New(db)
	var store storage.Store = sqlStore
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, cacheKeyPrefix)
		if err != nil {
			// reads still work against the database
			a.log.WithError(err).Warn("redis unavailable; running without cache")
		} else {
			a.redis = rc
			store = cache.New(store, rc, cfg.Cache.TTL, a.log.Named("cache"))
		}
	}

	application, err := app.New(app.Stores{Accounts: store, Items: store}, app.Options{
		AllowedOrigins: cfg.CORS.Origins(),
		Maintenance:    cfg.Maintenance,
		HealthTimeout:  healthTimeout,
	}, a.log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	a.app = application
	application.Health.Register("database", sqlStore.Ping)
	if a.redis != nil {
		application.Health.Register("redis", a.redis.Ping)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	if !authManager.Enabled() {
		a.log.Warn("no auth tokens or jwt secret configured; every request is treated as admin")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, a.log.Named("ratelimit"))
	if err := application.Attach(limiter); err != nil {
		return fmt.Errorf("register rate limiter: %w", err)
	}

	var provider trace.TracerProvider
	if cfg.Tracing.Enabled {
		a.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
		)
		provider = a.tracer
	}

	audit, err := httpapi.OpenAuditLog(cfg.Audit.MaxEntries, cfg.Audit.File)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	a.audit = audit

	a.handler = httpapi.NewHandler(application, httpapi.Options{
		Auth:           authManager,
		RateLimiter:    limiter,
		TracerProvider: provider,
		Audit:          audit,
		AllowedOrigins: cfg.CORS.Origins(),
		Logger:         a.log.Named("http"),
	})
	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return nil
}

// Handler returns the HTTP handler, for embedding in tests.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// App returns the domain application.
func (a *Application) App() *app.Application {
	return a.app
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts the managed services and serves HTTP on ln. It returns
// after ctx is cancelled and shutdown has completed, or when the server
// fails.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.app.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.done:
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown drains the HTTP server, stops the services and releases every
// resource. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		defer close(a.done)
		var errs []error
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
			}
		}
		if a.app != nil {
			if err := a.app.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.release(); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
		if a.shutdownErr != nil {
			a.log.WithError(a.shutdownErr).Warn("shutdown finished with errors")
		} else {
			a.log.Info("shutdown complete")
		}
	})
	return a.shutdownErr
}

// release closes the resources opened by build.
func (a *Application) release() error {
	var errs []error
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
		cancel()
	}
	if err := a.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit log: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
