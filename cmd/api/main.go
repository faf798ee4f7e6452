package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-doubleoptin/internal/adapters"
	"github.com/go-doubleoptin/internal/adapters/avada"
	"github.com/go-doubleoptin/internal/adapters/cf7"
	"github.com/go-doubleoptin/internal/application/cleanup"
	"github.com/go-doubleoptin/internal/application/errorslot"
	"github.com/go-doubleoptin/internal/application/gdpr"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/application/ratelimit"
	"github.com/go-doubleoptin/internal/application/session"
	"github.com/go-doubleoptin/internal/application/telemetry"
	"github.com/go-doubleoptin/internal/config"
	"github.com/go-doubleoptin/internal/events"
	"github.com/go-doubleoptin/internal/infrastructure/cache"
	"github.com/go-doubleoptin/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-doubleoptin/internal/infrastructure/jwt"
	"github.com/go-doubleoptin/internal/infrastructure/localfs"
	"github.com/go-doubleoptin/internal/infrastructure/mail"
	"github.com/go-doubleoptin/internal/infrastructure/postgres"
	s3infra "github.com/go-doubleoptin/internal/infrastructure/s3"
	"github.com/go-doubleoptin/internal/infrastructure/sns"
	"github.com/go-doubleoptin/internal/pkg/distlock"
	"github.com/go-doubleoptin/internal/pkg/logger"
	transporthttp "github.com/go-doubleoptin/internal/transport/http"
	"github.com/go-doubleoptin/internal/transport/http/handler"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.New(os.Stdout, cfg.LogFormat, slog.LevelInfo)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("no .env file found, reading from environment")
	}

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := config.LoadCatalog(cfg.FormsConfigPath)
	if err != nil {
		return err
	}
	checks := map[string]handler.Check{}

	// Record store.
	var (
		repo optin.Repository
		db   *sql.DB
	)
	switch cfg.StoreBackend {
	case "postgres":
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		repo = postgres.NewOptInRepo(db)
		checks["store"] = db.PingContext
	case "dynamo", "":
		client := dynamo.NewClient(cfg)
		if cfg.DynamoBootstrap {
			dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		}
		repo = dynamo.NewOptInRepo(client, cfg.DynamoTables.OptIns)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	// Uploaded attachments.
	var files optin.FileStore
	switch cfg.FileBackend {
	case "local":
		fs, err := localfs.NewStore(cfg.UploadDir)
		if err != nil {
			return err
		}
		files = fs
	default:
		files = s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3BucketName)
	}

	// Counters, rate limits and error slots share one cache.
	var (
		store       cache.Store
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		store = cache.NewRedis(redisClient, "doi:")
		checks["cache"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		mem := cache.NewMemory()
		mem.StartSweeper(ctx, time.Minute)
		store = mem
	}

	mailer, err := mail.NewSender(cfg)
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher(log)
	if cfg.SNSTopicARN != "" {
		b, err := sns.NewBroadcaster(cfg)
		if err != nil {
			log.Warn("event broadcast not available", "err", err)
		} else {
			dispatcher.SetBroadcaster(b)
		}
	}
	registerAuditListeners(dispatcher, log)

	counters := telemetry.New(store)
	registry := optin.NewRegistry()
	engine := optin.NewEngine(optin.Deps{
		Repo:     repo,
		Files:    files,
		Limiter:  ratelimit.New(store),
		Events:   dispatcher,
		Counters: counters,
		Mailer:   mailer,
		Registry: registry,
		Settings: catalog.Settings,
		BaseURL:  cfg.BaseURL,
		Log:      log,
	})

	slots := errorslot.New(store, catalog.Settings.ErrorSlotTTL())
	for _, id := range []string{cf7.Identifier, avada.Identifier} {
		base := adapters.NewBase(id, engine, catalog.FormsOfType(id), slots, log)
		var a optin.Adapter
		if id == cf7.Identifier {
			a = cf7.New(base)
		} else {
			a = avada.New(base)
		}
		if err := registry.Register(a); err != nil {
			return err
		}
	}

	worker := cleanup.NewWorker(repo, engine, dispatcher, cleanup.Config{
		Interval: cfg.CleanupInterval,
		Lock:     distlock.New(redisClient, db, "doubleoptin-cleanup", 10*time.Minute),
		Log:      log.With("component", "cleanup"),
	})
	go worker.Start(ctx)

	// Admin API (optional: disabled when the keys are missing).
	var verifier *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		verifier = p
	} else {
		log.Warn("JWT provider not available, admin API disabled", "err", err)
	}
	deps := &transporthttp.Deps{
		Engine:   engine,
		Repo:     repo,
		Slots:    slots,
		Counters: counters,
		GDPR:     gdpr.NewService(repo, files, log),
		Worker:   worker,
		Checks:   checks,
		Log:      log,
	}
	if verifier != nil {
		deps.Verifier = verifier
		deps.Sessions = session.NewService(catalog.Admins, verifier)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// registerAuditListeners logs the lifecycle events at the lowest priority so
// extension listeners see them first.
func registerAuditListeners(d *events.Dispatcher, log *slog.Logger) {
	events.Listen(d, -100, func(_ context.Context, e *events.OptInCreated) error {
		log.Info("opt-in created", "id", e.ID, "form_type", e.FormType, "form_id", e.FormID, "email", e.Email)
		return nil
	})
	events.Listen(d, -100, func(_ context.Context, e *events.OptInConfirmed) error {
		log.Info("opt-in confirmed", "id", e.ID, "form_id", e.FormID, "email", e.Email)
		return nil
	})
	events.Listen(d, -100, func(_ context.Context, e *events.OptInOptedOut) error {
		log.Info("opt-in withdrawn", "id", e.ID, "email", e.Email)
		return nil
	})
	events.Listen(d, -100, func(_ context.Context, e *events.RateLimited) error {
		log.Warn("submission rate limited", "type", e.Type, "form_type", e.FormType, "form_id", e.FormID)
		return nil
	})
}
