package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/splax/buildor/internal/app/bootstrap"
	"github.com/splax/buildor/internal/events"
	httpx "github.com/splax/buildor/internal/http"
	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
	"github.com/splax/buildor/internal/ws"
	"github.com/splax/buildor/pkg/config"
	"github.com/splax/buildor/pkg/logger"
)

const eventRetryBackoff = 200 * time.Millisecond

func main() {
	config.LoadDotEnv()
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if bootstrap.NeedsAWS(cfg.StoreDriver, cfg.TriggerDriver) {
		loaded, err := config.LoadAWS(ctx, cfg.Tables.Region)
		if err != nil {
			log.Error("failed to load aws configuration", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	startCtx, cancel := context.WithTimeout(ctx, bootstrap.DefaultTimeout)
	store, err := bootstrap.OpenStore(startCtx, bootstrap.StoreOptions{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		Tables:      cfg.Tables,
		Migrate:     true,
		AWS:         awsCfg,
	}, log)
	cancel()
	if err != nil {
		log.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	trigger, err := bootstrap.OpenTrigger(bootstrap.TriggerOptions{
		Driver:     cfg.TriggerDriver,
		Build:      cfg.Build,
		BuilderURL: cfg.BuilderURL,
		Token:      cfg.BuilderAuthToken,
		AWS:        awsCfg,
	})
	if err != nil {
		log.Error("failed to configure build trigger", "driver", cfg.TriggerDriver, "error", err)
		os.Exit(1)
	}
	orphans := bootstrap.OpenOrphanTracker(cfg.Reconcile, log)
	defer orphans.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := ws.NewHub(log)
	defer hub.Close()

	projectSvc := project.New(store.Projects, log)
	userSvc := user.New(store.Users, log)
	deploySvc := deploy.New(store.Projects, store.Deployments, trigger, orphans, log, deploy.ConfigFrom(cfg.Build, cfg.Reconcile)).
		WithNotifier(hub).
		WithMetrics(deploy.NewMetrics(registry))
	dispatcher := events.NewDispatcher(deploySvc, cfg.Reconcile.DeliveryAttempts, eventRetryBackoff, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Dependencies{
		Projects:       projectSvc,
		Deploy:         deploySvc,
		Users:          &userSvc,
		Dispatcher:     dispatcher,
		Hub:            hub,
		Limiter:        limiter,
		BuilderToken:   cfg.BuilderAuthToken,
		JWTSecret:      cfg.JWTSecret,
		HandlerTimeout: cfg.HandlerTimeout,
		DBHealth:       store.Ping,
		Registry:       registry,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "trigger", cfg.TriggerDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
