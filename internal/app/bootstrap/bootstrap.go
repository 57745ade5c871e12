// Package bootstrap assembles stores, triggers and trackers from configuration
// for the server and Lambda entry points.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/buildor/internal/app/migrate"
	"github.com/splax/buildor/internal/buildtrigger"
	"github.com/splax/buildor/internal/orphan"
	"github.com/splax/buildor/internal/repository"
	"github.com/splax/buildor/internal/repository/dynamo"
	"github.com/splax/buildor/internal/repository/memory"
	"github.com/splax/buildor/internal/repository/postgres"
	"github.com/splax/buildor/pkg/config"
)

// DefaultTimeout bounds start-up work such as connecting and migrating.
const DefaultTimeout = 30 * time.Second

// Store bundles the repositories backed by one driver.
type Store struct {
	Projects    repository.ProjectRepository
	Deployments repository.DeploymentRepository
	Users       repository.UserRepository
	// Ping reports storage health; nil when the driver has no connection to check.
	Ping  func(context.Context) error
	close func()
}

// Close releases driver resources.
func (s Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// StoreOptions selects and configures the storage driver.
type StoreOptions struct {
	Driver      string
	DatabaseURL string
	Tables      config.TableConfig
	// Migrate applies embedded migrations when the postgres driver is used.
	Migrate bool
	// AWS is required for the dynamodb driver.
	AWS *aws.Config
}

// OpenStore connects the configured storage driver.
func OpenStore(ctx context.Context, opts StoreOptions, log *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case config.StoreMemory:
		s := memory.New()
		return Store{Projects: s, Deployments: s, Users: s}, nil
	case config.StorePostgres:
		return openPostgres(ctx, opts, log)
	case config.StoreDynamo, "":
		if opts.AWS == nil {
			return Store{}, fmt.Errorf("dynamodb store requires aws configuration")
		}
		s := dynamo.NewFromConfig(*opts.AWS, opts.Tables)
		return Store{Projects: s, Deployments: s, Users: s}, nil
	default:
		return Store{}, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}

func openPostgres(ctx context.Context, opts StoreOptions, log *slog.Logger) (Store, error) {
	pool, err := pgxpool.New(ctx, opts.DatabaseURL)
	if err != nil {
		return Store{}, fmt.Errorf("connect database: %w", err)
	}
	if opts.Migrate {
		// The runner is a view over the pool the store keeps using, so it is not closed.
		runner, err := migrate.New(pool, log)
		if err != nil {
			pool.Close()
			return Store{}, err
		}
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return Store{}, fmt.Errorf("database ping: %w", err)
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return Store{}, fmt.Errorf("migrations: %w", err)
		}
	}
	repo := postgres.New(pool)
	return Store{Projects: repo, Deployments: repo, Users: repo, Ping: pool.Ping, close: pool.Close}, nil
}

// TriggerOptions selects the build trigger.
type TriggerOptions struct {
	Driver     string
	Build      config.BuildConfig
	BuilderURL string
	Token      string
	AWS        *aws.Config
}

// OpenTrigger returns the configured build trigger.
func OpenTrigger(opts TriggerOptions) (buildtrigger.Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case config.TriggerBuilder:
		if strings.TrimSpace(opts.BuilderURL) == "" {
			return nil, fmt.Errorf("builder trigger requires BUILDER_URL")
		}
		return buildtrigger.NewBuilder(opts.BuilderURL, opts.Token, opts.Build.Timeout), nil
	case config.TriggerCodeBuild, "":
		if opts.AWS == nil {
			return nil, fmt.Errorf("codebuild trigger requires aws configuration")
		}
		return buildtrigger.NewCodeBuildFromConfig(*opts.AWS, opts.Build.JobDefinition), nil
	default:
		return nil, fmt.Errorf("unsupported trigger driver %q", opts.Driver)
	}
}

// OpenOrphanTracker prefers a Redis-backed tracker shared across instances and
// falls back to process memory.
func OpenOrphanTracker(cfg config.ReconcileConfig, log *slog.Logger) orphan.Tracker {
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		tracker, err := orphan.NewRedis(addr, cfg.RedisPass, cfg.RedisDB, cfg.OrphanRetries, cfg.OrphanGrace, log)
		if err == nil {
			return tracker
		}
		log.Warn("redis orphan tracker unavailable", "error", err)
	}
	return orphan.NewMemory(cfg.OrphanRetries, cfg.OrphanGrace)
}

// NeedsAWS reports whether either driver talks to AWS.
func NeedsAWS(storeDriver, triggerDriver string) bool {
	store := strings.ToLower(strings.TrimSpace(storeDriver))
	trigger := strings.ToLower(strings.TrimSpace(triggerDriver))
	return store == config.StoreDynamo || store == "" || trigger == config.TriggerCodeBuild || trigger == ""
}
