// Package migrate applies the embedded postgres schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	migrationsDir = "migrations"
	runTimeout    = time.Minute
	pingTimeout   = 5 * time.Second
)

// Runner drives goose over a *sql.DB view of an existing pool.
type Runner struct {
	pool     *pgxpool.Pool
	db       *sql.DB
	provider *goose.Provider
	log      *slog.Logger
}

// New returns a runner for the embedded schema.
func New(pool *pgxpool.Pool, log *slog.Logger) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("nil pool provided")
	}
	if log == nil {
		log = slog.Default()
	}
	schema, err := fs.Sub(migrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Runner{pool: pool, db: db, provider: provider, log: log}, nil
}

// Ensure applies pending migrations.
func (r *Runner) Ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	results, err := r.provider.Up(ctx)
	for _, res := range results {
		r.log.Info("migration applied", "version", res.Source.Version, "file", res.Source.Path, "duration_ms", res.Duration.Milliseconds())
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if len(results) == 0 {
		r.log.Debug("schema up to date")
	}
	return nil
}

// MigrationState describes one embedded migration.
type MigrationState struct {
	Version   int64
	File      string
	Applied   bool
	AppliedAt time.Time
}

// Status lists the embedded migrations and whether each has been applied.
func (r *Runner) Status(ctx context.Context) ([]MigrationState, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	states := make([]MigrationState, 0, len(statuses))
	for _, st := range statuses {
		states = append(states, MigrationState{
			Version:   st.Source.Version,
			File:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return states, nil
}

// Down rolls back the latest migration, or everything above target when target > 0.
func (r *Runner) Down(ctx context.Context, target int64) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	if target > 0 {
		results, err := r.provider.DownTo(ctx, target)
		for _, res := range results {
			r.log.Info("migration rolled back", "version", res.Source.Version)
		}
		if err != nil {
			return fmt.Errorf("rollback to version %d: %w", target, err)
		}
		return nil
	}
	res, err := r.provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	r.log.Info("migration rolled back", "version", res.Source.Version)
	return nil
}

// Ping checks the pool can reach the database.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the *sql.DB view.
func (r *Runner) Close() error {
	return r.db.Close()
}
