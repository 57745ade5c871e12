package deploy

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/buildor/internal/buildtrigger"
	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/orphan"
	"github.com/splax/buildor/internal/repository"
	"github.com/splax/buildor/pkg/config"
)

const defaultCASAttempts = 3

// Notifier receives every deployment state the service writes.
type Notifier interface {
	Publish(deployment domain.Deployment)
}

// Config tunes the lifecycle.
type Config struct {
	// JobDefinition is the build project every deployment runs on.
	JobDefinition string
	// CASAttempts bounds re-read and re-apply cycles after a rejected conditional write.
	CASAttempts int
}

// ConfigFrom assembles the service config from the shared build and reconcile settings.
func ConfigFrom(build config.BuildConfig, reconcile config.ReconcileConfig) Config {
	return Config{JobDefinition: build.JobDefinition, CASAttempts: reconcile.CASAttempts}
}

// Service runs deployment intake, build event reconciliation and status queries.
// Intake and the reconciler share nothing but the store and the build job id.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	trigger     buildtrigger.Trigger
	orphans     orphan.Tracker
	notifier    Notifier
	metrics     *Metrics
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
	newID       func() string
}

// New returns a deployment service. orphans may be nil, in which case unmatched
// events are acknowledged on first delivery.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, trigger buildtrigger.Trigger, orphans orphan.Tracker, logger *slog.Logger, cfg Config) Service {
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = defaultCASAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		projects:    projects,
		deployments: deployments,
		trigger:     trigger,
		orphans:     orphans,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// WithNotifier returns a copy of s that publishes state changes to n.
func (s Service) WithNotifier(n Notifier) Service {
	s.notifier = n
	return s
}

// WithMetrics returns a copy of s that records outcomes on m.
func (s Service) WithMetrics(m *Metrics) Service {
	s.metrics = m
	return s
}

func (s Service) publish(d domain.Deployment) {
	if s.notifier != nil {
		s.notifier.Publish(d)
	}
}
