package bootstrap

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
	"github.com/splax/buildor/pkg/config"
)

// Services are the lifecycle services a Lambda handler needs.
type Services struct {
	Projects project.Service
	Deploy   deploy.Service
	Users    user.Service
	store    Store
	closers  []func()
}

// Close releases the store and the orphan tracker.
func (s Services) Close() {
	for _, c := range s.closers {
		c()
	}
	s.store.Close()
}

// LambdaServices wires the services for a Lambda handler. Connections are
// opened once per execution environment and reused across invocations.
func LambdaServices(ctx context.Context, cfg config.LambdaConfig, log *slog.Logger) (Services, error) {
	var awsCfg *aws.Config
	if NeedsAWS(cfg.StoreDriver, cfg.TriggerDriver) {
		loaded, err := config.LoadAWS(ctx, cfg.Tables.Region)
		if err != nil {
			return Services{}, err
		}
		awsCfg = &loaded
	}

	store, err := OpenStore(ctx, StoreOptions{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		Tables:      cfg.Tables,
		AWS:         awsCfg,
	}, log)
	if err != nil {
		return Services{}, err
	}
	trigger, err := OpenTrigger(TriggerOptions{
		Driver:     cfg.TriggerDriver,
		Build:      cfg.Build,
		BuilderURL: cfg.BuilderURL,
		Token:      cfg.BuilderToken,
		AWS:        awsCfg,
	})
	if err != nil {
		store.Close()
		return Services{}, err
	}
	orphans := OpenOrphanTracker(cfg.Reconcile, log)

	deploySvc := deploy.New(store.Projects, store.Deployments, trigger, orphans, log, deploy.ConfigFrom(cfg.Build, cfg.Reconcile))
	return Services{
		Projects: project.New(store.Projects, log),
		Deploy:   deploySvc,
		Users:    user.New(store.Users, log),
		store:    store,
		closers:  []func(){orphans.Close},
	}, nil
}
