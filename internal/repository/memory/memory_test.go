package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

func seedDeployment(t *testing.T, s *Store, d domain.Deployment) {
	t.Helper()
	if err := s.CreateDeployment(context.Background(), &d); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}
}

func TestCreateDeploymentRejectsDuplicate(t *testing.T) {
	s := New()
	d := domain.Deployment{ID: "dep-1", ProjectID: "p1", BuildJobID: "job-1", Status: domain.StatusPending}
	seedDeployment(t, s, d)

	if err := s.CreateDeployment(context.Background(), &d); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestApplyTransitionGuardsTerminalAndPhase(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedDeployment(t, s, domain.Deployment{ID: "dep-1", BuildJobID: "job-1", Status: domain.StatusBuilding, Phase: domain.PhaseBuild})

	stale := domain.Transition{DeploymentID: "dep-1", Status: domain.StatusBuilding, Phase: domain.PhaseInstall, AdvanceOnly: true}
	if err := s.ApplyTransition(ctx, stale); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected stale advance to fail, got %v", err)
	}

	done := domain.Transition{DeploymentID: "dep-1", Status: domain.StatusSucceeded, Phase: domain.PhaseFinalizing, UpdatedAt: time.Now()}
	if err := s.ApplyTransition(ctx, done); err != nil {
		t.Fatalf("apply success: %v", err)
	}

	fail := domain.Transition{DeploymentID: "dep-1", Status: domain.StatusFailed, Phase: domain.PhaseBuild}
	if err := s.ApplyTransition(ctx, fail); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected terminal record to reject writes, got %v", err)
	}

	got, err := s.GetDeploymentByBuildJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("lookup by job: %v", err)
	}
	if got.Status != domain.StatusSucceeded {
		t.Fatalf("expected Succeeded, got %s", got.Status)
	}
}

func TestApplyTransitionConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedDeployment(t, s, domain.Deployment{ID: "dep-1", BuildJobID: "job-1", Status: domain.StatusBuilding})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.StatusSucceeded
			if i%2 == 0 {
				status = domain.StatusFailed
			}
			err := s.ApplyTransition(ctx, domain.Transition{DeploymentID: "dep-1", Status: status, Phase: domain.PhaseFinalizing})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one terminal write, got %d", wins)
	}
}

func TestSetCurrentDeploymentKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateProject(ctx, &domain.Project{ID: "p1", Name: "site"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	newer := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	if err := s.SetCurrentDeployment(ctx, domain.CurrentDeploymentUpdate{ProjectID: "p1", DeploymentID: "new", DeploymentCreatedAt: newer, PublishedAt: newer}); err != nil {
		t.Fatalf("set newer: %v", err)
	}
	err := s.SetCurrentDeployment(ctx, domain.CurrentDeploymentUpdate{ProjectID: "p1", DeploymentID: "old", DeploymentCreatedAt: older, PublishedAt: newer})
	if !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected older deployment to be rejected, got %v", err)
	}

	p, _ := s.GetProjectByID(ctx, "p1")
	if p.CurrentDeploymentID == nil || *p.CurrentDeploymentID != "new" {
		t.Fatalf("expected current deployment new, got %v", p.CurrentDeploymentID)
	}
}

func TestListDeploymentsByProjectNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		seedDeployment(t, s, domain.Deployment{ID: id, ProjectID: "p1", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	seedDeployment(t, s, domain.Deployment{ID: "other", ProjectID: "p2", CreatedAt: base})

	got, err := s.ListDeploymentsByProject(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestUsersListedNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"u1", "u2", "u3"} {
		u := domain.User{ID: id, FirstName: "Ada", LastName: "Lovelace", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := s.CreateUser(ctx, &domain.User{ID: "u1"}); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	users, err := s.ListUsers(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].ID != "u3" || users[1].ID != "u2" {
		t.Fatalf("unexpected order %+v", users)
	}
}
