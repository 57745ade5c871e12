package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository/memory"
)

func newTestService() (Service, *memory.Store) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger), store
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, store := newTestService()

	p, err := svc.Create(context.Background(), CreateInput{Name: " site ", RepositoryURL: "https://github.com/acme/site.git"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Name != "site" || p.OutputFolder != "dist" {
		t.Fatalf("unexpected project %+v", p)
	}
	if p.Commands.PreBuild[0] != "npm install" || p.Commands.Build[0] != "npm run build" {
		t.Fatalf("expected default commands, got %+v", p.Commands)
	}
	if _, err := store.GetProjectByID(context.Background(), p.ID); err != nil {
		t.Fatalf("project not persisted: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	cases := []CreateInput{
		{Name: "", RepositoryURL: "https://github.com/acme/site.git"},
		{Name: "site", RepositoryURL: "not a url"},
		{Name: "site", RepositoryURL: "ftp://example.com/site"},
		{Name: "site", RepositoryURL: "https://github.com/acme/site.git", OutputFolder: "../etc"},
		{Name: "my site", RepositoryURL: "https://github.com/acme/site.git"},
		{Name: "site;rm -rf", RepositoryURL: "https://github.com/acme/site.git"},
		{Name: "-site", RepositoryURL: "https://github.com/acme/site.git"},
		{Name: "site", RepositoryURL: "https://github.com/acme/site.git", OutputFolder: "out$(id)"},
	}
	for _, input := range cases {
		if _, err := svc.Create(context.Background(), input); !errors.Is(err, ErrValidation) {
			t.Fatalf("input %+v: expected ErrValidation, got %v", input, err)
		}
	}
}

func TestCreateKeepsCustomSettings(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.Create(context.Background(), CreateInput{
		Name:          "docs",
		RepositoryURL: "git@github.com:acme/docs.git",
		Commands:      domain.Commands{PreBuild: []string{"pnpm i"}, Build: []string{"pnpm build"}},
		OutputFolder:  "/build/",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.OutputFolder != "build" || p.Commands.Build[0] != "pnpm build" {
		t.Fatalf("custom settings lost: %+v", p)
	}
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
