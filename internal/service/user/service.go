// Package user registers and lists user accounts.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

// ErrValidation marks malformed user input.
var ErrValidation = errors.New("invalid user")

const maxNameLength = 100

// CreateInput holds the fields of a new user.
type CreateInput struct {
	FirstName string
	LastName  string
}

// Service manages users.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

// New returns a user service.
func New(users repository.UserRepository, logger *slog.Logger) Service {
	return Service{users: users, logger: logger, now: time.Now}
}

// Create registers a user under a fresh id.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.User, error) {
	first, err := name("fname", input.FirstName)
	if err != nil {
		return nil, err
	}
	last, err := name("lname", input.LastName)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		ID:        uuid.NewString(),
		FirstName: first,
		LastName:  last,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	s.logger.Info("user created", "user_id", u.ID)
	return u, nil
}

// List returns users newest first.
func (s Service) List(ctx context.Context, limit int) ([]domain.User, error) {
	return s.users.ListUsers(ctx, limit)
}

func name(field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if utf8.RuneCountInString(v) > maxNameLength {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, maxNameLength)
	}
	return v, nil
}
