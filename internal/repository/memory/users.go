package memory

import (
	"context"
	"sort"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

// CreateUser inserts a user.
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.users[user.ID] = *user
	return nil
}

// ListUsers returns users newest first.
func (s *Store) ListUsers(_ context.Context, limit int) ([]domain.User, error) {
	s.mu.RLock()
	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	if limit = repository.NormalizeLimit(limit); len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
