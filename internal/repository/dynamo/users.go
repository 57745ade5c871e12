package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

var _ repository.UserRepository = (*Store)(nil)

type userItem struct {
	ID        string `dynamodbav:"uuid"`
	FirstName string `dynamodbav:"fname"`
	LastName  string `dynamodbav:"lname"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// CreateUser inserts a user if its id is unused.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return s.putIfAbsent(ctx, s.tables.Users, userItem{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CreatedAt: millis(user.CreatedAt),
	})
}

// ListUsers scans the users table and returns the newest first.
func (s *Store) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	var users []domain.User
	paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{TableName: aws.String(s.tables.Users)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("scan users", err)
		}
		var items []userItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode users: %w", err)
		}
		for _, item := range items {
			users = append(users, domain.User{
				ID:        item.ID,
				FirstName: item.FirstName,
				LastName:  item.LastName,
				CreatedAt: fromMillis(item.CreatedAt),
			})
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	if limit = repository.NormalizeLimit(limit); len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
