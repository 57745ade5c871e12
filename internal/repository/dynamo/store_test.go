package dynamo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
	"github.com/splax/buildor/pkg/config"
)

// mockAPI implements API for testing
type mockAPI struct {
	getItemFunc    func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc    func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	updateItemFunc func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	queryFunc      func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	scanFunc       func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

func (m *mockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("GetItem not implemented")
}

func (m *mockAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("PutItem not implemented")
}

func (m *mockAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("UpdateItem not implemented")
}

func (m *mockAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("Query not implemented")
}

func (m *mockAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("Scan not implemented")
}

var testTables = config.TableConfig{
	Projects:          "Projects",
	Deployments:       "ProjectDeployments",
	Users:             "Users",
	BuildJobIndex:     "build_job_id-index",
	ProjectCreatedIdx: "project_id-created_at-index",
}

func marshal(t *testing.T, v any) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return av
}

func TestApplyTransitionBuildsGuardedUpdate(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	store := New(api, testTables)

	err := store.ApplyTransition(context.Background(), domain.Transition{
		DeploymentID: "dep-1",
		Status:       domain.StatusBuilding,
		Phase:        domain.PhaseBuild,
		UpdatedAt:    time.Unix(100, 0),
		AdvanceOnly:  true,
	})
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "ProjectDeployments", aws.ToString(captured.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "dep-1"}, captured.Key[attrID])
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, captured.ReturnValuesOnConditionCheckFailure)

	names := map[string]bool{}
	for _, name := range captured.ExpressionAttributeNames {
		names[name] = true
	}
	assert.True(t, names[attrStatus], "condition should reference status")
	assert.True(t, names[attrPhaseIndex], "advance-only condition should reference phase_index")

	var values []string
	for _, v := range captured.ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			values = append(values, s.Value)
		}
	}
	assert.Contains(t, values, "Pending")
	assert.Contains(t, values, "Building")
	assert.Contains(t, values, "BUILD")
}

func TestApplyTransitionFailureIsNotPhaseGuarded(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	store := New(api, testTables)

	err := store.ApplyTransition(context.Background(), domain.Transition{DeploymentID: "dep-1", Status: domain.StatusFailed, Phase: domain.PhaseInstall})
	require.NoError(t, err)
	assert.NotContains(t, aws.ToString(captured.ConditionExpression), "<")
}

func TestApplyTransitionWritesBuildMetadataWhenSet(t *testing.T) {
	var captured []*dynamodb.UpdateItemInput
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = append(captured, params)
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	store := New(api, testTables)
	started := time.Unix(50, 0)
	ended := time.Unix(200, 0)

	require.NoError(t, store.ApplyTransition(context.Background(), domain.Transition{
		DeploymentID: "dep-1",
		Status:       domain.StatusFailed,
		Phase:        domain.PhaseBuild,
		UpdatedAt:    ended,
		BuildNumber:  7,
		StartedAt:    started,
		EndedAt:      ended,
	}))
	require.NoError(t, store.ApplyTransition(context.Background(), domain.Transition{
		DeploymentID: "dep-2",
		Status:       domain.StatusBuilding,
		Phase:        domain.PhaseInstall,
		UpdatedAt:    ended,
	}))

	attrNames := func(in *dynamodb.UpdateItemInput) map[string]bool {
		names := map[string]bool{}
		for _, name := range in.ExpressionAttributeNames {
			names[name] = true
		}
		return names
	}
	full := attrNames(captured[0])
	assert.True(t, full[attrBuildNumber])
	assert.True(t, full[attrStartTime])
	assert.True(t, full[attrEndTime])

	bare := attrNames(captured[1])
	assert.False(t, bare[attrBuildNumber], "unset metadata must not overwrite stored values")
	assert.False(t, bare[attrStartTime])
	assert.False(t, bare[attrEndTime])
}

func TestDeploymentItemKeepsBuildMetadata(t *testing.T) {
	started := time.UnixMilli(1_700_000_000_000).UTC()
	d := domain.Deployment{ID: "dep-1", Status: domain.StatusSucceeded, BuildNumber: 12, StartedAt: &started}

	got := toDeploymentItem(d).toDomain()
	assert.Equal(t, int64(12), got.BuildNumber)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.EndedAt)
}

func TestApplyTransitionConditionFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "guard rejected existing record",
			err: &types.ConditionalCheckFailedException{
				Message: aws.String("conditional request failed"),
				Item:    map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: "dep-1"}},
			},
			want: repository.ErrConditionFailed,
		},
		{
			name: "record missing",
			err:  &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")},
			want: repository.ErrNotFound,
		},
		{
			name: "throttled",
			err:  &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"},
			want: repository.ErrThrottled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{
				updateItemFunc: func(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
					return nil, tt.err
				},
			}
			err := New(api, testTables).ApplyTransition(context.Background(), domain.Transition{
				DeploymentID: "dep-1",
				Status:       domain.StatusSucceeded,
				Phase:        domain.PhaseFinalizing,
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateDeploymentIsCreateIfAbsent(t *testing.T) {
	var captured *dynamodb.PutItemInput
	api := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		},
	}

	err := New(api, testTables).CreateDeployment(context.Background(), &domain.Deployment{
		ID:         "dep-1",
		ProjectID:  "p1",
		BuildJobID: "job-1",
		Status:     domain.StatusPending,
	})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
	require.NotNil(t, captured)
	assert.Contains(t, aws.ToString(captured.ConditionExpression), "attribute_not_exists")
	assert.Equal(t, &types.AttributeValueMemberN{Value: "-1"}, captured.Item[attrPhaseIndex])
}

func TestGetDeploymentByBuildJobIDQueriesIndex(t *testing.T) {
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	item := toDeploymentItem(domain.Deployment{
		ID:         "dep-1",
		ProjectID:  "p1",
		BuildJobID: "job-1",
		Status:     domain.StatusBuilding,
		Phase:      domain.PhaseInstall,
		CreatedAt:  created,
		UpdatedAt:  created,
	})

	var captured *dynamodb.QueryInput
	api := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = params
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{marshal(t, item)}}, nil
		},
		getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: marshal(t, item)}, nil
		},
	}

	d, err := New(api, testTables).GetDeploymentByBuildJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "build_job_id-index", aws.ToString(captured.IndexName))
	assert.Equal(t, "dep-1", d.ID)
	assert.Equal(t, domain.PhaseInstall, d.Phase)
	assert.True(t, d.CreatedAt.Equal(created))
}

func TestGetDeploymentByBuildJobIDReadsItemConsistently(t *testing.T) {
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	base := domain.Deployment{ID: "dep-1", ProjectID: "p1", BuildJobID: "job-1", CreatedAt: created, UpdatedAt: created}
	lagging := base
	lagging.Status, lagging.Phase = domain.StatusBuilding, domain.PhaseUploadArtifacts
	stored := base
	stored.Status, stored.Phase = domain.StatusSucceeded, domain.PhaseFinalizing

	var get *dynamodb.GetItemInput
	api := &mockAPI{
		queryFunc: func(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{marshal(t, toDeploymentItem(lagging))}}, nil
		},
		getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			get = params
			return &dynamodb.GetItemOutput{Item: marshal(t, toDeploymentItem(stored))}, nil
		},
	}

	d, err := New(api, testTables).GetDeploymentByBuildJobID(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, get)
	assert.Equal(t, "ProjectDeployments", aws.ToString(get.TableName))
	assert.True(t, aws.ToBool(get.ConsistentRead))
	assert.Equal(t, domain.StatusSucceeded, d.Status)
	assert.Equal(t, domain.PhaseFinalizing, d.Phase)
}

func TestGetDeploymentByBuildJobIDNotFound(t *testing.T) {
	api := &mockAPI{
		queryFunc: func(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{}, nil
		},
	}
	_, err := New(api, testTables).GetDeploymentByBuildJobID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListDeploymentsByProjectNewestFirst(t *testing.T) {
	var captured *dynamodb.QueryInput
	api := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = params
			return &dynamodb.QueryOutput{}, nil
		},
	}
	_, err := New(api, testTables).ListDeploymentsByProject(context.Background(), "p1", 0)
	require.NoError(t, err)
	assert.Equal(t, "project_id-created_at-index", aws.ToString(captured.IndexName))
	assert.False(t, aws.ToBool(captured.ScanIndexForward))
	assert.Equal(t, int32(repository.DefaultListLimit), aws.ToInt32(captured.Limit))
}

func TestGetProjectRoundTrip(t *testing.T) {
	current := "dep-9"
	published := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	project := domain.Project{
		ID:                  "p1",
		Name:                "site",
		RepositoryURL:       "https://example.com/site.git",
		Commands:            domain.Commands{PreBuild: []string{"npm ci"}, Build: []string{"npm run build"}},
		OutputFolder:        "build",
		CurrentDeploymentID: &current,
		LastPublishedAt:     &published,
		CreatedAt:           published,
		UpdatedAt:           published,
	}
	api := &mockAPI{
		getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			assert.Equal(t, "Projects", aws.ToString(params.TableName))
			return &dynamodb.GetItemOutput{Item: marshal(t, toProjectItem(project))}, nil
		},
	}

	got, err := New(api, testTables).GetProjectByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"npm ci"}, got.Commands.PreBuild)
	assert.Equal(t, "build", got.OutputFolder)
	require.NotNil(t, got.CurrentDeploymentID)
	assert.Equal(t, "dep-9", *got.CurrentDeploymentID)
	assert.Nil(t, got.CurrentDeploymentCreatedAt)
	require.NotNil(t, got.LastPublishedAt)
	assert.True(t, got.LastPublishedAt.Equal(published))
}

func TestGetProjectNotFound(t *testing.T) {
	api := &mockAPI{
		getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	_, err := New(api, testTables).GetProjectByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSetCurrentDeploymentRejectedWhenNewerHeld(t *testing.T) {
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			assert.Equal(t, "Projects", aws.ToString(params.TableName))
			return nil, &types.ConditionalCheckFailedException{
				Item: map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: "p1"}},
			}
		},
	}
	err := New(api, testTables).SetCurrentDeployment(context.Background(), domain.CurrentDeploymentUpdate{
		ProjectID:           "p1",
		DeploymentID:        "dep-1",
		DeploymentCreatedAt: time.Now(),
		PublishedAt:         time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
}

func TestListProjectsSortsAcrossPages(t *testing.T) {
	older := toProjectItem(domain.Project{ID: "old", CreatedAt: time.Unix(100, 0)})
	newer := toProjectItem(domain.Project{ID: "new", CreatedAt: time.Unix(200, 0)})
	calls := 0
	api := &mockAPI{
		scanFunc: func(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			calls++
			if params.ExclusiveStartKey == nil {
				return &dynamodb.ScanOutput{
					Items:            []map[string]types.AttributeValue{marshal(t, older)},
					LastEvaluatedKey: map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: "old"}},
				}, nil
			}
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{marshal(t, newer)}}, nil
		},
	}

	projects, err := New(api, testTables).ListProjects(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, projects, 2)
	assert.Equal(t, "new", projects[0].ID)
}

func TestCreateUserWritesNameAttributes(t *testing.T) {
	var captured *dynamodb.PutItemInput
	api := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	err := New(api, testTables).CreateUser(context.Background(), &domain.User{ID: "u1", FirstName: "Ada", LastName: "Lovelace", CreatedAt: time.Unix(100, 0)})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "Users", aws.ToString(captured.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Ada"}, captured.Item["fname"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Lovelace"}, captured.Item["lname"])
	assert.NotEmpty(t, aws.ToString(captured.ConditionExpression))
}

func TestListUsersNewestFirst(t *testing.T) {
	api := &mockAPI{
		scanFunc: func(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			assert.Equal(t, "Users", aws.ToString(params.TableName))
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{
				marshal(t, userItem{ID: "old", FirstName: "A", LastName: "B", CreatedAt: 100}),
				marshal(t, userItem{ID: "new", FirstName: "C", LastName: "D", CreatedAt: 200}),
			}}, nil
		},
	}
	users, err := New(api, testTables).ListUsers(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "new", users[0].ID)
	assert.Equal(t, "C", users[0].FirstName)
}
