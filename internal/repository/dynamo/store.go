package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
	"github.com/splax/buildor/pkg/config"
)

// Store implements the repository interfaces on one DynamoDB table per record kind.
type Store struct {
	api    API
	tables config.TableConfig
}

var (
	_ repository.ProjectRepository    = (*Store)(nil)
	_ repository.DeploymentRepository = (*Store)(nil)
)

// New constructs a Store over an existing client.
func New(api API, tables config.TableConfig) *Store {
	return &Store{api: api, tables: tables}
}

// NewFromConfig builds the DynamoDB client, honouring a custom endpoint for local tables.
func NewFromConfig(cfg aws.Config, tables config.TableConfig) *Store {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if tables.Endpoint != "" {
			o.BaseEndpoint = aws.String(tables.Endpoint)
		}
	})
	return New(client, tables)
}

// CreateProject inserts a project if its id is unused.
func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	return s.putIfAbsent(ctx, s.tables.Projects, toProjectItem(*project))
}

// GetProjectByID fetches a project.
func (s *Store) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	var item projectItem
	if err := s.getItem(ctx, s.tables.Projects, projectID, &item); err != nil {
		return nil, err
	}
	p := item.toDomain()
	return &p, nil
}

// ListProjects scans the projects table and returns the newest first.
func (s *Store) ListProjects(ctx context.Context, limit int) ([]domain.Project, error) {
	var projects []domain.Project
	paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{TableName: aws.String(s.tables.Projects)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("scan projects", err)
		}
		var items []projectItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode projects: %w", err)
		}
		for _, item := range items {
			projects = append(projects, item.toDomain())
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	if limit = repository.NormalizeLimit(limit); len(projects) > limit {
		projects = projects[:limit]
	}
	return projects, nil
}

// SetCurrentDeployment moves the current pointer unless a newer deployment already holds it.
func (s *Store) SetCurrentDeployment(ctx context.Context, update domain.CurrentDeploymentUpdate) error {
	createdAt := millis(update.DeploymentCreatedAt)
	published := millis(update.PublishedAt)

	newer := expression.AttributeNotExists(expression.Name(attrCurrentDeploymentAt)).
		Or(expression.Name(attrCurrentDeploymentAt).LessThanEqual(expression.Value(createdAt)))
	cond := expression.AttributeExists(expression.Name(attrID)).And(newer)
	upd := expression.Set(expression.Name(attrCurrentDeployment), expression.Value(update.DeploymentID)).
		Set(expression.Name(attrCurrentDeploymentAt), expression.Value(createdAt)).
		Set(expression.Name(attrLastPublished), expression.Value(published)).
		Set(expression.Name(attrUpdatedAt), expression.Value(published))

	return s.conditionalUpdate(ctx, s.tables.Projects, update.ProjectID, cond, upd)
}

// CreateDeployment inserts a deployment if its id is unused.
func (s *Store) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return s.putIfAbsent(ctx, s.tables.Deployments, toDeploymentItem(*deployment))
}

// GetDeploymentByID fetches a deployment.
func (s *Store) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	var item deploymentItem
	if err := s.getItem(ctx, s.tables.Deployments, deploymentID, &item); err != nil {
		return nil, err
	}
	d := item.toDomain()
	return &d, nil
}

// GetDeploymentByBuildJobID resolves the deployment id through the build job
// index, then reads the item itself. Index reads are eventually consistent, so
// only the id is taken from the index.
func (s *Store) GetDeploymentByBuildJobID(ctx context.Context, buildJobID string) (*domain.Deployment, error) {
	keyCond := expression.Key(attrBuildJobID).Equal(expression.Value(buildJobID))
	deployments, err := s.queryDeployments(ctx, s.tables.BuildJobIndex, keyCond, 1, true)
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, repository.ErrNotFound
	}
	return s.GetDeploymentByID(ctx, deployments[0].ID)
}

// ListDeploymentsByProject queries the project index newest first.
func (s *Store) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	keyCond := expression.Key(attrProjectID).Equal(expression.Value(projectID))
	return s.queryDeployments(ctx, s.tables.ProjectCreatedIdx, keyCond, repository.NormalizeLimit(limit), false)
}

// ApplyTransition issues one UpdateItem whose condition admits only active
// deployments and, for progress, strictly later phases.
func (s *Store) ApplyTransition(ctx context.Context, transition domain.Transition) error {
	cond := expression.AttributeExists(expression.Name(attrID)).
		And(expression.Name(attrStatus).In(
			expression.Value(string(domain.StatusPending)),
			expression.Value(string(domain.StatusBuilding)),
		))
	if transition.AdvanceOnly {
		cond = cond.And(expression.Name(attrPhaseIndex).LessThan(expression.Value(transition.Phase.Index())))
	}
	upd := expression.Set(expression.Name(attrStatus), expression.Value(string(transition.Status))).
		Set(expression.Name(attrPhase), expression.Value(string(transition.Phase))).
		Set(expression.Name(attrPhaseIndex), expression.Value(transition.Phase.Index())).
		Set(expression.Name(attrUpdatedAt), expression.Value(millis(transition.UpdatedAt)))
	if transition.BuildNumber > 0 {
		upd = upd.Set(expression.Name(attrBuildNumber), expression.Value(transition.BuildNumber))
	}
	if !transition.StartedAt.IsZero() {
		upd = upd.Set(expression.Name(attrStartTime), expression.Value(millis(transition.StartedAt)))
	}
	if !transition.EndedAt.IsZero() {
		upd = upd.Set(expression.Name(attrEndTime), expression.Value(millis(transition.EndedAt)))
	}

	return s.conditionalUpdate(ctx, s.tables.Deployments, transition.DeploymentID, cond, upd)
}

func (s *Store) putIfAbsent(ctx context.Context, table string, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(attrID))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return repository.ErrAlreadyExists
		}
		return classify("put item", err)
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, table, id string, out any) error {
	resp, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return classify("get item", err)
	}
	if len(resp.Item) == 0 {
		return repository.ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(resp.Item, out); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}
	return nil
}

// conditionalUpdate reports ErrNotFound or ErrConditionFailed when the guard
// rejects the write, using the old image returned with the failure.
func (s *Store) conditionalUpdate(ctx context.Context, table, id string, cond expression.ConditionBuilder, upd expression.UpdateBuilder) error {
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(table),
		Key:                                 key(id),
		ConditionExpression:                 expr.Condition(),
		UpdateExpression:                    expr.Update(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return repository.ErrNotFound
			}
			return repository.ErrConditionFailed
		}
		return classify("update item", err)
	}
	return nil
}

func (s *Store) queryDeployments(ctx context.Context, index string, keyCond expression.KeyConditionBuilder, limit int, forward bool) ([]domain.Deployment, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Deployments),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(forward),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, classify("query "+index, err)
	}
	var items []deploymentItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("decode deployments: %w", err)
	}
	deployments := make([]domain.Deployment, 0, len(items))
	for _, item := range items {
		deployments = append(deployments, item.toDomain())
	}
	return deployments, nil
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: id}}
}

// Error codes DynamoDB returns when a request should be retried later.
const (
	codeThroughputExceeded  = "ProvisionedThroughputExceededException"
	codeThrottling          = "ThrottlingException"
	codeRequestLimit        = "RequestLimitExceeded"
	codeTransactionConflict = "TransactionConflictException"
)

func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case codeThroughputExceeded, codeThrottling, codeRequestLimit, codeTransactionConflict:
			return fmt.Errorf("%s: %w: %s", op, repository.ErrThrottled, apiErr.ErrorMessage())
		case "ResourceNotFoundException":
			return fmt.Errorf("%s: table or index missing: %s", op, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
