package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/splax/buildor/internal/api"
	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
)

// API Gateway resources served by the handlers.
const (
	ResourceRoot               = "/"
	ResourceUsers              = "/users"
	ResourceProjects           = "/projects"
	ResourceProject            = "/projects/{project}"
	ResourceProjectDeployments = "/projects/{project}/deployments"
	ResourceProjectDeployment  = "/projects/{project}/deployments/{deployment}"
	ResourceDeployments        = "/project-deployments"
	ResourceDeployment         = "/project-deployments/{deployment}"
)

const (
	paramProject          = "project"
	paramDeployment       = "deployment"
	defaultHandlerTimeout = 5 * time.Second
)

// API serves the REST resources behind API Gateway proxy integrations.
type API struct {
	projects project.Service
	deploy   deploy.Service
	users    *user.Service
	logger   *slog.Logger
	timeout  time.Duration
}

// NewAPI returns the API Gateway handler set.
func NewAPI(projects project.Service, deploySvc deploy.Service, logger *slog.Logger, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &API{projects: projects, deploy: deploySvc, logger: logger, timeout: timeout}
}

// WithUsers enables the users resource.
func (a *API) WithUsers(users user.Service) *API {
	a.users = &users
	return a
}

// Route serves every resource from one function.
func (a *API) Route(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch req.Resource {
	case ResourceRoot:
		return a.Root(ctx, req)
	case ResourceUsers:
		return a.Users(ctx, req)
	case ResourceProjects, ResourceProject:
		return a.Projects(ctx, req)
	case ResourceProjectDeployments, ResourceDeployments:
		return a.Deployments(ctx, req)
	case ResourceProjectDeployment, ResourceDeployment:
		return a.DeploymentStatus(ctx, req)
	}
	return respondError(http.StatusNotFound, api.ErrorBody{Code: api.CodeNotFound, Message: "Not Found Error", Details: "route not found"}), nil
}

// Root answers any method on the API root.
func (a *API) Root(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return a.serve(ctx, req, func(context.Context) events.APIGatewayProxyResponse {
		return respond(http.StatusOK, api.Welcome)
	})
}

// Users handles user registration and listing.
func (a *API) Users(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return a.serve(ctx, req, func(ctx context.Context) events.APIGatewayProxyResponse {
		if a.users == nil {
			return respondError(http.StatusNotFound, api.ErrorBody{Code: api.CodeNotFound, Message: "Not Found Error", Details: "users are not enabled"})
		}
		switch req.HTTPMethod {
		case http.MethodPost:
			var body api.CreateUserRequest
			if err := api.DecodeBody(req.Body, false, &body); err != nil {
				return respondError(http.StatusBadRequest, api.Schema(err.Error()))
			}
			u, err := a.users.Create(ctx, body.Input())
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusCreated, api.UserFrom(*u))
		case http.MethodGet:
			users, err := a.users.List(ctx, limitParam(req))
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusOK, api.Users(users))
		}
		return methodNotAllowed()
	})
}

// Projects handles project registration, listing and lookup.
func (a *API) Projects(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return a.serve(ctx, req, func(ctx context.Context) events.APIGatewayProxyResponse {
		switch {
		case req.Resource == ResourceProjects && req.HTTPMethod == http.MethodPost:
			var body api.CreateProjectRequest
			if err := api.DecodeBody(req.Body, false, &body); err != nil {
				return respondError(http.StatusBadRequest, api.Schema(err.Error()))
			}
			p, err := a.projects.Create(ctx, body.Input())
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusCreated, api.ProjectFrom(*p))
		case req.Resource == ResourceProjects && req.HTTPMethod == http.MethodGet:
			projects, err := a.projects.List(ctx, limitParam(req))
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusOK, api.Projects(projects))
		case req.Resource == ResourceProject && req.HTTPMethod == http.MethodGet:
			p, err := a.projects.Get(ctx, req.PathParameters[paramProject])
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusOK, api.ProjectFrom(*p))
		}
		return methodNotAllowed()
	})
}

// Deployments handles deployment creation and per-project listing.
func (a *API) Deployments(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return a.serve(ctx, req, func(ctx context.Context) events.APIGatewayProxyResponse {
		switch req.HTTPMethod {
		case http.MethodPost:
			var body api.CreateDeploymentRequest
			allowEmpty := req.Resource == ResourceProjectDeployments
			if err := api.DecodeBody(req.Body, allowEmpty, &body); err != nil {
				return respondError(http.StatusBadRequest, api.Schema(err.Error()))
			}
			receipt, err := a.deploy.Trigger(ctx, deploy.TriggerInput{
				ProjectID:     body.Project(req.PathParameters[paramProject]),
				SourceVersion: body.SourceVersion,
			})
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusCreated, receipt)
		case http.MethodGet:
			if req.Resource != ResourceProjectDeployments {
				break
			}
			list, err := a.deploy.ListByProject(ctx, req.PathParameters[paramProject], limitParam(req))
			if err != nil {
				return a.fail(req, err)
			}
			return respond(http.StatusOK, api.NewList(list))
		}
		return methodNotAllowed()
	})
}

// DeploymentStatus answers status polls.
func (a *API) DeploymentStatus(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return a.serve(ctx, req, func(ctx context.Context) events.APIGatewayProxyResponse {
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed()
		}
		snapshot, err := a.deploy.Status(ctx, req.PathParameters[paramDeployment], req.PathParameters[paramProject])
		if err != nil {
			return a.fail(req, err)
		}
		return respond(http.StatusOK, snapshot)
	})
}

func (a *API) serve(ctx context.Context, req events.APIGatewayProxyRequest, fn func(context.Context) events.APIGatewayProxyResponse) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, nil), nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp := fn(ctx)
	a.logger.Info("request completed",
		"method", req.HTTPMethod,
		"resource", req.Resource,
		"status", resp.StatusCode,
		"request_id", req.RequestContext.RequestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (a *API) fail(req events.APIGatewayProxyRequest, err error) events.APIGatewayProxyResponse {
	status, body := api.Classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", req.HTTPMethod, "resource", req.Resource, "error", err)
	}
	return respondError(status, body)
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return respondError(http.StatusMethodNotAllowed, api.ErrorBody{Code: api.CodeMethod, Message: "Method Not Allowed", Details: "method not allowed"})
}

func limitParam(req events.APIGatewayProxyRequest) int {
	raw := strings.TrimSpace(req.QueryStringParameters["limit"])
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
