package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/buildor/internal/api"
	"github.com/splax/buildor/internal/buildtrigger"
	"github.com/splax/buildor/internal/events"
	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
	"github.com/splax/buildor/internal/ws"
	jwtpkg "github.com/splax/buildor/pkg/jwt"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	projects     project.Service
	deploy       deploy.Service
	users        *user.Service
	dispatcher   *events.Dispatcher
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	builderToken string
	jwtSecret    string
	signer       jwtpkg.Signer
	timeout      time.Duration
	dbHealth     func(context.Context) error
	registry     *prometheus.Registry
	metrics      *routerMetrics
}

const (
	routeRoot             = "/"
	routeUsers            = "/users"
	routeHealthz          = "/healthz"
	routeMetrics          = "/metrics"
	routeProjects         = "/projects"
	routeProjectSubroutes = "/projects/"
	routeDeployments      = "/project-deployments"
	routeDeploymentStatus = "/project-deployments/"
	routeBuilderEvents    = "/builder/events"
	routeDeploymentsWS    = "/ws/deployments"
	routeDeploymentsSSE   = "/sse/deployments"
)

var (
	quotaWrite   = Quota{Limit: 60, Window: time.Minute}
	quotaRead    = Quota{Limit: 120, Window: time.Minute}
	quotaStream  = Quota{Limit: 30, Window: 30 * time.Second}
	quotaBuilder = Quota{Limit: 600, Window: time.Minute}
)

const (
	healthCheckTimeout   = 2 * time.Second
	defaultTimeout       = 5 * time.Second
	sseHeartbeatInterval = 15 * time.Second
	maxRequestBodyBytes  = 1 << 20
)

// Dependencies groups the services and infrastructure behind the router.
type Dependencies struct {
	Projects project.Service
	Deploy   deploy.Service
	// Users enables /users when set.
	Users        *user.Service
	Dispatcher   *events.Dispatcher
	Hub          *ws.Hub
	Limiter      RateLimiter
	BuilderToken string
	JWTSecret    string
	// HandlerTimeout bounds request handling on every non-streaming route.
	HandlerTimeout time.Duration
	DBHealth       func(context.Context) error
	// Registry backs /metrics. A private registry is created when nil.
	Registry *prometheus.Registry
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Dependencies) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		projects:   deps.Projects,
		deploy:     deps.Deploy,
		users:      deps.Users,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      deps.Limiter,
		builderToken: strings.TrimSpace(deps.BuilderToken),
		jwtSecret:    strings.TrimSpace(deps.JWTSecret),
		signer:       jwtpkg.NewSigner(deps.JWTSecret),
		timeout:      deps.HandlerTimeout,
		dbHealth:     deps.DBHealth,
		registry:     deps.Registry,
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	r.metrics = newRouterMetrics(r.registry)
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc(routeRoot, r.audit(routeRoot, r.handleRoot))
	r.mux.HandleFunc(routeUsers, r.audit(routeUsers, r.authLimited(routeUsers, quotaWrite, r.bounded(r.handleUsers))))
	r.mux.HandleFunc(routeHealthz, r.audit(routeHealthz, r.handleHealthz))
	r.mux.Handle(routeMetrics, promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	r.mux.HandleFunc(routeProjects, r.audit(routeProjects, r.authLimited(routeProjects, quotaWrite, r.bounded(r.handleProjects))))
	r.mux.HandleFunc(routeProjectSubroutes, r.audit(routeProjectSubroutes, r.authLimited(routeProjectSubroutes, quotaRead, r.bounded(r.handleProjectSubroutes))))
	r.mux.HandleFunc(routeDeployments, r.audit(routeDeployments, r.authLimited(routeDeployments, quotaWrite, r.bounded(r.handleDeployments))))
	r.mux.HandleFunc(routeDeploymentStatus, r.audit(routeDeploymentStatus, r.authLimited(routeDeploymentStatus, quotaRead, r.bounded(r.handleDeploymentStatus))))
	r.mux.HandleFunc(routeBuilderEvents, r.audit(routeBuilderEvents, r.limit(routeBuilderEvents, quotaBuilder, ipKey, r.bounded(r.handleBuilderEvents))))
	r.mux.HandleFunc(routeDeploymentsWS, r.audit(routeDeploymentsWS, r.authLimited(routeDeploymentsWS, quotaStream, r.handleDeploymentsWS)))
	r.mux.HandleFunc(routeDeploymentsSSE, r.audit(routeDeploymentsSSE, r.authLimited(routeDeploymentsSSE, quotaStream, r.handleDeploymentsSSE)))
}

// bounded cancels the request context after the handler timeout. Streaming
// routes are not bounded.
func (r *Router) bounded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), r.timeout)
		defer cancel()
		next(w, req.WithContext(ctx))
	}
}

// handleRoot answers any method on "/" and 404s every unmatched path.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != routeRoot {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, api.Welcome)
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	if r.users == nil {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "users are not enabled")
		return
	}
	switch req.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, struct{}{})
	case http.MethodGet:
		users, err := r.users.List(req.Context(), limitParam(req))
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, api.Users(users))
	case http.MethodPost:
		var payload api.CreateUserRequest
		if !decodeJSON(w, req, false, &payload) {
			return
		}
		u, err := r.users.Create(req.Context(), payload.Input())
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, api.UserFrom(*u))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, struct{}{})
	case http.MethodGet:
		projects, err := r.projects.List(req.Context(), limitParam(req))
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, api.Projects(projects))
	case http.MethodPost:
		var payload api.CreateProjectRequest
		if !decodeJSON(w, req, false, &payload) {
			return
		}
		p, err := r.projects.Create(req.Context(), payload.Input())
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, api.ProjectFrom(*p))
	default:
		r.methodNotAllowed(w)
	}
}

// handleProjectSubroutes serves /projects/{id}, /projects/{id}/deployments and
// /projects/{id}/deployments/{deployment}.
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodOptions {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	parts := pathSegments(strings.TrimPrefix(req.URL.Path, routeProjectSubroutes))
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		p, err := r.projects.Get(req.Context(), parts[0])
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, api.ProjectFrom(*p))
	case len(parts) == 2 && parts[1] == "deployments":
		r.handleProjectDeployments(w, req, parts[0])
	case len(parts) == 3 && parts[1] == "deployments":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		r.writeStatus(w, req, parts[2], parts[0])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		list, err := r.deploy.ListByProject(req.Context(), projectID, limitParam(req))
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, api.NewList(list))
	case http.MethodPost:
		var payload api.CreateDeploymentRequest
		if !decodeJSON(w, req, true, &payload) {
			return
		}
		r.trigger(w, req, payload.Project(projectID), payload.SourceVersion)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, struct{}{})
	case http.MethodPost:
		var payload api.CreateDeploymentRequest
		if !decodeJSON(w, req, false, &payload) {
			return
		}
		r.trigger(w, req, payload.Project(""), payload.SourceVersion)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodOptions {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	parts := pathSegments(strings.TrimPrefix(req.URL.Path, routeDeploymentStatus))
	if len(parts) != 1 {
		r.notFound(w)
		return
	}
	r.writeStatus(w, req, parts[0], req.URL.Query().Get("project_id"))
}

func (r *Router) trigger(w http.ResponseWriter, req *http.Request, projectID, sourceVersion string) {
	receipt, err := r.deploy.Trigger(req.Context(), deploy.TriggerInput{ProjectID: projectID, SourceVersion: sourceVersion})
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (r *Router) writeStatus(w http.ResponseWriter, req *http.Request, deploymentID, projectID string) {
	snapshot, err := r.deploy.Status(req.Context(), deploymentID, projectID)
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleBuilderEvents accepts phase callbacks from the self-hosted builder.
// A non-2xx answer asks the builder to deliver the event again.
func (r *Router) handleBuilderEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyBuilderToken(w, req) {
		return
	}
	var payload events.BuilderCallback
	if !decodeJSON(w, req, false, &payload) {
		return
	}
	ev, err := events.FromBuilder(payload)
	if err != nil {
		r.metrics.callback("rejected")
		writeError(w, http.StatusBadRequest, api.CodeSchema, err.Error())
		return
	}
	if err := r.dispatcher.Dispatch(req.Context(), ev); err != nil {
		r.metrics.callback("failed")
		writeError(w, http.StatusServiceUnavailable, api.CodeInternal, "event not applied, retry later")
		return
	}
	r.metrics.callback("applied")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	projectID, ok := r.streamProject(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer r.hub.Unregister(projectID, client)
		client.Listen()
	}()
}

func (r *Router) handleDeploymentsSSE(w http.ResponseWriter, req *http.Request) {
	projectID, ok := r.streamProject(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(projectID, client)
	defer func() {
		r.hub.Unregister(projectID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// streamProject validates the project a transition stream subscribes to.
func (r *Router) streamProject(w http.ResponseWriter, req *http.Request) (string, bool) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, api.CodeInternal, "transition feed disabled")
		return "", false
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, api.CodeSchema, "project_id query parameter required")
		return "", false
	}
	if _, err := r.projects.Get(req.Context(), projectID); err != nil {
		r.writeFailure(w, req, err)
		return "", false
	}
	return projectID, true
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		done := r.metrics.begin(route)
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		done(req.Method, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := callerFrom(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if route == routeBuilderEvents {
			actor = "builder"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// verifyBuilderToken ensures builder callbacks include the configured secret.
func (r *Router) verifyBuilderToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.builderToken
	if expected == "" {
		r.logger.Error("builder token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "builder authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get(buildtrigger.BuilderTokenHeader))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("builder token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "invalid builder token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, api.CodeMethod, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, api.CodeNotFound, "route not found")
}

func decodeJSON(w http.ResponseWriter, req *http.Request, allowEmpty bool, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeSchema, "request body too large or unreadable")
		return false
	}
	if err := api.DecodeBody(string(body), allowEmpty, out); err != nil {
		writeJSON(w, http.StatusBadRequest, api.Schema(err.Error()))
		return false
	}
	return true
}

func pathSegments(rest string) []string {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func limitParam(req *http.Request) int {
	limit, err := strconv.Atoi(strings.TrimSpace(req.URL.Query().Get("limit")))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
