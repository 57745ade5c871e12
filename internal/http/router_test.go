package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/buildor/internal/api"
	"github.com/splax/buildor/internal/buildtrigger"
	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/events"
	"github.com/splax/buildor/internal/repository/memory"
	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
	"github.com/splax/buildor/internal/ws"
	jwtpkg "github.com/splax/buildor/pkg/jwt"
)

const testBuilderToken = "builder-secret"

type stubTrigger struct {
	jobID string
}

func (s stubTrigger) StartBuild(context.Context, buildtrigger.BuildRequest) (string, error) {
	return s.jobID, nil
}

type testEnv struct {
	router *Router
	store  *memory.Store
	hub    *ws.Hub
}

func newTestEnv(t *testing.T, jwtSecret string) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	hub := ws.NewHub(logger)
	deploySvc := deploy.New(store, store, stubTrigger{jobID: "J1"}, nil, logger, deploy.Config{JobDefinition: "App-Building-SPAs"}).
		WithNotifier(hub)
	router := NewRouter(logger, Dependencies{
		Projects:     project.New(store, logger),
		Deploy:       deploySvc,
		Dispatcher:   events.NewDispatcher(deploySvc, 3, time.Millisecond, logger),
		Hub:          hub,
		BuilderToken: testBuilderToken,
		JWTSecret:    jwtSecret,
		Registry:     prometheus.NewRegistry(),
	})
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return testEnv{router: router, store: store, hub: hub}
}

func (e testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) createProject(t *testing.T, headers map[string]string) api.Project {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/projects", `{"name":"site","repository":"https://github.com/acme/site.git"}`, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p api.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	return p
}

func (e testEnv) createDeployment(t *testing.T, projectID string) deploy.Receipt {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/project-deployments", `{"project_uuid":"`+projectID+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create deployment: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var receipt deploy.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	return receipt
}

func builderEvent(phase, status string) string {
	raw, _ := json.Marshal(events.BuilderCallback{JobID: "J1", Phase: phase, PhaseStatus: status, Timestamp: time.Now().UTC()})
	return string(raw)
}

func TestProjectRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createProject(t, nil)
	if p.OutputFolder != domain.DefaultOutputFolder {
		t.Fatalf("expected default output folder, got %q", p.OutputFolder)
	}

	rec := env.do(t, http.MethodGet, "/projects/"+p.UUID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get project: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing cors header")
	}

	rec = env.do(t, http.MethodGet, "/projects/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body api.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Code != api.CodeNotFound {
		t.Fatalf("unexpected error body %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/projects", `{"name":""}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeploymentRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createProject(t, nil)
	receipt := env.createDeployment(t, p.UUID)
	if receipt.Status != domain.StatusPending || receipt.BuildJobID != "J1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	rec := env.do(t, http.MethodGet, "/project-deployments/"+receipt.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/projects/"+p.UUID+"/deployments/"+receipt.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scoped status: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/project-deployments/"+receipt.ID+"?project_id=other", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign project: expected 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/projects/"+p.UUID+"/deployments", "", nil)
	var list api.List[domain.Snapshot]
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Items[0].ID != receipt.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = env.do(t, http.MethodPost, "/project-deployments", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing project: expected 400, got %d", rec.Code)
	}
}

func TestBuilderEventsDriveLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createProject(t, nil)
	receipt := env.createDeployment(t, p.UUID)
	headers := map[string]string{buildtrigger.BuilderTokenHeader: testBuilderToken}

	for _, phase := range []string{"SUBMITTED", "BUILD", "FINALIZING"} {
		rec := env.do(t, http.MethodPost, "/builder/events", builderEvent(phase, "SUCCEEDED"), headers)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("phase %s: expected 202, got %d: %s", phase, rec.Code, rec.Body.String())
		}
	}
	d, err := env.store.GetDeploymentByID(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if d.Status != domain.StatusSucceeded {
		t.Fatalf("expected Succeeded, got %s", d.Status)
	}

	rec := env.do(t, http.MethodPost, "/builder/events", builderEvent("BUILD", "FAILED"), headers)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("late failure should be acknowledged, got %d", rec.Code)
	}
	d, _ = env.store.GetDeploymentByID(context.Background(), receipt.ID)
	if d.Status != domain.StatusSucceeded {
		t.Fatalf("terminal status overwritten: %s", d.Status)
	}
}

func TestBuilderEventsRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/builder/events", builderEvent("BUILD", "SUCCEEDED"), map[string]string{buildtrigger.BuilderTokenHeader: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/builder/events", builderEvent("COMPILE", "SUCCEEDED"), map[string]string{buildtrigger.BuilderTokenHeader: testBuilderToken})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown phase: expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/builder/events", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	env := newTestEnv(t, "jwt-secret")
	rec := env.do(t, http.MethodGet, "/projects", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	signer := jwtpkg.NewSigner("jwt-secret")
	readToken, err := signer.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/projects", `{"name":"site","repository":"https://github.com/acme/site.git"}`,
		map[string]string{"Authorization": "Bearer " + readToken})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read-only token: expected 403, got %d", rec.Code)
	}
	token, err := signer.Issue("user-1", time.Minute, jwtpkg.ScopeRead, jwtpkg.ScopeWrite)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	env.createProject(t, headers)
	rec = env.do(t, http.MethodGet, "/projects", "", headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers")
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t, "")
	env.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	env.router.dbHealth = func(context.Context) error { return nil }
	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodGet, "/projects", "", nil)
	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "buildor_api_http_requests_total") {
		t.Fatalf("request counter missing from metrics output")
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	q := Quota{Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		if d := rl.Allow(context.Background(), "ip:1", q); !d.Allowed {
			t.Fatalf("request %d should pass", i)
		}
	}
	d := rl.Allow(context.Background(), "ip:1", q)
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("third request should be limited, got %+v", d)
	}
	if d := rl.Allow(context.Background(), "ip:2", q); !d.Allowed {
		t.Fatalf("other keys have their own window")
	}

	now = now.Add(memorySweepEvery + time.Minute)
	if d := rl.Allow(context.Background(), "ip:1", q); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("new window should reset, got %+v", d)
	}
	if _, ok := rl.windows["ip:2"]; ok {
		t.Fatalf("expired window should be swept")
	}
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	env := newTestEnv(t, "")
	limited := env.router.limit("/test", Quota{Limit: 1, Window: time.Minute}, ipKey, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		limited(rec, req)
		return rec
	}
	if rec := call(); rec.Code != http.StatusNoContent {
		t.Fatalf("first call: expected 204, got %d", rec.Code)
	}
	rec := call()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}
}

func TestDeploymentsWebsocketFeed(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createProject(t, nil)
	receipt := env.createDeployment(t, p.UUID)

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deployments?project_id=" + p.UUID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	// registration completes after the upgrade response is written
	time.Sleep(50 * time.Millisecond)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/builder/events", bytes.NewBufferString(builderEvent("BUILD", "SUCCEEDED")))
	req.Header.Set(buildtrigger.BuilderTokenHeader, testBuilderToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()

	// The Pending snapshot is replayed on connect; the live transition follows it.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seen []domain.Snapshot
	for len(seen) < 2 {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read transition: %v", err)
		}
		var snap domain.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			t.Fatalf("decode transition: %v", err)
		}
		seen = append(seen, snap)
	}
	if seen[0].ID != receipt.ID || seen[0].Status != domain.StatusPending {
		t.Fatalf("expected replayed pending snapshot, got %+v", seen[0])
	}
	if seen[1].ID != receipt.ID || seen[1].Status != domain.StatusBuilding || seen[1].Phase != domain.PhaseBuild {
		t.Fatalf("unexpected transition %+v", seen[1])
	}
}

func TestStreamRequiresKnownProject(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/ws/deployments", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/sse/deployments?project_id=missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type blockingTrigger struct {
	deadline chan bool
}

func (b blockingTrigger) StartBuild(ctx context.Context, _ buildtrigger.BuildRequest) (string, error) {
	_, ok := ctx.Deadline()
	b.deadline <- ok
	<-ctx.Done()
	return "", ctx.Err()
}

func TestHandlerTimeoutBoundsIntake(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	trigger := blockingTrigger{deadline: make(chan bool, 1)}
	deploySvc := deploy.New(store, store, trigger, nil, logger, deploy.Config{JobDefinition: "App-Building-SPAs"})
	router := NewRouter(logger, Dependencies{
		Projects:       project.New(store, logger),
		Deploy:         deploySvc,
		Dispatcher:     events.NewDispatcher(deploySvc, 1, time.Millisecond, logger),
		HandlerTimeout: 50 * time.Millisecond,
		Registry:       prometheus.NewRegistry(),
	})
	defer router.Close()
	env := testEnv{router: router, store: store}
	p := env.createProject(t, nil)

	start := time.Now()
	rec := env.do(t, http.MethodPost, "/project-deployments", `{"project_uuid":"`+p.UUID+`"}`, nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("intake should be cut off by the handler timeout, took %s", elapsed)
	}
	if !<-trigger.deadline {
		t.Fatalf("trigger context should carry a deadline")
	}
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 after the trigger timed out, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRootAndUnknownPaths(t *testing.T) {
	env := newTestEnv(t, "")
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := env.do(t, method, "/", "", nil)
		var body api.Root
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &body) != nil || body.Message != "Buildor API" {
			t.Fatalf("%s /: unexpected response %d %s", method, rec.Code, rec.Body.String())
		}
	}
	rec := env.do(t, http.MethodGet, "/nope", "", nil)
	var body api.ErrorBody
	if rec.Code != http.StatusNotFound || json.Unmarshal(rec.Body.Bytes(), &body) != nil || body.Code != api.CodeNotFound {
		t.Fatalf("unknown path: unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestUserRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/users", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("users without a service: expected 404, got %d", rec.Code)
	}

	users := user.New(env.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.router.users = &users
	rec = env.do(t, http.MethodPost, "/users", `{"fname":"Grace","lname":"Hopper"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/users", `{"fname":"","lname":"Hopper"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid user: expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/users", "", nil)
	var list api.List[api.User]
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if list.Count != 1 || list.Items[0].FirstName != "Grace" {
		t.Fatalf("unexpected users %+v", list)
	}
}
