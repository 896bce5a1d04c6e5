package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/specforge/internal/auth"
	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/gateway"
	"github.com/p-blackswan/specforge/internal/health"
	"github.com/p-blackswan/specforge/internal/ledger"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/orchestrator"
	"github.com/p-blackswan/specforge/internal/project"
	"github.com/p-blackswan/specforge/internal/review"
	"github.com/p-blackswan/specforge/internal/store"
	"github.com/p-blackswan/specforge/internal/tier"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.ChangeApproved
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev models.ChangeApproved) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type testEnv struct {
	app    *fiber.App
	store  *store.Store
	events *recordingDispatcher
	tokens map[string]string
}

func loginGateway() gateway.Func {
	return func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		if strings.Contains(req.Description, "explode") {
			return nil, perrors.NewAPIError("llm", 500, "boom")
		}
		if req.Context.Feedback != "" {
			return &gateway.Result{Files: map[string]string{req.Context.OriginFilePath: "revised\n"}}, nil
		}
		return &gateway.Result{
			Files: map[string]string{
				"src/auth.js":         "export const login = () => {}\n",
				"src/pages/Login.jsx": "export default function Login() {}\n",
			},
			Reasoning: "login form and auth helper",
		}, nil
	}
}

func newTestEnv(t *testing.T, rl RateLimitConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	orch := orchestrator.New(orchestrator.Config{Workers: 1, QueueSize: 10}, st, loginGateway(), tier.NewRouter(nil), m, logger)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	events := &recordingDispatcher{}
	resolver, err := auth.NewJWTResolver("test-secret", "specforge", time.Hour, st)
	require.NoError(t, err)

	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))

	srv := NewServer(ServerConfig{RateLimit: rl}, Services{
		Projects:     project.NewService(st, m, logger),
		Ledger:       ledger.New(st, m, logger),
		Orchestrator: orch,
		Review:       review.New(st, orch, events, m, logger),
		Resolver:     resolver,
		Health:       checker,
		Metrics:      m,
	}, logger)

	env := &testEnv{app: srv.App(), store: st, events: events, tokens: map[string]string{}}
	for _, u := range []*models.User{
		{ID: "alice", Email: "alice@example.com", Tier: models.TierPro},
		{ID: "bob", Email: "bob@example.com", Tier: models.TierFree},
	} {
		require.NoError(t, st.CreateUser(ctx, u))
		token, _, err := resolver.Issue(u)
		require.NoError(t, err)
		env.tokens[u.ID] = token
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createProject(t *testing.T, user, name string) *models.Project {
	t.Helper()
	resp := e.do(t, "POST", "/api/v1/projects", user, project.CreateInput{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[*models.Project](t, resp)
}

func TestServer_HealthEndpoints(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})

	resp := env.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, "GET", "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.do(t, "GET", "/api/v1/subscription", "alice", nil)
	resp = env.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "specforge_http_requests_total")
}

func TestServer_RequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})

	resp := env.do(t, "GET", "/api/v1/projects", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	p := decode[ProblemDetail](t, resp)
	assert.Equal(t, "unauthorized", p.Type)
	assert.Equal(t, "/api/v1/projects", p.Instance)

	req, _ := http.NewRequest("GET", "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_EchoesRequestID(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})

	req, _ := http.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	resp = env.do(t, "GET", "/healthz", "", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_ProjectLifecycle(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	p := env.createProject(t, "alice", "Todo App")
	assert.Equal(t, models.ProjectDraft, p.Status)
	assert.Equal(t, models.TierPro, p.Tier)

	resp := env.do(t, "GET", "/api/v1/projects", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	projects := decode[ListResponse[*models.Project]](t, resp)
	assert.Equal(t, 1, projects.Total)

	resp = env.do(t, "PATCH", "/api/v1/projects/"+p.ID, "alice", map[string]string{"name": "Todo Pro"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Todo Pro", decode[*models.Project](t, resp).Name)

	resp = env.do(t, "GET", "/api/v1/projects/"+p.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, "GET", "/api/v1/projects/"+p.ID+"/summary", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, decode[project.Summary](t, resp).SpecDocuments)

	resp = env.do(t, "DELETE", "/api/v1/projects/"+p.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, "GET", "/api/v1/projects/"+p.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_FreeTierProjectLimit(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	env.createProject(t, "bob", "First")

	resp := env.do(t, "POST", "/api/v1/projects", "bob", project.CreateInput{Name: "Second"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	p := decode[ProblemDetail](t, resp)
	assert.Equal(t, "Project limit reached for free tier. Please upgrade your subscription.", p.Detail)

	resp = env.do(t, "GET", "/api/v1/subscription", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decode[project.Subscription](t, resp)
	assert.Equal(t, 1, sub.ProjectsCount)
	require.NotNil(t, sub.ProjectsLimit)
	assert.Equal(t, 1, *sub.ProjectsLimit)
}

func TestServer_SpecEditAndRollback(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	p := env.createProject(t, "alice", "Todo App")
	base := "/api/v1/projects/" + p.ID + "/specs/design"

	resp := env.do(t, "GET", base, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	original := decode[*models.SpecDocument](t, resp)
	assert.Equal(t, 1, original.Version)

	resp = env.do(t, "PUT", base, "alice", UpdateSpecRequest{Content: "# Design v2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[*models.SpecDocument](t, resp).Version)

	resp = env.do(t, "GET", base+"/versions", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	versions := decode[ListResponse[*models.SpecVersion]](t, resp)
	require.Equal(t, 1, versions.Total)
	assert.Equal(t, 1, versions.Items[0].Version)

	resp = env.do(t, "POST", base+"/rollback", "alice", RollbackRequest{VersionID: versions.Items[0].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	restored := decode[*models.SpecDocument](t, resp)
	assert.Equal(t, 3, restored.Version)
	assert.Equal(t, original.Content, restored.Content)

	resp = env.do(t, "POST", base+"/rollback", "alice", RollbackRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/api/v1/projects/"+p.ID+"/specs/unknown", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_TaskReviewFlow(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	p := env.createProject(t, "alice", "Todo App")

	resp := env.do(t, "POST", "/api/v1/projects/"+p.ID+"/tasks", "alice",
		SubmitTaskRequest{Capability: models.CapabilityDesign, Description: "add login"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[*models.Task](t, resp)
	assert.Equal(t, models.TaskCompleted, task.Status)

	resp = env.do(t, "GET", "/api/v1/projects/"+p.ID+"/changes/pending", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[ListResponse[*models.CodeChange]](t, resp)
	require.Equal(t, 2, pending.Total)

	first, second := pending.Items[0], pending.Items[1]

	resp = env.do(t, "POST", "/api/v1/changes/"+first.ID+"/approve", "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, "POST", "/api/v1/changes/"+first.ID+"/approve", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decode[*models.CodeChange](t, resp)
	require.NotNil(t, approved.Approved)
	assert.True(t, *approved.Approved)
	assert.Equal(t, 1, env.events.count())

	resp = env.do(t, "POST", "/api/v1/changes/"+first.ID+"/reject", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, "POST", "/api/v1/changes/"+second.ID+"/modify", "alice", ModifyRequest{Feedback: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "POST", "/api/v1/changes/"+second.ID+"/modify", "alice", ModifyRequest{Feedback: "use hooks"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	revision := decode[*models.Task](t, resp)
	assert.Equal(t, second.ID, revision.OriginChangeID)

	resp = env.do(t, "GET", "/api/v1/tasks/"+revision.ID+"/changes", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revised := decode[ListResponse[*models.CodeChange]](t, resp)
	require.Equal(t, 1, revised.Total)
	assert.Equal(t, second.FilePath, revised.Items[0].FilePath)
	assert.Equal(t, models.ChangeModify, revised.Items[0].Kind)

	resp = env.do(t, "GET", "/api/v1/projects/"+p.ID+"/tasks", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[ListResponse[*models.Task]](t, resp).Total)
}

func TestServer_GenerationFailureReportsTask(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	p := env.createProject(t, "alice", "Todo App")

	resp := env.do(t, "POST", "/api/v1/projects/"+p.ID+"/tasks", "alice",
		SubmitTaskRequest{Capability: models.CapabilityDesign, Description: "explode"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	prob := decode[ProblemDetail](t, resp)
	assert.Equal(t, "generation_failed", prob.Type)
	require.NotEmpty(t, prob.TaskID)

	resp = env.do(t, "GET", "/api/v1/tasks/"+prob.TaskID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.TaskFailed, decode[*models.Task](t, resp).Status)
}

func TestServer_AsyncSubmit(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	p := env.createProject(t, "alice", "Todo App")

	resp := env.do(t, "POST", "/api/v1/projects/"+p.ID+"/tasks?async=true", "alice",
		SubmitTaskRequest{Capability: models.CapabilityDesign, Description: "add login"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	task := decode[*models.Task](t, resp)

	require.Eventually(t, func() bool {
		got, err := env.store.GetTask(context.Background(), task.ID)
		return err == nil && got.Status == models.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{RPS: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		resp := env.do(t, "GET", "/api/v1/subscription", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, "GET", "/api/v1/subscription", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Health endpoints are never limited.
	resp = env.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	resp := env.do(t, "GET", "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	p := decode[ProblemDetail](t, resp)
	assert.Equal(t, "http_error", p.Type)
}

func TestErrorResponse_HidesInternalCause(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return errorResponse(c, perrors.Internal("store.GetTask", errors.New("disk on fire")))
	})
	resp, err := app.Test(httptestRequest("GET", "/"), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	p := decode[ProblemDetail](t, resp)
	assert.Equal(t, "An internal error occurred", p.Detail)
}

func TestTokenBucket(t *testing.T) {
	now := time.Now()
	b := newTokenBucket(1, 2, now)
	assert.True(t, b.allow(now))
	assert.True(t, b.allow(now))
	assert.False(t, b.allow(now))
	assert.True(t, b.allow(now.Add(1100*time.Millisecond)))
}

func TestRateLimiter_ExportsCacheMetrics(t *testing.T) {
	m := metrics.New()
	rl := newRateLimiter(RateLimitConfig{RPS: 10, Burst: 5}, m)
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
	assert.Equal(t, 1.0/3, rl.clients.Metrics().HitRate())

	// Idle clients expire on their next lookup.
	clock = clock.Add(idleClientTTL + time.Second)
	assert.True(t, rl.allow("10.0.0.1"))

	body := scrape(t, m)
	assert.Contains(t, body, "specforge_ratelimit_clients 2")
	assert.Contains(t, body, "specforge_ratelimit_cache_hit_ratio 0.25")
	assert.Contains(t, body, "specforge_ratelimit_evictions_total 1")
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func httptestRequest(method, path string) *http.Request {
	req, _ := http.NewRequest(method, path, nil)
	return req
}
