package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"swarmline/internal/adapter"
	"swarmline/internal/domain"
	"swarmline/internal/state"
	"swarmline/internal/syncer"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*state.Store, http.Handler) {
	t.Helper()
	s := state.New()
	h, err := New(Config{
		Store:   s,
		Syncers: map[string]*syncer.Engine{},
		Auth:    AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, h
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/v0/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/v0/tasks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}

func TestTokenSignedWithWrongSecretIsRejected(t *testing.T) {
	_, h := newTestServer(t)
	claims := jwt.RegisteredClaims{Subject: "editor", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, h, http.MethodGet, "/v0/tasks", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLiveUpdateCreatesTask(t *testing.T) {
	s, h := newTestServer(t)
	token := signToken(t, "editor-1")

	rec := doJSON(t, h, http.MethodPost, "/v0/tasks", token, TaskChangeRequest{
		ID:       "t-1",
		Title:    "wire the parser",
		Status:   "pending",
		Priority: "high",
		Reason:   "created in editor",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := (adapter.Task{Store: s, Source: "test"}).ByID("t-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "wire the parser" || got.Priority != domain.PriorityHigh {
		t.Fatalf("task = %+v", got)
	}

	changes := s.Changes()
	last := changes[len(changes)-1]
	if last.Action.Metadata().Source != "api:editor-1" {
		t.Fatalf("source = %q", last.Action.Metadata().Source)
	}
}

func TestPatchUpdatesStatusAndAssignee(t *testing.T) {
	s, h := newTestServer(t)
	token := signToken(t, "editor-1")

	tasks := adapter.Task{Store: s, Source: "test"}
	if err := tasks.Upsert(domain.Task{ID: "t-1", Title: "triage", Status: domain.TaskPending, Priority: domain.PriorityMedium}, "seed"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPatch, "/v0/tasks/t-1", token, TaskChangeRequest{
		Status: "in_progress",
		Agent:  "agent-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := tasks.ByID("t-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskInProgress || got.AssignedTo != "agent-7" {
		t.Fatalf("task = %+v", got)
	}
}

func TestGetMissingTaskReturns404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/v0/tasks/nope", signToken(t, "editor-1"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUpsertRejectsUnknownStatus(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v0/tasks", signToken(t, "editor-1"), TaskChangeRequest{
		ID:     "t-1",
		Title:  "bad",
		Status: "done-ish",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStatusCountsTasksAndAgents(t *testing.T) {
	s, h := newTestServer(t)
	ads := adapter.New(s, "test")
	if err := ads.Task.Upsert(domain.Task{ID: "t-1", Title: "a", Status: domain.TaskPending, Priority: domain.PriorityLow}, ""); err != nil {
		t.Fatal(err)
	}
	if err := ads.Task.Upsert(domain.Task{ID: "t-2", Title: "b", Status: domain.TaskCompleted, Priority: domain.PriorityLow}, ""); err != nil {
		t.Fatal(err)
	}
	if err := ads.Agent.Register(domain.Agent{ID: "a-1", Name: "coder", Status: domain.AgentIdle}, ""); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/v0/status", signToken(t, "editor-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.TaskCounts["pending"] != 1 || body.TaskCounts["completed"] != 1 {
		t.Fatalf("task counts = %+v", body.TaskCounts)
	}
	if body.AgentCounts["idle"] != 1 {
		t.Fatalf("agent counts = %+v", body.AgentCounts)
	}
	if body.Version == 0 {
		t.Fatal("version not advanced")
	}
}

func TestUnknownSyncRootReturns404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v0/sync/nope", signToken(t, "editor-1"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
