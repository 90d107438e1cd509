// Package server exposes the swarmline API: read endpoints over state
// snapshots and the live-update channel the editor extension uses instead
// of waiting for the file watcher.
package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"swarmline/internal/adapter"
	"swarmline/internal/domain"
	"swarmline/internal/state"
	"swarmline/internal/syncer"
)

// Config for the HTTP API handler.
type Config struct {
	Store    *state.Store
	Syncers  map[string]*syncer.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the swarmline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Swarmline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Store)
	registerStatus(group, cfg.Store, cfg.Syncers)
	registerTasks(group, cfg.Store)
	registerAgents(group, cfg.Store)
	registerSync(group, cfg.Syncers)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, adapter.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, state.ErrMalformedAction), errors.Is(err, state.ErrReentrantDispatch):
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not found"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "out of range"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

// adaptersFor binds the dispatch source to the authenticated principal so
// change records name the real producer.
func adaptersFor(ctx context.Context, s *state.Store) (adapter.Adapters, huma.StatusError) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return adapter.Adapters{}, authErr
	}
	return adapter.New(s, "api:"+actorID), nil
}

func registerHealth(api huma.API, s *state.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		body := map[string]string{"status": "ok"}
		for name, comp := range s.Snapshot().Health.Components {
			if !comp.Healthy {
				body["status"] = "degraded"
				body[name] = comp.Detail
			}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: body}, nil
	})
}

func registerStatus(api huma.API, s *state.Store, syncers map[string]*syncer.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		snap := s.Snapshot()
		resp := StatusResponse{
			Version:     snap.Version,
			LastUpdated: snap.LastUpdated,
			TaskCounts:  map[string]int{},
			AgentCounts: map[string]int{},
			Counters:    snap.Metrics.Counters,
		}
		for _, t := range snap.Tasks.Tasks {
			resp.TaskCounts[string(t.Status)]++
		}
		for _, a := range snap.Agents.Agents {
			resp.AgentCounts[string(a.Status)]++
		}
		names := make([]string, 0, len(syncers))
		for name := range syncers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := syncers[name].Status()
			resp.Sync = append(resp.Sync, SyncStatus{
				Root:     st.Root,
				Phase:    string(st.Phase),
				LastSync: st.LastSync,
				Degraded: st.Degraded,
			})
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTasks(api huma.API, s *state.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		tasks := adapter.Task{Store: s, Source: "api"}
		var items []domain.Task
		if input.Status != "" {
			status := domain.TaskStatus(input.Status)
			if !status.Valid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Status, nil)
			}
			items = tasks.ListByStatus(status)
		} else {
			items = tasks.List()
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := (adapter.Task{Store: s, Source: "api"}).ByID(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upsert-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create or update a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body TaskChangeRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		ads, authErr := adaptersFor(ctx, s)
		if authErr != nil {
			return nil, authErr
		}
		task, statusErr := taskFromChange(s, input.Body)
		if statusErr != nil {
			return nil, statusErr
		}
		if err := ads.Task.Upsert(task, input.Body.Reason); err != nil {
			return nil, handleError(err)
		}
		created, err := ads.Task.ByID(task.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Apply a partial task update",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TaskChangeRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ads, authErr := adaptersFor(ctx, s)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status != "" {
			status := domain.TaskStatus(input.Body.Status)
			if !status.Valid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Body.Status, nil)
			}
			if err := ads.Task.SetStatus(input.ID, status, input.Body.Reason); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Agent != "" {
			if err := ads.Task.Assign(input.ID, input.Body.Agent, input.Body.Reason); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Progress != nil {
			if err := ads.Task.SetProgress(input.ID, *input.Body.Progress, input.Body.Reason); err != nil {
				return nil, handleError(err)
			}
		}
		t, err := ads.Task.ByID(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		ads, authErr := adaptersFor(ctx, s)
		if authErr != nil {
			return nil, authErr
		}
		if err := ads.Task.Delete(input.ID, "api delete"); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// taskFromChange builds the upsert payload, preserving fields the request
// leaves empty when the task already exists.
func taskFromChange(s *state.Store, req TaskChangeRequest) (domain.Task, huma.StatusError) {
	task, err := (adapter.Task{Store: s, Source: "api"}).ByID(req.ID)
	if err != nil {
		task = domain.Task{ID: req.ID}
	}
	if req.Title != "" {
		task.Title = req.Title
	}
	if req.Description != "" {
		task.Description = req.Description
	}
	if req.Status != "" {
		status := domain.TaskStatus(req.Status)
		if !status.Valid() {
			return domain.Task{}, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+req.Status, nil)
		}
		task.Status = status
	}
	if req.Priority != "" {
		priority, perr := domain.ParsePriority(req.Priority)
		if perr != nil {
			return domain.Task{}, newAPIError(http.StatusBadRequest, "bad_request", perr.Error(), nil)
		}
		task.Priority = priority
	}
	if req.Progress != nil {
		task.Progress = *req.Progress
	}
	if req.Dependencies != nil {
		task.Dependencies = req.Dependencies
	}
	if req.Phase != "" {
		task.Phase = req.Phase
	}
	if req.Agent != "" {
		task.AssignedTo = req.Agent
	}
	if req.Estimate != "" {
		task.Estimate = req.Estimate
	}
	return task, nil
}

func registerAgents(api huma.API, s *state.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		agents := adapter.Agent{Store: s, Source: "api"}
		items := agents.List()
		out := make([]AgentResponse, 0, len(items))
		for _, a := range items {
			out = append(out, agentResponse(a))
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerSync(api huma.API, syncers map[string]*syncer.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-sync",
		Method:      http.MethodPost,
		Path:        "/sync/{root}",
		Summary:     "Run a sync round",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Root string `path:"root"`
	}) (*struct {
		Body syncer.Result `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		engine, ok := syncers[input.Root]
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown sync root "+input.Root, nil)
		}
		return &struct {
			Body syncer.Result `json:"body"`
		}{Body: engine.Sync()}, nil
	})
}
