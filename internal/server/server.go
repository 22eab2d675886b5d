package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"todome/internal/batch"
	"todome/internal/domain"
	"todome/internal/engine"
	"todome/internal/parse"
	"todome/internal/repo"
	"todome/internal/snapshot"
	"todome/internal/undo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Undo     *undo.Service
	Batch    *batch.Executor
	BasePath string
	Auth     AuthConfig
	Log      *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"VALIDATION_ERROR"`
	Message string         `json:"message" example:"title is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the todome API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request problems read as 400; 422 is reserved
			// for domain validation.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("todome API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg)
	registerBatch(group, cfg)
	registerUndo(group, cfg)
	registerProjects(group, cfg)
	registerTags(group, cfg)
	registerSearch(group, cfg)
	registerActivity(group, cfg)
	registerParse(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
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
	var ae *batch.AtomicError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusUnprocessableEntity, "BATCH_ATOMIC_FAILED", ae.Error(), map[string]any{
			"failedIndex": ae.Index,
			"code":        batch.ErrorCode(ae.Err),
		})
	}
	switch {
	case errors.Is(err, undo.ErrTokenNotFound):
		return newAPIError(http.StatusNotFound, "TOKEN_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, undo.ErrPermissionDenied), errors.Is(err, repo.ErrPermissionDenied):
		return newAPIError(http.StatusForbidden, "PERMISSION_DENIED", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, batch.ErrLimitExceeded):
		return newAPIError(http.StatusUnprocessableEntity, "BATCH_LIMIT_EXCEEDED", err.Error(), nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "INTERNAL", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// issueToken wraps token creation after a committed mutation. Issuance
// trouble is logged and the response simply carries no token; the mutation
// itself already happened.
func issueToken(ctx context.Context, cfg Config, kind, ownerID string, entries ...snapshot.Entry) *undo.Token {
	if cfg.Undo == nil {
		return nil
	}
	token, err := cfg.Undo.CreateToken(ctx, kind, ownerID, entries)
	if err != nil {
		cfg.logger().Warn("undo token issuance failed", "kind", kind, "err", err)
		return nil
	}
	return &token
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>todome API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTasks(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			Title:  input.Body.Title,
			TagIDs: input.Body.TagIDs,
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.ProjectID != nil {
			opts.ProjectID = *input.Body.ProjectID
		}
		if input.Body.Status != nil {
			opts.Status = *input.Body.Status
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		if input.Body.DueTime != nil {
			opts.DueTime = *input.Body.DueTime
		}
		if input.Body.Recurring != nil {
			opts.Recurring = *input.Body.Recurring
		}
		if input.Body.RecurrenceRule != nil {
			opts.RecurrenceRule = *input.Body.RecurrenceRule
		}
		if input.Body.RecurrenceType != nil {
			opts.RecurrenceType = *input.Body.RecurrenceType
		}
		if input.Body.RecurrenceEndDate != nil {
			opts.RecurrenceEndDate = *input.Body.RecurrenceEndDate
		}
		t, err := e.CreateTask(ctx, ownerID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskUndoResponse `json:"body"`
		}{Body: TaskUndoResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "quick-add-task",
		Method:        http.MethodPost,
		Path:          "/tasks/quickadd",
		Summary:       "Create task from quick-add input",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body QuickAddRequest `json:"body"`
	}) (*struct {
		Body QuickAddResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, parsed, err := e.QuickAdd(ctx, ownerID, input.Body.Input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuickAddResponse `json:"body"`
		}{Body: QuickAddResponse{Task: t, Parsed: parsed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" enum:"pending,in_progress,completed,"`
		ProjectID   string `query:"projectId"`
		TagID       string `query:"tagId"`
		PriorityMin int    `query:"priorityMin"`
		PriorityMax int    `query:"priorityMax"`
		Search      string `query:"search"`
		DueBefore   string `query:"dueBefore"`
		DueAfter    string `query:"dueAfter"`
		OrderBy     string `query:"orderBy" enum:"position,due,created,"`
		Limit       int    `query:"limit" default:"50"`
		Offset      int    `query:"offset"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, total, err := e.ListTasks(ctx, ownerID, engine.TaskListOptions{
			Status:      input.Status,
			ProjectID:   input.ProjectID,
			TagID:       input.TagID,
			PriorityMin: input.PriorityMin,
			PriorityMax: input.PriorityMax,
			Search:      input.Search,
			DueBefore:   input.DueBefore,
			DueAfter:    input.DueAfter,
			OrderBy:     input.OrderBy,
			Limit:       normalizeLimit(input.Limit),
			Offset:      input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: emptyIfNil(tasks), Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "today-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/today",
		Summary:     "Tasks due today or overdue",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskItemsResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.TodayTasks(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskItemsResponse `json:"body"`
		}{Body: TaskItemsResponse{Items: emptyIfNil(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/upcoming",
		Summary:     "Tasks due in the coming days",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" default:"7" minimum:"1" maximum:"365"`
	}) (*struct {
		Body TaskItemsResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.UpcomingTasks(ctx, ownerID, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskItemsResponse `json:"body"`
		}{Body: TaskItemsResponse{Items: emptyIfNil(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/overdue",
		Summary:     "Tasks past their due date",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskItemsResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.OverdueTasks(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskItemsResponse `json:"body"`
		}{Body: TaskItemsResponse{Items: emptyIfNil(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, prior, err := e.UpdateTask(ctx, ownerID, input.ID, engine.TaskUpdateOptions{
			Title:             input.Body.Title,
			Description:       input.Body.Description,
			ProjectID:         input.Body.ProjectID,
			Priority:          input.Body.Priority,
			DueDate:           input.Body.DueDate,
			DueTime:           input.Body.DueTime,
			TagIDs:            input.Body.TagIDs,
			Position:          input.Body.Position,
			Recurring:         input.Body.Recurring,
			RecurrenceRule:    input.Body.RecurrenceRule,
			RecurrenceType:    input.Body.RecurrenceType,
			RecurrenceEndDate: input.Body.RecurrenceEndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskUndoResponse `json:"body"`
		}{Body: TaskUndoResponse{
			Task: t,
			Undo: issueToken(ctx, cfg, undo.KindTaskUpdate, ownerID, snapshot.TaskEntry(prior)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeletedTaskResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prior, err := e.DeleteTask(ctx, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedTaskResponse `json:"body"`
		}{Body: DeletedTaskResponse{
			DeletedTaskID: input.ID,
			Undo:          issueToken(ctx, cfg, undo.KindTaskDelete, ownerID, snapshot.TaskEntry(prior)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Change task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, spawned, snap, err := e.ChangeTaskStatus(ctx, ownerID, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskUndoResponse `json:"body"`
		}{Body: TaskUndoResponse{
			Task:        t,
			SpawnedTask: spawned,
			Undo:        issueToken(ctx, cfg, undo.KindTaskStatusChange, ownerID, snapshot.StatusEntry(snap)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/reschedule",
		Summary:     "Move a task's due date",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RescheduleRequest `json:"body"`
	}) (*struct {
		Body TaskUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, prior, err := e.RescheduleTask(ctx, ownerID, input.ID, input.Body.DueDate, input.Body.DueTime)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskUndoResponse `json:"body"`
		}{Body: TaskUndoResponse{
			Task: t,
			Undo: issueToken(ctx, cfg, undo.KindTaskUpdate, ownerID, snapshot.TaskEntry(prior)),
		}}, nil
	})
}

func registerBatch(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "batch-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/batch",
		Summary:     "Execute a batch of task mutations",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body BatchRequest `json:"body"`
	}) (*struct {
		Body batch.Result `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := cfg.Batch.Execute(ctx, ownerID, input.Body.Operations, input.Body.Atomic)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body batch.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerUndo(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "peek-undo-token",
		Method:      http.MethodGet,
		Path:        "/undo/{token}",
		Summary:     "Inspect an undo token without consuming it",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body TokenPeekResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		token, err := cfg.Undo.PeekToken(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		expiresIn := int(time.Until(token.ExpiresAt).Seconds())
		if expiresIn < 0 {
			expiresIn = 0
		}
		return &struct {
			Body TokenPeekResponse `json:"body"`
		}{Body: TokenPeekResponse{
			Token:         token.ID,
			OperationKind: token.Kind,
			CreatedAt:     token.CreatedAt.Format(time.RFC3339),
			ExpiresAt:     token.ExpiresAt.Format(time.RFC3339),
			ExpiresIn:     expiresIn,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-undo",
		Method:      http.MethodPost,
		Path:        "/undo/{token}",
		Summary:     "Redeem an undo token",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body undo.Result `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := cfg.Undo.ExecuteUndo(ctx, ownerID, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body undo.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerProjects(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProjectCreateOptions{Name: input.Body.Name}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		p, err := e.CreateProject(ctx, ownerID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectUndoResponse `json:"body"`
		}{Body: ProjectUndoResponse{Project: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		IncludeArchived bool `query:"includeArchived"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, ownerID, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Project{}
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: ProjectListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, prior, err := e.UpdateProject(ctx, ownerID, input.ID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ParentID:    input.Body.ParentID,
			Position:    input.Body.Position,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectUndoResponse `json:"body"`
		}{Body: ProjectUndoResponse{
			Project: p,
			Undo:    issueToken(ctx, cfg, undo.KindProjectUpdate, ownerID, snapshot.ProjectEntry(prior)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeletedProjectResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prior, err := e.DeleteProject(ctx, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedProjectResponse `json:"body"`
		}{Body: DeletedProjectResponse{
			DeletedProjectID: input.ID,
			Undo:             issueToken(ctx, cfg, undo.KindProjectDelete, ownerID, snapshot.ProjectEntry(prior)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/archive",
		Summary:     "Archive project",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, prior, err := e.ArchiveProject(ctx, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectUndoResponse `json:"body"`
		}{Body: ProjectUndoResponse{
			Project: p,
			Undo:    issueToken(ctx, cfg, undo.KindProjectArchive, ownerID, snapshot.ProjectEntry(prior)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unarchive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/unarchive",
		Summary:     "Unarchive project",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectUndoResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, prior, err := e.UnarchiveProject(ctx, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectUndoResponse `json:"body"`
		}{Body: ProjectUndoResponse{
			Project: p,
			Undo:    issueToken(ctx, cfg, undo.KindProjectUpdate, ownerID, snapshot.ProjectEntry(prior)),
		}}, nil
	})
}

func registerTags(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/tags",
		Summary:     "List tags",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TagListResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTags(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Tag{}
		}
		return &struct {
			Body TagListResponse `json:"body"`
		}{Body: TagListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/tags",
		Summary:       "Create tag (idempotent by name)",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTagRequest `json:"body"`
	}) (*struct {
		Body domain.Tag `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tag, err := e.EnsureTag(ctx, ownerID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tag `json:"body"`
		}{Body: tag}, nil
	})
}

func registerSearch(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "search-tasks",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Full-text task search",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Q     string `query:"q"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body TaskItemsResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := cfg.Engine.SearchTasks(ctx, ownerID, input.Q, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskItemsResponse `json:"body"`
		}{Body: TaskItemsResponse{Items: emptyIfNil(tasks)}}, nil
	})
}

func registerActivity(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Recent activity, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		ownerID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := cfg.Engine.ListActivity(ctx, ownerID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: ActivityResponse{Items: mapEvents(items)}}, nil
	})
}

func registerParse(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "parse-quick-add",
		Method:      http.MethodPost,
		Path:        "/parse",
		Summary:     "Preview quick-add parsing without creating a task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body QuickAddRequest `json:"body"`
	}) (*struct {
		Body parse.ParsedInput `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body parse.ParsedInput `json:"body"`
		}{Body: cfg.Engine.ParsePreview(input.Body.Input)}, nil
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
