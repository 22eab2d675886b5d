package todomesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal todome HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID sets the X-User-Id header for servers running with
	// allow_user_header. Ignored when BearerToken is set.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "api/v1",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	ProjectID   *string  `json:"projectId"`
	DueDate     *string  `json:"dueDate"`
	DueTime     *string  `json:"dueTime"`
	TagIDs      []string `json:"tagIds"`
	Recurring   bool     `json:"recurring"`
	CompletedAt *string  `json:"completedAt"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

// Project represents the API project model (partial).
type Project struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
	Archived bool    `json:"archived"`
}

// Tag is an owner-scoped label.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UndoToken names a single-use revert handle.
type UndoToken struct {
	Token         string `json:"token"`
	OperationKind string `json:"operationKind"`
	CreatedAt     string `json:"createdAt"`
	ExpiresAt     string `json:"expiresAt"`
}

// UndoResult reports what a redeemed token restored.
type UndoResult struct {
	OperationKind  string    `json:"operationKind"`
	Tasks          []Task    `json:"tasks"`
	Projects       []Project `json:"projects"`
	RemovedTaskIDs []string  `json:"removedTaskIds"`
	Warnings       []string  `json:"warnings"`
}

// TaskResult is a mutated task plus its undo token.
type TaskResult struct {
	Task        Task       `json:"task"`
	SpawnedTask *Task      `json:"spawnedTask"`
	Undo        *UndoToken `json:"undo"`
}

// DeleteResult reports a deletion plus its undo token.
type DeleteResult struct {
	DeletedTaskID    string     `json:"deletedTaskId"`
	DeletedProjectID string     `json:"deletedProjectId"`
	Undo             *UndoToken `json:"undo"`
}

// BatchOperation is one entry of a batch call.
type BatchOperation struct {
	Action string         `json:"action"`
	TaskID string         `json:"taskId,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// BatchEntryResult is the per-operation outcome.
type BatchEntryResult struct {
	Index      int    `json:"index"`
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Task       *Task  `json:"task,omitempty"`
	RolledBack bool   `json:"rolledBack,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// BatchResult is the whole batch outcome.
type BatchResult struct {
	Total      int                `json:"total"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Atomic     bool               `json:"atomic"`
	Entries    []BatchEntryResult `json:"entries"`
	Undo       *UndoToken         `json:"undo"`
	Warnings   []string           `json:"warnings"`
}

// Event is an activity log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses, decoding the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task from arbitrary fields (title is required).
func (c *Client) CreateTask(ctx context.Context, fields map[string]any) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks"), fields, &resp)
	return resp, err
}

// QuickAdd creates a task from one natural-language line.
func (c *Client) QuickAdd(ctx context.Context, input string) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks/quickadd"), map[string]any{"input": input}, &resp)
	return resp, err
}

// ListTasks lists tasks; filters are query parameters like status or projectId.
func (c *Client) ListTasks(ctx context.Context, filters map[string]string) ([]Task, int, error) {
	var resp struct {
		Items []Task `json:"items"`
		Total int    `json:"total"`
	}
	endpoint := c.apiPath("tasks") + queryString(filters)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, resp.Total, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.apiPath("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// UpdateTask applies a sparse update; omitted fields stay unchanged.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPatch, c.apiPath("tasks/"+url.PathEscape(id)), fields, &resp)
	return resp, err
}

// DeleteTask removes a task and returns the undo token.
func (c *Client) DeleteTask(ctx context.Context, id string) (DeleteResult, error) {
	var resp DeleteResult
	err := c.do(ctx, http.MethodDelete, c.apiPath("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CompleteTask marks a task completed. For recurring tasks the result carries
// the spawned follow-up.
func (c *Client) CompleteTask(ctx context.Context, id string) (TaskResult, error) {
	return c.SetTaskStatus(ctx, id, "completed")
}

// SetTaskStatus changes a task's status.
func (c *Client) SetTaskStatus(ctx context.Context, id, status string) (TaskResult, error) {
	var resp TaskResult
	endpoint := c.apiPath("tasks/" + url.PathEscape(id) + "/status")
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Reschedule moves a task's due date. Nil leaves a part unchanged; an empty
// string clears it.
func (c *Client) Reschedule(ctx context.Context, id string, dueDate, dueTime *string) (TaskResult, error) {
	body := map[string]any{}
	if dueDate != nil {
		body["dueDate"] = *dueDate
	}
	if dueTime != nil {
		body["dueTime"] = *dueTime
	}
	var resp TaskResult
	endpoint := c.apiPath("tasks/" + url.PathEscape(id) + "/reschedule")
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Batch executes up to the server's limit of operations in one call.
func (c *Client) Batch(ctx context.Context, operations []BatchOperation, atomic bool) (BatchResult, error) {
	body := map[string]any{"operations": operations, "atomic": atomic}
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks/batch"), body, &resp)
	return resp, err
}

// Undo redeems a token. Tokens are single use.
func (c *Client) Undo(ctx context.Context, token string) (UndoResult, error) {
	var resp UndoResult
	err := c.do(ctx, http.MethodPost, c.apiPath("undo/"+url.PathEscape(token)), nil, &resp)
	return resp, err
}

// PeekUndo inspects a token without consuming it.
func (c *Client) PeekUndo(ctx context.Context, token string) (UndoToken, error) {
	var resp UndoToken
	err := c.do(ctx, http.MethodGet, c.apiPath("undo/"+url.PathEscape(token)), nil, &resp)
	return resp, err
}

// Projects lists projects.
func (c *Client) Projects(ctx context.Context, includeArchived bool) ([]Project, error) {
	var resp struct {
		Items []Project `json:"items"`
	}
	endpoint := c.apiPath("projects")
	if includeArchived {
		endpoint += "?includeArchived=true"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name string, fields map[string]any) (Project, error) {
	body := map[string]any{"name": name}
	for k, v := range fields {
		body[k] = v
	}
	var resp struct {
		Project Project `json:"project"`
	}
	err := c.do(ctx, http.MethodPost, c.apiPath("projects"), body, &resp)
	return resp.Project, err
}

// ArchiveProject archives a project and returns the undo token.
func (c *Client) ArchiveProject(ctx context.Context, id string) (Project, *UndoToken, error) {
	var resp struct {
		Project Project    `json:"project"`
		Undo    *UndoToken `json:"undo"`
	}
	endpoint := c.apiPath("projects/" + url.PathEscape(id) + "/archive")
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Project, resp.Undo, err
}

// Search runs a full-text task search.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	endpoint := fmt.Sprintf("%s?q=%s", c.apiPath("search"), url.QueryEscape(query))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Activity returns recent events, newest first.
func (c *Client) Activity(ctx context.Context, limit int) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	endpoint := c.apiPath("activity")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		base = "api/v1"
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func queryString(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}
