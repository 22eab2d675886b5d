package server

import (
	"encoding/json"

	"todome/internal/batch"
	"todome/internal/domain"
	"todome/internal/parse"
	"todome/internal/undo"
)

// Request payloads

type CreateTaskRequest struct {
	Title             string   `json:"title"`
	Description       *string  `json:"description,omitempty"`
	ProjectID         *string  `json:"projectId,omitempty"`
	Status            *string  `json:"status,omitempty" enum:"pending,in_progress,completed"`
	Priority          *int     `json:"priority,omitempty" minimum:"1" maximum:"5"`
	DueDate           *string  `json:"dueDate,omitempty"`
	DueTime           *string  `json:"dueTime,omitempty"`
	TagIDs            []string `json:"tagIds,omitempty"`
	Recurring         *bool    `json:"recurring,omitempty"`
	RecurrenceRule    *string  `json:"recurrenceRule,omitempty"`
	RecurrenceType    *string  `json:"recurrenceType,omitempty" enum:"daily,weekly,monthly"`
	RecurrenceEndDate *string  `json:"recurrenceEndDate,omitempty"`
}

type UpdateTaskRequest struct {
	Title             *string   `json:"title,omitempty"`
	Description       *string   `json:"description,omitempty"`
	ProjectID         *string   `json:"projectId,omitempty"`
	Priority          *int      `json:"priority,omitempty" minimum:"1" maximum:"5"`
	DueDate           *string   `json:"dueDate,omitempty"`
	DueTime           *string   `json:"dueTime,omitempty"`
	TagIDs            *[]string `json:"tagIds,omitempty"`
	Position          *int      `json:"position,omitempty"`
	Recurring         *bool     `json:"recurring,omitempty"`
	RecurrenceRule    *string   `json:"recurrenceRule,omitempty"`
	RecurrenceType    *string   `json:"recurrenceType,omitempty" enum:"daily,weekly,monthly"`
	RecurrenceEndDate *string   `json:"recurrenceEndDate,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed"`
}

type RescheduleRequest struct {
	DueDate *string `json:"dueDate,omitempty"`
	DueTime *string `json:"dueTime,omitempty"`
}

type QuickAddRequest struct {
	Input string `json:"input"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

type CreateTagRequest struct {
	Name string `json:"name"`
}

type BatchRequest struct {
	Atomic     bool          `json:"atomic,omitempty"`
	Operations []batch.Entry `json:"operations"`
}

// Response payloads

// TaskUndoResponse is a mutated task plus the token that reverts the
// mutation. SpawnedTask is set when completing a recurring task scheduled its
// next occurrence.
type TaskUndoResponse struct {
	Task        domain.Task  `json:"task"`
	SpawnedTask *domain.Task `json:"spawnedTask,omitempty"`
	Undo        *undo.Token  `json:"undo,omitempty"`
}

type DeletedTaskResponse struct {
	DeletedTaskID string      `json:"deletedTaskId"`
	Undo          *undo.Token `json:"undo,omitempty"`
}

// QuickAddResponse pairs the created task with what the parser extracted,
// so clients can show what was understood.
type QuickAddResponse struct {
	Task   domain.Task  `json:"task"`
	Parsed parse.ParsedInput `json:"parsed"`
}

type ProjectUndoResponse struct {
	Project domain.Project `json:"project"`
	Undo    *undo.Token    `json:"undo,omitempty"`
}

type DeletedProjectResponse struct {
	DeletedProjectID string      `json:"deletedProjectId"`
	Undo             *undo.Token `json:"undo,omitempty"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
	Total int           `json:"total"`
}

type TaskItemsResponse struct {
	Items []domain.Task `json:"items"`
}

type ProjectListResponse struct {
	Items []domain.Project `json:"items"`
}

type TagListResponse struct {
	Items []domain.Tag `json:"items"`
}

// TokenPeekResponse is the non-consuming view of a token.
type TokenPeekResponse struct {
	Token         string `json:"token"`
	OperationKind string `json:"operationKind"`
	CreatedAt     string `json:"createdAt" format:"date-time"`
	ExpiresAt     string `json:"expiresAt" format:"date-time"`
	ExpiresIn     int    `json:"expiresIn"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entityKind"`
	EntityID   string          `json:"entityId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ActivityResponse struct {
	Items []EventResponse `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	out := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
	}
	if e.Payload != "" {
		out.Payload = json.RawMessage(e.Payload)
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func emptyIfNil(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
