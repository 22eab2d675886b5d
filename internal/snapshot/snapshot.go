// Package snapshot defines the per-entity-kind records that describe how to
// undo one mutation. An Entry is a tagged union: exactly one variant is set,
// selected by Kind, so the undo ledger can store and replay snapshots without
// knowing entity internals.
package snapshot

import (
	"fmt"

	"todome/internal/domain"
)

const (
	KindTask        = "task"
	KindTaskStatus  = "task-status"
	KindTaskCreated = "task-created"
	KindProject     = "project"
)

// Entry is one captured snapshot. Kind names the variant that is populated.
type Entry struct {
	Kind        string       `json:"kind"`
	Task        *Task        `json:"task,omitempty"`
	TaskStatus  *TaskStatus  `json:"taskStatus,omitempty"`
	TaskCreated *TaskCreated `json:"taskCreated,omitempty"`
	Project     *Project     `json:"project,omitempty"`
}

// Validate checks that the tagged variant matches Kind.
func (e Entry) Validate() error {
	switch e.Kind {
	case KindTask:
		if e.Task == nil {
			return fmt.Errorf("snapshot entry kind %s has no task payload", e.Kind)
		}
	case KindTaskStatus:
		if e.TaskStatus == nil {
			return fmt.Errorf("snapshot entry kind %s has no taskStatus payload", e.Kind)
		}
	case KindTaskCreated:
		if e.TaskCreated == nil {
			return fmt.Errorf("snapshot entry kind %s has no taskCreated payload", e.Kind)
		}
	case KindProject:
		if e.Project == nil {
			return fmt.Errorf("snapshot entry kind %s has no project payload", e.Kind)
		}
	default:
		return fmt.Errorf("unknown snapshot entry kind %q", e.Kind)
	}
	return nil
}

// Task is the full prior field set of a task. UpdatedAt and search index
// entries are deliberately absent; they are regenerated on restore.
type Task struct {
	TaskID            string   `json:"taskId"`
	OwnerID           string   `json:"ownerId"`
	ProjectID         *string  `json:"projectId,omitempty"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Status            string   `json:"status"`
	Priority          int      `json:"priority"`
	DueDate           *string  `json:"dueDate,omitempty"`
	DueTime           *string  `json:"dueTime,omitempty"`
	TagIDs            []string `json:"tagIds,omitempty"`
	Position          int      `json:"position"`
	CompletedAt       *string  `json:"completedAt,omitempty"`
	Recurring         bool     `json:"recurring"`
	RecurrenceRule    *string  `json:"recurrenceRule,omitempty"`
	RecurrenceType    *string  `json:"recurrenceType,omitempty"`
	RecurrenceEndDate *string  `json:"recurrenceEndDate,omitempty"`
	OriginTaskID      *string  `json:"originTaskId,omitempty"`
	CreatedAt         string   `json:"createdAt"`
}

// CaptureTask reads the captured field set from a task.
func CaptureTask(t domain.Task) Task {
	return Task{
		TaskID:            t.ID,
		OwnerID:           t.OwnerID,
		ProjectID:         t.ProjectID,
		Title:             t.Title,
		Description:       t.Description,
		Status:            t.Status,
		Priority:          t.Priority,
		DueDate:           t.DueDate,
		DueTime:           t.DueTime,
		TagIDs:            t.TagIDs,
		Position:          t.Position,
		CompletedAt:       t.CompletedAt,
		Recurring:         t.Recurring,
		RecurrenceRule:    t.RecurrenceRule,
		RecurrenceType:    t.RecurrenceType,
		RecurrenceEndDate: t.RecurrenceEndDate,
		OriginTaskID:      t.OriginTaskID,
		CreatedAt:         t.CreatedAt,
	}
}

// Apply overwrites every captured field on t with the snapshot values. It is
// an overwrite of the captured set, not a merge: fields that diverged since
// capture come back to exactly the captured values. UpdatedAt is left for the
// caller to stamp.
func (s Task) Apply(t domain.Task) domain.Task {
	t.ID = s.TaskID
	t.OwnerID = s.OwnerID
	t.ProjectID = s.ProjectID
	t.Title = s.Title
	t.Description = s.Description
	t.Status = s.Status
	t.Priority = s.Priority
	t.DueDate = s.DueDate
	t.DueTime = s.DueTime
	t.TagIDs = s.TagIDs
	t.Position = s.Position
	t.CompletedAt = s.CompletedAt
	t.Recurring = s.Recurring
	t.RecurrenceRule = s.RecurrenceRule
	t.RecurrenceType = s.RecurrenceType
	t.RecurrenceEndDate = s.RecurrenceEndDate
	t.OriginTaskID = s.OriginTaskID
	t.CreatedAt = s.CreatedAt
	return t
}

// TaskStatus is the prior status of a task plus, when completing a recurring
// task spawned a follow-up, the follow-up's id.
type TaskStatus struct {
	TaskID           string  `json:"taskId"`
	PriorStatus      string  `json:"priorStatus"`
	PriorCompletedAt *string `json:"priorCompletedAt,omitempty"`
	FollowUpTaskID   *string `json:"followUpTaskId,omitempty"`
}

// TaskCreated marks a task created inside a batch; undoing removes the row.
type TaskCreated struct {
	TaskID string `json:"taskId"`
}

// Project is the full prior field set of a project.
type Project struct {
	ProjectID   string  `json:"projectId"`
	OwnerID     string  `json:"ownerId"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	Position    int     `json:"position"`
	Archived    bool    `json:"archived"`
	ArchivedAt  *string `json:"archivedAt,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

// CaptureProject reads the captured field set from a project.
func CaptureProject(p domain.Project) Project {
	return Project{
		ProjectID:   p.ID,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		ParentID:    p.ParentID,
		Position:    p.Position,
		Archived:    p.Archived,
		ArchivedAt:  p.ArchivedAt,
		CreatedAt:   p.CreatedAt,
	}
}

// Apply overwrites every captured field on p with the snapshot values.
func (s Project) Apply(p domain.Project) domain.Project {
	p.ID = s.ProjectID
	p.OwnerID = s.OwnerID
	p.Name = s.Name
	p.Description = s.Description
	p.ParentID = s.ParentID
	p.Position = s.Position
	p.Archived = s.Archived
	p.ArchivedAt = s.ArchivedAt
	p.CreatedAt = s.CreatedAt
	return p
}

// TaskEntry wraps a task snapshot in the union.
func TaskEntry(s Task) Entry {
	return Entry{Kind: KindTask, Task: &s}
}

// StatusEntry wraps a status-change snapshot in the union.
func StatusEntry(s TaskStatus) Entry {
	return Entry{Kind: KindTaskStatus, TaskStatus: &s}
}

// CreatedEntry wraps a created-task marker in the union.
func CreatedEntry(taskID string) Entry {
	return Entry{Kind: KindTaskCreated, TaskCreated: &TaskCreated{TaskID: taskID}}
}

// ProjectEntry wraps a project snapshot in the union.
func ProjectEntry(s Project) Entry {
	return Entry{Kind: KindProject, Project: &s}
}
