package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"todome/internal/config"
	"todome/internal/domain"
	"todome/internal/events"
	"todome/internal/repo"
	"todome/internal/search"
	"todome/internal/snapshot"
)

// ErrValidation marks domain validation failures. Wrap with invalidf so
// callers can branch on errors.Is.
var ErrValidation = errors.New("validation failed")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Search *search.Index // optional; nil disables full-text indexing
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) getOwnedTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, fmt.Errorf("task %s: %w", id, err)
	}
	if t.OwnerID != ownerID {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrPermissionDenied)
	}
	return t, nil
}

func (e Engine) getOwnedTaskTx(ctx context.Context, tx *sql.Tx, ownerID, id string) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return t, fmt.Errorf("task %s: %w", id, err)
	}
	if t.OwnerID != ownerID {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrPermissionDenied)
	}
	return t, nil
}

func (e Engine) getOwnedProject(ctx context.Context, ownerID, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", id, err)
	}
	if p.OwnerID != ownerID {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, repo.ErrPermissionDenied)
	}
	return p, nil
}

func validateStatus(status string) error {
	switch status {
	case "pending", "in_progress", "completed":
		return nil
	}
	return invalidf("invalid status %q", status)
}

func validatePriority(p int) error {
	if p < 1 || p > 5 {
		return invalidf("priority must be between 1 and 5, got %d", p)
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return invalidf("title is required")
	}
	if len(title) > 500 {
		return invalidf("title exceeds 500 characters")
	}
	return nil
}

func validateDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return invalidf("invalid date %q, want YYYY-MM-DD", s)
	}
	return nil
}

func validateClock(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return invalidf("invalid time %q, want HH:MM", s)
	}
	return nil
}

func validateRecurrenceType(s string) error {
	switch s {
	case "daily", "weekly", "monthly":
		return nil
	}
	return invalidf("invalid recurrence type %q", s)
}

// checkProjectUsable verifies the project exists, belongs to the owner, and
// accepts new tasks. It reads through the caller's tx; the pool holds a
// single connection, so a plain query here would wait on the open tx forever.
func (e Engine) checkProjectUsable(ctx context.Context, tx *sql.Tx, ownerID, projectID string) error {
	p, err := e.getOwnedProjectTx(ctx, tx, ownerID, projectID)
	if err != nil {
		return err
	}
	if p.Archived {
		return invalidf("project %s is archived", projectID)
	}
	return nil
}

func (e Engine) checkTagIDs(ctx context.Context, tx *sql.Tx, ownerID string, tagIDs []string) error {
	missing, err := e.Repo.MissingTagIDs(ctx, tx, ownerID, tagIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return invalidf("unknown tag ids: %v", missing)
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task. Empty strings and
// zero values mean "unset" and fall back to defaults.
type TaskCreateOptions struct {
	ProjectID         string
	Title             string
	Description       string
	Status            string
	Priority          int
	DueDate           string
	DueTime           string
	TagIDs            []string
	Recurring         bool
	RecurrenceRule    string
	RecurrenceType    string
	RecurrenceEndDate string
}

func (e Engine) CreateTask(ctx context.Context, ownerID string, opts TaskCreateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.CreateTaskTx(ctx, tx, ownerID, opts)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.ReindexTasks([]domain.Task{t}, nil)
	return t, nil
}

// CreateTaskTx creates a task inside the caller's transaction. The batch
// executor drives this directly so atomic batches share one transaction.
func (e Engine) CreateTaskTx(ctx context.Context, tx *sql.Tx, ownerID string, opts TaskCreateOptions) (domain.Task, error) {
	if err := validateTitle(opts.Title); err != nil {
		return domain.Task{}, err
	}
	if opts.Status == "" {
		opts.Status = "pending"
	}
	if err := validateStatus(opts.Status); err != nil {
		return domain.Task{}, err
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if err := validatePriority(opts.Priority); err != nil {
		return domain.Task{}, err
	}
	if opts.DueDate != "" {
		if err := validateDate(opts.DueDate); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.DueTime != "" {
		if err := validateClock(opts.DueTime); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.Recurring {
		if err := validateRecurrenceType(opts.RecurrenceType); err != nil {
			return domain.Task{}, err
		}
		if opts.RecurrenceEndDate != "" {
			if err := validateDate(opts.RecurrenceEndDate); err != nil {
				return domain.Task{}, err
			}
		}
	}
	if opts.ProjectID != "" {
		if err := e.checkProjectUsable(ctx, tx, ownerID, opts.ProjectID); err != nil {
			return domain.Task{}, err
		}
	}
	if len(opts.TagIDs) > 0 {
		if err := e.checkTagIDs(ctx, tx, ownerID, opts.TagIDs); err != nil {
			return domain.Task{}, err
		}
	}

	position, err := e.Repo.NextTaskPosition(ctx, tx, ownerID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		ProjectID:         optionalString(opts.ProjectID),
		Title:             opts.Title,
		Description:       opts.Description,
		Status:            opts.Status,
		Priority:          opts.Priority,
		DueDate:           optionalString(opts.DueDate),
		DueTime:           optionalString(opts.DueTime),
		TagIDs:            opts.TagIDs,
		Position:          position,
		Recurring:         opts.Recurring,
		RecurrenceRule:    optionalString(opts.RecurrenceRule),
		RecurrenceType:    optionalString(opts.RecurrenceType),
		RecurrenceEndDate: optionalString(opts.RecurrenceEndDate),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if t.Status == "completed" {
		t.CompletedAt = &now
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if len(t.TagIDs) > 0 {
		if err := e.Repo.ReplaceTaskTags(ctx, tx, t.ID, t.TagIDs); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.created", ownerID, "task", t.ID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates sparse task updates. Nil leaves a field
// unchanged; a pointer to the zero value clears it.
type TaskUpdateOptions struct {
	Title             *string
	Description       *string
	ProjectID         *string
	Priority          *int
	DueDate           *string
	DueTime           *string
	TagIDs            *[]string
	Position          *int
	Recurring         *bool
	RecurrenceRule    *string
	RecurrenceType    *string
	RecurrenceEndDate *string
}

func (e Engine) UpdateTask(ctx context.Context, ownerID, id string, opts TaskUpdateOptions) (domain.Task, snapshot.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	defer tx.Rollback()

	t, prior, err := e.UpdateTaskTx(ctx, tx, ownerID, id, opts)
	if err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	e.ReindexTasks([]domain.Task{t}, nil)
	return t, prior, nil
}

// UpdateTaskTx applies a sparse update inside the caller's transaction and
// returns the task plus the snapshot of its prior state.
func (e Engine) UpdateTaskTx(ctx context.Context, tx *sql.Tx, ownerID, id string, opts TaskUpdateOptions) (domain.Task, snapshot.Task, error) {
	t, err := e.getOwnedTaskTx(ctx, tx, ownerID, id)
	if err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	prior := snapshot.CaptureTask(t)

	var changed []string
	if opts.Title != nil {
		if err := validateTitle(*opts.Title); err != nil {
			return t, snapshot.Task{}, err
		}
		t.Title = *opts.Title
		changed = append(changed, "title")
	}
	if opts.Description != nil {
		t.Description = *opts.Description
		changed = append(changed, "description")
	}
	if opts.ProjectID != nil {
		if *opts.ProjectID == "" {
			t.ProjectID = nil
		} else {
			if err := e.checkProjectUsable(ctx, tx, ownerID, *opts.ProjectID); err != nil {
				return t, snapshot.Task{}, err
			}
			t.ProjectID = opts.ProjectID
		}
		changed = append(changed, "projectId")
	}
	if opts.Priority != nil {
		if err := validatePriority(*opts.Priority); err != nil {
			return t, snapshot.Task{}, err
		}
		t.Priority = *opts.Priority
		changed = append(changed, "priority")
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			if err := validateDate(*opts.DueDate); err != nil {
				return t, snapshot.Task{}, err
			}
			t.DueDate = opts.DueDate
		}
		changed = append(changed, "dueDate")
	}
	if opts.DueTime != nil {
		if *opts.DueTime == "" {
			t.DueTime = nil
		} else {
			if err := validateClock(*opts.DueTime); err != nil {
				return t, snapshot.Task{}, err
			}
			t.DueTime = opts.DueTime
		}
		changed = append(changed, "dueTime")
	}
	if opts.TagIDs != nil {
		if err := e.checkTagIDs(ctx, tx, ownerID, *opts.TagIDs); err != nil {
			return t, snapshot.Task{}, err
		}
		t.TagIDs = *opts.TagIDs
		changed = append(changed, "tagIds")
	}
	if opts.Position != nil {
		t.Position = *opts.Position
		changed = append(changed, "position")
	}
	if opts.Recurring != nil {
		t.Recurring = *opts.Recurring
		changed = append(changed, "recurring")
	}
	if opts.RecurrenceRule != nil {
		if *opts.RecurrenceRule == "" {
			t.RecurrenceRule = nil
		} else {
			t.RecurrenceRule = opts.RecurrenceRule
		}
		changed = append(changed, "recurrenceRule")
	}
	if opts.RecurrenceType != nil {
		if *opts.RecurrenceType == "" {
			t.RecurrenceType = nil
		} else {
			if err := validateRecurrenceType(*opts.RecurrenceType); err != nil {
				return t, snapshot.Task{}, err
			}
			t.RecurrenceType = opts.RecurrenceType
		}
		changed = append(changed, "recurrenceType")
	}
	if opts.RecurrenceEndDate != nil {
		if *opts.RecurrenceEndDate == "" {
			t.RecurrenceEndDate = nil
		} else {
			if err := validateDate(*opts.RecurrenceEndDate); err != nil {
				return t, snapshot.Task{}, err
			}
			t.RecurrenceEndDate = opts.RecurrenceEndDate
		}
		changed = append(changed, "recurrenceEndDate")
	}
	if t.Recurring && t.RecurrenceType == nil {
		return t, snapshot.Task{}, invalidf("recurring task needs a recurrence type")
	}

	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, snapshot.Task{}, err
	}
	if opts.TagIDs != nil {
		if err := e.Repo.ReplaceTaskTags(ctx, tx, t.ID, t.TagIDs); err != nil {
			return t, snapshot.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.updated", ownerID, "task", t.ID, events.EventPayload{"changed": changed}); err != nil {
		return t, snapshot.Task{}, err
	}
	return t, prior, nil
}

func (e Engine) DeleteTask(ctx context.Context, ownerID, id string) (snapshot.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.Task{}, err
	}
	defer tx.Rollback()

	prior, err := e.DeleteTaskTx(ctx, tx, ownerID, id)
	if err != nil {
		return snapshot.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return snapshot.Task{}, err
	}
	e.ReindexTasks(nil, []string{id})
	return prior, nil
}

// DeleteTaskTx removes a task inside the caller's transaction and returns the
// snapshot needed to reinstate it.
func (e Engine) DeleteTaskTx(ctx context.Context, tx *sql.Tx, ownerID, id string) (snapshot.Task, error) {
	t, err := e.getOwnedTaskTx(ctx, tx, ownerID, id)
	if err != nil {
		return snapshot.Task{}, err
	}
	prior := snapshot.CaptureTask(t)
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return snapshot.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", ownerID, "task", id, events.EventPayload{"title": t.Title}); err != nil {
		return snapshot.Task{}, err
	}
	return prior, nil
}

func (e Engine) ChangeTaskStatus(ctx context.Context, ownerID, id, status string) (domain.Task, *domain.Task, snapshot.TaskStatus, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, snapshot.TaskStatus{}, err
	}
	defer tx.Rollback()

	t, spawned, snap, err := e.ChangeTaskStatusTx(ctx, tx, ownerID, id, status)
	if err != nil {
		return domain.Task{}, nil, snapshot.TaskStatus{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, nil, snapshot.TaskStatus{}, err
	}
	indexed := []domain.Task{t}
	if spawned != nil {
		indexed = append(indexed, *spawned)
	}
	e.ReindexTasks(indexed, nil)
	return t, spawned, snap, nil
}

// ChangeTaskStatusTx moves a task between statuses inside the caller's
// transaction. Completing a recurring task spawns its next occurrence; the
// spawned task and the prior-status snapshot are both returned.
func (e Engine) ChangeTaskStatusTx(ctx context.Context, tx *sql.Tx, ownerID, id, status string) (domain.Task, *domain.Task, snapshot.TaskStatus, error) {
	if err := validateStatus(status); err != nil {
		return domain.Task{}, nil, snapshot.TaskStatus{}, err
	}
	t, err := e.getOwnedTaskTx(ctx, tx, ownerID, id)
	if err != nil {
		return domain.Task{}, nil, snapshot.TaskStatus{}, err
	}
	snap := snapshot.TaskStatus{
		TaskID:           t.ID,
		PriorStatus:      t.Status,
		PriorCompletedAt: t.CompletedAt,
	}

	completing := status == "completed" && t.Status != "completed"
	now := e.nowRFC3339()
	t.Status = status
	switch {
	case completing:
		t.CompletedAt = &now
	case status != "completed":
		t.CompletedAt = nil
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, nil, snapshot.TaskStatus{}, err
	}

	var spawned *domain.Task
	if completing && t.Recurring {
		next, ok, err := e.spawnFollowUpTx(ctx, tx, t)
		if err != nil {
			return t, nil, snapshot.TaskStatus{}, err
		}
		if ok {
			spawned = &next
			snap.FollowUpTaskID = &next.ID
		}
	}

	payload := events.EventPayload{"from": snap.PriorStatus, "to": status}
	if spawned != nil {
		payload["followUpTaskId"] = spawned.ID
	}
	if err := e.Events.Append(ctx, tx, "task.status_changed", ownerID, "task", t.ID, payload); err != nil {
		return t, nil, snapshot.TaskStatus{}, err
	}
	return t, spawned, snap, nil
}

// spawnFollowUpTx creates the next occurrence of a recurring task. Returns
// ok=false when the recurrence end date cuts the series off.
func (e Engine) spawnFollowUpTx(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, bool, error) {
	base := e.now().UTC()
	if t.DueDate != nil {
		if parsed, err := time.Parse("2006-01-02", *t.DueDate); err == nil {
			base = parsed
		}
	}
	recType := ""
	if t.RecurrenceType != nil {
		recType = *t.RecurrenceType
	}
	nextDue := advanceDue(base, recType).Format("2006-01-02")
	if t.RecurrenceEndDate != nil && nextDue > *t.RecurrenceEndDate {
		return domain.Task{}, false, nil
	}

	position, err := e.Repo.NextTaskPosition(ctx, tx, t.OwnerID)
	if err != nil {
		return domain.Task{}, false, err
	}
	now := e.nowRFC3339()
	next := domain.Task{
		ID:                uuid.NewString(),
		OwnerID:           t.OwnerID,
		ProjectID:         t.ProjectID,
		Title:             t.Title,
		Description:       t.Description,
		Status:            "pending",
		Priority:          t.Priority,
		DueDate:           &nextDue,
		DueTime:           t.DueTime,
		TagIDs:            t.TagIDs,
		Position:          position,
		Recurring:         true,
		RecurrenceRule:    t.RecurrenceRule,
		RecurrenceType:    t.RecurrenceType,
		RecurrenceEndDate: t.RecurrenceEndDate,
		OriginTaskID:      &t.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertTask(ctx, tx, next); err != nil {
		return domain.Task{}, false, err
	}
	if len(next.TagIDs) > 0 {
		if err := e.Repo.ReplaceTaskTags(ctx, tx, next.ID, next.TagIDs); err != nil {
			return domain.Task{}, false, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.OwnerID, "task", next.ID, events.EventPayload{
		"title":        next.Title,
		"status":       next.Status,
		"originTaskId": t.ID,
	}); err != nil {
		return domain.Task{}, false, err
	}
	return next, true, nil
}

func advanceDue(base time.Time, recurrenceType string) time.Time {
	switch recurrenceType {
	case "weekly":
		return base.AddDate(0, 0, 7)
	case "monthly":
		return base.AddDate(0, 1, 0)
	default:
		return base.AddDate(0, 0, 1)
	}
}

func (e Engine) RescheduleTask(ctx context.Context, ownerID, id string, dueDate, dueTime *string) (domain.Task, snapshot.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	defer tx.Rollback()

	t, prior, err := e.RescheduleTaskTx(ctx, tx, ownerID, id, dueDate, dueTime)
	if err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	e.ReindexTasks([]domain.Task{t}, nil)
	return t, prior, nil
}

// RescheduleTaskTx moves a task's due date/time inside the caller's
// transaction. Nil leaves a part unchanged, empty string clears it.
func (e Engine) RescheduleTaskTx(ctx context.Context, tx *sql.Tx, ownerID, id string, dueDate, dueTime *string) (domain.Task, snapshot.Task, error) {
	t, err := e.getOwnedTaskTx(ctx, tx, ownerID, id)
	if err != nil {
		return domain.Task{}, snapshot.Task{}, err
	}
	prior := snapshot.CaptureTask(t)

	if dueDate != nil {
		if *dueDate == "" {
			t.DueDate = nil
		} else {
			if err := validateDate(*dueDate); err != nil {
				return t, snapshot.Task{}, err
			}
			t.DueDate = dueDate
		}
	}
	if dueTime != nil {
		if *dueTime == "" {
			t.DueTime = nil
		} else {
			if err := validateClock(*dueTime); err != nil {
				return t, snapshot.Task{}, err
			}
			t.DueTime = dueTime
		}
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, snapshot.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.rescheduled", ownerID, "task", t.ID, events.EventPayload{
		"dueDate": t.DueDate,
		"dueTime": t.DueTime,
	}); err != nil {
		return t, snapshot.Task{}, err
	}
	return t, prior, nil
}

// ReindexTasks refreshes search documents after a commit. Indexing is
// best-effort; failures are logged and never fail the mutation.
func (e Engine) ReindexTasks(tasks []domain.Task, deletedIDs []string) {
	if e.Search == nil {
		return
	}
	for _, t := range tasks {
		if err := e.Search.IndexTask(t); err != nil {
			e.logger().Warn("search index update failed", "taskId", t.ID, "err", err)
		}
	}
	for _, id := range deletedIDs {
		if err := e.Search.DeleteTask(id); err != nil {
			e.logger().Warn("search index delete failed", "taskId", id, "err", err)
		}
	}
}

// AppendBatchEvent records a batch.executed activity row in its own
// transaction, after the batch itself has settled.
func (e Engine) AppendBatchEvent(ctx context.Context, ownerID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "batch.executed", ownerID, "batch", "", payload); err != nil {
		return err
	}
	return tx.Commit()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
