package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"todome/internal/domain"
	"todome/internal/events"
	"todome/internal/repo"
	"todome/internal/snapshot"
)

// RestoreTask writes a captured task state back, reinstating the row when it
// was deleted in the meantime. Last write wins: fields that changed since the
// capture come back to the captured values.
func (e Engine) RestoreTask(ctx context.Context, ownerID string, snap snapshot.Task) (domain.Task, error) {
	if snap.OwnerID != ownerID {
		return domain.Task{}, fmt.Errorf("task %s: %w", snap.TaskID, repo.ErrPermissionDenied)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	base := domain.Task{}
	current, err := e.Repo.GetTaskTx(ctx, tx, snap.TaskID)
	switch {
	case err == nil:
		if current.OwnerID != ownerID {
			return domain.Task{}, fmt.Errorf("task %s: %w", snap.TaskID, repo.ErrPermissionDenied)
		}
		base = current
	case errors.Is(err, repo.ErrNotFound):
		// Deleted since capture; the snapshot rebuilds the row.
	default:
		return domain.Task{}, err
	}

	t := snap.Apply(base)
	t.UpdatedAt = e.nowRFC3339()
	t.TagIDs, err = e.survivingTagIDs(ctx, tx, ownerID, t.TagIDs)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.ReplaceTaskTags(ctx, tx, t.ID, t.TagIDs); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.restored", ownerID, "task", t.ID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.ReindexTasks([]domain.Task{t}, nil)
	return t, nil
}

// RemoveTask deletes a task that undo determined should not exist, typically
// one created by a batch entry. A task already gone is not an error.
func (e Engine) RemoveTask(ctx context.Context, ownerID, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.getOwnedTaskTx(ctx, tx, ownerID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", ownerID, "task", id, events.EventPayload{"title": t.Title, "undo": true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.ReindexTasks(nil, []string{id})
	return nil
}

// RestoreTaskStatus reverts a status change. When the change had completed a
// recurring task and spawned a follow-up, the follow-up is deleted if still
// pristine; an advanced follow-up is kept and reported as a warning. Cleanup
// trouble never blocks the status restore itself.
func (e Engine) RestoreTaskStatus(ctx context.Context, ownerID string, snap snapshot.TaskStatus) (domain.Task, []string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer tx.Rollback()

	t, err := e.getOwnedTaskTx(ctx, tx, ownerID, snap.TaskID)
	if err != nil {
		return domain.Task{}, nil, err
	}

	var warnings []string
	var removedFollowUp string
	if snap.FollowUpTaskID != nil {
		removed, warning, err := e.cleanupFollowUpTx(ctx, tx, ownerID, *snap.FollowUpTaskID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("follow-up task %s could not be cleaned up: %v", *snap.FollowUpTaskID, err))
		} else {
			if removed {
				removedFollowUp = *snap.FollowUpTaskID
			}
			if warning != "" {
				warnings = append(warnings, warning)
			}
		}
	}

	t.Status = snap.PriorStatus
	t.CompletedAt = snap.PriorCompletedAt
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, nil, err
	}
	if err := e.Events.Append(ctx, tx, "task.restored", ownerID, "task", t.ID, events.EventPayload{"status": t.Status}); err != nil {
		return domain.Task{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, nil, err
	}
	var deleted []string
	if removedFollowUp != "" {
		deleted = []string{removedFollowUp}
	}
	e.ReindexTasks([]domain.Task{t}, deleted)
	return t, warnings, nil
}

// cleanupFollowUpTx deletes a spawned follow-up if nobody touched it since
// creation. Returns whether it was removed and a warning when it was kept.
func (e Engine) cleanupFollowUpTx(ctx context.Context, tx *sql.Tx, ownerID, followUpID string) (bool, string, error) {
	f, err := e.Repo.GetTaskTx(ctx, tx, followUpID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if f.OwnerID != ownerID {
		return false, "", nil
	}
	pristine := f.Status != "completed" && f.UpdatedAt == f.CreatedAt
	if !pristine {
		return false, fmt.Sprintf("follow-up task %s was modified since creation and was kept", f.ID), nil
	}
	if err := e.Repo.DeleteTask(ctx, tx, f.ID); err != nil {
		return false, "", err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", ownerID, "task", f.ID, events.EventPayload{"title": f.Title, "undo": true}); err != nil {
		return false, "", err
	}
	return true, "", nil
}

// RestoreProject writes a captured project state back, reinstating the row
// when it was deleted in the meantime.
func (e Engine) RestoreProject(ctx context.Context, ownerID string, snap snapshot.Project) (domain.Project, error) {
	if snap.OwnerID != ownerID {
		return domain.Project{}, fmt.Errorf("project %s: %w", snap.ProjectID, repo.ErrPermissionDenied)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	base := domain.Project{}
	current, err := e.Repo.GetProjectTx(ctx, tx, snap.ProjectID)
	switch {
	case err == nil:
		if current.OwnerID != ownerID {
			return domain.Project{}, fmt.Errorf("project %s: %w", snap.ProjectID, repo.ErrPermissionDenied)
		}
		base = current
	case errors.Is(err, repo.ErrNotFound):
	default:
		return domain.Project{}, err
	}

	p := snap.Apply(base)
	p.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.restored", ownerID, "project", p.ID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// survivingTagIDs drops tag ids whose tags were deleted since the capture so
// a restore never tries to relink a vanished tag.
func (e Engine) survivingTagIDs(ctx context.Context, tx *sql.Tx, ownerID string, tagIDs []string) ([]string, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	missing, err := e.Repo.MissingTagIDs(ctx, tx, ownerID, tagIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return tagIDs, nil
	}
	gone := make(map[string]bool, len(missing))
	for _, id := range missing {
		gone[id] = true
	}
	var keep []string
	for _, id := range tagIDs {
		if !gone[id] {
			keep = append(keep, id)
		}
	}
	return keep, nil
}
