// Package batch executes up to MaxEntries task mutations in one call, either
// best-effort (partial) or all-or-nothing (atomic), and issues one aggregated
// undo token covering every entry that succeeded.
package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"todome/internal/domain"
	"todome/internal/engine"
	"todome/internal/repo"
	"todome/internal/snapshot"
	"todome/internal/undo"
)

const DefaultMaxEntries = 100

const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionComplete   = "complete"
	ActionReschedule = "reschedule"
)

// ErrLimitExceeded rejects batches larger than the executor's limit before
// anything runs.
var ErrLimitExceeded = errors.New("batch limit exceeded")

// AtomicError is the call-level failure of an atomic batch: entry Index
// failed and every other entry was rolled back.
type AtomicError struct {
	Index int
	Err   error
}

func (e *AtomicError) Error() string {
	return fmt.Sprintf("batch entry %d failed: %v", e.Index, e.Err)
}

func (e *AtomicError) Unwrap() error { return e.Err }

// Entry is one requested mutation. TargetID names an existing task for every
// action except create; "$N" references the task created by entry N of the
// same batch.
type Entry struct {
	Action   string     `json:"action" enum:"create,update,delete,complete,reschedule"`
	TargetID string     `json:"taskId,omitempty"`
	Data     *EntryData `json:"data,omitempty"`
}

// EntryData carries the fields for create, update, and reschedule actions.
// Nil leaves a field unchanged; a pointer to the zero value clears it.
type EntryData struct {
	Title             *string   `json:"title,omitempty"`
	Description       *string   `json:"description,omitempty"`
	ProjectID         *string   `json:"projectId,omitempty"`
	Priority          *int      `json:"priority,omitempty"`
	DueDate           *string   `json:"dueDate,omitempty"`
	DueTime           *string   `json:"dueTime,omitempty"`
	TagIDs            *[]string `json:"tagIds,omitempty"`
	Recurring         *bool     `json:"recurring,omitempty"`
	RecurrenceRule    *string   `json:"recurrenceRule,omitempty"`
	RecurrenceType    *string   `json:"recurrenceType,omitempty"`
	RecurrenceEndDate *string   `json:"recurrenceEndDate,omitempty"`
}

func (d *EntryData) createOptions() engine.TaskCreateOptions {
	opts := engine.TaskCreateOptions{}
	if d.Title != nil {
		opts.Title = *d.Title
	}
	if d.Description != nil {
		opts.Description = *d.Description
	}
	if d.ProjectID != nil {
		opts.ProjectID = *d.ProjectID
	}
	if d.Priority != nil {
		opts.Priority = *d.Priority
	}
	if d.DueDate != nil {
		opts.DueDate = *d.DueDate
	}
	if d.DueTime != nil {
		opts.DueTime = *d.DueTime
	}
	if d.TagIDs != nil {
		opts.TagIDs = *d.TagIDs
	}
	if d.Recurring != nil {
		opts.Recurring = *d.Recurring
	}
	if d.RecurrenceRule != nil {
		opts.RecurrenceRule = *d.RecurrenceRule
	}
	if d.RecurrenceType != nil {
		opts.RecurrenceType = *d.RecurrenceType
	}
	if d.RecurrenceEndDate != nil {
		opts.RecurrenceEndDate = *d.RecurrenceEndDate
	}
	return opts
}

func (d *EntryData) updateOptions() engine.TaskUpdateOptions {
	return engine.TaskUpdateOptions{
		Title:             d.Title,
		Description:       d.Description,
		ProjectID:         d.ProjectID,
		Priority:          d.Priority,
		DueDate:           d.DueDate,
		DueTime:           d.DueTime,
		TagIDs:            d.TagIDs,
		Recurring:         d.Recurring,
		RecurrenceRule:    d.RecurrenceRule,
		RecurrenceType:    d.RecurrenceType,
		RecurrenceEndDate: d.RecurrenceEndDate,
	}
}

// EntryError is the structured failure of one entry.
type EntryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EntryResult reports the outcome of one entry, at the same index as the
// request.
type EntryResult struct {
	Index      int          `json:"index"`
	Action     string       `json:"action"`
	Success    bool         `json:"success"`
	Task       *domain.Task `json:"task,omitempty"`
	Error      *EntryError  `json:"error,omitempty"`
	RolledBack bool         `json:"rolledBack,omitempty"`
}

// Result summarizes a finished batch.
type Result struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Atomic     bool          `json:"atomic"`
	Entries    []EntryResult `json:"entries"`
	Undo       *undo.Token   `json:"undo,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Execution phases, in the order a run moves through them.
const (
	phaseValidating  = "validating"
	phaseExecuting   = "executing"
	phaseCommitting  = "committing"
	phaseRollingBack = "rolling_back"
	phaseCompleted   = "completed"
)

type Executor struct {
	Engine     engine.Engine
	Undo       *undo.Service
	MaxEntries int
	Log        *slog.Logger
}

func NewExecutor(eng engine.Engine, undoSvc *undo.Service, maxEntries int) *Executor {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Executor{Engine: eng, Undo: undoSvc, MaxEntries: maxEntries, Log: slog.Default()}
}

func (x *Executor) logger() *slog.Logger {
	if x.Log != nil {
		return x.Log
	}
	return slog.Default()
}

func (x *Executor) phase(p string, args ...any) {
	x.logger().Debug("batch "+p, args...)
}

// outcome is what one applied entry produced.
type outcome struct {
	task      *domain.Task
	affected  []domain.Task
	deletedID string
	snap      snapshot.Entry
}

// Execute runs the entries in order. Shape violations (unknown action,
// missing taskId, bad reference) fail the whole call before any mutation;
// per-entry domain failures follow the requested mode. Partial mode commits
// each entry on its own; atomic mode shares one transaction and rolls
// everything back on the first failure.
func (x *Executor) Execute(ctx context.Context, ownerID string, entries []Entry, atomic bool) (Result, error) {
	x.phase(phaseValidating, "entries", len(entries), "atomic", atomic)
	if len(entries) == 0 {
		return Result{}, fmt.Errorf("%w: batch needs at least one entry", engine.ErrValidation)
	}
	if len(entries) > x.MaxEntries {
		return Result{}, fmt.Errorf("%w: %d entries exceed the limit of %d", ErrLimitExceeded, len(entries), x.MaxEntries)
	}
	for i, e := range entries {
		if err := validateEntryShape(i, e, entries); err != nil {
			return Result{}, err
		}
	}

	res := Result{Total: len(entries), Atomic: atomic, Entries: make([]EntryResult, len(entries))}
	for i, e := range entries {
		res.Entries[i] = EntryResult{Index: i, Action: e.Action}
	}

	var snaps []snapshot.Entry
	var affected []domain.Task
	var deleted []string
	created := map[int]string{}

	if atomic {
		tx, err := x.Engine.DB.BeginTx(ctx, nil)
		if err != nil {
			return Result{}, err
		}
		defer tx.Rollback()

		for i, e := range entries {
			x.phase(phaseExecuting, "entry", i, "action", e.Action)
			out, err := x.applyEntry(ctx, tx, ownerID, i, e, created)
			if err != nil {
				x.phase(phaseRollingBack, "entry", i)
				tx.Rollback()
				// Only the triggering entry counts as failed; the rest
				// report rolledBack.
				for j := range res.Entries {
					if j == i {
						res.Entries[j].Error = &EntryError{Code: ErrorCode(err), Message: err.Error()}
					} else {
						res.Entries[j].Success = false
						res.Entries[j].Task = nil
						res.Entries[j].RolledBack = true
					}
				}
				res.Failed = 1
				x.phase(phaseCompleted, "successful", 0, "failed", res.Failed, "rolledBack", len(entries)-1)
				return res, &AtomicError{Index: i, Err: err}
			}
			res.Entries[i].Success = true
			res.Entries[i].Task = out.task
			snaps = append(snaps, out.snap)
			affected = append(affected, out.affected...)
			if out.deletedID != "" {
				deleted = append(deleted, out.deletedID)
			}
		}
		x.phase(phaseCommitting)
		if err := tx.Commit(); err != nil {
			return Result{}, err
		}
		res.Successful = len(entries)
	} else {
		for i, e := range entries {
			x.phase(phaseExecuting, "entry", i, "action", e.Action)
			out, err := x.applyPartialEntry(ctx, ownerID, i, e, created)
			if err != nil {
				res.Entries[i].Error = &EntryError{Code: ErrorCode(err), Message: err.Error()}
				res.Failed++
				continue
			}
			res.Entries[i].Success = true
			res.Entries[i].Task = out.task
			res.Successful++
			snaps = append(snaps, out.snap)
			affected = append(affected, out.affected...)
			if out.deletedID != "" {
				deleted = append(deleted, out.deletedID)
			}
		}
		x.phase(phaseCommitting, "successful", res.Successful, "failed", res.Failed)
	}

	x.Engine.ReindexTasks(affected, deleted)

	if len(snaps) > 0 && x.Undo != nil {
		token, err := x.Undo.CreateToken(ctx, undo.KindTaskBatch, ownerID, snaps)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("undo token could not be issued: %v", err))
		} else {
			res.Undo = &token
		}
	}
	if err := x.Engine.AppendBatchEvent(ctx, ownerID, map[string]any{
		"total":      res.Total,
		"successful": res.Successful,
		"failed":     res.Failed,
		"atomic":     atomic,
	}); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("batch activity row could not be written: %v", err))
	}
	x.phase(phaseCompleted, "successful", res.Successful, "failed", res.Failed)
	return res, nil
}

// applyPartialEntry wraps one entry in its own transaction so earlier
// committed entries stay visible to later ones.
func (x *Executor) applyPartialEntry(ctx context.Context, ownerID string, idx int, e Entry, created map[int]string) (outcome, error) {
	tx, err := x.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return outcome{}, err
	}
	defer tx.Rollback()

	out, err := x.applyEntry(ctx, tx, ownerID, idx, e, created)
	if err != nil {
		return outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return outcome{}, err
	}
	return out, nil
}

func (x *Executor) applyEntry(ctx context.Context, tx *sql.Tx, ownerID string, idx int, e Entry, created map[int]string) (outcome, error) {
	switch e.Action {
	case ActionCreate:
		t, err := x.Engine.CreateTaskTx(ctx, tx, ownerID, e.Data.createOptions())
		if err != nil {
			return outcome{}, err
		}
		created[idx] = t.ID
		return outcome{task: &t, affected: []domain.Task{t}, snap: snapshot.CreatedEntry(t.ID)}, nil

	case ActionUpdate:
		target, err := resolveTarget(e.TargetID, created)
		if err != nil {
			return outcome{}, err
		}
		t, prior, err := x.Engine.UpdateTaskTx(ctx, tx, ownerID, target, e.Data.updateOptions())
		if err != nil {
			return outcome{}, err
		}
		return outcome{task: &t, affected: []domain.Task{t}, snap: snapshot.TaskEntry(prior)}, nil

	case ActionDelete:
		target, err := resolveTarget(e.TargetID, created)
		if err != nil {
			return outcome{}, err
		}
		prior, err := x.Engine.DeleteTaskTx(ctx, tx, ownerID, target)
		if err != nil {
			return outcome{}, err
		}
		return outcome{deletedID: target, snap: snapshot.TaskEntry(prior)}, nil

	case ActionComplete:
		target, err := resolveTarget(e.TargetID, created)
		if err != nil {
			return outcome{}, err
		}
		t, spawned, prior, err := x.Engine.ChangeTaskStatusTx(ctx, tx, ownerID, target, "completed")
		if err != nil {
			return outcome{}, err
		}
		out := outcome{task: &t, affected: []domain.Task{t}, snap: snapshot.StatusEntry(prior)}
		if spawned != nil {
			out.affected = append(out.affected, *spawned)
		}
		return out, nil

	case ActionReschedule:
		target, err := resolveTarget(e.TargetID, created)
		if err != nil {
			return outcome{}, err
		}
		t, prior, err := x.Engine.RescheduleTaskTx(ctx, tx, ownerID, target, e.Data.DueDate, e.Data.DueTime)
		if err != nil {
			return outcome{}, err
		}
		return outcome{task: &t, affected: []domain.Task{t}, snap: snapshot.TaskEntry(prior)}, nil
	}
	return outcome{}, fmt.Errorf("%w: unknown action %q", engine.ErrValidation, e.Action)
}

// validateEntryShape rejects structurally bad entries before anything runs.
func validateEntryShape(idx int, e Entry, all []Entry) error {
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionDelete, ActionComplete, ActionReschedule:
	default:
		return fmt.Errorf("%w: entry %d has unknown action %q", engine.ErrValidation, idx, e.Action)
	}
	if e.Action == ActionCreate {
		if e.TargetID != "" {
			return fmt.Errorf("%w: entry %d: create does not take a taskId", engine.ErrValidation, idx)
		}
	} else if e.TargetID == "" {
		return fmt.Errorf("%w: entry %d: %s needs a taskId", engine.ErrValidation, idx, e.Action)
	}
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionReschedule:
		if e.Data == nil {
			return fmt.Errorf("%w: entry %d: %s needs data", engine.ErrValidation, idx, e.Action)
		}
	}
	if ref, ok := parseReference(e.TargetID); ok {
		if ref >= idx {
			return fmt.Errorf("%w: entry %d references entry %d, which runs later", engine.ErrValidation, idx, ref)
		}
		if all[ref].Action != ActionCreate {
			return fmt.Errorf("%w: entry %d references entry %d, which is not a create", engine.ErrValidation, idx, ref)
		}
	}
	return nil
}

// resolveTarget maps "$N" references to the id created by entry N. In
// partial mode the referenced create may have failed, in which case the
// referencing entry fails too.
func resolveTarget(raw string, created map[int]string) (string, error) {
	ref, ok := parseReference(raw)
	if !ok {
		return raw, nil
	}
	id, ok := created[ref]
	if !ok {
		return "", fmt.Errorf("%w: reference $%d points at an entry that did not create a task", engine.ErrValidation, ref)
	}
	return id, nil
}

func parseReference(raw string) (int, bool) {
	if !strings.HasPrefix(raw, "$") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "$"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ErrorCode maps an error to the stable code used in batch entry results and
// API error envelopes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrLimitExceeded):
		return "BATCH_LIMIT_EXCEEDED"
	case errors.Is(err, engine.ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, repo.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, repo.ErrPermissionDenied):
		return "PERMISSION_DENIED"
	}
	return "INTERNAL"
}
