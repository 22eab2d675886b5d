package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"todome/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// querier is satisfied by both *sql.DB and *sql.Tx so lookups can run inside
// or outside a caller's transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const taskCols = `id,owner_id,project_id,title,description,status,priority,due_date,due_time,position,completed_at,recurring,recurrence_rule,recurrence_type,recurrence_end_date,origin_task_id,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var projectID, dueDate, dueTime, completedAt, recRule, recType, recEnd, originID sql.NullString
	var description sql.NullString
	var recurring int
	err := row.Scan(&t.ID, &t.OwnerID, &projectID, &t.Title, &description, &t.Status, &t.Priority,
		&dueDate, &dueTime, &t.Position, &completedAt, &recurring, &recRule, &recType, &recEnd, &originID,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if dueTime.Valid {
		t.DueTime = &dueTime.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	t.Recurring = recurring != 0
	if recRule.Valid {
		t.RecurrenceRule = &recRule.String
	}
	if recType.Valid {
		t.RecurrenceType = &recType.String
	}
	if recEnd.Valid {
		t.RecurrenceEndDate = &recEnd.String
	}
	if originID.Valid {
		t.OriginTaskID = &originID.String
	}
	return t, nil
}

func taskArgs(t domain.Task) []any {
	return []any{
		t.ID, t.OwnerID, nullableStringPtr(t.ProjectID), t.Title, t.Description, t.Status, t.Priority,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.DueTime), t.Position, nullableStringPtr(t.CompletedAt),
		boolInt(t.Recurring), nullableStringPtr(t.RecurrenceRule), nullableStringPtr(t.RecurrenceType),
		nullableStringPtr(t.RecurrenceEndDate), nullableStringPtr(t.OriginTaskID), t.CreatedAt, t.UpdatedAt,
	}
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, taskArgs(t)...)
	return err
}

// UpsertTask reinstates a task row by id or overwrites every column of an
// existing one. Restore paths use it so a deleted task comes back with its
// original id and created_at.
func (r Repo) UpsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, project_id=excluded.project_id, title=excluded.title,
description=excluded.description, status=excluded.status, priority=excluded.priority, due_date=excluded.due_date,
due_time=excluded.due_time, position=excluded.position, completed_at=excluded.completed_at, recurring=excluded.recurring,
recurrence_rule=excluded.recurrence_rule, recurrence_type=excluded.recurrence_type, recurrence_end_date=excluded.recurrence_end_date,
origin_task_id=excluded.origin_task_id, updated_at=excluded.updated_at`, taskArgs(t)...)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET project_id=?, title=?, description=?, status=?, priority=?, due_date=?, due_time=?, position=?, completed_at=?, recurring=?, recurrence_rule=?, recurrence_type=?, recurrence_end_date=?, origin_task_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.ProjectID), t.Title, t.Description, t.Status, t.Priority,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.DueTime), t.Position, nullableStringPtr(t.CompletedAt),
		boolInt(t.Recurring), nullableStringPtr(t.RecurrenceRule), nullableStringPtr(t.RecurrenceType),
		nullableStringPtr(t.RecurrenceEndDate), nullableStringPtr(t.OriginTaskID), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	tags, err := r.ListTaskTagIDs(ctx, id)
	if err != nil {
		return t, err
	}
	t.TagIDs = tags
	return t, nil
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	tags, err := r.ListTaskTagIDsTx(ctx, tx, id)
	if err != nil {
		return t, err
	}
	t.TagIDs = tags
	return t, nil
}

type TaskFilters struct {
	OwnerID     string
	IDs         []string
	Status      string
	StatusNot   string
	ProjectIDs  []string
	TagIDs      []string
	PriorityMin int
	PriorityMax int
	Search      string
	DueBefore   string
	DueAfter    string
	HasDueDate  bool
	OrderBy     string // position (default), due, created
	Limit       int
	Offset      int
}

func buildTaskWhere(f TaskFilters) (string, []any) {
	clauses := []string{"owner_id=?"}
	args := []any{f.OwnerID}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.StatusNot != "" {
		clauses = append(clauses, "status!=?")
		args = append(args, f.StatusNot)
	}
	if len(f.ProjectIDs) > 0 {
		clauses = append(clauses, "project_id IN ("+placeholders(len(f.ProjectIDs))+")")
		for _, id := range f.ProjectIDs {
			args = append(args, id)
		}
	}
	if len(f.TagIDs) > 0 {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM task_tags tt WHERE tt.task_id=tasks.id AND tt.tag_id IN ("+placeholders(len(f.TagIDs))+"))")
		for _, id := range f.TagIDs {
			args = append(args, id)
		}
	}
	if f.PriorityMin > 0 {
		clauses = append(clauses, "priority>=?")
		args = append(args, f.PriorityMin)
	}
	if f.PriorityMax > 0 {
		clauses = append(clauses, "priority<=?")
		args = append(args, f.PriorityMax)
	}
	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date<?")
		args = append(args, f.DueBefore)
	}
	if f.DueAfter != "" {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date>=?")
		args = append(args, f.DueAfter)
	}
	if f.HasDueDate {
		clauses = append(clauses, "due_date IS NOT NULL")
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	where, args := buildTaskWhere(f)
	order := "ORDER BY position ASC, id ASC"
	switch f.OrderBy {
	case "due":
		order = "ORDER BY due_date ASC, COALESCE(due_time,'99:99') ASC, priority DESC, id ASC"
	case "created":
		order = "ORDER BY created_at DESC, id DESC"
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.fillTaskTags(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) CountTasks(ctx context.Context, f TaskFilters) (int, error) {
	where, args := buildTaskWhere(f)
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks `+where, args...).Scan(&n)
	return n, err
}

// CountProjectTasks counts live tasks attached to a project, in or out of a
// surrounding transaction.
func (r Repo) CountProjectTasks(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	row := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=?`, projectID)
	err := row.Scan(&n)
	return n, err
}

// NextTaskPosition returns the next free position slot for an owner.
func (r Repo) NextTaskPosition(ctx context.Context, tx *sql.Tx, ownerID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM tasks WHERE owner_id=?`, ownerID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func (r Repo) ListTaskTagIDs(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tag_id FROM task_tags WHERE task_id=? ORDER BY tag_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r Repo) ListTaskTagIDsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT tag_id FROM task_tags WHERE task_id=? ORDER BY tag_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ReplaceTaskTags rewrites the tag set of a task.
func (r Repo) ReplaceTaskTags(ctx context.Context, tx *sql.Tx, taskID string, tagIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, id := range tagIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_tags(task_id,tag_id) VALUES (?,?)`, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) fillTaskTags(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	byID := make(map[string]int, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		byID[t.ID] = i
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, tag_id FROM task_tags WHERE task_id IN (`+placeholders(len(ids))+`) ORDER BY tag_id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, tagID string
		if err := rows.Scan(&taskID, &tagID); err != nil {
			return err
		}
		i := byID[taskID]
		tasks[i].TagIDs = append(tasks[i].TagIDs, tagID)
	}
	return rows.Err()
}

// FollowUpTask returns the pending follow-up spawned from a task, if any.
func (r Repo) FollowUpTask(ctx context.Context, tx *sql.Tx, originTaskID string) (domain.Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE origin_task_id=? ORDER BY created_at DESC LIMIT 1`, originTaskID))
	if err != nil {
		return t, err
	}
	tags, err := r.ListTaskTagIDsTx(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	t.TagIDs = tags
	return t, nil
}

func (r Repo) ListEvents(ctx context.Context, ownerID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,owner_id,entity_kind,entity_id,payload_json FROM events WHERE owner_id=? ORDER BY id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OwnerID, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than afterID,
// oldest first. It is the webhook dispatcher's cursor read and spans all
// owners.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,owner_id,entity_kind,entity_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OwnerID, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
