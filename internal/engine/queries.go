package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"todome/internal/domain"
	"todome/internal/events"
	"todome/internal/repo"
)

func (e Engine) GetTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	return e.getOwnedTask(ctx, ownerID, id)
}

// TaskListOptions narrow and page a task listing.
type TaskListOptions struct {
	Status      string
	ProjectID   string
	TagID       string
	PriorityMin int
	PriorityMax int
	Search      string
	DueBefore   string
	DueAfter    string
	OrderBy     string
	Limit       int
	Offset      int
}

func (o TaskListOptions) filters(ownerID string) (repo.TaskFilters, error) {
	f := repo.TaskFilters{
		OwnerID:     ownerID,
		PriorityMin: o.PriorityMin,
		PriorityMax: o.PriorityMax,
		Search:      o.Search,
		OrderBy:     o.OrderBy,
		Limit:       o.Limit,
		Offset:      o.Offset,
	}
	if o.Status != "" {
		if err := validateStatus(o.Status); err != nil {
			return f, err
		}
		f.Status = o.Status
	}
	if o.ProjectID != "" {
		f.ProjectIDs = []string{o.ProjectID}
	}
	if o.TagID != "" {
		f.TagIDs = []string{o.TagID}
	}
	if o.DueBefore != "" {
		if err := validateDate(o.DueBefore); err != nil {
			return f, err
		}
		f.DueBefore = o.DueBefore
	}
	if o.DueAfter != "" {
		if err := validateDate(o.DueAfter); err != nil {
			return f, err
		}
		f.DueAfter = o.DueAfter
	}
	return f, nil
}

// ListTasks returns one page of tasks plus the total match count.
func (e Engine) ListTasks(ctx context.Context, ownerID string, opts TaskListOptions) ([]domain.Task, int, error) {
	f, err := opts.filters(ownerID)
	if err != nil {
		return nil, 0, err
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.Repo.CountTasks(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// TodayTasks lists open tasks due today or earlier.
func (e Engine) TodayTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	today := e.now().UTC()
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		OwnerID:   ownerID,
		StatusNot: "completed",
		DueBefore: today.AddDate(0, 0, 1).Format("2006-01-02"),
		OrderBy:   "due",
	})
}

// UpcomingTasks lists open tasks due within the next days days, today
// included.
func (e Engine) UpcomingTasks(ctx context.Context, ownerID string, days int) ([]domain.Task, error) {
	if days <= 0 {
		days = 7
	}
	today := e.now().UTC()
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		OwnerID:   ownerID,
		StatusNot: "completed",
		DueAfter:  today.Format("2006-01-02"),
		DueBefore: today.AddDate(0, 0, days+1).Format("2006-01-02"),
		OrderBy:   "due",
	})
}

// OverdueTasks lists open tasks whose due date has passed.
func (e Engine) OverdueTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		OwnerID:   ownerID,
		StatusNot: "completed",
		DueBefore: e.now().UTC().Format("2006-01-02"),
		OrderBy:   "due",
	})
}

// SearchTasks ranks tasks against a free-text query. With the index enabled
// results come back in relevance order; otherwise it falls back to a
// substring match ordered like a normal listing.
func (e Engine) SearchTasks(ctx context.Context, ownerID, query string, limit int) ([]domain.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidf("search query is required")
	}
	if limit <= 0 {
		limit = 50
	}
	if e.Search == nil {
		return e.Repo.ListTasks(ctx, repo.TaskFilters{OwnerID: ownerID, Search: query, Limit: limit})
	}
	ids, err := e.Search.Search(ownerID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{OwnerID: ownerID, IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	ranked := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			ranked = append(ranked, t)
		}
	}
	return ranked, nil
}

// EnsureTag returns the owner's tag with the given name, creating it on first
// use.
func (e Engine) EnsureTag(ctx context.Context, ownerID, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, invalidf("tag name is required")
	}
	if len(name) > 100 {
		return domain.Tag{}, invalidf("tag name exceeds 100 characters")
	}
	tag, err := e.Repo.FindTagByName(ctx, nil, ownerID, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Tag{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tag{}, err
	}
	defer tx.Rollback()

	// A concurrent creator can win the unique race between the lookup and
	// the insert; re-read inside the transaction.
	if tag, err := e.Repo.FindTagByName(ctx, tx, ownerID, name); err == nil {
		return tag, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Tag{}, err
	}
	tag = domain.Tag{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertTag(ctx, tx, tag); err != nil {
		return domain.Tag{}, err
	}
	if err := e.Events.Append(ctx, tx, "tag.created", ownerID, "tag", tag.ID, events.EventPayload{"name": tag.Name}); err != nil {
		return domain.Tag{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tag{}, err
	}
	return tag, nil
}

func (e Engine) ListTags(ctx context.Context, ownerID string) ([]domain.Tag, error) {
	return e.Repo.ListTags(ctx, ownerID)
}

// ListActivity returns the owner's most recent activity rows, newest first.
func (e Engine) ListActivity(ctx context.Context, ownerID string, limit int) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, ownerID, limit)
}
