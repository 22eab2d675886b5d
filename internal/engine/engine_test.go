package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"todome/internal/config"
	"todome/internal/db"
	"todome/internal/domain"
	"todome/internal/engine"
	"todome/internal/migrate"
	"todome/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Ctx: context.Background(),
		now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return env.now }
	env.Engine = eng
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "first"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != "pending" || task.Priority != 3 || task.Position != 1 {
		t.Fatalf("defaults: %+v", task)
	}
	if task.CreatedAt != task.UpdatedAt || task.CreatedAt != "2025-03-10T12:00:00Z" {
		t.Fatalf("stamps: created=%s updated=%s", task.CreatedAt, task.UpdatedAt)
	}
	second, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Position != 2 {
		t.Fatalf("position %d", second.Position)
	}

	done, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "done already", Status: "completed"})
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed create has no completedAt")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.TaskCreateOptions{
		{},                                  // no title
		{Title: "x", Status: "paused"},      // unknown status
		{Title: "x", Priority: 9},           // out of range
		{Title: "x", DueDate: "03/10/2025"}, // wrong date format
		{Title: "x", DueTime: "9pm"},
		{Title: "x", Recurring: true}, // recurring without type
		{Title: strings.Repeat("a", 501)},
	}
	for i, opts := range cases {
		_, err := env.Engine.CreateTask(env.Ctx, "alice", opts)
		if !errors.Is(err, engine.ErrValidation) {
			t.Errorf("case %d: err=%v, want validation", i, err)
		}
	}

	_, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "x", TagIDs: []string{"nope"}})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("unknown tag: %v", err)
	}
}

func TestUpdateTaskSparse(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:   "draft",
		DueDate: "2025-03-12",
		DueTime: "09:00",
	})
	if err != nil {
		t.Fatal(err)
	}

	env.advance(time.Minute)
	updated, prior, err := env.Engine.UpdateTask(env.Ctx, "alice", task.ID, engine.TaskUpdateOptions{
		Title:   strp("final"),
		DueDate: strp(""), // empty pointer clears
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "final" || updated.DueDate != nil {
		t.Fatalf("updated: %+v", updated)
	}
	// untouched fields survive
	if updated.DueTime == nil || *updated.DueTime != "09:00" {
		t.Fatalf("dueTime disturbed: %v", updated.DueTime)
	}
	if updated.UpdatedAt != "2025-03-10T12:01:00Z" {
		t.Fatalf("updatedAt %s", updated.UpdatedAt)
	}
	// the prior snapshot holds the pre-update values
	if prior.Title != "draft" || prior.DueDate == nil || *prior.DueDate != "2025-03-12" {
		t.Fatalf("prior snapshot: %+v", prior)
	}

	_, _, err = env.Engine.UpdateTask(env.Ctx, "alice", task.ID, engine.TaskUpdateOptions{Priority: intp(0)})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("bad priority: %v", err)
	}
}

func TestOwnershipChecks(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "private"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "bob", task.ID); !errors.Is(err, repo.ErrPermissionDenied) {
		t.Fatalf("get: %v", err)
	}
	if _, _, err := env.Engine.UpdateTask(env.Ctx, "bob", task.ID, engine.TaskUpdateOptions{Title: strp("mine now")}); !errors.Is(err, repo.ErrPermissionDenied) {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, "bob", task.ID); !errors.Is(err, repo.ErrPermissionDenied) {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", "no-such-id"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestDeleteAndRestoreTask(t *testing.T) {
	env := newTestEnv(t)
	tag, err := env.Engine.EnsureTag(env.Ctx, "alice", "home")
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:   "water plants",
		DueDate: "2025-03-12",
		TagIDs:  []string{tag.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task still readable: %v", err)
	}

	env.advance(time.Minute)
	restored, err := env.Engine.RestoreTask(env.Ctx, "alice", snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ID != task.ID || restored.Title != "water plants" || restored.CreatedAt != task.CreatedAt {
		t.Fatalf("restored: %+v", restored)
	}
	if len(restored.TagIDs) != 1 || restored.TagIDs[0] != tag.ID {
		t.Fatalf("tags: %v", restored.TagIDs)
	}
	if restored.UpdatedAt == task.UpdatedAt {
		t.Fatal("restore did not stamp updatedAt")
	}
}

func TestRestoreSkipsVanishedTags(t *testing.T) {
	env := newTestEnv(t)
	tag, err := env.Engine.EnsureTag(env.Ctx, "alice", "errands")
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "shop", TagIDs: []string{tag.ID}})
	if err != nil {
		t.Fatal(err)
	}
	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	// the tag disappears between delete and restore
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DELETE FROM tags WHERE id=?`, tag.ID); err != nil {
		t.Fatalf("drop tag: %v", err)
	}

	restored, err := env.Engine.RestoreTask(env.Ctx, "alice", snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored.TagIDs) != 0 {
		t.Fatalf("vanished tag relinked: %v", restored.TagIDs)
	}
}

func TestRestoreTaskRejectsForeignSnapshot(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RestoreTask(env.Ctx, "bob", snap); !errors.Is(err, repo.ErrPermissionDenied) {
		t.Fatalf("foreign restore: %v", err)
	}
}

func TestStatusChangeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "work"})
	if err != nil {
		t.Fatal(err)
	}

	done, spawned, snap, err := env.Engine.ChangeTaskStatus(env.Ctx, "alice", task.ID, "completed")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "completed" || done.CompletedAt == nil {
		t.Fatalf("done: %+v", done)
	}
	if spawned != nil {
		t.Fatal("non-recurring task spawned a follow-up")
	}
	if snap.PriorStatus != "pending" || snap.PriorCompletedAt != nil || snap.FollowUpTaskID != nil {
		t.Fatalf("snapshot: %+v", snap)
	}

	restored, warnings, err := env.Engine.RestoreTaskStatus(env.Ctx, "alice", snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status != "pending" || restored.CompletedAt != nil {
		t.Fatalf("restored: %+v", restored)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
}

func TestCompleteRecurringSpawnsFollowUp(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:          "weekly report",
		DueDate:        "2025-03-12",
		DueTime:        "17:00",
		Recurring:      true,
		RecurrenceType: "weekly",
		RecurrenceRule: "every week",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, spawned, snap, err := env.Engine.ChangeTaskStatus(env.Ctx, "alice", task.ID, "completed")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if spawned == nil {
		t.Fatal("no follow-up spawned")
	}
	if spawned.DueDate == nil || *spawned.DueDate != "2025-03-19" {
		t.Fatalf("follow-up due: %v", spawned.DueDate)
	}
	if spawned.Status != "pending" || !spawned.Recurring {
		t.Fatalf("follow-up: %+v", spawned)
	}
	if spawned.OriginTaskID == nil || *spawned.OriginTaskID != task.ID {
		t.Fatalf("origin: %v", spawned.OriginTaskID)
	}
	if spawned.DueTime == nil || *spawned.DueTime != "17:00" {
		t.Fatalf("follow-up dueTime: %v", spawned.DueTime)
	}
	if snap.FollowUpTaskID == nil || *snap.FollowUpTaskID != spawned.ID {
		t.Fatalf("snapshot followUp: %v", snap.FollowUpTaskID)
	}
}

func TestRecurrenceEndDateStopsSeries(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:             "short series",
		DueDate:           "2025-03-12",
		Recurring:         true,
		RecurrenceType:    "weekly",
		RecurrenceEndDate: "2025-03-15",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, spawned, snap, err := env.Engine.ChangeTaskStatus(env.Ctx, "alice", task.ID, "completed")
	if err != nil {
		t.Fatal(err)
	}
	if spawned != nil {
		t.Fatalf("spawned past the end date: %+v", spawned)
	}
	if snap.FollowUpTaskID != nil {
		t.Fatalf("snapshot followUp: %v", snap.FollowUpTaskID)
	}
}

func TestUndoCompleteRemovesPristineFollowUp(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:          "daily standup",
		DueDate:        "2025-03-10",
		Recurring:      true,
		RecurrenceType: "daily",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, spawned, snap, err := env.Engine.ChangeTaskStatus(env.Ctx, "alice", task.ID, "completed")
	if err != nil || spawned == nil {
		t.Fatalf("complete: spawned=%v err=%v", spawned, err)
	}

	restored, warnings, err := env.Engine.RestoreTaskStatus(env.Ctx, "alice", snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status != "pending" {
		t.Fatalf("status %s", restored.Status)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", spawned.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("pristine follow-up survived: %v", err)
	}
}

func TestUndoCompleteKeepsAdvancedFollowUp(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:          "water plants",
		DueDate:        "2025-03-10",
		Recurring:      true,
		RecurrenceType: "daily",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, spawned, snap, err := env.Engine.ChangeTaskStatus(env.Ctx, "alice", task.ID, "completed")
	if err != nil || spawned == nil {
		t.Fatalf("complete: spawned=%v err=%v", spawned, err)
	}

	// someone edits the follow-up before the undo arrives
	env.advance(time.Minute)
	if _, _, err := env.Engine.UpdateTask(env.Ctx, "alice", spawned.ID, engine.TaskUpdateOptions{Title: strp("water plants and herbs")}); err != nil {
		t.Fatalf("edit follow-up: %v", err)
	}

	_, warnings, err := env.Engine.RestoreTaskStatus(env.Ctx, "alice", snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "kept") {
		t.Fatalf("warnings: %v", warnings)
	}
	kept, err := env.Engine.GetTask(env.Ctx, "alice", spawned.ID)
	if err != nil {
		t.Fatalf("follow-up gone: %v", err)
	}
	if kept.Title != "water plants and herbs" {
		t.Fatalf("follow-up title %q", kept.Title)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, "alice", engine.ProjectCreateOptions{Name: "home"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	env.advance(time.Minute)
	archived, prior, err := env.Engine.ArchiveProject(env.Ctx, "alice", proj.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.Archived || archived.ArchivedAt == nil {
		t.Fatalf("archived: %+v", archived)
	}
	if prior.Archived {
		t.Fatalf("prior snapshot already archived: %+v", prior)
	}

	// archived projects refuse new tasks
	_, err = env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "x", ProjectID: proj.ID})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("task into archived project: %v", err)
	}

	unarchived, _, err := env.Engine.UnarchiveProject(env.Ctx, "alice", proj.ID)
	if err != nil || unarchived.Archived || unarchived.ArchivedAt != nil {
		t.Fatalf("unarchive: %+v err=%v", unarchived, err)
	}

	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "x", ProjectID: proj.ID})
	if err != nil {
		t.Fatalf("task into active project: %v", err)
	}

	// a project holding tasks refuses deletion
	if _, err := env.Engine.DeleteProject(env.Ctx, "alice", proj.ID); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("delete non-empty: %v", err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, "alice", task.ID); err != nil {
		t.Fatal(err)
	}
	snap, err := env.Engine.DeleteProject(env.Ctx, "alice", proj.ID)
	if err != nil {
		t.Fatalf("delete empty: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, "alice", proj.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("project still readable: %v", err)
	}

	restored, err := env.Engine.RestoreProject(env.Ctx, "alice", snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ID != proj.ID || restored.Name != "home" {
		t.Fatalf("restored: %+v", restored)
	}
}

func TestProjectHierarchyGuards(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateProject(env.Ctx, "alice", engine.ProjectCreateOptions{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.CreateProject(env.Ctx, "alice", engine.ProjectCreateOptions{Name: "b", ParentID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	// a cannot become a child of its own descendant
	if _, _, err := env.Engine.UpdateProject(env.Ctx, "alice", a.ID, engine.ProjectUpdateOptions{ParentID: strp(b.ID)}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("cycle: %v", err)
	}
	if _, _, err := env.Engine.UpdateProject(env.Ctx, "alice", a.ID, engine.ProjectUpdateOptions{ParentID: strp(a.ID)}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("self-parent: %v", err)
	}
	// a parent with children refuses deletion
	if _, err := env.Engine.DeleteProject(env.Ctx, "alice", a.ID); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("delete with children: %v", err)
	}
}

func TestListTaskFilters(t *testing.T) {
	env := newTestEnv(t)
	mk := func(opts engine.TaskCreateOptions) {
		t.Helper()
		if _, err := env.Engine.CreateTask(env.Ctx, "alice", opts); err != nil {
			t.Fatal(err)
		}
	}
	mk(engine.TaskCreateOptions{Title: "overdue", Priority: 1, DueDate: "2025-03-09"})
	mk(engine.TaskCreateOptions{Title: "today", Priority: 3, DueDate: "2025-03-10", Status: "in_progress"})
	mk(engine.TaskCreateOptions{Title: "soon", Priority: 5, DueDate: "2025-03-13"})
	mk(engine.TaskCreateOptions{Title: "finished", Priority: 2, Status: "completed"})

	items, total, err := env.Engine.ListTasks(env.Ctx, "alice", engine.TaskListOptions{Status: "pending"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || total != 2 {
		t.Fatalf("pending: %d/%d", len(items), total)
	}

	items, total, err = env.Engine.ListTasks(env.Ctx, "alice", engine.TaskListOptions{PriorityMin: 3})
	if err != nil || len(items) != 2 {
		t.Fatalf("priorityMin: %d err=%v", len(items), err)
	}

	// total counts every match, the page honors the limit
	items, total, err = env.Engine.ListTasks(env.Ctx, "alice", engine.TaskListOptions{Limit: 2})
	if err != nil || len(items) != 2 || total != 4 {
		t.Fatalf("page: %d/%d err=%v", len(items), total, err)
	}

	if _, _, err := env.Engine.ListTasks(env.Ctx, "alice", engine.TaskListOptions{Status: "bogus"}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("bogus status: %v", err)
	}

	if items, _, _ := env.Engine.ListTasks(env.Ctx, "bob", engine.TaskListOptions{}); len(items) != 0 {
		t.Fatalf("owner isolation: %d", len(items))
	}
}

func TestDateViews(t *testing.T) {
	env := newTestEnv(t)
	mk := func(title, due string) {
		t.Helper()
		if _, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: title, DueDate: due}); err != nil {
			t.Fatal(err)
		}
	}
	mk("yesterday", "2025-03-09")
	mk("today", "2025-03-10")
	mk("thursday", "2025-03-13")
	mk("far", "2025-03-20")

	today, err := env.Engine.TodayTasks(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(today) != 2 || today[0].Title != "yesterday" || today[1].Title != "today" {
		t.Fatalf("today view: %+v", titles(today))
	}

	overdue, err := env.Engine.OverdueTasks(env.Ctx, "alice")
	if err != nil || len(overdue) != 1 || overdue[0].Title != "yesterday" {
		t.Fatalf("overdue view: %v err=%v", titles(overdue), err)
	}

	upcoming, err := env.Engine.UpcomingTasks(env.Ctx, "alice", 7)
	if err != nil || len(upcoming) != 2 {
		t.Fatalf("upcoming view: %v err=%v", titles(upcoming), err)
	}
}

func titles(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}

func TestSearchFallback(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "quarterly report"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "buy milk"}); err != nil {
		t.Fatal(err)
	}

	// no index configured, substring fallback
	found, err := env.Engine.SearchTasks(env.Ctx, "alice", "report", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].Title != "quarterly report" {
		t.Fatalf("found: %+v", found)
	}
	if _, err := env.Engine.SearchTasks(env.Ctx, "alice", "  ", 10); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("empty query: %v", err)
	}
}

func TestQuickAddCreatesTags(t *testing.T) {
	env := newTestEnv(t)
	task, parsed, err := env.Engine.QuickAdd(env.Ctx, "alice", "buy milk tomorrow at 18:00 #errands !2")
	if err != nil {
		t.Fatalf("quick add: %v", err)
	}
	if task.Title != "buy milk" || task.Priority != 2 {
		t.Fatalf("task: %+v", task)
	}
	if task.DueDate == nil || *task.DueDate != "2025-03-11" {
		t.Fatalf("due: %v", task.DueDate)
	}
	if len(task.TagIDs) != 1 {
		t.Fatalf("tagIds: %v", task.TagIDs)
	}
	if parsed.DueTime != "18:00" {
		t.Fatalf("parsed: %+v", parsed)
	}

	// a second mention reuses the tag
	if _, _, err := env.Engine.QuickAdd(env.Ctx, "alice", "return bottles #errands"); err != nil {
		t.Fatal(err)
	}
	tags, err := env.Engine.ListTags(env.Ctx, "alice")
	if err != nil || len(tags) != 1 || tags[0].Name != "errands" {
		t.Fatalf("tags: %+v err=%v", tags, err)
	}

	if _, _, err := env.Engine.QuickAdd(env.Ctx, "alice", "#only-tags"); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("titleless input: %v", err)
	}
}

func TestEnsureTagIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.EnsureTag(env.Ctx, "alice", "work")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.EnsureTag(env.Ctx, "alice", "work")
	if err != nil || second.ID != first.ID {
		t.Fatalf("second ensure: %+v err=%v", second, err)
	}
	// same name under another owner is a distinct tag
	other, err := env.Engine.EnsureTag(env.Ctx, "bob", "work")
	if err != nil || other.ID == first.ID {
		t.Fatalf("cross-owner tag: %+v err=%v", other, err)
	}
}

func TestEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "evented"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.UpdateTask(env.Ctx, "alice", task.ID, engine.TaskUpdateOptions{Title: strp("renamed")}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, "alice", task.ID); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM events WHERE entity_id=?`, task.ID).Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count != 3 {
		t.Fatalf("%d events, want 3", count)
	}

	events, err := env.Engine.ListActivity(env.Ctx, "alice", 10)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(events) != 3 || events[0].Type != "task.deleted" {
		t.Fatalf("activity: %+v", events)
	}
}

func TestEmptyDescriptionPersists(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "no notes"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, "alice", task.ID)
	if err != nil || got.Description != "" {
		t.Fatalf("task description %q err=%v", got.Description, err)
	}

	// clearing a description writes "" back, never NULL
	if _, _, err := env.Engine.UpdateTask(env.Ctx, "alice", task.ID, engine.TaskUpdateOptions{Description: strp("notes")}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.UpdateTask(env.Ctx, "alice", task.ID, engine.TaskUpdateOptions{Description: strp("")}); err != nil {
		t.Fatalf("clear description: %v", err)
	}
	got, err = env.Engine.GetTask(env.Ctx, "alice", task.ID)
	if err != nil || got.Description != "" {
		t.Fatalf("cleared description %q err=%v", got.Description, err)
	}

	proj, err := env.Engine.CreateProject(env.Ctx, "alice", engine.ProjectCreateOptions{Name: "bare"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if proj.Description != "" {
		t.Fatalf("project description %q", proj.Description)
	}
}

func TestAssignProjectCompletesPromptly(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, "alice", engine.ProjectCreateOptions{Name: "inbox"})
	if err != nil {
		t.Fatal(err)
	}

	// the pool holds one connection; the in-tx project check must not
	// queue behind the open tx
	ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
	defer cancel()
	task, err := env.Engine.CreateTask(ctx, "alice", engine.TaskCreateOptions{Title: "filed", ProjectID: proj.ID})
	if err != nil {
		t.Fatalf("create with project: %v", err)
	}
	if task.ProjectID == nil || *task.ProjectID != proj.ID {
		t.Fatalf("projectId: %+v", task.ProjectID)
	}

	other, err := env.Engine.CreateTask(ctx, "alice", engine.TaskCreateOptions{Title: "loose"})
	if err != nil {
		t.Fatal(err)
	}
	moved, _, err := env.Engine.UpdateTask(ctx, "alice", other.ID, engine.TaskUpdateOptions{ProjectID: strp(proj.ID)})
	if err != nil {
		t.Fatalf("move into project: %v", err)
	}
	if moved.ProjectID == nil || *moved.ProjectID != proj.ID {
		t.Fatalf("moved projectId: %+v", moved.ProjectID)
	}
}
