package undo_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"todome/internal/config"
	"todome/internal/db"
	"todome/internal/engine"
	"todome/internal/migrate"
	"todome/internal/repo"
	"todome/internal/snapshot"
	"todome/internal/tokenstore"
	"todome/internal/undo"
)

type testEnv struct {
	Engine engine.Engine
	Undo   *undo.Service
	Ctx    context.Context
	now    time.Time
}

// newTestEnv wires the service against a real engine and an in-memory token
// store. One clock drives both, so advancing it expires tokens and moves the
// engine's stamps together.
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
	store := tokenstore.NewMemoryStore()
	store.Now = func() time.Time { return env.now }
	env.Engine = eng
	env.Undo = undo.NewService(store, eng, time.Minute)
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) mustCreateTask(t *testing.T, title string) string {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: title})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID
}

func TestDeleteUndoRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustCreateTask(t, "doomed")
	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	token, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskDelete, "alice", []snapshot.Entry{snapshot.TaskEntry(snap)})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if len(token.ID) < 40 || strings.Contains(token.ID, "=") {
		t.Fatalf("token id %q", token.ID)
	}
	if !token.ExpiresAt.Equal(token.CreatedAt.Add(time.Minute)) {
		t.Fatalf("lifecycle: created=%v expires=%v", token.CreatedAt, token.ExpiresAt)
	}

	// peeking does not consume
	for i := 0; i < 2; i++ {
		peeked, err := env.Undo.PeekToken(env.Ctx, token.ID)
		if err != nil {
			t.Fatalf("peek #%d: %v", i, err)
		}
		if peeked.Kind != undo.KindTaskDelete {
			t.Fatalf("peeked kind %s", peeked.Kind)
		}
	}

	res, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if res.Kind != undo.KindTaskDelete || len(res.Tasks) != 1 || res.Tasks[0].ID != id {
		t.Fatalf("result: %+v", res)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", id); err != nil {
		t.Fatalf("task not back: %v", err)
	}

	// single use
	if _, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID); !errors.Is(err, undo.ErrTokenNotFound) {
		t.Fatalf("second undo: %v", err)
	}
	if _, err := env.Undo.PeekToken(env.Ctx, token.ID); !errors.Is(err, undo.ErrTokenNotFound) {
		t.Fatalf("peek after undo: %v", err)
	}
}

func TestTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustCreateTask(t, "fleeting")
	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	token, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskDelete, "alice", []snapshot.Entry{snapshot.TaskEntry(snap)})
	if err != nil {
		t.Fatal(err)
	}

	env.advance(59 * time.Second)
	if _, err := env.Undo.PeekToken(env.Ctx, token.ID); err != nil {
		t.Fatalf("peek before expiry: %v", err)
	}

	env.advance(time.Second)
	if _, err := env.Undo.PeekToken(env.Ctx, token.ID); !errors.Is(err, undo.ErrTokenNotFound) {
		t.Fatalf("peek after expiry: %v", err)
	}
	if _, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID); !errors.Is(err, undo.ErrTokenNotFound) {
		t.Fatalf("undo after expiry: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expired undo still restored: %v", err)
	}
}

func TestWrongOwnerBurnsToken(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustCreateTask(t, "private")
	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	token, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskDelete, "alice", []snapshot.Entry{snapshot.TaskEntry(snap)})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Undo.ExecuteUndo(env.Ctx, "mallory", token.ID); !errors.Is(err, undo.ErrPermissionDenied) {
		t.Fatalf("foreign redeem: %v", err)
	}
	// nothing was restored
	if _, err := env.Engine.GetTask(env.Ctx, "alice", id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("restore leaked: %v", err)
	}
	// and the token is spent for the rightful owner too
	if _, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID); !errors.Is(err, undo.ErrTokenNotFound) {
		t.Fatalf("owner redeem after burn: %v", err)
	}
}

func TestCreateTokenValidation(t *testing.T) {
	env := newTestEnv(t)
	taskEntry := snapshot.TaskEntry(snapshot.Task{TaskID: "t1", OwnerID: "alice", Title: "x", Status: "pending", Priority: 3, CreatedAt: "2025-03-10T12:00:00Z"})
	statusEntry := snapshot.StatusEntry(snapshot.TaskStatus{TaskID: "t1", PriorStatus: "pending"})

	cases := []struct {
		name    string
		kind    string
		owner   string
		entries []snapshot.Entry
	}{
		{"unknown kind", "task-rename", "alice", []snapshot.Entry{taskEntry}},
		{"no owner", undo.KindTaskDelete, "", []snapshot.Entry{taskEntry}},
		{"no entries", undo.KindTaskDelete, "alice", nil},
		{"too many entries", undo.KindTaskDelete, "alice", []snapshot.Entry{taskEntry, taskEntry}},
		{"entry kind mismatch", undo.KindTaskDelete, "alice", []snapshot.Entry{statusEntry}},
		{"invalid entry", undo.KindTaskDelete, "alice", []snapshot.Entry{{Kind: snapshot.KindTask}}},
	}
	for _, c := range cases {
		if _, err := env.Undo.CreateToken(env.Ctx, c.kind, c.owner, c.entries); err == nil {
			t.Errorf("%s: token issued", c.name)
		}
	}

	// batch kind accepts a mixed multi-entry ledger
	if _, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskBatch, "alice", []snapshot.Entry{taskEntry, statusEntry, snapshot.CreatedEntry("t2")}); err != nil {
		t.Fatalf("batch token: %v", err)
	}
}

// A batch that created a task and then updated it must unwind update-first:
// the update restore reinstates the row, the created marker then removes it.
// Unwound forward the row would survive.
func TestBatchUndoUnwindsInReverse(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{Title: "batch made me"})
	if err != nil {
		t.Fatal(err)
	}
	created := snapshot.CreatedEntry(task.ID)

	newTitle := "batch renamed me"
	_, prior, err := env.Engine.UpdateTask(env.Ctx, "alice", task.ID, engine.TaskUpdateOptions{Title: &newTitle})
	if err != nil {
		t.Fatal(err)
	}
	updated := snapshot.TaskEntry(prior)

	token, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskBatch, "alice", []snapshot.Entry{created, updated})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(res.RemovedTaskIDs) != 1 || res.RemovedTaskIDs[0] != task.ID {
		t.Fatalf("removed: %v", res.RemovedTaskIDs)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("created task survived its undo: %v", err)
	}
}

func TestBatchUndoReportsFailedEntries(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustCreateTask(t, "mine")
	snap, err := env.Engine.DeleteTask(env.Ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	mine := snapshot.TaskEntry(snap)
	// a snapshot belonging to someone else cannot be restored by alice
	foreign := snapshot.TaskEntry(snapshot.Task{TaskID: "t9", OwnerID: "bob", Title: "not mine", Status: "pending", Priority: 3, CreatedAt: "2025-03-10T12:00:00Z"})

	token, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskBatch, "alice", []snapshot.Entry{mine, foreign})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].ID != id {
		t.Fatalf("tasks: %+v", res.Tasks)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "entry 1") {
		t.Fatalf("warnings: %v", res.Warnings)
	}
}

func TestStatusUndoCleansFollowUp(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "alice", engine.TaskCreateOptions{
		Title:          "recurring",
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
	token, err := env.Undo.CreateToken(env.Ctx, undo.KindTaskStatusChange, "alice", []snapshot.Entry{snapshot.StatusEntry(snap)})
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].Status != "pending" {
		t.Fatalf("result: %+v", res)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "alice", spawned.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("follow-up survived: %v", err)
	}
}

func TestProjectArchiveUndo(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, "alice", engine.ProjectCreateOptions{Name: "attic"})
	if err != nil {
		t.Fatal(err)
	}
	_, prior, err := env.Engine.ArchiveProject(env.Ctx, "alice", proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	token, err := env.Undo.CreateToken(env.Ctx, undo.KindProjectArchive, "alice", []snapshot.Entry{snapshot.ProjectEntry(prior)})
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.Undo.ExecuteUndo(env.Ctx, "alice", token.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(res.Projects) != 1 || res.Projects[0].Archived {
		t.Fatalf("result: %+v", res)
	}
	got, err := env.Engine.GetProject(env.Ctx, "alice", proj.ID)
	if err != nil || got.Archived || got.ArchivedAt != nil {
		t.Fatalf("project: %+v err=%v", got, err)
	}
}
