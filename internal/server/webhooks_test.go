package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"todome/internal/config"
	"todome/internal/db"
	"todome/internal/engine"
	"todome/internal/migrate"
)

func TestWebhookDeliveryAndStop(t *testing.T) {
	deliveries := make(chan string, 16)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries <- r.Header.Get("X-Todome-Event")
	}))
	defer hook.Close()

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"task.created"}}}
	eng := engine.New(conn, cfg)
	ctx := context.Background()

	d := newWebhookDispatcher(eng, 10*time.Millisecond)
	// prime the cursors at the current log tail before events flow
	d.dispatchAll()
	go d.run()

	if _, err := eng.CreateTask(ctx, "alice", engine.TaskCreateOptions{Title: "hooked"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	select {
	case evt := <-deliveries:
		if evt != "task.created" {
			t.Fatalf("delivered %q", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook delivery")
	}

	// Stop returns only once the loop has exited
	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	d.Stop() // second call is a no-op

	if _, err := eng.CreateTask(ctx, "alice", engine.TaskCreateOptions{Title: "after stop"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case evt := <-deliveries:
		t.Fatalf("delivery after stop: %q", evt)
	default:
	}
}
