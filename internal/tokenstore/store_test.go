package tokenstore_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"todome/internal/db"
	"todome/internal/migrate"
	"todome/internal/tokenstore"
)

// clock is a hand-advanced time source so expiry tests never sleep.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testStore struct {
	name  string
	store tokenstore.Store
	clk   *clock
	db    *sql.DB
}

var testStart = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStores(t *testing.T) []testStore {
	t.Helper()

	memClk := &clock{now: testStart}
	mem := tokenstore.NewMemoryStore()
	mem.Now = memClk.Now

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlClk := &clock{now: testStart}
	sq := tokenstore.NewSQLiteStore(conn)
	sq.Now = sqlClk.Now

	return []testStore{
		{name: "memory", store: mem, clk: memClk},
		{name: "sqlite", store: sq, clk: sqlClk, db: conn},
	}
}

func TestPutGetConsume(t *testing.T) {
	for _, ts := range newTestStores(t) {
		t.Run(ts.name, func(t *testing.T) {
			ctx := context.Background()
			e, err := ts.store.Put(ctx, "tok1", `{"k":"v"}`, time.Minute)
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if !e.CreatedAt.Equal(testStart) {
				t.Fatalf("created at %v", e.CreatedAt)
			}
			if !e.ExpiresAt.Equal(testStart.Add(time.Minute)) {
				t.Fatalf("expires at %v", e.ExpiresAt)
			}

			// peek twice, the entry must survive both reads
			for i := 0; i < 2; i++ {
				got, ok, err := ts.store.Get(ctx, "tok1")
				if err != nil || !ok {
					t.Fatalf("get #%d: ok=%v err=%v", i, ok, err)
				}
				if got.Payload != `{"k":"v"}` {
					t.Fatalf("payload %q", got.Payload)
				}
			}

			got, ok, err := ts.store.Consume(ctx, "tok1")
			if err != nil || !ok {
				t.Fatalf("consume: ok=%v err=%v", ok, err)
			}
			if got.Payload != `{"k":"v"}` {
				t.Fatalf("consumed payload %q", got.Payload)
			}

			if _, ok, _ := ts.store.Consume(ctx, "tok1"); ok {
				t.Fatal("second consume succeeded")
			}
			if _, ok, _ := ts.store.Get(ctx, "tok1"); ok {
				t.Fatal("get after consume succeeded")
			}
		})
	}
}

func TestUnknownKeyAbsent(t *testing.T) {
	for _, ts := range newTestStores(t) {
		t.Run(ts.name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := ts.store.Get(ctx, "nope"); ok || err != nil {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if _, ok, err := ts.store.Consume(ctx, "nope"); ok || err != nil {
				t.Fatalf("consume: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestExpiry(t *testing.T) {
	for _, ts := range newTestStores(t) {
		t.Run(ts.name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := ts.store.Put(ctx, "tok", "p", time.Minute); err != nil {
				t.Fatalf("put: %v", err)
			}

			ts.clk.Advance(59 * time.Second)
			if _, ok, _ := ts.store.Get(ctx, "tok"); !ok {
				t.Fatal("live entry reported absent")
			}

			// the boundary itself counts as expired
			ts.clk.Advance(time.Second)
			if _, ok, _ := ts.store.Get(ctx, "tok"); ok {
				t.Fatal("get returned expired entry")
			}
			if _, ok, _ := ts.store.Consume(ctx, "tok"); ok {
				t.Fatal("consume returned expired entry")
			}
		})
	}
}

func TestConsumeSingleWinner(t *testing.T) {
	for _, ts := range newTestStores(t) {
		t.Run(ts.name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := ts.store.Put(ctx, "race", "p", time.Minute); err != nil {
				t.Fatalf("put: %v", err)
			}

			const n = 8
			var wg sync.WaitGroup
			wins := make(chan struct{}, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok, err := ts.store.Consume(ctx, "race"); err != nil {
						t.Errorf("consume: %v", err)
					} else if ok {
						wins <- struct{}{}
					}
				}()
			}
			wg.Wait()
			close(wins)
			if got := len(wins); got != 1 {
				t.Fatalf("%d consumers won, want 1", got)
			}
		})
	}
}

func TestKeysIndependent(t *testing.T) {
	for _, ts := range newTestStores(t) {
		t.Run(ts.name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := ts.store.Put(ctx, "a", "pa", time.Minute); err != nil {
				t.Fatalf("put a: %v", err)
			}
			if _, err := ts.store.Put(ctx, "b", "pb", time.Minute); err != nil {
				t.Fatalf("put b: %v", err)
			}
			if _, ok, _ := ts.store.Consume(ctx, "a"); !ok {
				t.Fatal("consume a")
			}
			got, ok, _ := ts.store.Get(ctx, "b")
			if !ok || got.Payload != "pb" {
				t.Fatalf("b disturbed: ok=%v payload=%q", ok, got.Payload)
			}
		})
	}
}

// Expired rows are cleared on the next Put, so the table never accumulates.
func TestSQLitePutPurgesExpired(t *testing.T) {
	for _, ts := range newTestStores(t) {
		if ts.db == nil {
			continue
		}
		ctx := context.Background()
		if _, err := ts.store.Put(ctx, "old", "p", time.Minute); err != nil {
			t.Fatalf("put old: %v", err)
		}
		ts.clk.Advance(2 * time.Minute)
		if _, err := ts.store.Put(ctx, "new", "p", time.Minute); err != nil {
			t.Fatalf("put new: %v", err)
		}

		var count int
		if err := ts.db.QueryRow(`SELECT COUNT(*) FROM undo_tokens`).Scan(&count); err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 1 {
			t.Fatalf("%d rows after purge, want 1", count)
		}
	}
}
