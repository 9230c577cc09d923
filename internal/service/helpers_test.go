package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/DocSync/internal/adapter/localdoc"
	"github.com/Strob0t/DocSync/internal/adapter/memremote"
	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/user"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

// mockBroadcaster records every published event.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *mockBroadcaster) Publish(_ context.Context, ev event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockBroadcaster) ofType(typ event.Type) []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, ev := range m.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockBroadcaster) lastStatus(t *testing.T) event.SyncStatus {
	t.Helper()
	evs := m.ofType(event.TypeSyncStatus)
	if len(evs) == 0 {
		t.Fatal("no sync:status event")
	}
	var st event.SyncStatus
	if err := json.Unmarshal(evs[len(evs)-1].Payload, &st); err != nil {
		t.Fatal(err)
	}
	return st
}

type fixture struct {
	repo  *memremote.Repository
	coord *Coordinator
	store *ContentStore
	bus   *mockBroadcaster
	clock *clock.Fake
	docs  *localdoc.Engine
}

var testRef = repo.Ref{Owner: "acme", Name: "docs", DefaultBranch: "main"}

func newFixture(t *testing.T, files map[string]string, strategy workspace.Strategy) *fixture {
	t.Helper()
	r := memremote.NewRepository(testRef, files)
	clk := clock.NewFake(testStart)
	bus := &mockBroadcaster{}
	docs := localdoc.New(clk, 0)
	store := NewContentStore(false)
	sess := NewSession("0f8e2c1a-aaaa-bbbb-cccc-000000000001", testRef, user.Identity{ID: "u1"}, strategy, "docsync/session-", testStart)
	coord := NewCoordinator(sess, memremote.NewClient(r), store, CoordinatorOptions{
		Docs:             docs,
		Bus:              bus,
		FetchConcurrency: 2,
	})
	if err := coord.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return &fixture{repo: r, coord: coord, store: store, bus: bus, clock: clk, docs: docs}
}

func (f *fixture) open(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := f.coord.OpenFile(context.Background(), p); err != nil {
			t.Fatalf("open %s: %v", p, err)
		}
	}
}

func (f *fixture) edit(t *testing.T, path, content string) {
	t.Helper()
	if err := f.coord.Edit(context.Background(), path, content); err != nil {
		t.Fatalf("edit %s: %v", path, err)
	}
}
