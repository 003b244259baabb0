package reminders

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/reminders.db")
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	id, err := s.Create(ctx, "alice", "chan-1", "water the plants", runAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty id")
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || !list[0].IsPending() {
		t.Fatalf("unexpected list result: %+v", list)
	}
	if !list[0].RunAtUTC.Equal(runAt) {
		t.Errorf("expected run_at_utc %v, got %v", runAt, list[0].RunAtUTC)
	}
}

func TestStore_ListOnlyReturnsOwnersPendingReminders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runAt := time.Now().UTC()

	if _, err := s.Create(ctx, "alice", "chan-1", "task a", runAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Create(ctx, "bob", "chan-2", "task b", runAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].User != "alice" {
		t.Fatalf("expected only alice's reminder, got %+v", list)
	}
}

func TestStore_Update(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.Create(ctx, "alice", "chan-1", "old task", runAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newTask := "new task"
	newRunAt := runAt.Add(time.Hour)
	if err := s.Update(ctx, id, &newTask, &newRunAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Task != "new task" || !list[0].RunAtUTC.Equal(newRunAt) {
		t.Fatalf("unexpected updated reminder: %+v", list)
	}
}

func TestStore_UpdateRejectsNonPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := "new"
	if err := s.Update(ctx, id, &task, nil); err != ErrNotPending {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "alice", "chan-1", "task", time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected deleted reminder to be excluded from List, got %+v", list)
	}

	if err := s.Delete(ctx, id); err != ErrNotPending {
		t.Fatalf("expected ErrNotPending on double-delete, got %v", err)
	}
}
