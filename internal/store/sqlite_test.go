package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "histsweep-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "messages.db"))
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("failed to create store: %v", err)
	}
	cleanup := func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

// Session tests

func TestPutSession(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := Session{Account: "alice@example.com", ID: "s1", Title: "first chat", CreatedAt: time.Now()}
	if err := store.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	sessions, err := store.ListSessions(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Title != "first chat" {
		t.Errorf("expected title 'first chat', got '%s'", sessions[0].Title)
	}
}

func TestPutSession_UpsertIsIdempotent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := Session{Account: "alice@example.com", ID: "s1", Title: "original"}
	if err := store.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	sess.Title = "renamed"
	if err := store.PutSession(ctx, sess); err != nil {
		t.Fatalf("second PutSession failed: %v", err)
	}

	sessions, err := store.ListSessions(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after re-put, got %d", len(sessions))
	}
	if sessions[0].Title != "renamed" {
		t.Errorf("expected upsert to take the new title, got '%s'", sessions[0].Title)
	}
}

// Message tests

func TestPutMessage_UpsertIsIdempotent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	m := Message{Account: "alice@example.com", SessionID: "s1", ID: "m1", Role: "user", Text: "hello", Seq: 0}
	if err := store.PutMessage(ctx, m); err != nil {
		t.Fatalf("PutMessage failed: %v", err)
	}
	if err := store.PutMessage(ctx, m); err != nil {
		t.Fatalf("identical PutMessage failed: %v", err)
	}

	var got []Message
	err := store.ForEachMessage(ctx, MessageFilter{SessionID: "s1"}, func(msg Message) error {
		got = append(got, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMessage failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 row after duplicate put, got %d", len(got))
	}
	if got[0].Text != "hello" {
		t.Errorf("expected text 'hello', got '%s'", got[0].Text)
	}
}

func TestForEachMessage_PreservesSessionOrder(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// Insert out of order; seq reflects arrival order from the worker.
	for _, seq := range []int{2, 0, 1} {
		m := Message{
			Account:   "alice@example.com",
			SessionID: "s1",
			ID:        fmt.Sprintf("m%d", seq),
			Text:      fmt.Sprintf("msg %d", seq),
			Seq:       seq,
		}
		if err := store.PutMessage(ctx, m); err != nil {
			t.Fatalf("PutMessage failed: %v", err)
		}
	}

	var got []int
	err := store.ForEachMessage(ctx, MessageFilter{SessionID: "s1"}, func(m Message) error {
		got = append(got, m.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMessage failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Errorf("position %d: expected seq %d, got %d", i, i, seq)
		}
	}
}

func TestForEachMessage_FilterByAccount(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_ = store.PutMessage(ctx, Message{Account: "alice@example.com", SessionID: "s1", ID: "m1", Text: "a"})
	_ = store.PutMessage(ctx, Message{Account: "bob@example.com", SessionID: "s2", ID: "m1", Text: "b"})

	var got []Message
	err := store.ForEachMessage(ctx, MessageFilter{Account: "bob@example.com"}, func(m Message) error {
		got = append(got, m)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMessage failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Text != "b" {
		t.Errorf("expected bob's message, got '%s'", got[0].Text)
	}
}

func TestForEachMessage_NoLimitStreamsEveryRow(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// Well past DefaultLimit: an unlimited filter must still see every row.
	total := DefaultLimit + 5
	for i := 0; i < total; i++ {
		m := Message{
			Account:   "alice@example.com",
			SessionID: "s1",
			ID:        fmt.Sprintf("m%d", i),
			Text:      "row",
			Seq:       i,
		}
		if err := store.PutMessage(ctx, m); err != nil {
			t.Fatalf("PutMessage failed: %v", err)
		}
	}

	seen := 0
	err := store.ForEachMessage(ctx, MessageFilter{}, func(m Message) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMessage failed: %v", err)
	}
	if seen != total {
		t.Fatalf("expected %d messages, got %d", total, seen)
	}

	seen = 0
	err = store.ForEachMessage(ctx, MessageFilter{Limit: 10}, func(m Message) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMessage with limit failed: %v", err)
	}
	if seen != 10 {
		t.Errorf("expected explicit limit of 10 rows, got %d", seen)
	}
}

// Match tests

func TestPutMatch_UpsertIsIdempotent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	h := MatchHit{
		PatternID: "p1",
		Account:   "alice@example.com",
		SessionID: "s1",
		MessageID: "m1",
		Start:     4,
		End:       10,
		Groups:    []string{"secret"},
	}
	if err := store.PutMatch(ctx, h); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}
	if err := store.PutMatch(ctx, h); err != nil {
		t.Fatalf("identical PutMatch failed: %v", err)
	}

	var got []MatchHit
	err := store.ForEachMatch(ctx, MatchFilter{PatternID: "p1"}, func(hit MatchHit) error {
		got = append(got, hit)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMatch failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 hit after duplicate put, got %d", len(got))
	}
	if got[0].Start != 4 || got[0].End != 10 {
		t.Errorf("unexpected span: [%d,%d]", got[0].Start, got[0].End)
	}
	if len(got[0].Groups) != 1 || got[0].Groups[0] != "secret" {
		t.Errorf("unexpected groups: %v", got[0].Groups)
	}
}

func TestPutMessage_ConcurrentWriters(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			account := fmt.Sprintf("acct%d@example.com", w)
			for i := 0; i < 10; i++ {
				m := Message{
					Account:   account,
					SessionID: fmt.Sprintf("s%d", w),
					ID:        fmt.Sprintf("m%d", i),
					Text:      "concurrent write",
					Seq:       i,
				}
				if err := store.PutMessage(ctx, m); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent PutMessage failed: %v", err)
	}

	stats, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if stats.Messages != 40 {
		t.Errorf("expected 40 messages, got %d", stats.Messages)
	}
}

func TestCounts(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_ = store.PutSession(ctx, Session{Account: "a", ID: "s1"})
	_ = store.PutSession(ctx, Session{Account: "a", ID: "s2"})
	_ = store.PutSession(ctx, Session{Account: "b", ID: "s3"})
	_ = store.PutMessage(ctx, Message{Account: "a", SessionID: "s1", ID: "m1"})
	_ = store.PutMatch(ctx, MatchHit{PatternID: "p", Account: "a", SessionID: "s1", MessageID: "m1"})

	stats, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if stats.Accounts != 2 || stats.Sessions != 3 || stats.Messages != 1 || stats.Matches != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
