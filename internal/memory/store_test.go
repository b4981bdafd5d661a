package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

func newTestSQLiteStore(t *testing.T, k int) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Every pooled connection would get its own :memory: database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStoreDB(db, k, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

// forEachBackend runs fn against both Store implementations.
func forEachBackend(t *testing.T, k int, fn func(t *testing.T, s Store)) {
	t.Run("window", func(t *testing.T) { fn(t, NewWindow(k)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t, k)) })
}

func appendExchange(t *testing.T, s Store, id ConversationID, q, a string) {
	t.Helper()
	if err := s.Append(context.Background(), id, Exchange(q, a)...); err != nil {
		t.Fatalf("append %q: %v", q, err)
	}
}

func history(t *testing.T, s Store, id ConversationID) []Turn {
	t.Helper()
	h, err := s.History(context.Background(), id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return h
}

func TestStore_UnknownIDIsEmpty(t *testing.T) {
	forEachBackend(t, 3, func(t *testing.T, s Store) {
		h := history(t, s, "nobody")
		if h == nil || len(h) != 0 {
			t.Errorf("History(unknown) = %#v, want empty non-nil slice", h)
		}
		st, err := s.Stats(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.Total != 0 || st.Turns != 0 {
			t.Errorf("Stats(unknown) = %+v, want zero counts", st)
		}
	})
}

func TestStore_FIFOByExchange(t *testing.T) {
	forEachBackend(t, 2, func(t *testing.T, s Store) {
		appendExchange(t, s, "c", "q1", "a1")
		appendExchange(t, s, "c", "q2", "a2")
		appendExchange(t, s, "c", "q3", "a3")

		want := []Turn{
			{RoleUser, "q2"}, {RoleAssistant, "a2"},
			{RoleUser, "q3"}, {RoleAssistant, "a3"},
		}
		if diff := cmp.Diff(want, history(t, s, "c")); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}

		st, err := s.Stats(context.Background(), "c")
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.Exchanges != 2 || st.Turns != 4 || st.Total != 3 || st.Window != 2 {
			t.Errorf("stats = %+v, want 2 exchanges, 4 turns, total 3, window 2", st)
		}
	})
}

func TestStore_MultiTurnExchangeEvictedWhole(t *testing.T) {
	forEachBackend(t, 1, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Append(ctx, "c",
			Turn{RoleUser, "q1"},
			Turn{RoleAssistant, "a1 part 1"},
			Turn{RoleAssistant, "a1 part 2"},
		); err != nil {
			t.Fatal(err)
		}
		if got := len(history(t, s, "c")); got != 3 {
			t.Fatalf("len(history) = %d, want 3", got)
		}

		appendExchange(t, s, "c", "q2", "a2")
		want := []Turn{{RoleUser, "q2"}, {RoleAssistant, "a2"}}
		if diff := cmp.Diff(want, history(t, s, "c")); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_AppendAcrossCallsJoinsExchange(t *testing.T) {
	forEachBackend(t, 2, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Append(ctx, "c", Turn{RoleUser, "q1"}); err != nil {
			t.Fatal(err)
		}
		if err := s.Append(ctx, "c", Turn{RoleAssistant, "a1"}); err != nil {
			t.Fatal(err)
		}
		st, err := s.Stats(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if st.Exchanges != 1 || st.Turns != 2 {
			t.Errorf("stats = %+v, want 1 exchange of 2 turns", st)
		}
	})
}

func TestStore_IsolatedByID(t *testing.T) {
	forEachBackend(t, 2, func(t *testing.T, s Store) {
		appendExchange(t, s, "a", "qa", "aa")
		appendExchange(t, s, "b", "qb", "ab")

		if got := history(t, s, "a"); len(got) != 2 || got[0].Content != "qa" {
			t.Errorf("history(a) = %v", got)
		}
		if got := history(t, s, "b"); len(got) != 2 || got[0].Content != "qb" {
			t.Errorf("history(b) = %v", got)
		}
	})
}

func TestStore_Clear(t *testing.T) {
	forEachBackend(t, 2, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendExchange(t, s, "c", "q1", "a1")
		appendExchange(t, s, "other", "q", "a")

		if err := s.Clear(ctx, "c"); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if got := history(t, s, "c"); len(got) != 0 {
			t.Errorf("history after clear = %v, want empty", got)
		}
		if got := history(t, s, "other"); len(got) != 2 {
			t.Errorf("clear leaked into another conversation: %v", got)
		}

		appendExchange(t, s, "c", "q2", "a2")
		st, err := s.Stats(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if st.Total != 1 {
			t.Errorf("total after clear = %d, want 1", st.Total)
		}
	})
}

func TestStore_HistoryIsACopy(t *testing.T) {
	w := NewWindow(2)
	appendExchange(t, w, "c", "q1", "a1")

	h := history(t, w, "c")
	h[0].Content = "mutated"

	if got := history(t, w, "c")[0].Content; got != "q1" {
		t.Errorf("stored turn changed to %q", got)
	}
}

func TestWindow_ConcurrentConversations(t *testing.T) {
	w := NewWindow(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ConversationID(fmt.Sprintf("conv-%d", i))
			for j := range 10 {
				_ = w.Append(ctx, id, Exchange(fmt.Sprintf("q%d", j), fmt.Sprintf("a%d", j))...)
				_, _ = w.History(ctx, id)
			}
		}()
	}
	wg.Wait()

	if got := w.Conversations(); got != 8 {
		t.Fatalf("conversations = %d, want 8", got)
	}
	for i := range 8 {
		h := history(t, w, ConversationID(fmt.Sprintf("conv-%d", i)))
		if len(h) != 6 {
			t.Errorf("conv-%d has %d turns, want 6", i, len(h))
		}
		if h[0].Content != "q7" {
			t.Errorf("conv-%d oldest = %q, want q7", i, h[0].Content)
		}
	}
}

func TestNewWindow_DefaultSize(t *testing.T) {
	if got := NewWindow(0).Size(); got != DefaultWindow {
		t.Errorf("Size() = %d, want %d", got, DefaultWindow)
	}
}
