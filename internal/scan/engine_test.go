package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/histsweep/histsweep/internal/store"
)

func mustCompile(t *testing.T, sources ...string) *Set {
	t.Helper()
	var patterns []Pattern
	for _, s := range sources {
		patterns = append(patterns, Pattern{ID: s, Source: s})
	}
	set, err := Compile(patterns)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return set
}

func TestReadPatterns(t *testing.T) {
	input := "# comment\n\n(?i)secret\napi[_-]key\n   \n# another\ntoken\n"
	patterns, err := ReadPatterns(strings.NewReader(input), false)
	if err != nil {
		t.Fatalf("ReadPatterns failed: %v", err)
	}
	if len(patterns) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(patterns))
	}
	if patterns[0].ID != "(?i)secret" || patterns[1].ID != "api[_-]key" || patterns[2].ID != "token" {
		t.Errorf("unexpected patterns: %+v", patterns)
	}
}

func TestReadPatterns_IgnoreCase(t *testing.T) {
	patterns, err := ReadPatterns(strings.NewReader("Secret\n"), true)
	if err != nil {
		t.Fatalf("ReadPatterns failed: %v", err)
	}
	if patterns[0].Source != "(?i)Secret" {
		t.Errorf("expected (?i) prefix, got %q", patterns[0].Source)
	}
	if patterns[0].ID != "Secret" {
		t.Errorf("expected raw ID, got %q", patterns[0].ID)
	}
}

func TestCompile_ReportsEveryBadPattern(t *testing.T) {
	_, err := Compile([]Pattern{
		{ID: "ok", Source: "fine"},
		{ID: "bad1", Source: "("},
		{ID: "bad2", Source: "[z-a]"},
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	var ce CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %T", err)
	}
	if len(ce) != 2 {
		t.Fatalf("expected 2 invalid patterns, got %d", len(ce))
	}
	if ce[0].ID != "bad1" || ce[1].ID != "bad2" {
		t.Errorf("unexpected invalid pattern ids: %+v", ce)
	}
}

func TestScan_BasicMatch(t *testing.T) {
	set := mustCompile(t, "(?i)secret")
	m := store.Message{
		Account:   "alice@example.com",
		SessionID: "s1",
		ID:        "m1",
		Text:      "the SECRET is out",
	}

	hits := set.Scan(m)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	h := hits[0]
	if h.PatternID != "(?i)secret" || h.Account != "alice@example.com" || h.SessionID != "s1" || h.MessageID != "m1" {
		t.Errorf("hit not attributed to its message: %+v", h)
	}
	if m.Text[h.Start:h.End] != "SECRET" {
		t.Errorf("span [%d,%d] does not cover the match: %q", h.Start, h.End, m.Text[h.Start:h.End])
	}
}

func TestScan_NoMatchIsEmpty(t *testing.T) {
	set := mustCompile(t, "secret")
	if hits := set.Scan(store.Message{Text: "nothing here"}); len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestScan_CaptureGroups(t *testing.T) {
	set := mustCompile(t, `key=(\w+)`)
	hits := set.Scan(store.Message{Text: "key=abc123 and more"})
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if !reflect.DeepEqual(hits[0].Groups, []string{"abc123"}) {
		t.Errorf("unexpected groups: %v", hits[0].Groups)
	}
}

func TestScan_MultipleMatchesPerMessage(t *testing.T) {
	set := mustCompile(t, "ab")
	hits := set.Scan(store.Message{Text: "ab ab ab"})
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Start == hits[1].Start {
		t.Error("expected distinct spans per occurrence")
	}
}

func TestScan_ExcerptTrimsNewlines(t *testing.T) {
	set := mustCompile(t, "needle")
	text := strings.Repeat("x", 200) + "\nneedle\n" + strings.Repeat("y", 200)
	hits := set.Scan(store.Message{Text: text})
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if strings.Contains(hits[0].Excerpt, "\n") {
		t.Error("excerpt contains newline")
	}
	if len(hits[0].Excerpt) > len("needle")+2*ExcerptContext {
		t.Errorf("excerpt too long: %d bytes", len(hits[0].Excerpt))
	}
}

func TestScan_ExcerptStaysValidUTF8(t *testing.T) {
	// Multi-byte runes on both sides of the match, sized so the byte
	// context window lands mid-rune.
	text := strings.Repeat("€", 100) + "secret" + strings.Repeat("€", 100)
	set := mustCompile(t, "secret")

	hits := set.Scan(store.Message{Text: text})
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if !utf8.ValidString(hits[0].Excerpt) {
		t.Errorf("excerpt is not valid UTF-8: %q", hits[0].Excerpt)
	}
	if !strings.Contains(hits[0].Excerpt, "secret") {
		t.Errorf("excerpt lost the match: %q", hits[0].Excerpt)
	}
}

func TestSweep_MatchesPersistedMessages(t *testing.T) {
	tmpDir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "messages.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	_ = st.PutMessage(ctx, store.Message{Account: "a", SessionID: "s1", ID: "m1", Text: "my secret plan", Seq: 0})
	_ = st.PutMessage(ctx, store.Message{Account: "a", SessionID: "s1", ID: "m2", Text: "nothing", Seq: 1})
	_ = st.PutMessage(ctx, store.Message{Account: "b", SessionID: "s2", ID: "m1", Text: "another SECRET", Seq: 0})

	set := mustCompile(t, "(?i)secret")
	var seen []store.MatchHit
	n, err := Sweep(ctx, st, set, store.MessageFilter{}, func(h store.MatchHit) {
		seen = append(seen, h)
	})
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 2 || len(seen) != 2 {
		t.Fatalf("expected 2 hits, got n=%d seen=%d", n, len(seen))
	}

	// Hits are persisted and queryable.
	var stored int
	err = st.ForEachMatch(ctx, store.MatchFilter{}, func(store.MatchHit) error {
		stored++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachMatch failed: %v", err)
	}
	if stored != 2 {
		t.Errorf("expected 2 persisted hits, got %d", stored)
	}
}

func TestSweep_CoversEveryPersistedMessage(t *testing.T) {
	tmpDir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "messages.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	// More rows than any query-command default: the sweep must still
	// replay all of them, or offline hits diverge from live ones.
	total := store.DefaultLimit + 5
	for i := 0; i < total; i++ {
		m := store.Message{
			Account:   "a",
			SessionID: "s1",
			ID:        fmt.Sprintf("m%d", i),
			Text:      "the secret stays",
			Seq:       i,
		}
		if err := st.PutMessage(ctx, m); err != nil {
			t.Fatalf("PutMessage failed: %v", err)
		}
	}

	set := mustCompile(t, "(?i)secret")
	n, err := Sweep(ctx, st, set, store.MessageFilter{}, nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != total {
		t.Fatalf("expected %d hits, got %d", total, n)
	}
}

func TestLoadPatterns_MissingFile(t *testing.T) {
	if _, err := LoadPatterns(filepath.Join(os.TempDir(), "does-not-exist.txt"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
