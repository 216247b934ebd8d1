package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bot.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "None"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNextSequenceMonotonic(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	prev := int64(0)
	for i := 0; i < 5; i++ {
		n, err := st.NextSequence(ctx)
		if err != nil {
			t.Fatalf("NextSequence error: %v", err)
		}
		if n <= prev {
			t.Fatalf("sequence not increasing: %d after %d", n, prev)
		}
		prev = n
	}
}

func TestCursorsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if v, err := st.GetCursor(ctx, "blog:last_published"); err != nil || v != "" {
		t.Fatalf("missing cursor = %q, %v; want empty", v, err)
	}
	if err := st.PutCursor(ctx, "blog:last_published", "2024-05-01T10:00:00Z"); err != nil {
		t.Fatalf("PutCursor error: %v", err)
	}
	if err := st.PutCursor(ctx, "blog:last_published", "2024-06-01T10:00:00Z"); err != nil {
		t.Fatalf("PutCursor upsert error: %v", err)
	}
	v, err := st.GetCursor(ctx, "blog:last_published")
	if err != nil {
		t.Fatalf("GetCursor error: %v", err)
	}
	if v != "2024-06-01T10:00:00Z" {
		t.Fatalf("cursor = %q, want the upserted value", v)
	}
}
