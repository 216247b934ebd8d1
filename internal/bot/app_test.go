package bot

import (
	"testing"
	"time"
)

func TestFeedSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		every string
		want  string
	}{
		{every: "10m", want: "*/10 7-23 * * *"},
		{every: "5m", want: "*/5 7-23 * * *"},
		{every: "", want: "*/10 7-23 * * *"}, // default applies
		{every: "30s", want: "*/1 7-23 * * *"},
	}
	for _, tt := range tests {
		got, err := feedSpec(tt.every, 10*time.Minute)
		if err != nil {
			t.Fatalf("feedSpec(%q) error: %v", tt.every, err)
		}
		if got != tt.want {
			t.Fatalf("feedSpec(%q) = %q, want %q", tt.every, got, tt.want)
		}
	}

	if _, err := feedSpec("often", 0); err == nil {
		t.Fatal("expected error for junk interval")
	}
}

func TestContainsInt64(t *testing.T) {
	t.Parallel()
	ids := []int64{-1001, 42}
	if !containsInt64(ids, 42) || !containsInt64(ids, -1001) {
		t.Fatal("known ids not found")
	}
	if containsInt64(ids, 7) || containsInt64(nil, 7) {
		t.Fatal("unknown id reported present")
	}
}
