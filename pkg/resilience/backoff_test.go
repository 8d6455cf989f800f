package resilience

import (
	"testing"
	"time"
)

func TestBackoffDoubling(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base != 500*time.Millisecond {
		t.Fatalf("expected default base, got %v", b.Base)
	}
	if b.Delay(0) != b.Base {
		t.Fatalf("expected base delay for attempt 0")
	}
}
