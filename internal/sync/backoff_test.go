package sync

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowth(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Multiplier: 2, Max: 5 * time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second}, // clamped to attempt 1
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{10, 5 * time.Minute}, // capped
		{100, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterRange(t *testing.T) {
	b := Backoff{Base: 10 * time.Second, Multiplier: 2, Max: time.Minute, Jitter: 0.2}

	b.Rand = func() float64 { return 0 }
	if got := b.Delay(1); got != 10*time.Second {
		t.Errorf("Delay with rand=0 = %v, want 10s", got)
	}

	b.Rand = func() float64 { return 0.999999 }
	got := b.Delay(1)
	if got < 8*time.Second || got >= 10*time.Second {
		t.Errorf("Delay with rand~1 = %v, want in [8s, 10s)", got)
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	b.Rand = func() float64 { return 0 }

	if got := b.Delay(1); got != 2*time.Second {
		t.Errorf("first delay = %v, want 2s", got)
	}
	if got := b.Delay(20); got != 5*time.Minute {
		t.Errorf("capped delay = %v, want 5m", got)
	}
}
