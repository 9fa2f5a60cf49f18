package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clock.Advance(90 * time.Second)
	if got := clock.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if got := clock.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClock_AutoAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	clock := NewMockClock(start)
	clock.AutoAdvance(250 * time.Millisecond)

	first := clock.Now()
	second := clock.Now()
	if !first.Equal(start) {
		t.Errorf("first Now() = %v, want %v", first, start)
	}
	if got := second.Sub(first); got != 250*time.Millisecond {
		t.Errorf("auto-advance step = %v, want 250ms", got)
	}
	if got := clock.Since(start); got != 500*time.Millisecond {
		t.Errorf("Since() = %v, want 500ms", got)
	}

	clock.AutoAdvance(0)
	a, b := clock.Now(), clock.Now()
	if !a.Equal(b) {
		t.Errorf("clock kept advancing after AutoAdvance(0): %v vs %v", a, b)
	}
}
