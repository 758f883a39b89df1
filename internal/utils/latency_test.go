package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Percentile(0); got != time.Millisecond {
		t.Fatalf("p0 wrong: %v", got)
	}
	if got := tracker.Percentile(100); got != 100*time.Millisecond {
		t.Fatalf("p100 wrong: %v", got)
	}
	p95 := tracker.Percentile(95)
	if p95 < 90*time.Millisecond || p95 > 100*time.Millisecond {
		t.Fatalf("p95 out of range: %v", p95)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if tracker.Percentile(95) != 0 {
		t.Fatalf("empty tracker must report zero")
	}
	if tracker.Count() != 0 {
		t.Fatalf("empty tracker must have no samples")
	}
}

func TestLatencyTrackerBoundsSamples(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for i := 0; i < 50; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 10 {
		t.Fatalf("tracker must cap samples: %d", tracker.Count())
	}
	// Oldest samples are evicted first.
	if got := tracker.Percentile(0); got != 40*time.Millisecond {
		t.Fatalf("eviction order wrong: %v", got)
	}
}
