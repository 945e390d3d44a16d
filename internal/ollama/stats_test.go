package ollama

import (
	"testing"
	"time"
)

func TestCallStatsSnapshotPercentiles(t *testing.T) {
	stats := NewCallStats(time.Hour)
	stats.Record("chat", 100)
	stats.Record("chat", 200)
	stats.Record("generate", 300)
	stats.Record("generate", 400)
	stats.Record("generate", 500)

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 {
		t.Fatalf("expected min=100, got %d", snap.MinMs)
	}
	if snap.MaxMs != 500 {
		t.Fatalf("expected max=500, got %d", snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.ByOp["chat"] != 2 || snap.ByOp["generate"] != 3 {
		t.Fatalf("by_op = %v", snap.ByOp)
	}
}

func TestCallStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewCallStats(10 * time.Millisecond)
	stats.Record("chat", 100)
	time.Sleep(25 * time.Millisecond)

	snap := stats.Snapshot()
	if snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}
}

func TestCallStatsNegativeDurationClamped(t *testing.T) {
	stats := NewCallStats(time.Hour)
	stats.Record("chat", -5)
	snap := stats.Snapshot()
	if snap.MinMs != 0 {
		t.Fatalf("expected clamp to 0, got %d", snap.MinMs)
	}
}
