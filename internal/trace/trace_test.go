package trace

import (
	"testing"
	"time"
)

func TestRecorder_RingBounding(t *testing.T) {
	r := NewRecorder(4)
	for i := 0; i < 10; i++ {
		r.Record(Decision{TaskID: uint64(i)})
	}

	if r.Total() != 10 {
		t.Fatalf("expected 10 recorded, got %d", r.Total())
	}
	if r.Dropped() != 6 {
		t.Fatalf("expected 6 dropped, got %d", r.Dropped())
	}

	ds := r.Decisions()
	if len(ds) != 4 {
		t.Fatalf("expected 4 retained, got %d", len(ds))
	}
	// The newest four survive, in recording order.
	for i, d := range ds {
		if want := uint64(6 + i); d.Seq != want {
			t.Fatalf("expected seq %d at position %d, got %d", want, i, d.Seq)
		}
	}
}

func TestSummarize(t *testing.T) {
	base := time.Unix(1000, 0)
	ds := []Decision{
		{CPU: 0, Tier: "performance", FastPath: true, Latency: 100, At: base},
		{CPU: 0, Tier: "performance", Sync: true, Latency: 200, At: base.Add(time.Second)},
		{CPU: 2, Tier: "efficiency", Latency: 300, At: base.Add(2 * time.Second)},
		{CPU: 3, Tier: "fallback", Latency: 400, At: base.Add(3 * time.Second)},
	}

	s := Summarize(ds)
	if s.Total != 4 {
		t.Fatalf("expected total 4, got %d", s.Total)
	}
	if s.FastPath != 1 || s.Fallback != 1 || s.Sync != 1 {
		t.Fatalf("unexpected counters: fast=%d fallback=%d sync=%d", s.FastPath, s.Fallback, s.Sync)
	}
	if s.PerCPU[0] != 2 || s.PerCPU[2] != 1 || s.PerCPU[3] != 1 {
		t.Fatalf("unexpected per-CPU counts: %v", s.PerCPU)
	}
	if s.PerTier["performance"] != 2 {
		t.Fatalf("unexpected tier counts: %v", s.PerTier)
	}
	if s.LatencyP50 != 200 {
		t.Fatalf("expected p50 200, got %d", s.LatencyP50)
	}
	if s.LatencyP99 != 400 {
		t.Fatalf("expected p99 400, got %d", s.LatencyP99)
	}
	if s.Span != 3*time.Second {
		t.Fatalf("expected span 3s, got %s", s.Span)
	}
	if got := s.FastPathRate(); got != 0.25 {
		t.Fatalf("expected fast-path rate 0.25, got %f", got)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || s.FastPathRate() != 0 {
		t.Fatalf("expected zero summary")
	}
}
