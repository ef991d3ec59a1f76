package cpuprobe

import (
	"testing"
	"time"

	"corepick/internal/loadtrack"
	"corepick/internal/placement"
)

func TestScaledDelta(t *testing.T) {
	cases := []struct {
		name    string
		delta   uint64
		enabled time.Duration
		running time.Duration
		want    uint64
	}{
		{"fully running", 1000, time.Second, time.Second, 1000},
		{"half multiplexed", 1000, time.Second, 500 * time.Millisecond, 2000},
		{"quarter multiplexed", 400, time.Second, 250 * time.Millisecond, 1600},
		{"never ran", 0, time.Second, 0, 0},
		{"no enabled time", 123, 0, 0, 123},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := scaledDelta(tc.delta, tc.enabled, tc.running); got != tc.want {
				t.Fatalf("scaledDelta(%d, %v, %v) = %d, want %d", tc.delta, tc.enabled, tc.running, got, tc.want)
			}
		})
	}
}

func TestSnapshot_LoadsFromBusyFractions(t *testing.T) {
	window := 100 * time.Millisecond
	busy := map[int]time.Duration{
		0: 100 * time.Millisecond, // fully busy
		1: 50 * time.Millisecond,  // half busy
		2: 0,                      // idle
		3: 200 * time.Millisecond, // clamped to the window
	}

	snap := NewSnapshot(busy, window, 512)

	if got := snap.CPULoad(0); got != loadtrack.LoadScale {
		t.Fatalf("expected full load %d on cpu 0, got %d", loadtrack.LoadScale, got)
	}
	if got := snap.CPULoad(1); got != loadtrack.LoadScale/2 {
		t.Fatalf("expected half load on cpu 1, got %d", got)
	}
	if got := snap.CPULoad(2); got != 0 {
		t.Fatalf("expected zero load on cpu 2, got %d", got)
	}
	if got := snap.CPULoad(3); got != loadtrack.LoadScale {
		t.Fatalf("expected clamped full load on cpu 3, got %d", got)
	}
	if got := snap.CPULoad(99); got != 0 {
		t.Fatalf("expected zero load for unprobed cpu, got %d", got)
	}

	if got := snap.TaskLoad(&placement.Task{ID: 1}); got != 512 {
		t.Fatalf("expected configured task load 512, got %d", got)
	}
	if got := snap.TaskLoad(nil); got != 512 {
		t.Fatalf("expected configured task load for nil task, got %d", got)
	}
}

func TestSnapshot_IdleCPUs(t *testing.T) {
	snap := NewSnapshot(map[int]time.Duration{
		0: 90 * time.Millisecond,
		1: 1 * time.Millisecond,
		2: 0,
	}, 100*time.Millisecond, 0)

	idle := snap.IdleCPUs(64)
	seen := make(map[int]bool, len(idle))
	for _, cpu := range idle {
		seen[cpu] = true
	}
	if len(idle) != 2 || !seen[1] || !seen[2] {
		t.Fatalf("expected cpus 1 and 2 idle, got %v", idle)
	}
}
