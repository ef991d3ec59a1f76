package loadtrack

import (
	"testing"
	"time"

	"corepick/internal/placement"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker(32*time.Millisecond, DefaultInitialLoad)
	tr.now = clock.now
	return tr, clock
}

func TestTracker_InitialSeed(t *testing.T) {
	tr, _ := newTestTracker(t)
	task := &placement.Task{ID: 1}

	// Unknown tasks read as the initial load.
	if got := tr.TaskLoad(task); got != DefaultInitialLoad {
		t.Fatalf("expected initial load %d, got %d", DefaultInitialLoad, got)
	}

	tr.Register(task)
	if got := tr.TaskLoad(task); got != DefaultInitialLoad {
		t.Fatalf("expected registered load %d, got %d", DefaultInitialLoad, got)
	}
	if got := tr.TaskLoad(nil); got != 0 {
		t.Fatalf("expected zero load for nil task, got %d", got)
	}
}

func TestTracker_RefreshFoldsHalfLifeDecay(t *testing.T) {
	tr, clock := newTestTracker(t)
	task := &placement.Task{ID: 1}
	tr.Register(task)

	clock.advance(32 * time.Millisecond)
	tr.Refresh(task)
	if got := tr.TaskLoad(task); got != DefaultInitialLoad/2 {
		t.Fatalf("expected half decay to %d, got %d", DefaultInitialLoad/2, got)
	}

	clock.advance(64 * time.Millisecond)
	tr.Refresh(task)
	if got := tr.TaskLoad(task); got != DefaultInitialLoad/8 {
		t.Fatalf("expected decay to %d, got %d", DefaultInitialLoad/8, got)
	}
}

func TestTracker_ObserveBlendsSample(t *testing.T) {
	tr, _ := newTestTracker(t)
	task := &placement.Task{ID: 1}
	tr.Register(task)

	// Fully busy slice: sample is LoadScale, EWMA stays at LoadScale.
	tr.Observe(task, 10*time.Millisecond, 10*time.Millisecond)
	if got := tr.TaskLoad(task); got != LoadScale {
		t.Fatalf("expected load %d, got %d", LoadScale, got)
	}

	// Half busy slice: (1024 + 512) / 2 = 768.
	tr.Observe(task, 5*time.Millisecond, 10*time.Millisecond)
	if got := tr.TaskLoad(task); got != 768 {
		t.Fatalf("expected load 768, got %d", got)
	}
}

func TestTracker_ObserveClampsBusyToWindow(t *testing.T) {
	tr, _ := newTestTracker(t)
	task := &placement.Task{ID: 1}
	tr.Register(task)

	tr.Observe(task, 20*time.Millisecond, 10*time.Millisecond)
	if got := tr.TaskLoad(task); got > LoadScale {
		t.Fatalf("expected load clamped to %d, got %d", LoadScale, got)
	}
}

func TestTracker_EnqueueDequeueAccounting(t *testing.T) {
	tr, _ := newTestTracker(t)
	a := &placement.Task{ID: 1}
	b := &placement.Task{ID: 2}
	tr.Register(a)
	tr.Register(b)

	tr.Enqueued(3, a)
	tr.Enqueued(3, b)
	if got := tr.CPULoad(3); got != 2*DefaultInitialLoad {
		t.Fatalf("expected CPU load %d, got %d", 2*DefaultInitialLoad, got)
	}

	tr.Dequeued(a)
	if got := tr.CPULoad(3); got != DefaultInitialLoad {
		t.Fatalf("expected CPU load %d, got %d", DefaultInitialLoad, got)
	}

	tr.Dequeued(b)
	if got := tr.CPULoad(3); got != 0 {
		t.Fatalf("expected CPU load 0, got %d", got)
	}

	// Double dequeue must not underflow.
	tr.Dequeued(b)
	if got := tr.CPULoad(3); got != 0 {
		t.Fatalf("expected CPU load 0 after double dequeue, got %d", got)
	}
}

func TestTracker_ReEnqueueMovesCharge(t *testing.T) {
	tr, _ := newTestTracker(t)
	task := &placement.Task{ID: 1}
	tr.Register(task)

	tr.Enqueued(0, task)
	tr.Enqueued(1, task)
	if got := tr.CPULoad(0); got != 0 {
		t.Fatalf("expected charge moved off CPU 0, got %d", got)
	}
	if got := tr.CPULoad(1); got != DefaultInitialLoad {
		t.Fatalf("expected charge on CPU 1, got %d", got)
	}
}

func TestTracker_OutOfRangeCPU(t *testing.T) {
	tr, _ := newTestTracker(t)
	task := &placement.Task{ID: 1}
	tr.Enqueued(-1, task)
	if got := tr.CPULoad(-1); got != 0 {
		t.Fatalf("expected zero load for out-of-range CPU, got %d", got)
	}
}
