package idlepath

import (
	"testing"
	"time"

	"corepick/internal/placement"
	"corepick/internal/topology"
)

// two clusters of four: {0-3} and {4-7}.
func clusteredTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New(
		[]int{0, 1, 2, 3, 4, 5, 6, 7},
		[]int{4, 5, 6, 7},
		[]int{0, 1, 2, 3},
		[][]int{{0, 1, 2, 3}, {4, 5, 6, 7}},
	)
	if err != nil {
		t.Fatalf("failed to build topology: %v", err)
	}
	return topo
}

func TestStatus_StartsIdle(t *testing.T) {
	topo := clusteredTopology(t)
	status := NewStatus(topo)
	for cpu := 0; cpu < 8; cpu++ {
		if !status.IsIdle(cpu) {
			t.Fatalf("expected CPU %d idle at start", cpu)
		}
	}
	if status.IsIdle(9) {
		t.Fatalf("expected offline CPU to read busy")
	}
	if status.IsIdle(-1) {
		t.Fatalf("expected negative CPU to read busy")
	}
}

func TestStatus_DepthCounting(t *testing.T) {
	status := NewStatus(clusteredTopology(t))
	if got := status.IncDepth(2); got != 1 {
		t.Fatalf("expected depth 1, got %d", got)
	}
	if got := status.IncDepth(2); got != 2 {
		t.Fatalf("expected depth 2, got %d", got)
	}
	if got := status.DecDepth(2); got != 1 {
		t.Fatalf("expected depth 1, got %d", got)
	}
	if got := status.Depth(2); got != 1 {
		t.Fatalf("expected depth 1, got %d", got)
	}
	if got := status.Depth(-1); got != 0 {
		t.Fatalf("expected depth 0 for invalid CPU, got %d", got)
	}
}

func TestFindIdleAffine_PrefersIdlePrevInSharedCluster(t *testing.T) {
	topo := clusteredTopology(t)
	status := NewStatus(topo)
	sel := NewIdleSelector(topo, status)

	// Both idle, same cluster: previous CPU wins for cache locality.
	cpu, ok := sel.FindIdleAffine(0, 2, false)
	if !ok || cpu != 2 {
		t.Fatalf("expected prev CPU 2, got %d (ok=%v)", cpu, ok)
	}

	// Previous CPU busy: fall back to the waking CPU.
	status.SetBusy(2)
	cpu, ok = sel.FindIdleAffine(0, 2, false)
	if !ok || cpu != 0 {
		t.Fatalf("expected waking CPU 0, got %d (ok=%v)", cpu, ok)
	}
}

func TestFindIdleAffine_CrossClusterNotAffine(t *testing.T) {
	topo := clusteredTopology(t)
	status := NewStatus(topo)
	sel := NewIdleSelector(topo, status)

	// Waking CPU idle but prev is in the other cluster: no affine hit.
	cpu, ok := sel.FindIdleAffine(0, 5, false)
	if ok {
		t.Fatalf("expected no affine CPU across clusters, got %d", cpu)
	}
}

func TestFindIdleAffine_SyncHandoffOnDepthOne(t *testing.T) {
	topo := clusteredTopology(t)
	status := NewStatus(topo)
	sel := NewIdleSelector(topo, status)

	status.SetBusy(0)
	status.IncDepth(0)

	// Only the waker runs on CPU 0: sync handoff takes it.
	cpu, ok := sel.FindIdleAffine(0, 5, true)
	if !ok || cpu != 0 {
		t.Fatalf("expected sync handoff to CPU 0, got %d (ok=%v)", cpu, ok)
	}

	// Without sync, a busy waking CPU is no candidate.
	if _, ok := sel.FindIdleAffine(0, 5, false); ok {
		t.Fatalf("expected no candidate without sync")
	}

	// A second task on the waking CPU blocks the handoff.
	status.IncDepth(0)
	if _, ok := sel.FindIdleAffine(0, 5, true); ok {
		t.Fatalf("expected no handoff with depth 2")
	}
}

func TestRefineIdleSibling_PreferenceOrder(t *testing.T) {
	topo := clusteredTopology(t)
	status := NewStatus(topo)
	sel := NewIdleSelector(topo, status)
	task := &placement.Task{ID: 1}

	// Idle target is taken as is.
	if got := sel.RefineIdleSibling(task, 1, 0); got != 0 {
		t.Fatalf("expected idle target 0, got %d", got)
	}

	// Busy target, idle cache-affine prev: prev wins.
	status.SetBusy(0)
	if got := sel.RefineIdleSibling(task, 1, 0); got != 1 {
		t.Fatalf("expected prev CPU 1, got %d", got)
	}

	// Prev in the other cluster does not count.
	if got := sel.RefineIdleSibling(task, 5, 0); got == 5 {
		t.Fatalf("expected cross-cluster prev to be ignored")
	}

	// Busy target and prev: first idle sibling in target's cluster.
	status.SetBusy(1)
	if got := sel.RefineIdleSibling(task, 1, 0); got != 2 {
		t.Fatalf("expected sibling CPU 2, got %d", got)
	}

	// Everything busy: fall back to target.
	for cpu := 0; cpu < 4; cpu++ {
		status.SetBusy(cpu)
	}
	if got := sel.RefineIdleSibling(task, 1, 0); got != 0 {
		t.Fatalf("expected fallback to target 0, got %d", got)
	}
}

func TestWakeeTracker_WideAfterManyFlips(t *testing.T) {
	topo := clusteredTopology(t)
	w := NewWakeeTracker(topo)
	clock := time.Unix(1000, 0)
	w.now = func() time.Time { return clock }

	waker := &placement.Task{ID: 100}
	wakee := &placement.Task{ID: 1}

	if w.PrefersWideWake(waker, wakee, 0) {
		t.Fatalf("expected narrow wake with no history")
	}

	// Waking many distinct tasks drives the flip count past the cluster
	// factor; the favourite wakee's own count stays low.
	for i := uint64(1); i <= 64; i++ {
		w.RecordWakee(waker, &placement.Task{ID: i})
	}
	for i := 0; i < 3; i++ {
		w.RecordWakee(wakee, &placement.Task{ID: 200})
		w.RecordWakee(wakee, &placement.Task{ID: 201})
	}

	if !w.PrefersWideWake(waker, wakee, 0) {
		t.Fatalf("expected wide wake after 64 distinct wakees")
	}

	// Flip counts halve once per second; after a while the verdict flips
	// back to narrow.
	clock = clock.Add(10 * time.Second)
	if w.PrefersWideWake(waker, wakee, 0) {
		t.Fatalf("expected narrow wake after decay")
	}
}

func TestWakeeTracker_RepeatedWakeeDoesNotFlip(t *testing.T) {
	topo := clusteredTopology(t)
	w := NewWakeeTracker(topo)
	clock := time.Unix(1000, 0)
	w.now = func() time.Time { return clock }

	waker := &placement.Task{ID: 100}
	wakee := &placement.Task{ID: 1}
	for i := 0; i < 100; i++ {
		w.RecordWakee(waker, wakee)
	}
	if w.PrefersWideWake(waker, wakee, 0) {
		t.Fatalf("expected narrow wake for a single repeated wakee")
	}
}

func TestWakeeTracker_SiblingHintForcesWide(t *testing.T) {
	topo := clusteredTopology(t)
	w := NewWakeeTracker(topo)

	waker := &placement.Task{ID: 100}
	wakee := &placement.Task{ID: 1}
	if !w.PrefersWideWake(waker, wakee, topo.MaxClusterSize()) {
		t.Fatalf("expected sibling hint at cluster size to force wide wake")
	}
	if w.PrefersWideWake(waker, wakee, topo.MaxClusterSize()-1) {
		t.Fatalf("expected sibling hint below cluster size to stay narrow")
	}
}
