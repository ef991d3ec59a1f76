package placement

// LoadReader supplies load snapshots for CPUs and tasks. Reads may be stale;
// the engine tolerates staleness and never takes locks around them.
type LoadReader interface {
	// CPULoad returns the CPU's current aggregate load.
	CPULoad(cpu int) Load
	// TaskLoad returns the task's historical load contribution. The value
	// is only meaningful after Refresh for genuine wakeups.
	TaskLoad(t *Task) Load
	// Refresh synchronizes the task's stored load with its bookkeeping
	// before the engine reads it. Not called for fork placements.
	Refresh(t *Task)
}

// WakeTracker owns the wakee-flip heuristic that decides whether a waker
// fans out too widely for affine placement to pay off.
type WakeTracker interface {
	RecordWakee(waker, wakee *Task)
	PrefersWideWake(waker, wakee *Task, siblingHint int) bool
}

// IdleSelector finds idle CPUs near a wakeup. FindIdleAffine reports
// (NoCPU, false) when nothing suitable is idle; that is a normal outcome,
// not a failure, and the engine falls through to load-based selection.
type IdleSelector interface {
	FindIdleAffine(thisCPU, prevCPU int, sync bool) (int, bool)
	RefineIdleSibling(t *Task, prevCPU, target int) int
}

// Deps bundles the injected collaborators of the engine.
type Deps struct {
	Loads LoadReader
	Wakes WakeTracker
	Idle  IdleSelector
}
