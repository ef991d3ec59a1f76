package placement

// Load is a dimensionless scalar estimate of recent processing demand.
// Larger means busier.
type Load uint64

// SubSaturate subtracts b from a, clamping at zero instead of wrapping.
func SubSaturate(a, b Load) Load {
	if b >= a {
		return 0
	}
	return a - b
}

// NoCPU marks the absence of a CPU id, e.g. a task that has never run.
const NoCPU = -1

// WakeFlags qualify a placement request.
type WakeFlags uint8

const (
	// WakeSync marks a synchronous handoff: the waker expects to block
	// shortly, so its CPU is a strong candidate for the wakee.
	WakeSync WakeFlags = 1 << iota
	// WakeFork marks first placement of a brand-new task rather than a
	// wakeup. Fork placements skip the idle fast path and carry no
	// historical load.
	WakeFork
	// WakeAffine requests the affine idle fast path for this wakeup.
	WakeAffine
)

// Task is the schedulable unit being placed. The engine only reads it;
// tracker-owned state (historical load, wakee history) is keyed by ID and
// lives in the collaborators.
type Task struct {
	ID uint64
	// Hint is the task's importance, lower means more important. It selects
	// the capacity tier the task is served from.
	Hint int
}

// Request carries everything one placement decision needs. It is passed by
// value and never retained.
type Request struct {
	Task *Task
	// PrevCPU is the CPU the task last ran on, NoCPU for first placements.
	PrevCPU int
	// ThisCPU is the CPU executing the wakeup, NoCPU when unknown.
	ThisCPU int
	// Waker is the task performing the wakeup, nil for creations or when no
	// waker context exists.
	Waker        *Task
	WakerExiting bool
	// Queued reports whether the task is currently runnable somewhere.
	Queued bool
	// SiblingHint is the number of tasks expected to wake together with
	// this one; it only feeds the wake-wide heuristic.
	SiblingHint int
	Flags       WakeFlags
}
