package loadtrack

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"corepick/internal/placement"
	"corepick/internal/topology"
)

// LoadScale is the load value of a task that keeps one CPU fully busy.
const LoadScale = 1024

const (
	// DefaultHalfLife controls how quickly historical demand decays.
	DefaultHalfLife = 32 * time.Millisecond
	// DefaultInitialLoad seeds tasks that have never run.
	DefaultInitialLoad = placement.Load(LoadScale)

	// sampleWeight blends a finished slice's observed demand into the EWMA.
	sampleWeight = 0.5
)

type taskState struct {
	load    float64
	updated time.Time

	// charged records the contribution currently accounted on a CPU so
	// dequeue removes exactly what enqueue added, even if the EWMA moved
	// in between.
	charged    uint64
	chargedCPU int
}

// Tracker maintains decayed per-task load and per-CPU aggregate load. It is
// the LoadReader the placement engine consumes: CPU reads are single atomic
// loads, per-task state is mutex guarded and only touched around slice
// boundaries and refreshes.
type Tracker struct {
	halfLife time.Duration
	initial  placement.Load
	now      func() time.Time

	mu    sync.Mutex
	tasks map[uint64]*taskState

	cpus [topology.MaxCPUs]atomic.Uint64
}

func NewTracker(halfLife time.Duration, initial placement.Load) *Tracker {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return &Tracker{
		halfLife: halfLife,
		initial:  initial,
		now:      time.Now,
		tasks:    make(map[uint64]*taskState),
	}
}

// Register seeds tracking state for a new task. Registering twice is a no-op.
func (tr *Tracker) Register(t *placement.Task) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.tasks[t.ID]; ok {
		return
	}
	tr.tasks[t.ID] = &taskState{
		load:       float64(tr.initial),
		updated:    tr.now(),
		chargedCPU: placement.NoCPU,
	}
}

// Observe folds a finished execution slice into the task's demand estimate.
// busy is the time the task actually ran, window the wall time the slice
// spanned (queue wait included).
func (tr *Tracker) Observe(t *placement.Task, busy, window time.Duration) {
	if window <= 0 || busy < 0 {
		return
	}
	if busy > window {
		busy = window
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	st := tr.stateLocked(t.ID)
	tr.foldDecayLocked(st)

	sample := float64(busy) / float64(window) * LoadScale
	st.load = st.load*(1-sampleWeight) + sample*sampleWeight
}

// Refresh folds pending decay into the task's stored load so a subsequent
// TaskLoad read reflects the time that has passed since the task last ran.
func (tr *Tracker) Refresh(t *placement.Task) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.foldDecayLocked(tr.stateLocked(t.ID))
}

func (tr *Tracker) TaskLoad(t *placement.Task) placement.Load {
	if t == nil {
		return 0
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	st, ok := tr.tasks[t.ID]
	if !ok {
		return tr.initial
	}
	return placement.Load(st.load)
}

func (tr *Tracker) CPULoad(cpu int) placement.Load {
	if cpu < 0 || cpu >= topology.MaxCPUs {
		return 0
	}
	return placement.Load(tr.cpus[cpu].Load())
}

// Enqueued accounts the task's current load on the CPU it was placed on.
func (tr *Tracker) Enqueued(cpu int, t *placement.Task) {
	if cpu < 0 || cpu >= topology.MaxCPUs {
		return
	}
	tr.mu.Lock()
	st := tr.stateLocked(t.ID)
	if st.chargedCPU != placement.NoCPU {
		// Still charged from a previous placement; move the charge.
		tr.dischargeLocked(st)
	}
	st.charged = uint64(st.load)
	st.chargedCPU = cpu
	charge := st.charged
	tr.mu.Unlock()

	tr.cpus[cpu].Add(charge)
}

// Dequeued removes the task's contribution from the CPU it was charged to.
func (tr *Tracker) Dequeued(t *placement.Task) {
	tr.mu.Lock()
	st := tr.stateLocked(t.ID)
	tr.dischargeLocked(st)
	tr.mu.Unlock()
}

func (tr *Tracker) dischargeLocked(st *taskState) {
	if st.chargedCPU == placement.NoCPU {
		return
	}
	cpu, charge := st.chargedCPU, st.charged
	st.chargedCPU = placement.NoCPU
	st.charged = 0

	// Saturating subtract on the per-CPU aggregate.
	for {
		cur := tr.cpus[cpu].Load()
		next := uint64(0)
		if cur > charge {
			next = cur - charge
		}
		if tr.cpus[cpu].CompareAndSwap(cur, next) {
			return
		}
	}
}

func (tr *Tracker) stateLocked(id uint64) *taskState {
	st, ok := tr.tasks[id]
	if !ok {
		st = &taskState{
			load:       float64(tr.initial),
			updated:    tr.now(),
			chargedCPU: placement.NoCPU,
		}
		tr.tasks[id] = st
	}
	return st
}

func (tr *Tracker) foldDecayLocked(st *taskState) {
	now := tr.now()
	elapsed := now.Sub(st.updated)
	if elapsed <= 0 {
		return
	}
	st.load *= math.Pow(0.5, float64(elapsed)/float64(tr.halfLife))
	st.updated = now
}
