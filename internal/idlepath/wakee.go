package idlepath

import (
	"sync"
	"time"

	"corepick/internal/placement"
	"corepick/internal/topology"
)

// flipDecayPeriod halves a waker's flip count once per elapsed period.
const flipDecayPeriod = time.Second

type wakeeState struct {
	lastWakee uint64
	flips     int
	decayed   time.Time
}

// WakeeTracker implements the wake-wide heuristic: a waker that keeps waking
// many distinct tasks fans out wider than one cache cluster, and packing its
// wakees next to it would over-concentrate the cluster.
type WakeeTracker struct {
	topo *topology.Topology
	now  func() time.Time

	mu     sync.Mutex
	states map[uint64]*wakeeState
}

func NewWakeeTracker(topo *topology.Topology) *WakeeTracker {
	return &WakeeTracker{
		topo:   topo,
		now:    time.Now,
		states: make(map[uint64]*wakeeState),
	}
}

// RecordWakee counts a switch of the waker's wakee target. Repeatedly waking
// the same task does not count as fanning out.
func (w *WakeeTracker) RecordWakee(waker, wakee *placement.Task) {
	if waker == nil || wakee == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.states[waker.ID]
	if !ok {
		st = &wakeeState{decayed: w.now()}
		w.states[waker.ID] = st
	}
	w.decayLocked(st)
	if st.lastWakee != wakee.ID {
		st.lastWakee = wakee.ID
		st.flips++
	}
}

// PrefersWideWake reports whether affine placement should be suppressed for
// this wakeup. The reference factor is the size of the largest LLC cluster;
// a sibling hint at or above it forces a wide wake outright.
func (w *WakeeTracker) PrefersWideWake(waker, wakee *placement.Task, siblingHint int) bool {
	factor := w.topo.MaxClusterSize()
	if siblingHint >= factor && factor > 1 {
		return true
	}
	if waker == nil || wakee == nil {
		return false
	}

	w.mu.Lock()
	master := w.flipsLocked(waker.ID)
	slave := w.flipsLocked(wakee.ID)
	w.mu.Unlock()

	if master < slave {
		master, slave = slave, master
	}
	if slave < factor || master < slave*factor {
		return false
	}
	return true
}

func (w *WakeeTracker) flipsLocked(id uint64) int {
	st, ok := w.states[id]
	if !ok {
		return 0
	}
	w.decayLocked(st)
	return st.flips
}

func (w *WakeeTracker) decayLocked(st *wakeeState) {
	now := w.now()
	for st.flips > 0 && now.Sub(st.decayed) >= flipDecayPeriod {
		st.flips >>= 1
		st.decayed = st.decayed.Add(flipDecayPeriod)
	}
	if st.flips == 0 {
		st.decayed = now
	}
}
