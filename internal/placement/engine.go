package placement

import (
	"fmt"

	"corepick/internal/topology"
)

// Policy holds the hint thresholds that map tasks to capacity tiers. Tasks
// with PerfHintLow < Hint < PerfHintHigh are served from the performance
// tier, everything else from the efficiency tier. The bounds are platform
// policy, not part of the selection contract.
type Policy struct {
	PerfHintLow  int
	PerfHintHigh int
}

func DefaultPolicy() Policy {
	return Policy{PerfHintLow: -1, PerfHintHigh: 225}
}

// Tier identifies which candidate universe served a decision.
type Tier uint8

const (
	TierPerformance Tier = iota
	TierEfficiency
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierPerformance:
		return "performance"
	case TierEfficiency:
		return "efficiency"
	case TierFallback:
		return "fallback"
	}
	return "unknown"
}

// Trace reports how a decision was reached. It is plain value state so the
// dispatcher can record decisions without touching the hot path.
type Trace struct {
	FastPath  bool
	Tier      Tier
	Projected Load
}

// Engine is the capacity-aware CPU selector. Select runs synchronously on
// the calling goroutine, takes no locks, performs no allocation and always
// returns an online CPU.
type Engine struct {
	topo   *topology.Topology
	deps   Deps
	policy Policy
}

func NewEngine(topo *topology.Topology, deps Deps, policy Policy) (*Engine, error) {
	if topo == nil {
		return nil, fmt.Errorf("topology is nil")
	}
	if topo.Online().Empty() {
		return nil, fmt.Errorf("online CPU set is empty")
	}
	if deps.Loads == nil {
		return nil, fmt.Errorf("load reader is nil")
	}
	if deps.Wakes == nil {
		return nil, fmt.Errorf("wake tracker is nil")
	}
	if deps.Idle == nil {
		return nil, fmt.Errorf("idle selector is nil")
	}
	if policy.PerfHintLow >= policy.PerfHintHigh {
		return nil, fmt.Errorf("invalid hint bounds: low %d >= high %d", policy.PerfHintLow, policy.PerfHintHigh)
	}
	return &Engine{topo: topo, deps: deps, policy: policy}, nil
}

// Select returns the CPU the task should run on.
func (e *Engine) Select(req Request) int {
	cpu, _ := e.SelectWithTrace(req)
	return cpu
}

// SelectWithTrace is Select plus a description of how the decision was made.
func (e *Engine) SelectWithTrace(req Request) (int, Trace) {
	cands, tier := e.candidates(req.Task)

	sync := false
	if req.Flags&WakeAffine != 0 && req.Flags&WakeFork == 0 {
		if req.Waker != nil {
			e.deps.Wakes.RecordWakee(req.Waker, req.Task)
		}

		wantAffine := !e.deps.Wakes.PrefersWideWake(req.Waker, req.Task, req.SiblingHint) &&
			cands.Test(req.ThisCPU)

		// Sync handoff semantics only hold while the waker sticks around
		// and the wakeup stays affine.
		sync = req.Flags&WakeSync != 0 && !req.WakerExiting && wantAffine

		if wantAffine {
			if idle, ok := e.deps.Idle.FindIdleAffine(req.ThisCPU, req.PrevCPU, sync); ok {
				return e.deps.Idle.RefineIdleSibling(req.Task, req.PrevCPU, idle),
					Trace{FastPath: true, Tier: tier}
			}
		}
	}

	// The task's load is needed to project candidates. Forks have no
	// history yet and contribute zero for this call.
	var taskLoad Load
	if req.Flags&WakeFork == 0 {
		e.deps.Loads.Refresh(req.Task)
		taskLoad = e.deps.Loads.TaskLoad(req.Task)
	}

	// A task that is its own waker counts as queued.
	queued := req.Queued || (req.Waker != nil && req.Waker == req.Task)

	// Single pass over the candidates, keeping the lowest projection.
	// Ties replace, so the last iterated candidate wins among equals.
	bestCPU := NoCPU
	var bestLoad Load
	for cpu := cands.NextSet(0); cpu >= 0; cpu = cands.NextSet(cpu + 1) {
		load := e.deps.Loads.CPULoad(cpu)
		if sync {
			// Project the migration cost everywhere but the task's own
			// CPU, and credit the waker's load back on the waking CPU
			// since it is about to block.
			if cpu != req.PrevCPU {
				load += taskLoad
			}
			if cpu == req.ThisCPU && req.Waker != nil {
				load = SubSaturate(load, e.deps.Loads.TaskLoad(req.Waker))
			}
		} else {
			if queued && cpu != req.PrevCPU {
				load += taskLoad
			}
			if !queued {
				load += taskLoad
			}
		}

		if bestCPU == NoCPU || load <= bestLoad {
			bestCPU = cpu
			bestLoad = load
		}
	}

	return bestCPU, Trace{Tier: tier, Projected: bestLoad}
}

// candidates narrows the online CPUs to the capacity tier matching the
// task's hint, falling back to the full online set when the intersection is
// empty so the reduction always has at least one candidate.
func (e *Engine) candidates(t *Task) (topology.Mask, Tier) {
	tierMask := e.topo.EfficiencyTier()
	tier := TierEfficiency
	if t.Hint > e.policy.PerfHintLow && t.Hint < e.policy.PerfHintHigh {
		tierMask = e.topo.PerformanceTier()
		tier = TierPerformance
	}

	cands := e.topo.Online().And(tierMask)
	if cands.Empty() {
		return e.topo.Online(), TierFallback
	}
	return cands, tier
}
