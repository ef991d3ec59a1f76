package idlepath

import (
	"corepick/internal/placement"
	"corepick/internal/topology"
)

// IdleSelector finds idle CPUs near a wakeup, preferring cache locality with
// the task's previous CPU. It implements the placement engine's fast-path
// collaborator on top of the shared status board.
type IdleSelector struct {
	topo   *topology.Topology
	status *Status
}

func NewIdleSelector(topo *topology.Topology, status *Status) *IdleSelector {
	return &IdleSelector{topo: topo, status: status}
}

// FindIdleAffine picks between the waking CPU and the task's previous CPU.
// The previous CPU wins when both are idle and cache-affine; a sync wakeup
// may hand off to the waking CPU when the waker is the only task on it.
func (s *IdleSelector) FindIdleAffine(thisCPU, prevCPU int, sync bool) (int, bool) {
	if s.status.IsIdle(thisCPU) && s.topo.SharesCluster(thisCPU, prevCPU) {
		if thisCPU != prevCPU && s.status.IsIdle(prevCPU) {
			return prevCPU, true
		}
		return thisCPU, true
	}
	if sync && s.status.Depth(thisCPU) == 1 {
		return thisCPU, true
	}
	return placement.NoCPU, false
}

// RefineIdleSibling settles the final CPU near target: target itself when
// idle, then an idle cache-affine previous CPU, then any idle CPU in
// target's cluster, and target as the last resort.
func (s *IdleSelector) RefineIdleSibling(t *placement.Task, prevCPU, target int) int {
	if s.status.IsIdle(target) {
		return target
	}
	if prevCPU != placement.NoCPU && s.status.IsIdle(prevCPU) && s.topo.SharesCluster(prevCPU, target) {
		return prevCPU
	}
	cluster := s.topo.ClusterOf(target)
	for cpu := cluster.NextSet(0); cpu >= 0; cpu = cluster.NextSet(cpu + 1) {
		if cpu != target && s.status.IsIdle(cpu) {
			return cpu
		}
	}
	return target
}
