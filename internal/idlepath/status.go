package idlepath

import (
	"sync/atomic"

	"corepick/internal/topology"
)

// Status is the shared per-CPU occupancy board the dispatcher maintains and
// the idle selector reads. All accesses are single atomic operations.
type Status struct {
	idle  [topology.MaxCPUs]atomic.Bool
	depth [topology.MaxCPUs]atomic.Int32
}

// NewStatus returns a board with every online CPU marked idle.
func NewStatus(topo *topology.Topology) *Status {
	s := &Status{}
	online := topo.Online()
	for cpu := online.NextSet(0); cpu >= 0; cpu = online.NextSet(cpu + 1) {
		s.idle[cpu].Store(true)
	}
	return s
}

func (s *Status) SetIdle(cpu int) {
	if cpu >= 0 && cpu < topology.MaxCPUs {
		s.idle[cpu].Store(true)
	}
}

func (s *Status) SetBusy(cpu int) {
	if cpu >= 0 && cpu < topology.MaxCPUs {
		s.idle[cpu].Store(false)
	}
}

func (s *Status) IsIdle(cpu int) bool {
	if cpu < 0 || cpu >= topology.MaxCPUs {
		return false
	}
	return s.idle[cpu].Load()
}

// IncDepth bumps the CPU's run-queue depth and returns the new value.
func (s *Status) IncDepth(cpu int) int32 {
	if cpu < 0 || cpu >= topology.MaxCPUs {
		return 0
	}
	return s.depth[cpu].Add(1)
}

// DecDepth drops the CPU's run-queue depth and returns the new value.
func (s *Status) DecDepth(cpu int) int32 {
	if cpu < 0 || cpu >= topology.MaxCPUs {
		return 0
	}
	return s.depth[cpu].Add(-1)
}

func (s *Status) Depth(cpu int) int32 {
	if cpu < 0 || cpu >= topology.MaxCPUs {
		return 0
	}
	return s.depth[cpu].Load()
}
