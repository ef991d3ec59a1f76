package topology

import (
	"fmt"
)

// Topology describes the CPU layout placement decisions are made against:
// which CPUs are online, how they split into capacity tiers, and which CPUs
// share a last-level cache cluster. It is immutable after construction.
type Topology struct {
	online   Mask
	perf     Mask
	eff      Mask
	clusters []Mask
	// clusterIdx maps a CPU id to its index in clusters, -1 if unknown.
	clusterIdx [MaxCPUs]int16
}

// New builds a topology from explicit CPU lists. The performance and
// efficiency tiers may overlap (uniform hosts pass the same list for both);
// only a non-empty online set is required.
func New(online, perf, eff []int, clusters [][]int) (*Topology, error) {
	if len(online) == 0 {
		return nil, fmt.Errorf("online CPU set is empty")
	}
	for _, cpu := range online {
		if cpu < 0 || cpu >= MaxCPUs {
			return nil, fmt.Errorf("CPU id %d out of range [0,%d)", cpu, MaxCPUs)
		}
	}

	t := &Topology{
		online: MaskOf(online...),
		perf:   MaskOf(perf...),
		eff:    MaskOf(eff...),
	}
	for i := range t.clusterIdx {
		t.clusterIdx[i] = -1
	}

	if len(clusters) == 0 {
		// Flat topology: every online CPU shares one cluster.
		clusters = [][]int{online}
	}
	for _, cluster := range clusters {
		mask := MaskOf(cluster...)
		idx := int16(len(t.clusters))
		t.clusters = append(t.clusters, mask)
		for _, cpu := range cluster {
			if cpu >= 0 && cpu < MaxCPUs {
				t.clusterIdx[cpu] = idx
			}
		}
	}

	return t, nil
}

func (t *Topology) Online() Mask          { return t.online }
func (t *Topology) PerformanceTier() Mask { return t.perf }
func (t *Topology) EfficiencyTier() Mask  { return t.eff }
func (t *Topology) NumCPUs() int          { return t.online.Count() }

// ClusterOf returns the cluster mask containing cpu, or the empty mask when
// the CPU is not part of any known cluster.
func (t *Topology) ClusterOf(cpu int) Mask {
	if cpu < 0 || cpu >= MaxCPUs || t.clusterIdx[cpu] < 0 {
		return Mask{}
	}
	return t.clusters[t.clusterIdx[cpu]]
}

func (t *Topology) ClusterSize(cpu int) int {
	return t.ClusterOf(cpu).Count()
}

// MaxClusterSize returns the size of the largest cluster, at least 1.
func (t *Topology) MaxClusterSize() int {
	max := 1
	for _, c := range t.clusters {
		if n := c.Count(); n > max {
			max = n
		}
	}
	return max
}

func (t *Topology) SharesCluster(a, b int) bool {
	if a < 0 || b < 0 || a >= MaxCPUs || b >= MaxCPUs {
		return false
	}
	return t.clusterIdx[a] >= 0 && t.clusterIdx[a] == t.clusterIdx[b]
}
