package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"corepick/internal/logging"

	idset "github.com/intel/goresctrl/pkg/utils"
)

const sysCPUPath = "/sys/devices/system/cpu"

// Discover builds the host topology from sysfs. Tier membership comes from
// cpu_capacity when the platform exposes it, with a max-frequency fallback;
// hosts with uniform CPUs get perf == eff == online. Discovery degrades to a
// flat single-tier, single-cluster topology rather than failing.
func Discover() (*Topology, error) {
	logger := logging.GetLogger()

	online, err := readCPUList(filepath.Join(sysCPUPath, "online"))
	if err != nil {
		return nil, fmt.Errorf("failed to read online CPUs: %w", err)
	}
	if online.Size() == 0 {
		return nil, fmt.Errorf("no online CPUs reported by sysfs")
	}

	perf, eff := discoverTiers(online)
	clusters := discoverClusters(online)

	topo, err := New(members(online), members(perf), members(eff), clusters)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"online":      topo.Online().String(),
		"performance": topo.PerformanceTier().String(),
		"efficiency":  topo.EfficiencyTier().String(),
		"clusters":    len(topo.clusters),
	}).Debug("Host topology discovered")

	return topo, nil
}

// discoverTiers splits online CPUs by relative capacity. CPUs in the top
// capacity group form the performance tier, the rest the efficiency tier.
func discoverTiers(online idset.IDSet) (perf, eff idset.IDSet) {
	logger := logging.GetLogger()

	capacities := make(map[idset.ID]uint64)
	maxCapacity := uint64(0)
	minCapacity := ^uint64(0)

	for _, id := range online.SortedMembers() {
		capacity, ok := readCPUCapacity(int(id))
		if !ok {
			// No asymmetry information at all: uniform host.
			logger.Debug("No per-CPU capacity information, treating host as uniform")
			return online, online
		}
		capacities[id] = capacity
		if capacity > maxCapacity {
			maxCapacity = capacity
		}
		if capacity < minCapacity {
			minCapacity = capacity
		}
	}

	if maxCapacity == minCapacity {
		return online, online
	}

	perf = idset.NewIDSet()
	eff = idset.NewIDSet()
	for id, capacity := range capacities {
		if capacity == maxCapacity {
			perf.Add(id)
		} else {
			eff.Add(id)
		}
	}
	return perf, eff
}

// readCPUCapacity reads the scheduler capacity of one CPU, falling back to
// the cpufreq maximum frequency on hosts that do not publish cpu_capacity.
func readCPUCapacity(cpu int) (uint64, bool) {
	base := filepath.Join(sysCPUPath, fmt.Sprintf("cpu%d", cpu))
	for _, attr := range []string{"cpu_capacity", "cpufreq/cpuinfo_max_freq"} {
		data, err := os.ReadFile(filepath.Join(base, attr))
		if err != nil {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// discoverClusters groups online CPUs by shared LLC cluster, falling back to
// the physical package when cluster information is missing.
func discoverClusters(online idset.IDSet) [][]int {
	seen := idset.NewIDSet()
	var clusters [][]int

	for _, id := range online.SortedMembers() {
		if seen.Has(id) {
			continue
		}
		base := filepath.Join(sysCPUPath, fmt.Sprintf("cpu%d", int(id)), "topology")
		var cluster idset.IDSet
		for _, attr := range []string{"cluster_cpus_list", "package_cpus_list"} {
			set, err := readCPUList(filepath.Join(base, attr))
			if err == nil && set.Size() > 0 {
				cluster = set
				break
			}
		}
		if cluster == nil {
			// No cluster information: all remaining CPUs share one cluster.
			return [][]int{members(online)}
		}
		seen.Add(cluster.Members()...)
		clusters = append(clusters, members(cluster))
	}

	return clusters
}

// readCPUList parses a sysfs cpulist file ("0-3,6") into an ID set.
func readCPUList(path string) (idset.IDSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	set := idset.NewIDSet()
	for _, part := range strings.Split(strings.TrimSpace(string(data)), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if start, end, ok := strings.Cut(part, "-"); ok {
			lo, err := strconv.Atoi(start)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start %q in %s", start, path)
			}
			hi, err := strconv.Atoi(end)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end %q in %s", end, path)
			}
			if lo > hi {
				return nil, fmt.Errorf("invalid CPU range %q in %s", part, path)
			}
			for cpu := lo; cpu <= hi; cpu++ {
				set.Add(idset.ID(cpu))
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU id %q in %s", part, path)
			}
			set.Add(idset.ID(cpu))
		}
	}
	return set, nil
}

func members(set idset.IDSet) []int {
	ids := set.SortedMembers()
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
