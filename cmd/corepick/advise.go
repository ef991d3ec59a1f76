package main

import (
	"context"
	"fmt"
	"time"

	"corepick/internal/config"
	"corepick/internal/cpuprobe"
	"corepick/internal/cpupin"
	"corepick/internal/idlepath"
	"corepick/internal/loadtrack"
	"corepick/internal/logging"
	"corepick/internal/placement"

	"github.com/sirupsen/logrus"
)

const defaultAdviseWindow = 500 * time.Millisecond

// idleLoadThreshold is the observed load below which a CPU counts as idle
// for advisory decisions.
const idleLoadThreshold = loadtrack.LoadScale / 64

type adviseOptions struct {
	Hint     int
	TaskLoad int
	PrevCPU  int
	Window   time.Duration
}

// advise samples the host's per-CPU busy time over one window and runs a
// single placement decision for a hypothetical task against it.
func advise(configFile string, opts adviseOptions) error {
	logger := logging.GetLogger()

	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	topo, err := buildTopology(cfg)
	if err != nil {
		return err
	}

	var cpus []int
	online := topo.Online()
	for cpu := online.NextSet(0); cpu >= 0; cpu = online.NextSet(cpu + 1) {
		cpus = append(cpus, cpu)
	}

	probe, err := cpuprobe.NewProbe(cpus)
	if err != nil {
		logger.WithError(err).Error("Failed to open CPU probe")
		return fmt.Errorf("failed to open CPU probe: %w", err)
	}
	defer probe.Close()

	logger.WithFields(logrus.Fields{
		"cpus":   len(cpus),
		"window": opts.Window,
	}).Info("Sampling CPU busy time")

	busy, err := probe.Sample(context.Background(), opts.Window)
	if err != nil {
		return fmt.Errorf("failed to sample CPU busy time: %w", err)
	}

	snap := cpuprobe.NewSnapshot(busy, opts.Window, placement.Load(opts.TaskLoad))

	status := idlepath.NewStatus(topo)
	idleSet := make(map[int]bool)
	for _, cpu := range snap.IdleCPUs(idleLoadThreshold) {
		idleSet[cpu] = true
	}
	for _, cpu := range cpus {
		if !idleSet[cpu] {
			status.SetBusy(cpu)
		}
	}

	policy := placement.DefaultPolicy()
	if cfg != nil {
		policy = placement.Policy{
			PerfHintLow:  cfg.Placement.PerfHintLow,
			PerfHintHigh: cfg.Placement.PerfHintHigh,
		}
	}

	engine, err := placement.NewEngine(topo, placement.Deps{
		Loads: snap,
		Wakes: idlepath.NewWakeeTracker(topo),
		Idle:  idlepath.NewIdleSelector(topo, status),
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	cpu, tr := engine.SelectWithTrace(placement.Request{
		Task:    &placement.Task{ID: 1, Hint: opts.Hint},
		PrevCPU: opts.PrevCPU,
		ThisCPU: cpupin.CurrentCPU(),
	})

	fmt.Printf("advised CPU:    %d\n", cpu)
	fmt.Printf("tier:           %s\n", tr.Tier)
	fmt.Printf("projected load: %d\n", tr.Projected)
	fmt.Println()
	for _, c := range cpus {
		marker := ""
		if c == cpu {
			marker = "  <-"
		}
		fmt.Printf("cpu %3d: load %4d%s\n", c, snap.CPULoad(c), marker)
	}
	return nil
}
