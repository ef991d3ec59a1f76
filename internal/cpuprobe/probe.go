package cpuprobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"corepick/internal/loadtrack"
	"corepick/internal/logging"
	"corepick/internal/placement"

	"github.com/elastic/go-perf"
)

type cpuState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// Probe samples per-CPU busy time with one CPU clock perf event per CPU,
// counting all threads. Deltas between reads give the busy fraction over the
// sampling window.
type Probe struct {
	cpus   []int
	events []*perf.Event

	last  []cpuState
	mutex sync.Mutex
}

func NewProbe(cpus []int) (*Probe, error) {
	logger := logging.GetLogger()

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs to probe")
	}

	probe := &Probe{cpus: append([]int(nil), cpus...)}

	for _, cpu := range probe.cpus {
		attr := &perf.Attr{}
		perf.CPUClock.Configure(attr)
		// Enable time tracking for multiplexing correction
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true

		event, err := perf.Open(attr, perf.AllThreads, cpu, nil)
		if err != nil {
			probe.Close()
			logger.WithField("cpu", cpu).WithError(err).Error("Failed to open CPU clock event")
			return nil, err
		}
		probe.events = append(probe.events, event)
	}

	for _, event := range probe.events {
		if err := event.Enable(); err != nil {
			probe.Close()
			return nil, fmt.Errorf("failed to enable CPU clock event: %w", err)
		}
	}

	probe.last = make([]cpuState, len(probe.events))
	for i, event := range probe.events {
		count, err := event.ReadCount()
		if err != nil {
			probe.Close()
			return nil, fmt.Errorf("failed to read CPU clock event: %w", err)
		}
		probe.last[i] = cpuState{
			value:   uint64(count.Value),
			enabled: count.Enabled,
			running: count.Running,
		}
	}

	return probe, nil
}

// Sample waits for the window to elapse and returns the busy time observed on
// each probed CPU since the previous read, corrected for event multiplexing.
func (p *Probe) Sample(ctx context.Context, window time.Duration) (map[int]time.Duration, error) {
	select {
	case <-time.After(window):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.Read()
}

// Read returns the busy time per CPU since the previous Read (or since the
// probe was opened).
func (p *Probe) Read() (map[int]time.Duration, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	busy := make(map[int]time.Duration, len(p.cpus))
	for i, event := range p.events {
		count, err := event.ReadCount()
		if err != nil {
			return nil, fmt.Errorf("failed to read CPU clock event: %w", err)
		}

		last := p.last[i]
		delta := scaledDelta(
			uint64(count.Value)-last.value,
			count.Enabled-last.enabled,
			count.Running-last.running,
		)
		p.last[i] = cpuState{
			value:   uint64(count.Value),
			enabled: count.Enabled,
			running: count.Running,
		}

		// CPU clock counts nanoseconds of busy time.
		busy[p.cpus[i]] = time.Duration(delta)
	}

	return busy, nil
}

func (p *Probe) Close() {
	for _, event := range p.events {
		if event != nil {
			event.Close()
		}
	}
	p.events = nil
}

// scaledDelta corrects a counter delta for multiplexing: when the event was
// only running for part of the enabled time, the observed delta is scaled up
// by enabled/running.
func scaledDelta(delta uint64, enabled, running time.Duration) uint64 {
	if running > 0 && enabled > 0 && running != enabled {
		return uint64(float64(delta) * float64(enabled) / float64(running))
	}
	return delta
}

// Snapshot freezes one sampling window into load values usable by the
// placement engine: per-CPU load from the observed busy fractions, plus a
// fixed hypothetical load for the task being placed.
type Snapshot struct {
	loads    map[int]placement.Load
	taskLoad placement.Load
}

// NewSnapshot converts per-CPU busy times over the given window into loads on
// the engine's scale. A fully busy CPU maps to loadtrack.LoadScale.
func NewSnapshot(busy map[int]time.Duration, window time.Duration, taskLoad placement.Load) *Snapshot {
	loads := make(map[int]placement.Load, len(busy))
	for cpu, b := range busy {
		if b < 0 {
			b = 0
		}
		if b > window {
			b = window
		}
		loads[cpu] = placement.Load(float64(b) / float64(window) * loadtrack.LoadScale)
	}
	return &Snapshot{loads: loads, taskLoad: taskLoad}
}

func (s *Snapshot) CPULoad(cpu int) placement.Load {
	return s.loads[cpu]
}

func (s *Snapshot) TaskLoad(*placement.Task) placement.Load {
	return s.taskLoad
}

func (s *Snapshot) Refresh(*placement.Task) {}

// IdleCPUs lists the probed CPUs whose observed load is below the threshold.
func (s *Snapshot) IdleCPUs(threshold placement.Load) []int {
	var idle []int
	for cpu, load := range s.loads {
		if load < threshold {
			idle = append(idle, cpu)
		}
	}
	return idle
}
