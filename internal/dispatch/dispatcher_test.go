package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corepick/internal/idlepath"
	"corepick/internal/loadtrack"
	"corepick/internal/placement"
	"corepick/internal/topology"
	"corepick/internal/trace"
)

func newTestDispatcher(t *testing.T, rec *trace.Recorder) (*Dispatcher, *topology.Topology, *idlepath.Status) {
	t.Helper()
	topo, err := topology.New(
		[]int{0, 1, 2, 3},
		[]int{0, 1},
		[]int{2, 3},
		[][]int{{0, 1}, {2, 3}},
	)
	if err != nil {
		t.Fatalf("failed to build topology: %v", err)
	}

	tracker := loadtrack.NewTracker(loadtrack.DefaultHalfLife, loadtrack.DefaultInitialLoad)
	status := idlepath.NewStatus(topo)
	engine, err := placement.NewEngine(topo, placement.Deps{
		Loads: tracker,
		Wakes: idlepath.NewWakeeTracker(topo),
		Idle:  idlepath.NewIdleSelector(topo, status),
	}, placement.DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	d, err := NewDispatcher(topo, engine, tracker, status, Options{Recorder: rec})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	return d, topo, status
}

func TestDispatcher_RunsEveryTaskOnce(t *testing.T) {
	rec := trace.NewRecorder(1024)
	d, topo, status := newTestDispatcher(t, rec)
	d.Start(context.Background())

	const n = 200
	var executed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for j := uint64(0); j < n/8; j++ {
				task := &placement.Task{ID: base + j, Hint: int(j % 300)}
				cpu, err := d.Submit(task, func(*TaskContext) {
					executed.Add(1)
				}, SubmitRequest{Fork: true})
				if err != nil {
					t.Errorf("submit failed: %v", err)
					return
				}
				if !topo.Online().Test(cpu) {
					t.Errorf("placed on offline CPU %d", cpu)
				}
			}
		}(uint64(i) * 1000)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := executed.Load(); got != n {
		t.Fatalf("expected %d executions, got %d", n, got)
	}
	if got := rec.Total(); got != n {
		t.Fatalf("expected %d decisions recorded, got %d", n, got)
	}

	// Everything ran down: the board is idle with zero depth everywhere.
	for cpu := 0; cpu < 4; cpu++ {
		if depth := status.Depth(cpu); depth != 0 {
			t.Fatalf("expected depth 0 on CPU %d after drain, got %d", cpu, depth)
		}
		if !status.IsIdle(cpu) {
			t.Fatalf("expected CPU %d idle after drain", cpu)
		}
	}
}

func TestDispatcher_SyncHandoffFromTaskBody(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	d.Start(context.Background())

	producer := &placement.Task{ID: 1, Hint: 0}
	consumer := &placement.Task{ID: 2, Hint: 0}

	var consumerCPU atomic.Int64
	consumerCPU.Store(int64(placement.NoCPU))
	done := make(chan struct{})

	_, err := d.Submit(producer, func(tc *TaskContext) {
		cpu, err := tc.Submit(consumer, func(*TaskContext) {
			close(done)
		}, SubmitRequest{Waker: producer, Sync: true, Affine: true, Fork: true})
		if err != nil {
			t.Errorf("handoff submit failed: %v", err)
			close(done)
			return
		}
		consumerCPU.Store(int64(cpu))
	}, SubmitRequest{Fork: true})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if cpu := consumerCPU.Load(); cpu == int64(placement.NoCPU) {
		t.Fatalf("consumer was not placed")
	}
}

func TestDispatcher_SubmitAfterDrainFails(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	d.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	task := &placement.Task{ID: 1}
	if _, err := d.Submit(task, func(*TaskContext) {}, SubmitRequest{Fork: true}); err == nil {
		t.Fatalf("expected submit to fail after drain")
	}

	// Draining twice is a no-op.
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
}
