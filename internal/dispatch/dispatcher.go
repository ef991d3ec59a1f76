package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"corepick/internal/cpupin"
	"corepick/internal/idlepath"
	"corepick/internal/loadtrack"
	"corepick/internal/logging"
	"corepick/internal/metrics"
	"corepick/internal/placement"
	"corepick/internal/topology"
	"corepick/internal/trace"

	"github.com/sirupsen/logrus"
)

// TaskContext is handed to a running task body. Submissions made through it
// carry the worker's CPU as the waking CPU, which is what enables sync
// handoff semantics.
type TaskContext struct {
	Ctx context.Context
	CPU int

	d *Dispatcher
}

// Submit places a follow-up task from inside a running task body.
func (tc *TaskContext) Submit(t *placement.Task, fn TaskFunc, req SubmitRequest) (int, error) {
	return tc.d.submit(t, fn, req, tc.CPU)
}

// TaskFunc is the body of a dispatched task.
type TaskFunc func(tc *TaskContext)

// SubmitRequest qualifies one submission.
type SubmitRequest struct {
	// Waker is the task performing the wakeup, nil for external submits.
	Waker        *placement.Task
	WakerExiting bool
	Sync         bool
	Affine       bool
	Fork         bool
	SiblingHint  int
}

// Options configure a Dispatcher.
type Options struct {
	// Pin binds each worker's OS thread to its CPU.
	Pin bool
	// QueueDepth is the per-worker channel buffer, default 64.
	QueueDepth int
	// Recorder receives one trace entry per decision when set.
	Recorder *trace.Recorder
}

type item struct {
	task     *placement.Task
	fn       TaskFunc
	enqueued time.Time
}

type worker struct {
	cpu int
	ch  chan *item
}

type taskMeta struct {
	prevCPU  int
	inflight bool
}

// Dispatcher runs one worker per online CPU and routes every submission
// through the placement engine, keeping the load tracker and the CPU status
// board in sync with what actually runs where.
type Dispatcher struct {
	topo    *topology.Topology
	engine  *placement.Engine
	tracker *loadtrack.Tracker
	status  *idlepath.Status
	opts    Options
	logger  *logrus.Logger

	workers map[int]*worker
	wg      sync.WaitGroup
	ctx     context.Context

	metaMu sync.Mutex
	meta   map[uint64]*taskMeta

	// drainMu serializes submissions against channel close on drain.
	drainMu sync.RWMutex
	closed  atomic.Bool
}

func NewDispatcher(topo *topology.Topology, engine *placement.Engine, tracker *loadtrack.Tracker, status *idlepath.Status, opts Options) (*Dispatcher, error) {
	if topo == nil || engine == nil || tracker == nil || status == nil {
		return nil, fmt.Errorf("dispatcher dependencies are incomplete")
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}

	d := &Dispatcher{
		topo:    topo,
		engine:  engine,
		tracker: tracker,
		status:  status,
		opts:    opts,
		logger:  logging.GetPlacementLogger(),
		workers: make(map[int]*worker),
		meta:    make(map[uint64]*taskMeta),
	}
	online := topo.Online()
	for cpu := online.NextSet(0); cpu >= 0; cpu = online.NextSet(cpu + 1) {
		d.workers[cpu] = &worker{cpu: cpu, ch: make(chan *item, opts.QueueDepth)}
	}
	return d, nil
}

// Start launches the per-CPU workers. ctx is handed to task bodies; it does
// not cancel queued work, Drain does.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.runWorker(w)
	}
	d.logger.WithFields(logrus.Fields{
		"workers": len(d.workers),
		"pinned":  d.opts.Pin,
	}).Info("Dispatcher started")
}

// Submit places a task from outside any worker.
func (d *Dispatcher) Submit(t *placement.Task, fn TaskFunc, req SubmitRequest) (int, error) {
	return d.submit(t, fn, req, cpupin.CurrentCPU())
}

func (d *Dispatcher) submit(t *placement.Task, fn TaskFunc, req SubmitRequest, thisCPU int) (int, error) {
	d.drainMu.RLock()
	defer d.drainMu.RUnlock()
	if d.closed.Load() {
		return placement.NoCPU, fmt.Errorf("dispatcher is draining")
	}

	prevCPU := placement.NoCPU
	queued := false
	if req.Fork {
		d.tracker.Register(t)
	} else {
		d.metaMu.Lock()
		if m, ok := d.meta[t.ID]; ok {
			prevCPU = m.prevCPU
			queued = m.inflight
		}
		d.metaMu.Unlock()
	}

	var flags placement.WakeFlags
	if req.Sync {
		flags |= placement.WakeSync
	}
	if req.Fork {
		flags |= placement.WakeFork
	}
	if req.Affine {
		flags |= placement.WakeAffine
	}

	preq := placement.Request{
		Task:         t,
		PrevCPU:      prevCPU,
		ThisCPU:      thisCPU,
		Waker:        req.Waker,
		WakerExiting: req.WakerExiting,
		Queued:       queued,
		SiblingHint:  req.SiblingHint,
		Flags:        flags,
	}

	start := time.Now()
	cpu, tr := d.engine.SelectWithTrace(preq)
	latency := time.Since(start)

	w, ok := d.workers[cpu]
	if !ok {
		return placement.NoCPU, fmt.Errorf("engine selected CPU %d with no worker", cpu)
	}

	d.tracker.Enqueued(cpu, t)
	depth := d.status.IncDepth(cpu)
	d.status.SetBusy(cpu)
	metrics.SetQueueDepth(cpu, depth)
	metrics.RecordDecision(cpu, tr.FastPath, tr.Tier == placement.TierFallback)

	d.metaMu.Lock()
	m, ok := d.meta[t.ID]
	if !ok {
		m = &taskMeta{}
		d.meta[t.ID] = m
	}
	m.prevCPU = cpu
	m.inflight = true
	d.metaMu.Unlock()

	if d.opts.Recorder != nil {
		d.opts.Recorder.Record(trace.Decision{
			TaskID:    t.ID,
			CPU:       cpu,
			FastPath:  tr.FastPath,
			Tier:      tr.Tier.String(),
			Sync:      req.Sync,
			Projected: uint64(tr.Projected),
			Latency:   latency,
			At:        start,
		})
	}

	if d.logger.IsLevelEnabled(logrus.DebugLevel) {
		d.logger.WithFields(logrus.Fields{
			"task":      t.ID,
			"cpu":       cpu,
			"tier":      tr.Tier.String(),
			"fast_path": tr.FastPath,
			"projected": uint64(tr.Projected),
			"prev_cpu":  prevCPU,
			"this_cpu":  thisCPU,
		}).Debug("Task placed")
	}

	w.ch <- &item{task: t, fn: fn, enqueued: start}
	return cpu, nil
}

func (d *Dispatcher) runWorker(w *worker) {
	defer d.wg.Done()

	if d.opts.Pin {
		if err := cpupin.PinSelf(w.cpu); err != nil {
			logging.GetLogger().WithField("cpu", w.cpu).WithError(err).Warn("Failed to pin worker, running unpinned")
		}
	}

	for it := range w.ch {
		start := time.Now()
		it.fn(&TaskContext{Ctx: d.ctx, CPU: w.cpu, d: d})
		busy := time.Since(start)

		d.tracker.Observe(it.task, busy, time.Since(it.enqueued))
		d.tracker.Dequeued(it.task)

		d.metaMu.Lock()
		if m, ok := d.meta[it.task.ID]; ok {
			m.inflight = false
		}
		d.metaMu.Unlock()

		depth := d.status.DecDepth(w.cpu)
		metrics.SetQueueDepth(w.cpu, depth)
		if depth == 0 {
			d.status.SetIdle(w.cpu)
		}
		metrics.TaskCompleted()
	}
}

// Drain stops accepting submissions and waits for queued work to finish,
// giving up when ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.drainMu.Lock()
	if !d.closed.CompareAndSwap(false, true) {
		d.drainMu.Unlock()
		return nil
	}
	for _, w := range d.workers {
		close(w.ch)
	}
	d.drainMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}
