package main

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"corepick/internal/config"
	"corepick/internal/dispatch"
	"corepick/internal/logging"
	"corepick/internal/placement"

	"github.com/sirupsen/logrus"
)

// taskSpec is one concrete task instance expanded from a workload class.
type taskSpec struct {
	workload    string
	hint        int
	duration    time.Duration
	arrival     time.Duration
	sync        bool
	siblingHint int
}

// expandWorkloads turns the configured workload classes into a concrete,
// arrival-ordered task schedule. Which tasks get a sync follow-up is drawn
// from the bench seed, so the same config always produces the same trace.
func expandWorkloads(cfg *config.Config) []taskSpec {
	rng := rand.New(rand.NewSource(cfg.Bench.Seed))

	var specs []taskSpec
	for _, w := range cfg.GetWorkloadsSorted() {
		syncCount := int(w.SyncRatio*float64(w.Count) + 0.5)
		perm := rng.Perm(w.Count)

		for i := 0; i < w.Count; i++ {
			specs = append(specs, taskSpec{
				workload:    w.KeyName,
				hint:        w.Hint,
				duration:    time.Duration(w.DurationMS) * time.Millisecond,
				arrival:     time.Duration(i*w.ArrivalMS) * time.Millisecond,
				sync:        perm[i] < syncCount,
				siblingHint: w.SiblingHint,
			})
		}
	}

	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].arrival < specs[j].arrival
	})
	return specs
}

// runWorkloads submits the expanded schedule against the dispatcher, pacing
// submissions by arrival offset, and waits for all tasks including sync
// follow-ups to finish.
func runWorkloads(ctx context.Context, d *dispatch.Dispatcher, cfg *config.Config) error {
	logger := logging.GetLogger()

	specs := expandWorkloads(cfg)
	logger.WithFields(logrus.Fields{
		"tasks":     len(specs),
		"workloads": len(cfg.Workloads),
		"seed":      cfg.Bench.Seed,
	}).Info("Workload schedule expanded")

	var wg sync.WaitGroup
	var nextID atomic.Uint64

	start := time.Now()
	for _, spec := range specs {
		if wait := spec.arrival - time.Since(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task := &placement.Task{ID: nextID.Add(1), Hint: spec.hint}
		wg.Add(1)
		if _, err := d.Submit(task, taskBody(spec, task, &wg, &nextID), dispatch.SubmitRequest{
			Fork:   true,
			Affine: true,
		}); err != nil {
			wg.Done()
			logger.WithField("workload", spec.workload).WithError(err).Warn("Task submission rejected")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskBody builds the function a task runs: spin for the configured duration,
// then optionally hand off a sync follow-up from the worker's own CPU.
func taskBody(spec taskSpec, task *placement.Task, wg *sync.WaitGroup, nextID *atomic.Uint64) dispatch.TaskFunc {
	return func(tc *dispatch.TaskContext) {
		defer wg.Done()

		spin(tc.Ctx, spec.duration)

		if !spec.sync || tc.Ctx.Err() != nil {
			return
		}

		childSpec := spec
		childSpec.sync = false
		childSpec.duration = spec.duration / 2
		child := &placement.Task{ID: nextID.Add(1), Hint: spec.hint}

		wg.Add(1)
		if _, err := tc.Submit(child, taskBody(childSpec, child, wg, nextID), dispatch.SubmitRequest{
			Waker:       task,
			Sync:        true,
			Affine:      true,
			SiblingHint: spec.siblingHint,
		}); err != nil {
			wg.Done()
		}
	}
}

var spinSink atomic.Uint64

// spin burns CPU for roughly the given duration, bailing out early when the
// run is cancelled.
func spin(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	var acc uint64
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for i := 0; i < 4096; i++ {
			acc += uint64(i)
		}
	}
	// Keep the loop from being optimized away.
	spinSink.Store(acc)
}
