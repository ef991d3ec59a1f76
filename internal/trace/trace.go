package trace

import (
	"sort"
	"sync"
	"time"
)

// Decision is one recorded placement outcome.
type Decision struct {
	Seq       uint64        `json:"seq"`
	TaskID    uint64        `json:"task_id"`
	CPU       int           `json:"cpu"`
	FastPath  bool          `json:"fast_path"`
	Tier      string        `json:"tier"`
	Sync      bool          `json:"sync"`
	Projected uint64        `json:"projected"`
	Latency   time.Duration `json:"latency_ns"`
	At        time.Time     `json:"at"`
}

// Recorder keeps a bounded in-memory ring of decisions. When the ring is
// full the oldest entries are overwritten and counted as dropped.
type Recorder struct {
	mu      sync.Mutex
	buf     []Decision
	next    uint64
	dropped uint64
}

const DefaultCapacity = 1 << 16

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]Decision, 0, capacity)}
}

func (r *Recorder) Record(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.Seq = r.next
	r.next++
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, d)
		return
	}
	r.buf[d.Seq%uint64(cap(r.buf))] = d
	r.dropped++
}

// Decisions returns the retained decisions in recording order.
func (r *Recorder) Decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.buf))
	copy(out, r.buf)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Total returns the number of decisions ever recorded, dropped included.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Summary aggregates a run's decisions for the log line and the database.
type Summary struct {
	Total     int            `json:"total"`
	FastPath  int            `json:"fast_path"`
	Fallback  int            `json:"fallback"`
	Sync      int            `json:"sync"`
	PerCPU    map[int]int    `json:"per_cpu"`
	PerTier   map[string]int `json:"per_tier"`
	LatencyP50 time.Duration `json:"latency_p50_ns"`
	LatencyP95 time.Duration `json:"latency_p95_ns"`
	LatencyP99 time.Duration `json:"latency_p99_ns"`
	Span       time.Duration `json:"span_ns"`
}

// FastPathRate is the fraction of decisions served by the idle fast path.
func (s Summary) FastPathRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.FastPath) / float64(s.Total)
}

// Summarize computes the run summary over the given decisions.
func Summarize(decisions []Decision) Summary {
	s := Summary{
		PerCPU:  make(map[int]int),
		PerTier: make(map[string]int),
	}
	if len(decisions) == 0 {
		return s
	}

	latencies := make([]time.Duration, 0, len(decisions))
	first, last := decisions[0].At, decisions[0].At
	for _, d := range decisions {
		s.Total++
		if d.FastPath {
			s.FastPath++
		}
		if d.Tier == "fallback" {
			s.Fallback++
		}
		if d.Sync {
			s.Sync++
		}
		s.PerCPU[d.CPU]++
		s.PerTier[d.Tier]++
		latencies = append(latencies, d.Latency)
		if d.At.Before(first) {
			first = d.At
		}
		if d.At.After(last) {
			last = d.At
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.LatencyP50 = percentile(latencies, 50)
	s.LatencyP95 = percentile(latencies, 95)
	s.LatencyP99 = percentile(latencies, 99)
	s.Span = last.Sub(first)
	return s
}

// percentile uses nearest-rank on an ascending-sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
