package metrics

import (
	"net/http"
	"strconv"
	"time"

	"corepick/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corepick_placement_decisions_total",
			Help: "Total placement decisions, by chosen CPU and decision path",
		},
		[]string{"cpu", "path"},
	)
	tierFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corepick_tier_fallbacks_total",
			Help: "Decisions where the capacity tier was empty and the full online set was used",
		},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corepick_queue_depth",
			Help: "Current per-CPU run queue depth",
		},
		[]string{"cpu"},
	)
	tasksCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corepick_tasks_completed_total",
			Help: "Tasks that finished executing",
		},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(tierFallbacksTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(tasksCompletedTotal)
}

func RecordDecision(cpu int, fastPath bool, fallback bool) {
	path := "load"
	if fastPath {
		path = "fast"
	}
	decisionsTotal.WithLabelValues(strconv.Itoa(cpu), path).Inc()
	if fallback {
		tierFallbacksTotal.Inc()
	}
}

func SetQueueDepth(cpu int, depth int32) {
	queueDepth.WithLabelValues(strconv.Itoa(cpu)).Set(float64(depth))
}

func TaskCompleted() {
	tasksCompletedTotal.Inc()
}

// Serve exposes /metrics on addr until the returned server is shut down.
func Serve(addr string) *http.Server {
	logger := logging.GetLogger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("Serving Prometheus metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("Metrics server stopped")
		}
	}()

	return srv
}
