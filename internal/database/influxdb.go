package database

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"corepick/internal/config"
	"corepick/internal/logging"
	"corepick/internal/trace"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// RunMetadata describes one bench run alongside its summary.
type RunMetadata struct {
	RunID           int    `json:"run_id"`
	BenchName       string `json:"bench_name"`
	Description     string `json:"description"`
	DurationSeconds int64  `json:"duration_seconds"`
	RunStarted      string `json:"run_started"`  // RFC3339
	RunFinished     string `json:"run_finished"` // RFC3339
	Hostname        string `json:"hostname"`
	OSInfo          string `json:"os_info"`
	OnlineCPUs      string `json:"online_cpus"`
	PerformanceTier string `json:"performance_tier"`
	EfficiencyTier  string `json:"efficiency_tier"`
	TotalDecisions  int    `json:"total_decisions"`
	DroppedRecords  uint64 `json:"dropped_records"`
	ConfigChecksum  string `json:"config_checksum"`
}

type InfluxPublisher struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxPublisher(cfg config.DatabaseConfig) (*InfluxPublisher, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxPublisher{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

func (p *InfluxPublisher) Close() {
	p.client.Close()
}

// NextRunID returns one past the highest run id stored in the last 30 days.
func (p *InfluxPublisher) NextRunID() (int, error) {
	ctx := context.Background()

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "placement_summary")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, p.bucket)

	result, err := p.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if result.Record().Value() != nil {
			if id, ok := result.Record().Value().(int64); ok {
				maxID = int(id)
			}
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}

	return maxID + 1, nil
}

// WriteSummary stores the run summary and its metadata.
func (p *InfluxPublisher) WriteSummary(meta *RunMetadata, summary trace.Summary) error {
	ctx := context.Background()

	fields := map[string]interface{}{
		"bench_name":       meta.BenchName,
		"description":      meta.Description,
		"duration_seconds": meta.DurationSeconds,
		"run_started":      meta.RunStarted,
		"run_finished":     meta.RunFinished,
		"hostname":         meta.Hostname,
		"os_info":          meta.OSInfo,
		"online_cpus":      meta.OnlineCPUs,
		"performance_tier": meta.PerformanceTier,
		"efficiency_tier":  meta.EfficiencyTier,
		"total_decisions":  summary.Total,
		"fast_path":        summary.FastPath,
		"fast_path_rate":   summary.FastPathRate(),
		"tier_fallbacks":   summary.Fallback,
		"sync_wakeups":     summary.Sync,
		"latency_p50_ns":   int64(summary.LatencyP50),
		"latency_p95_ns":   int64(summary.LatencyP95),
		"latency_p99_ns":   int64(summary.LatencyP99),
		"span_ns":          int64(summary.Span),
		"dropped_records":  int64(meta.DroppedRecords),
		"config_checksum":  meta.ConfigChecksum,
	}

	point := influxdb2.NewPoint("placement_summary",
		map[string]string{
			"run_id": strconv.Itoa(meta.RunID),
		},
		fields,
		time.Now())

	if err := p.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}

	// Per-CPU placement counts as separate points so they can be grouped
	// in queries.
	var points []*write.Point
	for cpu, count := range summary.PerCPU {
		points = append(points, influxdb2.NewPoint("placement_per_cpu",
			map[string]string{
				"run_id": strconv.Itoa(meta.RunID),
				"cpu":    strconv.Itoa(cpu),
			},
			map[string]interface{}{"decisions": count},
			time.Now()))
	}
	for tier, count := range summary.PerTier {
		points = append(points, influxdb2.NewPoint("placement_per_tier",
			map[string]string{
				"run_id": strconv.Itoa(meta.RunID),
				"tier":   tier,
			},
			map[string]interface{}{"decisions": count},
			time.Now()))
	}
	if len(points) > 0 {
		if err := p.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write per-CPU points: %w", err)
		}
	}

	return nil
}

// WriteDecisions stores the retained per-decision trace.
func (p *InfluxPublisher) WriteDecisions(runID int, decisions []trace.Decision) error {
	ctx := context.Background()

	var points []*write.Point
	for _, d := range decisions {
		points = append(points, influxdb2.NewPoint("placement_decision",
			map[string]string{
				"run_id": strconv.Itoa(runID),
				"cpu":    strconv.Itoa(d.CPU),
				"tier":   d.Tier,
			},
			map[string]interface{}{
				"seq":        int64(d.Seq),
				"task_id":    int64(d.TaskID),
				"fast_path":  d.FastPath,
				"sync":       d.Sync,
				"projected":  int64(d.Projected),
				"latency_ns": int64(d.Latency),
			},
			d.At))
	}

	if len(points) > 0 {
		if err := p.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write decision points: %w", err)
		}
	}
	return nil
}

// CollectRunMetadata assembles run metadata from the config and summary.
func CollectRunMetadata(runID int, cfg *config.Config, onlineCPUs, perfTier, effTier string, summary trace.Summary, dropped uint64, startTime, endTime time.Time) *RunMetadata {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	checksum := ""
	if cs, err := config.TraceChecksum(cfg); err == nil {
		checksum = cs
	}

	return &RunMetadata{
		RunID:           runID,
		BenchName:       cfg.Bench.Name,
		Description:     cfg.Bench.Description,
		DurationSeconds: int64(endTime.Sub(startTime).Seconds()),
		RunStarted:      startTime.Format(time.RFC3339),
		RunFinished:     endTime.Format(time.RFC3339),
		Hostname:        hostname,
		OSInfo:          runtime.GOOS + "/" + runtime.GOARCH,
		OnlineCPUs:      onlineCPUs,
		PerformanceTier: perfTier,
		EfficiencyTier:  effTier,
		TotalDecisions:  summary.Total,
		DroppedRecords:  dropped,
		ConfigChecksum:  checksum,
	}
}
