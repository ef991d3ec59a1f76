package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corepick/internal/config"
	"corepick/internal/database"
	"corepick/internal/dispatch"
	"corepick/internal/idlepath"
	"corepick/internal/loadtrack"
	"corepick/internal/logging"
	"corepick/internal/metrics"
	"corepick/internal/placement"
	"corepick/internal/topology"
	"corepick/internal/trace"

	"github.com/sirupsen/logrus"
)

type runOptions struct {
	MetricsAddr      string
	SpoolDir         string
	PublishDecisions bool
}

type benchRunner struct {
	config        *config.Config
	configContent string
	opts          runOptions

	topo       *topology.Topology
	tracker    *loadtrack.Tracker
	status     *idlepath.Status
	engine     *placement.Engine
	recorder   *trace.Recorder
	dispatcher *dispatch.Dispatcher

	publisher *database.InfluxPublisher
	runID     int

	startTime time.Time
	endTime   time.Time
}

// buildTopology uses the config override when present and discovers the host
// layout from sysfs otherwise.
func buildTopology(cfg *config.Config) (*topology.Topology, error) {
	if cfg != nil && cfg.Topology != nil {
		online, err := config.ParseCPUSpec(cfg.Topology.Online)
		if err != nil {
			return nil, fmt.Errorf("invalid online spec: %w", err)
		}

		var perf, eff []int
		if cfg.Topology.Performance != "" {
			if perf, err = config.ParseCPUSpec(cfg.Topology.Performance); err != nil {
				return nil, fmt.Errorf("invalid performance spec: %w", err)
			}
		}
		if cfg.Topology.Efficiency != "" {
			if eff, err = config.ParseCPUSpec(cfg.Topology.Efficiency); err != nil {
				return nil, fmt.Errorf("invalid efficiency spec: %w", err)
			}
		}
		// A host without a declared split is treated as uniform capacity.
		if len(perf) == 0 && len(eff) == 0 {
			perf, eff = online, online
		}

		var clusters [][]int
		for _, spec := range cfg.Topology.Clusters {
			cluster, err := config.ParseCPUSpec(spec)
			if err != nil {
				return nil, fmt.Errorf("invalid cluster spec %q: %w", spec, err)
			}
			clusters = append(clusters, cluster)
		}

		return topology.New(online, perf, eff, clusters)
	}

	return topology.Discover()
}

func runBench(configFile string, opts runOptions) error {
	logger := logging.GetLogger()

	br := &benchRunner{opts: opts}

	var err error
	br.config, br.configContent, err = config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set log level from configuration
	if br.config.Bench.LogLevel != "" {
		if err := logging.SetLogLevel(br.config.Bench.LogLevel); err != nil {
			logger.WithField("log_level", br.config.Bench.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}

	br.topo, err = buildTopology(br.config)
	if err != nil {
		logger.WithError(err).Error("Failed to build topology")
		return fmt.Errorf("failed to build topology: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"online":      br.topo.Online().String(),
		"performance": br.topo.PerformanceTier().String(),
		"efficiency":  br.topo.EfficiencyTier().String(),
		"cpus":        br.topo.NumCPUs(),
	}).Info("Topology initialized")

	plc := br.config.Placement
	br.tracker = loadtrack.NewTracker(time.Duration(plc.HalfLifeMS)*time.Millisecond, placement.Load(plc.InitialTaskLoad))
	br.status = idlepath.NewStatus(br.topo)
	wakes := idlepath.NewWakeeTracker(br.topo)
	idle := idlepath.NewIdleSelector(br.topo, br.status)

	br.engine, err = placement.NewEngine(br.topo,
		placement.Deps{Loads: br.tracker, Wakes: wakes, Idle: idle},
		placement.Policy{PerfHintLow: plc.PerfHintLow, PerfHintHigh: plc.PerfHintHigh})
	if err != nil {
		logger.WithError(err).Error("Failed to build placement engine")
		return fmt.Errorf("failed to build engine: %w", err)
	}

	br.recorder = trace.NewRecorder(0)

	br.dispatcher, err = dispatch.NewDispatcher(br.topo, br.engine, br.tracker, br.status, dispatch.Options{
		Pin:      plc.PinWorkers,
		Recorder: br.recorder,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to build dispatcher")
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}

	// Connect to the database up front so a misconfigured run fails before
	// any work is done. Offline runs spool to disk instead.
	if br.config.PublishEnabled() {
		br.publisher, err = database.NewInfluxPublisher(br.config.Bench.Data.DB)
		if err != nil {
			logger.WithError(err).Error("Failed to create database client")
			return fmt.Errorf("failed to create database client: %w", err)
		}
		defer br.publisher.Close()

		br.runID, err = br.publisher.NextRunID()
		if err != nil {
			logger.WithError(err).Error("Failed to get next run ID")
			return fmt.Errorf("failed to get next run ID: %w", err)
		}
	} else {
		br.runID = int(time.Now().Unix())
		logger.Info("No database configured, results will be spooled to disk")
	}

	if opts.MetricsAddr != "" {
		srv := metrics.Serve(opts.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.WithFields(logrus.Fields{
		"run_id": br.runID,
		"name":   br.config.Bench.Name,
		"max_t":  br.config.Bench.MaxT,
	}).Info("Starting bench")

	return br.execute()
}

func (br *benchRunner) execute() error {
	logger := logging.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), br.config.GetMaxDuration())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	br.dispatcher.Start(ctx)
	br.startTime = time.Now()

	if err := runWorkloads(ctx, br.dispatcher, br.config); err != nil {
		logger.WithError(err).Warn("Workload execution ended early")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := br.dispatcher.Drain(drainCtx); err != nil {
		logger.WithError(err).Warn("Dispatcher drain did not finish cleanly")
	}
	br.endTime = time.Now()

	return br.writeResults()
}

func (br *benchRunner) writeResults() error {
	logger := logging.GetLogger()

	decisions := br.recorder.Decisions()
	summary := trace.Summarize(decisions)

	logger.WithFields(logrus.Fields{
		"decisions":      summary.Total,
		"fast_path":      summary.FastPath,
		"fast_path_rate": summary.FastPathRate(),
		"tier_fallbacks": summary.Fallback,
		"sync_wakeups":   summary.Sync,
		"latency_p50":    summary.LatencyP50,
		"latency_p99":    summary.LatencyP99,
		"dropped":        br.recorder.Dropped(),
	}).Info("Bench completed")

	meta := database.CollectRunMetadata(
		br.runID,
		br.config,
		br.topo.Online().String(),
		br.topo.PerformanceTier().String(),
		br.topo.EfficiencyTier().String(),
		summary,
		br.recorder.Dropped(),
		br.startTime,
		br.endTime,
	)

	if br.publisher != nil {
		err := br.publishResults(meta, summary, decisions)
		if err == nil {
			return nil
		}
		logger.WithError(err).Warn("Publishing failed, spooling results to disk instead")
	}

	spooled := decisions
	if !br.opts.PublishDecisions {
		spooled = nil
	}
	artifact := database.BuildSpoolArtifact(br.runID, meta, br.configContent, summary, spooled, br.startTime, br.endTime)
	path, err := database.WriteSpoolArtifact(br.opts.SpoolDir, artifact)
	if err != nil {
		logger.WithError(err).Error("Failed to write spool artifact")
		return fmt.Errorf("failed to spool results: %w", err)
	}
	logger.WithField("path", path).Info("Results spooled to disk")
	return nil
}

func (br *benchRunner) publishResults(meta *database.RunMetadata, summary trace.Summary, decisions []trace.Decision) error {
	logger := logging.GetLogger()

	if err := br.publisher.WriteSummary(meta, summary); err != nil {
		return err
	}
	if br.opts.PublishDecisions {
		if err := br.publisher.WriteDecisions(br.runID, decisions); err != nil {
			return err
		}
	}
	logger.WithField("run_id", br.runID).Info("Results published to database")
	return nil
}

func showTopology(configFile string) error {
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

	fmt.Printf("online:      %s\n", topo.Online())
	fmt.Printf("performance: %s\n", topo.PerformanceTier())
	fmt.Printf("efficiency:  %s\n", topo.EfficiencyTier())
	online := topo.Online()
	printed := make(map[string]bool)
	for cpu := online.NextSet(0); cpu >= 0; cpu = online.NextSet(cpu + 1) {
		cluster := topo.ClusterOf(cpu)
		key := cluster.String()
		if key == "" || printed[key] {
			continue
		}
		printed[key] = true
		fmt.Printf("cluster:     %s\n", key)
	}
	return nil
}
