package main

import (
	"fmt"
	"os"
	"path/filepath"

	"corepick/internal/config"
	"corepick/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var logLevel string
	var metricsAddr string
	var spoolDir string
	var publishDecisions bool

	var adviseOpts adviseOptions

	rootCmd := &cobra.Command{
		Use:   "corepick",
		Short: "Capacity-aware CPU placement bench",
		Long:  "A tool for exercising and measuring capacity-aware CPU selection on tiered hosts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a placement bench",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(configFile, runOptions{
				MetricsAddr:      metricsAddr,
				SpoolDir:         spoolDir,
				PublishDecisions: publishDecisions,
			})
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a bench configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfigFile(configFile)
		},
	}

	topologyCmd := &cobra.Command{
		Use:   "topology",
		Short: "Show the CPU topology placement decisions run against",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showTopology(configFile)
		},
	}

	adviseCmd := &cobra.Command{
		Use:   "advise",
		Short: "Advise a CPU for a hypothetical task",
		Long:  "Sample per-CPU busy time with perf and run one placement decision against the observed loads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return advise(configFile, adviseOpts)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to bench configuration file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runCmd.Flags().StringVar(&spoolDir, "spool-dir", "", "Directory for offline result artifacts")
	runCmd.Flags().BoolVar(&publishDecisions, "publish-decisions", false, "Also publish the retained per-decision trace")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to bench configuration file")
	validateCmd.MarkFlagRequired("config")

	topologyCmd.Flags().StringVarP(&configFile, "config", "c", "", "Optional config with a topology override")

	adviseCmd.Flags().StringVarP(&configFile, "config", "c", "", "Optional config with a topology override")
	adviseCmd.Flags().IntVar(&adviseOpts.Hint, "hint", 0, "Capacity hint of the hypothetical task")
	adviseCmd.Flags().IntVar(&adviseOpts.TaskLoad, "task-load", 1024, "Assumed load of the hypothetical task")
	adviseCmd.Flags().IntVar(&adviseOpts.PrevCPU, "prev-cpu", -1, "CPU the task last ran on, -1 for none")
	adviseCmd.Flags().DurationVar(&adviseOpts.Window, "window", defaultAdviseWindow, "Busy-time sampling window")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(adviseCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfigFile(configFile string) error {
	logger := logging.GetLogger()

	_, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}
