package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"corepick/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*Config, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent parses a bench config and also returns the original
// file content so it can be archived with the run's results.
func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	config := Config{Placement: DefaultPlacementConfig()}
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	// Set KeyName for each workload based on the YAML key.
	for keyName, workload := range config.Workloads {
		workload.KeyName = keyName
		config.Workloads[keyName] = workload
	}

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// ParseCPUSpec parses CPU specification strings like "0", "0,2,4", or "0-3".
func ParseCPUSpec(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid CPU range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if !seen[i] {
					cpus = append(cpus, i)
					seen[i] = true
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}

			if !seen[cpu] {
				cpus = append(cpus, cpu)
				seen[cpu] = true
			}
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}

	return cpus, nil
}

// FormatCPUSpec renders a CPU list in canonical cpulist form ("0-3,6").
func FormatCPUSpec(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)

	var sb strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(start))
		if prev > start {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(prev))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev {
			continue
		}
		if cpu != prev+1 {
			flush()
			start = cpu
		}
		prev = cpu
	}
	flush()
	return sb.String()
}

func validateConfig(config *Config) error {
	if config.Bench.Name == "" {
		return fmt.Errorf("bench name is required")
	}

	if config.Bench.MaxT <= 0 {
		return fmt.Errorf("max_t must be greater than 0")
	}

	if len(config.Workloads) == 0 {
		return fmt.Errorf("at least one workload must be defined")
	}

	// Database config is only required when publishing is on.
	db := config.Bench.Data.DB
	if db.Host != "" {
		if db.Name == "" || db.User == "" || db.Password == "" || db.Org == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	if config.Placement.PerfHintLow >= config.Placement.PerfHintHigh {
		return fmt.Errorf("placement: perf_hint_low must be below perf_hint_high")
	}
	if config.Placement.InitialTaskLoad < 0 {
		return fmt.Errorf("placement: initial_task_load must not be negative")
	}
	if config.Placement.HalfLifeMS <= 0 {
		return fmt.Errorf("placement: half_life_ms must be greater than 0")
	}

	if config.Topology != nil {
		if config.Topology.Online == "" {
			return fmt.Errorf("topology: online CPU set is required")
		}
		if _, err := ParseCPUSpec(config.Topology.Online); err != nil {
			return fmt.Errorf("topology: invalid online spec: %w", err)
		}
		for _, spec := range []string{config.Topology.Performance, config.Topology.Efficiency} {
			if spec == "" {
				continue
			}
			if _, err := ParseCPUSpec(spec); err != nil {
				return fmt.Errorf("topology: invalid tier spec %q: %w", spec, err)
			}
		}
		for _, cluster := range config.Topology.Clusters {
			if _, err := ParseCPUSpec(cluster); err != nil {
				return fmt.Errorf("topology: invalid cluster spec %q: %w", cluster, err)
			}
		}
	}

	// Validate workloads
	indices := make(map[int]bool)
	for name, workload := range config.Workloads {
		if workload.Count <= 0 {
			return fmt.Errorf("workload %s: count must be greater than 0", name)
		}
		if workload.DurationMS <= 0 {
			return fmt.Errorf("workload %s: duration_ms must be greater than 0", name)
		}
		if workload.ArrivalMS < 0 {
			return fmt.Errorf("workload %s: arrival_ms must not be negative", name)
		}
		if workload.SyncRatio < 0 || workload.SyncRatio > 1 {
			return fmt.Errorf("workload %s: sync_ratio must be within [0,1]", name)
		}
		if indices[workload.Index] {
			return fmt.Errorf("workload %s: index %d is already used", name, workload.Index)
		}
		indices[workload.Index] = true
	}

	return nil
}
