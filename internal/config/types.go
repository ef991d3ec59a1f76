package config

import (
	"sort"
	"time"
)

type Config struct {
	Bench     BenchInfo                 `yaml:"bench"`
	Placement PlacementConfig           `yaml:"placement"`
	Topology  *TopologyConfig           `yaml:"topology,omitempty"`
	Workloads map[string]WorkloadConfig `yaml:"workloads"`
}

type BenchInfo struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	MaxT        int        `yaml:"max_t"`
	LogLevel    string     `yaml:"log_level"`
	Seed        int64      `yaml:"seed"`
	Data        DataConfig `yaml:"data"`
}

type DataConfig struct {
	DB DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// PlacementConfig carries the engine policy and load-tracking knobs. The
// hint bounds default to the conventional foreground range.
type PlacementConfig struct {
	PerfHintLow     int  `yaml:"perf_hint_low"`
	PerfHintHigh    int  `yaml:"perf_hint_high"`
	InitialTaskLoad int  `yaml:"initial_task_load"`
	HalfLifeMS      int  `yaml:"half_life_ms"`
	PinWorkers      bool `yaml:"pin_workers"`
}

func DefaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		PerfHintLow:     -1,
		PerfHintHigh:    225,
		InitialTaskLoad: 1024,
		HalfLifeMS:      32,
	}
}

// TopologyConfig overrides host discovery with an explicit layout. CPU sets
// use cpulist notation ("0-3,6").
type TopologyConfig struct {
	Online      string   `yaml:"online"`
	Performance string   `yaml:"performance"`
	Efficiency  string   `yaml:"efficiency"`
	Clusters    []string `yaml:"clusters"`
}

// WorkloadConfig describes one class of synthetic tasks.
type WorkloadConfig struct {
	// KeyName is the YAML map key, set while parsing.
	KeyName string `yaml:"-"`

	Index       int     `yaml:"index"`
	Count       int     `yaml:"count"`
	Hint        int     `yaml:"hint"`
	DurationMS  int     `yaml:"duration_ms"`
	ArrivalMS   int     `yaml:"arrival_ms"`
	SyncRatio   float64 `yaml:"sync_ratio"`
	SiblingHint int     `yaml:"sibling_hint"`
}

func (c *Config) GetMaxDuration() time.Duration {
	return time.Duration(c.Bench.MaxT) * time.Second
}

func (c *Config) GetWorkloadsSorted() []WorkloadConfig {
	workloads := make([]WorkloadConfig, 0, len(c.Workloads))
	for _, w := range c.Workloads {
		workloads = append(workloads, w)
	}
	sort.Slice(workloads, func(i, j int) bool {
		return workloads[i].Index < workloads[j].Index
	})
	return workloads
}

// PublishEnabled reports whether run results go to the database rather than
// the local spool.
func (c *Config) PublishEnabled() bool {
	return c.Bench.Data.DB.Host != ""
}
