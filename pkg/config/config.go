package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/framepool/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	// Logging configures the global zap logger
	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Memory configures the memory manager
	Memory MemoryConfig `yaml:"memory" json:"memory" mapstructure:"memory"`

	// Monitor configures snapshot history and leak analysis
	Monitor MonitorConfig `yaml:"monitor" json:"monitor" mapstructure:"monitor"`

	// Pools configures the typed record pools
	Pools PoolsConfig `yaml:"pools" json:"pools" mapstructure:"pools"`

	// Metrics configures Prometheus export
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

// MemoryConfig contains memory manager settings.
// The thresholds drive CheckMemoryLeaks and Optimize.
type MemoryConfig struct {
	// SampleInterval is how often heap telemetry and pool stats are sampled
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval" mapstructure:"sample_interval"`
	// WeakSweepInterval is how often collected weak references are swept
	WeakSweepInterval time.Duration `yaml:"weak_sweep_interval" json:"weak_sweep_interval" mapstructure:"weak_sweep_interval"`
	// LowHitRate flags pools whose hit rate falls below it
	LowHitRate float64 `yaml:"low_hit_rate" json:"low_hit_rate" mapstructure:"low_hit_rate"`
	// ExcessFreeRatio flags pools holding more than ratio x used free records
	ExcessFreeRatio float64 `yaml:"excess_free_ratio" json:"excess_free_ratio" mapstructure:"excess_free_ratio"`
	// PressureThreshold is the used/limit ratio that triggers relief
	PressureThreshold float64 `yaml:"pressure_threshold" json:"pressure_threshold" mapstructure:"pressure_threshold"`
	// GCCountThreshold flags frequent collector activity
	GCCountThreshold uint32 `yaml:"gc_count_threshold" json:"gc_count_threshold" mapstructure:"gc_count_threshold"`
	// SyntheticGCBatch is the number of throwaway slices allocated when no
	// forced-collection primitive is available
	SyntheticGCBatch int `yaml:"synthetic_gc_batch" json:"synthetic_gc_batch" mapstructure:"synthetic_gc_batch"`
}

// MonitorConfig contains leak monitor settings.
type MonitorConfig struct {
	// Enabled starts the monitor alongside the memory manager
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	// SnapshotInterval is how often a memory snapshot is taken
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval" mapstructure:"snapshot_interval"`
	// LeakCheckInterval is how often leak analysis runs
	LeakCheckInterval time.Duration `yaml:"leak_check_interval" json:"leak_check_interval" mapstructure:"leak_check_interval"`
	// MaxHistory bounds the snapshot history
	MaxHistory int `yaml:"max_history" json:"max_history" mapstructure:"max_history"`
	// Thresholds tune pressure levels and leak analysis
	Thresholds MonitorThresholds `yaml:"thresholds" json:"thresholds" mapstructure:"thresholds"`
}

// MonitorThresholds tune pressure levels and leak analysis.
type MonitorThresholds struct {
	// MaxHeapUsagePercent marks high pressure
	MaxHeapUsagePercent float64 `yaml:"max_heap_usage_percent" json:"max_heap_usage_percent" mapstructure:"max_heap_usage_percent"`
	// MaxGrowthRateMB is the tolerated heap growth in MB per minute
	MaxGrowthRateMB float64 `yaml:"max_growth_rate_mb" json:"max_growth_rate_mb" mapstructure:"max_growth_rate_mb"`
	// MaxConsecutiveGrowth is the tolerated run of growing snapshots
	MaxConsecutiveGrowth int `yaml:"max_consecutive_growth" json:"max_consecutive_growth" mapstructure:"max_consecutive_growth"`
	// PoolHitRate marks low-efficiency pools
	PoolHitRate float64 `yaml:"pool_hit_rate" json:"pool_hit_rate" mapstructure:"pool_hit_rate"`
	// PoolUtilization marks over-allocated pools
	PoolUtilization float64 `yaml:"pool_utilization" json:"pool_utilization" mapstructure:"pool_utilization"`
}

// PoolSize holds the sizing knobs of one record pool.
type PoolSize struct {
	InitialSize     int     `yaml:"initial_size" json:"initial_size" mapstructure:"initial_size"`
	MaxSize         int     `yaml:"max_size" json:"max_size" mapstructure:"max_size"`
	GrowthFactor    float64 `yaml:"growth_factor" json:"growth_factor" mapstructure:"growth_factor"`
	ShrinkThreshold float64 `yaml:"shrink_threshold" json:"shrink_threshold" mapstructure:"shrink_threshold"`
}

// PoolsConfig sizes the typed record pools. Point and dataset pools see
// the most churn and are the largest.
type PoolsConfig struct {
	DataPoints      PoolSize `yaml:"data_points" json:"data_points" mapstructure:"data_points"`
	Datasets        PoolSize `yaml:"datasets" json:"datasets" mapstructure:"datasets"`
	Groups          PoolSize `yaml:"groups" json:"groups" mapstructure:"groups"`
	RawFrames       PoolSize `yaml:"raw_frames" json:"raw_frames" mapstructure:"raw_frames"`
	ProcessedFrames PoolSize `yaml:"processed_frames" json:"processed_frames" mapstructure:"processed_frames"`
	Stats           PoolSize `yaml:"stats" json:"stats" mapstructure:"stats"`
	// BytesPerObject is the per-record estimate used by memory usage reports
	BytesPerObject int `yaml:"bytes_per_object" json:"bytes_per_object" mapstructure:"bytes_per_object"`
}

// MetricsConfig contains Prometheus export settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address   string `yaml:"address" json:"address" mapstructure:"address"`
	Namespace string `yaml:"namespace" json:"namespace" mapstructure:"namespace"`
}

// NewDefault returns a Config populated with production defaults.
func NewDefault() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Memory:  DefaultMemoryConfig(),
		Monitor: DefaultMonitorConfig(),
		Pools:   DefaultPoolsConfig(),
		Metrics: MetricsConfig{
			Enabled:   false,
			Address:   ":9090",
			Namespace: "framepool",
		},
	}
}

// DefaultMemoryConfig returns the memory manager defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		SampleInterval:    time.Second,
		WeakSweepInterval: 5 * time.Second,
		LowHitRate:        0.5,
		ExcessFreeRatio:   3,
		PressureThreshold: 0.8,
		GCCountThreshold:  10,
		SyntheticGCBatch:  1000,
	}
}

// DefaultMonitorConfig returns the leak monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:           false,
		SnapshotInterval:  5 * time.Second,
		LeakCheckInterval: 30 * time.Second,
		MaxHistory:        300,
		Thresholds: MonitorThresholds{
			MaxHeapUsagePercent:  85,
			MaxGrowthRateMB:      10,
			MaxConsecutiveGrowth: 5,
			PoolHitRate:          0.7,
			PoolUtilization:      0.8,
		},
	}
}

// DefaultPoolsConfig returns pool sizes tuned to observed allocation
// frequency of each record type.
func DefaultPoolsConfig() PoolsConfig {
	return PoolsConfig{
		DataPoints:      PoolSize{InitialSize: 200, MaxSize: 2000, GrowthFactor: 1.5, ShrinkThreshold: 0.3},
		Datasets:        PoolSize{InitialSize: 50, MaxSize: 500, GrowthFactor: 1.4, ShrinkThreshold: 0.4},
		Groups:          PoolSize{InitialSize: 20, MaxSize: 200, GrowthFactor: 1.3, ShrinkThreshold: 0.4},
		RawFrames:       PoolSize{InitialSize: 30, MaxSize: 300, GrowthFactor: 1.4, ShrinkThreshold: 0.3},
		ProcessedFrames: PoolSize{InitialSize: 10, MaxSize: 100, GrowthFactor: 1.2, ShrinkThreshold: 0.5},
		Stats:           PoolSize{InitialSize: 5, MaxSize: 50, GrowthFactor: 1.2, ShrinkThreshold: 0.5},
		BytesPerObject:  100,
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if err := c.Pools.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

// Validate checks the memory manager settings.
func (m *MemoryConfig) Validate() error {
	if m.SampleInterval <= 0 {
		return fmt.Errorf("memory.sample_interval must be positive")
	}
	if m.WeakSweepInterval <= 0 {
		return fmt.Errorf("memory.weak_sweep_interval must be positive")
	}
	if m.LowHitRate < 0 || m.LowHitRate > 1 {
		return fmt.Errorf("memory.low_hit_rate must be within [0,1]")
	}
	if m.ExcessFreeRatio <= 0 {
		return fmt.Errorf("memory.excess_free_ratio must be positive")
	}
	if m.PressureThreshold <= 0 || m.PressureThreshold > 1 {
		return fmt.Errorf("memory.pressure_threshold must be within (0,1]")
	}
	if m.SyntheticGCBatch < 0 {
		return fmt.Errorf("memory.synthetic_gc_batch cannot be negative")
	}
	return nil
}

// Validate checks the monitor settings.
func (m *MonitorConfig) Validate() error {
	if m.SnapshotInterval <= 0 {
		return fmt.Errorf("monitor.snapshot_interval must be positive")
	}
	if m.LeakCheckInterval <= 0 {
		return fmt.Errorf("monitor.leak_check_interval must be positive")
	}
	if m.MaxHistory < 2 {
		return fmt.Errorf("monitor.max_history must be at least 2")
	}
	return nil
}

// Validate checks a single pool size.
func (p PoolSize) Validate(name string) error {
	if p.MaxSize <= 0 {
		return fmt.Errorf("pools.%s.max_size must be positive", name)
	}
	if p.InitialSize < 0 {
		return fmt.Errorf("pools.%s.initial_size cannot be negative", name)
	}
	if p.InitialSize > p.MaxSize {
		return fmt.Errorf("pools.%s.initial_size cannot exceed max_size", name)
	}
	if p.ShrinkThreshold <= 0 || p.ShrinkThreshold > 1 {
		return fmt.Errorf("pools.%s.shrink_threshold must be within (0,1]", name)
	}
	return nil
}

// Validate checks every pool size.
func (p *PoolsConfig) Validate() error {
	sizes := []struct {
		name string
		size PoolSize
	}{
		{"data_points", p.DataPoints},
		{"datasets", p.Datasets},
		{"groups", p.Groups},
		{"raw_frames", p.RawFrames},
		{"processed_frames", p.ProcessedFrames},
		{"stats", p.Stats},
	}
	for _, s := range sizes {
		if err := s.size.Validate(s.name); err != nil {
			return err
		}
	}
	if p.BytesPerObject <= 0 {
		return fmt.Errorf("pools.bytes_per_object must be positive")
	}
	return nil
}
