// Package config provides the unified configuration for framepool.
//
// A single Config structure drives the memory manager, the leak monitor,
// the typed record pools, logging and metrics export.
//
// # Sections
//
//   - Logging: zap logger settings
//   - Memory: sampling cadence and leak/pressure heuristics
//   - Monitor: snapshot history and leak analysis thresholds
//   - Pools: per-record-type pool sizing
//   - Metrics: Prometheus export
//
// # Usage
//
// ## Defaults
//
//	cfg := config.NewDefault()
//	cfg.Pools.DataPoints.MaxSize = 5000
//
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// ## Loading From YAML
//
//	cfg, err := config.Load("framepool.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Keys missing from the file keep their defaults. Any key can be overridden
// from the environment using the FRAMEPOOL_ prefix with dots replaced by
// underscores:
//
//	FRAMEPOOL_MEMORY_PRESSURE_THRESHOLD=0.9
//	FRAMEPOOL_POOLS_DATA_POINTS_MAX_SIZE=5000
//
// # Configuration Structure
//
//	logging:
//	  level: info
//	  encoding: json
//	memory:
//	  sample_interval: 1s
//	  weak_sweep_interval: 5s
//	  low_hit_rate: 0.5
//	  excess_free_ratio: 3
//	  pressure_threshold: 0.8
//	  gc_count_threshold: 10
//	monitor:
//	  enabled: false
//	  snapshot_interval: 5s
//	  leak_check_interval: 30s
//	  max_history: 300
//	pools:
//	  data_points: {initial_size: 200, max_size: 2000, growth_factor: 1.5, shrink_threshold: 0.3}
//	  bytes_per_object: 100
//	metrics:
//	  enabled: false
//	  address: ":9090"
package config
