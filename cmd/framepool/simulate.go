package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/framepool/internal/producer"
	"github.com/ajitpratap0/framepool/pkg/config"
	"github.com/ajitpratap0/framepool/pkg/logger"
	"github.com/ajitpratap0/framepool/pkg/memory"
	"github.com/ajitpratap0/framepool/pkg/metrics"
	"github.com/ajitpratap0/framepool/pkg/models"
	"github.com/ajitpratap0/framepool/pkg/objectpool"
	"github.com/ajitpratap0/framepool/pkg/pool"
	"github.com/ajitpratap0/framepool/pkg/weakref"
)

type simulateFlags struct {
	configFile string
	duration   time.Duration
	report     string
	metrics    bool
	monitor    bool
	run        producer.Config
}

// Report is the JSON document written after a simulation.
type Report struct {
	Result        producer.Result           `json:"result"`
	Communication models.CommunicationStats `json:"communication"`
	Performance   models.PerformanceMetrics `json:"performance"`
	MemoryUsage   objectpool.MemoryUsage    `json:"memory_usage"`
	Memory        memory.MemoryStats        `json:"memory"`
	Leaks         memory.LeakReport         `json:"leaks"`
	Buffers       map[string]pool.Stats     `json:"buffers"`
	WeakRefs      weakref.Stats             `json:"weak_refs"`
	Monitor       *memory.CurrentStats      `json:"monitor,omitempty"`
}

func newSimulateCommand() *cobra.Command {
	flags := simulateFlags{run: producer.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the pools with a synthetic frame stream",
		Long: `Drive the pools with a synthetic frame stream and print a JSON report.

Example:
  framepool simulate --frames 10000 --rate 60 --metrics --monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML configuration file (optional)")
	f.DurationVar(&flags.duration, "duration", 0, "Stop after this long (0 runs until the frames are produced)")
	f.StringVar(&flags.report, "report", "-", "Where to write the JSON report (- for stdout)")
	f.BoolVar(&flags.metrics, "metrics", false, "Serve Prometheus metrics while simulating")
	f.BoolVar(&flags.monitor, "monitor", false, "Run the memory monitor while simulating")
	f.IntVar(&flags.run.Frames, "frames", flags.run.Frames, "Frames to produce (0 runs until interrupted)")
	f.Float64Var(&flags.run.Rate, "rate", flags.run.Rate, "Frames per second (0 produces as fast as possible)")
	f.IntVar(&flags.run.Workers, "workers", flags.run.Workers, "Parallel decode workers")
	f.IntVar(&flags.run.Groups, "groups", flags.run.Groups, "Groups per frame")
	f.IntVar(&flags.run.DatasetsPerGroup, "datasets", flags.run.DatasetsPerGroup, "Datasets per group")
	f.IntVar(&flags.run.PayloadSize, "payload", flags.run.PayloadSize, "Raw payload bytes per frame")

	return cmd
}

func runSimulation(parent context.Context, flags simulateFlags) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return err
	}
	if flags.metrics {
		cfg.Metrics.Enabled = true
	}
	if flags.monitor {
		cfg.Monitor.Enabled = true
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("simulate")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg, cfg.Metrics.Namespace)

	mem := memory.New(cfg.Memory,
		memory.WithLogger(logger.Named("memory")),
		memory.WithRecorder(recorder))
	defer mem.Dispose()

	reg.MustRegister(
		metrics.NewPoolCollector(cfg.Metrics.Namespace, mem),
		collectors.NewGoCollector(),
	)

	pools := objectpool.New(mem, cfg.Pools, objectpool.WithLogger(logger.Named("objectpool")))
	if err := pools.Initialize(); err != nil {
		return err
	}
	defer pools.Destroy()

	var mon *memory.Monitor
	if cfg.Monitor.Enabled {
		mon = memory.NewMonitor(mem, cfg.Monitor, memory.WithMonitorLogger(logger.Named("monitor")))
		mon.OnRelief(pools.OptimizePools)
		mon.OnLeak(func(a memory.LeakAnalysis) {
			log.Warn("leak suspected", zap.Strings("critical_issues", a.CriticalIssues))
		})
		mon.Start()
		defer mon.Stop()
	}

	ctx = context.WithValue(ctx, logger.RunIDKey, fmt.Sprintf("sim-%d", time.Now().UnixNano()))
	ctx = context.WithValue(ctx, logger.ComponentKey, "producer")
	p := producer.New(pools, flags.run, logger.WithContext(ctx), recorder)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	var result producer.Result
	g.Go(func() error {
		defer finish()
		var err error
		result, err = p.Run(runCtx)
		return err
	})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	report, err := buildReport(p, pools, mem, mon, result)
	if err != nil {
		return err
	}
	return writeReport(flags.report, report)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func buildReport(p *producer.Producer, pools *objectpool.Manager, mem *memory.Manager, mon *memory.Monitor, result producer.Result) (*Report, error) {
	comm, perf, err := p.Stats()
	if err != nil {
		return nil, err
	}

	report := &Report{
		Result:        result,
		Communication: comm,
		Performance:   perf,
		MemoryUsage:   pools.GetMemoryUsage(),
		Leaks:         pools.Optimize(),
		Memory:        mem.GetMemoryStats(),
		Buffers:       make(map[string]pool.Stats),
		WeakRefs:      mem.WeakRefs().Stats(),
	}
	for size, s := range mem.BufferPool().GetAllStats() {
		report.Buffers[pool.ClassName(size)] = s
	}
	if mon != nil {
		stats := mon.CurrentStats()
		report.Monitor = &stats
	}
	return report, nil
}

func writeReport(path string, report *Report) error {
	var w io.Writer = os.Stdout
	if path != "-" && path != "" {
		f, err := os.Create(path) //nolint:gosec // path is supplied by the operator
		if err != nil {
			return fmt.Errorf("failed to create report %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}

	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
