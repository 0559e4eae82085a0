// Package producer drives the object pools with a synthetic sensor stream.
//
// A run streams raw frames with pooled payloads from a generator through
// decode workers that build processed frames (groups of datasets plus plot
// points) and into a sink that releases the whole hierarchy. Frames the
// pools cannot serve are dropped and counted, never blocked on. Every pooled
// payload is observed by the memory manager's weak reference manager until
// its frame is released, and a run ends by sweeping the retired payloads.
//
//	p := producer.New(pools, producer.DefaultConfig(), logger, recorder)
//	result, err := p.Run(ctx)
package producer

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/framepool/pkg/logger"
	"github.com/ajitpratap0/framepool/pkg/metrics"
	"github.com/ajitpratap0/framepool/pkg/models"
	"github.com/ajitpratap0/framepool/pkg/objectpool"
	"github.com/ajitpratap0/framepool/pkg/pool"
)

// Config shapes the synthetic stream.
type Config struct {
	Frames           int           // Frames to produce, 0 runs until the context ends
	Rate             float64       // Frames per second, 0 produces as fast as possible
	Workers          int           // Parallel decode workers
	Groups           int           // Groups per frame
	DatasetsPerGroup int           // Datasets per group
	PayloadSize      int           // Raw payload bytes, at least 8 per dataset
	Buffer           int           // Channel depth between stages
	ReportInterval   time.Duration // Throughput gauge refresh
}

// DefaultConfig returns a stream of 1000 frames of 4x8 datasets.
func DefaultConfig() Config {
	return Config{
		Frames:           1000,
		Workers:          4,
		Groups:           4,
		DatasetsPerGroup: 8,
		PayloadSize:      256,
		Buffer:           8,
		ReportInterval:   time.Second,
	}
}

// Validate checks the stream shape.
func (c Config) Validate() error {
	if c.Frames < 0 {
		return fmt.Errorf("frames cannot be negative")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Groups < 1 || c.DatasetsPerGroup < 1 {
		return fmt.Errorf("groups and datasets_per_group must be at least 1")
	}
	if c.PayloadSize < 8*c.Groups*c.DatasetsPerGroup {
		return fmt.Errorf("payload_size must hold 8 bytes per dataset")
	}
	return nil
}

// Result summarizes a run.
type Result struct {
	Produced   int64         `json:"produced"`
	Processed  int64         `json:"processed"`
	Dropped    int64         `json:"dropped"`
	BadFrames  int64         `json:"bad_frames"`
	Retired    int64         `json:"payloads_retired"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput_fps"`
	LatencyP50 time.Duration `json:"latency_p50"`
	LatencyP99 time.Duration `json:"latency_p99"`
}

// envelope carries a raw frame with the checksum computed at generation.
// held is cleared once the frame and its payload are back in their pools.
type envelope struct {
	raw      *models.RawFrame
	held     *atomic.Bool
	checksum uint32
	started  time.Time
}

// decoded carries a processed frame and the plot points derived from it.
type decoded struct {
	frame   *models.ProcessedFrame
	points  []*models.DataPoint
	started time.Time
}

// Producer runs synthetic frames through the pools.
type Producer struct {
	pools    *objectpool.Manager
	cfg      Config
	logger   *zap.Logger
	recorder *metrics.Recorder

	latency    *metrics.LatencyTracker
	throughput *metrics.ThroughputTracker

	produced  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	bad       atomic.Int64
	retired   atomic.Int64
	bytesIn   atomic.Uint64

	mu      sync.Mutex
	started time.Time
}

// New creates a producer. The recorder may be nil.
func New(pools *objectpool.Manager, cfg Config, l *zap.Logger, recorder *metrics.Recorder) *Producer {
	return &Producer{
		pools:      pools,
		cfg:        cfg,
		logger:     logger.OrNamed(l, "producer"),
		recorder:   recorder,
		latency:    metrics.NewLatencyTracker(4096),
		throughput: metrics.NewThroughputTracker(recorder.ThroughputGauge()),
	}
}

// Run streams frames until the configured count is reached or ctx ends.
// Context cancellation ends the run without error.
func (p *Producer) Run(ctx context.Context) (Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	p.started = time.Now()
	p.mu.Unlock()

	p.logger.Info("starting producer",
		zap.Int("frames", p.cfg.Frames),
		zap.Float64("rate", p.cfg.Rate),
		zap.Int("workers", p.cfg.Workers))

	raw := make(chan envelope, p.cfg.Buffer)
	out := make(chan decoded, p.cfg.Buffer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(raw)
		return p.generate(gctx, raw)
	})

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return p.decodeWorker(gctx, i, raw, out)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(out)
		return nil
	})

	sinkDone := make(chan struct{})
	g.Go(func() error {
		defer close(sinkDone)
		return p.sink(out)
	})

	g.Go(func() error {
		p.report(sinkDone)
		return nil
	})

	err := g.Wait()
	p.pools.Memory().WeakRefs().Sweep()
	result := p.Result()
	if err != nil && ctx.Err() == nil {
		return result, err
	}

	p.logger.Info("producer completed",
		zap.Int64("produced", result.Produced),
		zap.Int64("processed", result.Processed),
		zap.Int64("dropped", result.Dropped),
		zap.Int64("payloads_retired", result.Retired),
		zap.Duration("duration", result.Duration),
		zap.Float64("throughput_fps", result.Throughput))
	return result, nil
}

// generate emits raw frames with deterministic payloads.
func (p *Producer) generate(ctx context.Context, out chan<- envelope) error {
	var tick <-chan time.Time
	if p.cfg.Rate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / p.cfg.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for seq := uint64(0); p.cfg.Frames == 0 || seq < uint64(p.cfg.Frames); seq++ {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}

		frame, err := p.pools.AcquireRawFrameBuffer(p.cfg.PayloadSize)
		if err != nil {
			if pool.IsExhausted(err) {
				p.drop()
				continue
			}
			return err
		}
		frame.Sequence = seq
		frame.Timestamp = time.Now()
		fillPayload(frame.Data, seq)
		p.produced.Add(1)
		p.bytesIn.Add(uint64(len(frame.Data)))

		env := envelope{
			raw:      frame,
			held:     p.trackPayload(),
			checksum: crc32.ChecksumIEEE(frame.Data),
			started:  frame.Timestamp,
		}
		select {
		case out <- env:
		case <-ctx.Done():
			p.releaseRaw(env)
			return nil
		}
	}
	return nil
}

// trackPayload observes a pooled payload until releaseRaw clears the
// returned flag. The cleanup counts the payload as retired.
func (p *Producer) trackPayload() *atomic.Bool {
	held := new(atomic.Bool)
	held.Store(true)
	p.pools.Memory().WeakRefs().Observe(held.Load, func() error {
		p.retired.Add(1)
		return nil
	})
	return held
}

func (p *Producer) releaseRaw(env envelope) {
	p.pools.ReleaseRawFrame(env.raw)
	env.held.Store(false)
}

func fillPayload(buf []byte, seq uint64) {
	for i := 0; i+8 <= len(buf); i += 8 {
		v := math.Sin(float64(seq)/10 + float64(i))
		binary.LittleEndian.PutUint64(buf[i:], math.Float64bits(v))
	}
}

// decodeWorker turns raw frames into processed frames.
func (p *Producer) decodeWorker(ctx context.Context, id int, in <-chan envelope, out chan<- decoded) error {
	log := p.logger.With(zap.Int("worker", id))
	log.Debug("decode worker started")

	for env := range in {
		d, ok := p.decode(env)
		p.releaseRaw(env)
		if !ok {
			continue
		}

		select {
		case out <- d:
		case <-ctx.Done():
			p.releaseDecoded(d)
			// keep draining so the generator's frames are returned
		}
	}

	log.Debug("decode worker finished")
	return nil
}

func (p *Producer) decode(env envelope) (decoded, bool) {
	raw := env.raw
	raw.SetChecksum(crc32.ChecksumIEEE(raw.Data) == env.checksum)
	if !*raw.ChecksumValid {
		p.bad.Add(1)
		p.recorder.FrameDone("bad")
		return decoded{}, false
	}

	frame, err := p.pools.AcquireProcessedFrame()
	if err != nil {
		p.drop()
		return decoded{}, false
	}
	frame.Sequence = raw.Sequence
	frame.Timestamp = raw.Timestamp
	frame.FrameID = fmt.Sprintf("frame-%d", raw.Sequence)

	out := decoded{frame: frame, started: env.started}
	offset := 0
	for gi := 0; gi < p.cfg.Groups; gi++ {
		group, err := p.pools.AcquireGroup()
		if err != nil {
			p.releaseDecoded(out)
			p.drop()
			return decoded{}, false
		}
		group.ID = fmt.Sprintf("group-%d", gi)
		group.Title = group.ID
		frame.Groups = append(frame.Groups, group)

		for di := 0; di < p.cfg.DatasetsPerGroup; di++ {
			dataset, err := p.pools.AcquireDataset()
			if err != nil {
				p.releaseDecoded(out)
				p.drop()
				return decoded{}, false
			}
			value := math.Float64frombits(binary.LittleEndian.Uint64(raw.Data[offset:]))
			offset += 8

			dataset.ID = fmt.Sprintf("%s/dataset-%d", group.ID, di)
			dataset.Value = value
			dataset.Graph = di == 0
			dataset.SetBounds(-1, 1)
			group.Datasets = append(group.Datasets, dataset)

			if !dataset.Graph {
				continue
			}
			point, err := p.pools.AcquireDataPoint()
			if err != nil {
				p.releaseDecoded(out)
				p.drop()
				return decoded{}, false
			}
			point.X = float64(raw.Sequence)
			point.Y = value
			point.Timestamp = raw.Timestamp
			out.points = append(out.points, point)
		}
	}
	return out, true
}

func (p *Producer) releaseDecoded(d decoded) {
	p.pools.ReleaseDataPoints(d.points)
	p.pools.ReleaseProcessedFrame(d.frame)
}

// sink consumes processed frames and releases their hierarchy.
func (p *Producer) sink(in <-chan decoded) error {
	for d := range in {
		latency := time.Since(d.started)
		p.releaseDecoded(d)

		p.processed.Add(1)
		p.throughput.Increment(1)
		p.latency.Record(latency)
		p.recorder.FrameDone("ok")
		p.recorder.ObserveFrame(latency)
	}
	return nil
}

func (p *Producer) drop() {
	p.dropped.Add(1)
	p.recorder.FrameDone("dropped")
}

func (p *Producer) report(done <-chan struct{}) {
	if p.cfg.ReportInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fps := p.throughput.GetAndReset()
			swept := p.pools.Memory().WeakRefs().Sweep()
			p.logger.Debug("throughput",
				zap.Float64("frames_per_second", fps),
				zap.Int("payloads_swept", swept))
		case <-done:
			return
		}
	}
}

// Result returns the counters so far.
func (p *Producer) Result() Result {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	r := Result{
		Produced:   p.produced.Load(),
		Processed:  p.processed.Load(),
		Dropped:    p.dropped.Load(),
		BadFrames:  p.bad.Load(),
		Retired:    p.retired.Load(),
		LatencyP50: p.latency.GetPercentile(50),
		LatencyP99: p.latency.GetPercentile(99),
	}
	if !started.IsZero() {
		r.Duration = time.Since(started)
		if secs := r.Duration.Seconds(); secs > 0 {
			r.Throughput = float64(r.Processed) / secs
		}
	}
	return r
}

// Stats fills pooled stats records from the counters and returns copies.
func (p *Producer) Stats() (models.CommunicationStats, models.PerformanceMetrics, error) {
	result := p.Result()

	comm, err := p.pools.AcquireCommunicationStats()
	if err != nil {
		return models.CommunicationStats{}, models.PerformanceMetrics{}, err
	}
	defer p.pools.ReleaseCommunicationStats(comm)

	perf, err := p.pools.AcquirePerformanceMetrics()
	if err != nil {
		return models.CommunicationStats{}, models.PerformanceMetrics{}, err
	}
	defer p.pools.ReleasePerformanceMetrics(perf)

	heap := p.pools.Memory().GetMemoryStats()

	comm.BytesReceived = p.bytesIn.Load()
	comm.FramesReceived = uint64(result.Produced)
	comm.FramesProcessed = uint64(result.Processed)
	comm.Errors = uint64(result.BadFrames)
	comm.Uptime = result.Duration
	comm.MemoryUsage = heap.TotalUsed

	perf.UpdateFrequency = result.Throughput
	perf.ProcessingLatency = float64(result.LatencyP50) / float64(time.Millisecond)
	perf.MemoryUsage = heap.TotalUsed
	perf.DroppedFrames = uint64(result.Dropped)

	return *comm, *perf, nil
}
