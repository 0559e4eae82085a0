package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ajitpratap0/framepool/pkg/pool"
	"github.com/ajitpratap0/framepool/pkg/telemetry"
)

// Source supplies the statistics a PoolCollector exports. The memory
// manager implements it.
type Source interface {
	PoolStats() map[string]pool.Stats
	HeapSample() telemetry.HeapSample
}

// PoolCollector is a prometheus.Collector reading live statistics from a
// Source at scrape time.
type PoolCollector struct {
	source Source

	size      *prometheus.Desc
	used      *prometheus.Desc
	free      *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	hitRate   *prometheus.Desc
	destroyed *prometheus.Desc
	heapUsed  *prometheus.Desc
	heapTotal *prometheus.Desc
	heapLimit *prometheus.Desc
	pressure  *prometheus.Desc
}

// NewPoolCollector creates a collector for source.
func NewPoolCollector(namespace string, source Source) *PoolCollector {
	poolDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	heapDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "heap", name), help, nil, nil)
	}

	return &PoolCollector{
		source:    source,
		size:      poolDesc("size", "Records managed by the pool (used + free)"),
		used:      poolDesc("used", "Records currently checked out"),
		free:      poolDesc("free", "Records available for reuse"),
		hits:      poolDesc("hits_total", "Acquires served from the free set"),
		misses:    poolDesc("misses_total", "Acquires served by construction"),
		hitRate:   poolDesc("hit_rate", "Ratio of hits to acquires"),
		destroyed: poolDesc("destroyed_total", "Records discarded by shrinking"),
		heapUsed:  heapDesc("used_bytes", "Heap bytes in use"),
		heapTotal: heapDesc("total_bytes", "Heap bytes obtained from the OS"),
		heapLimit: heapDesc("limit_bytes", "Heap limit used for pressure"),
		pressure:  heapDesc("pressure_ratio", "Heap used divided by limit"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.size, c.used, c.free, c.hits, c.misses, c.hitRate, c.destroyed,
		c.heapUsed, c.heapTotal, c.heapLimit, c.pressure,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.PoolStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := stats[name]
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), name)
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.Used), name)
		ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(s.Free), name)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, s.HitRate, name)
		ch <- prometheus.MustNewConstMetric(c.destroyed, prometheus.CounterValue, float64(s.Destroyed), name)
	}

	heap := c.source.HeapSample()
	ch <- prometheus.MustNewConstMetric(c.heapUsed, prometheus.GaugeValue, float64(heap.Used))
	ch <- prometheus.MustNewConstMetric(c.heapTotal, prometheus.GaugeValue, float64(heap.Total))
	ch <- prometheus.MustNewConstMetric(c.heapLimit, prometheus.GaugeValue, float64(heap.Limit))
	ch <- prometheus.MustNewConstMetric(c.pressure, prometheus.GaugeValue, heap.Pressure())
}
