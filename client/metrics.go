package client

import "github.com/prometheus/client_golang/prometheus"

// PoolStatsCollector exposes pool counters as Prometheus metrics. Register
// it with any prometheus.Registerer:
//
//	prometheus.MustRegister(client.NewPoolStatsCollector(pool, "primary"))
type PoolStatsCollector struct {
	pool *Pool

	totalConns   *prometheus.Desc
	idleConns    *prometheus.Desc
	inUseConns   *prometheus.Desc
	waiting      *prometheus.Desc
	acquireTotal *prometheus.Desc
	waitedTotal  *prometheus.Desc
	brokenTotal  *prometheus.Desc
	openedTotal  *prometheus.Desc
}

// NewPoolStatsCollector creates a collector for one pool. The poolName label
// distinguishes multiple pools in one process.
func NewPoolStatsCollector(pool *Pool, poolName string) *PoolStatsCollector {
	labels := prometheus.Labels{"pool": poolName}
	return &PoolStatsCollector{
		pool: pool,
		totalConns: prometheus.NewDesc(
			"kestrel_pool_connections_total",
			"Open connections, idle plus in use.",
			nil, labels),
		idleConns: prometheus.NewDesc(
			"kestrel_pool_connections_idle",
			"Connections sitting idle in the pool.",
			nil, labels),
		inUseConns: prometheus.NewDesc(
			"kestrel_pool_connections_in_use",
			"Connections currently held by callers.",
			nil, labels),
		waiting: prometheus.NewDesc(
			"kestrel_pool_acquire_waiting",
			"Callers currently suspended waiting for a connection.",
			nil, labels),
		acquireTotal: prometheus.NewDesc(
			"kestrel_pool_acquires_total",
			"Total acquisition attempts.",
			nil, labels),
		waitedTotal: prometheus.NewDesc(
			"kestrel_pool_acquire_waits_total",
			"Acquisitions that had to wait for a free connection.",
			nil, labels),
		brokenTotal: prometheus.NewDesc(
			"kestrel_pool_connections_dropped_total",
			"Broken connections dropped instead of recycled.",
			nil, labels),
		openedTotal: prometheus.NewDesc(
			"kestrel_pool_connections_opened_total",
			"Connections dialed over the pool's lifetime.",
			nil, labels),
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.inUseConns
	ch <- c.waiting
	ch <- c.acquireTotal
	ch <- c.waitedTotal
	ch <- c.brokenTotal
	ch <- c.openedTotal
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.inUseConns, prometheus.GaugeValue, float64(s.InUseConns))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.WaitingCount))
	ch <- prometheus.MustNewConstMetric(c.acquireTotal, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.waitedTotal, prometheus.CounterValue, float64(s.WaitedCount))
	ch <- prometheus.MustNewConstMetric(c.brokenTotal, prometheus.CounterValue, float64(s.BrokenDropped))
	ch <- prometheus.MustNewConstMetric(c.openedTotal, prometheus.CounterValue, float64(s.OpenedCount))
}
