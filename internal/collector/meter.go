package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsis"

var channelLabels = []string{"frequency", "modulation"}

// MeterCollector exposes the scheduler's last completed cycle and its
// counters to Prometheus.
type MeterCollector struct {
	scheduler *Scheduler
	logger    *slog.Logger

	// Counters
	cyclesTotal          *prometheus.Desc
	overrunsTotal        *prometheus.Desc
	lockFailuresTotal    *prometheus.Desc
	acquireFailuresTotal *prometheus.Desc
	sampleFailuresTotal  *prometheus.Desc
	sinkFailuresTotal    *prometheus.Desc

	// Gauges - last cycle
	utilizationPercent *prometheus.Desc
	bitrateBps         *prometheus.Desc
	capacityBps        *prometheus.Desc
	locked             *prometheus.Desc
	totalUtilization   *prometheus.Desc
	totalBitrateBps    *prometheus.Desc
	cycleDuration      *prometheus.Desc
	lastCycle          *prometheus.Desc
}

// NewMeterCollector creates a collector reading from s.
func NewMeterCollector(s *Scheduler, logger *slog.Logger) *MeterCollector {
	return &MeterCollector{
		scheduler: s,
		logger:    logger,

		cyclesTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cycles_total"),
			"Completed measurement cycles",
			nil, nil,
		),
		overrunsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cycle_overruns_total"),
			"Cycles that took longer than the configured interval",
			nil, nil,
		),
		lockFailuresTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "lock_failures_total"),
			"Targets skipped because the frontend did not lock",
			nil, nil,
		),
		acquireFailuresTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "acquire_failures_total"),
			"Targets skipped because the tuner could not be acquired",
			nil, nil,
		),
		sampleFailuresTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sample_failures_total"),
			"Targets skipped because tuning or sampling failed",
			nil, nil,
		),
		sinkFailuresTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sink_failures_total"),
			"Metric points that could not be delivered to the sink",
			nil, nil,
		),

		utilizationPercent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "utilization_percent"),
			"Measured rate relative to channel capacity in the last cycle",
			channelLabels, nil,
		),
		bitrateBps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "bitrate_bps"),
			"Measured downstream rate in bits per second in the last cycle",
			channelLabels, nil,
		),
		capacityBps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "capacity_bps"),
			"Theoretical net channel capacity in bits per second",
			channelLabels, nil,
		),
		locked: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "locked"),
			"Whether the channel was sampled in the last cycle (1 = yes, 0 = no)",
			append(channelLabels, "status"), nil,
		),
		totalUtilization: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "total", "utilization_percent"),
			"Aggregate utilization over the channels sampled in the last cycle",
			nil, nil,
		),
		totalBitrateBps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "total", "bitrate_bps"),
			"Aggregate rate over the channels sampled in the last cycle",
			nil, nil,
		),
		cycleDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_cycle_duration_seconds"),
			"Duration of the last completed cycle",
			nil, nil,
		),
		lastCycle: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_cycle_timestamp_seconds"),
			"Unix time the last cycle completed",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *MeterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cyclesTotal
	ch <- c.overrunsTotal
	ch <- c.lockFailuresTotal
	ch <- c.acquireFailuresTotal
	ch <- c.sampleFailuresTotal
	ch <- c.sinkFailuresTotal
	ch <- c.utilizationPercent
	ch <- c.bitrateBps
	ch <- c.capacityBps
	ch <- c.locked
	ch <- c.totalUtilization
	ch <- c.totalBitrateBps
	ch <- c.cycleDuration
	ch <- c.lastCycle
}

// Collect implements prometheus.Collector
func (c *MeterCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.scheduler.Stats()
	results, aggregate := c.scheduler.LastResults()

	ch <- prometheus.MustNewConstMetric(c.cyclesTotal, prometheus.CounterValue, float64(stats.Cycles))
	ch <- prometheus.MustNewConstMetric(c.overrunsTotal, prometheus.CounterValue, float64(stats.Overruns))
	ch <- prometheus.MustNewConstMetric(c.lockFailuresTotal, prometheus.CounterValue, float64(stats.LockFailures))
	ch <- prometheus.MustNewConstMetric(c.acquireFailuresTotal, prometheus.CounterValue, float64(stats.AcquireFailures))
	ch <- prometheus.MustNewConstMetric(c.sampleFailuresTotal, prometheus.CounterValue, float64(stats.SampleFailures))
	ch <- prometheus.MustNewConstMetric(c.sinkFailuresTotal, prometheus.CounterValue, float64(stats.SinkFailures))

	// Nothing measured yet
	if stats.Cycles == 0 {
		c.logger.Debug("Prometheus scrape before first cycle")
		return
	}

	for _, r := range results {
		labels := []string{r.Target.Label, r.Target.Modulation.String()}

		lockedValue := 0.0
		if r.OK() {
			lockedValue = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.locked, prometheus.GaugeValue, lockedValue, append(labels, r.Status.String())...)
		ch <- prometheus.MustNewConstMetric(c.capacityBps, prometheus.GaugeValue, r.CapacityBitsPerSecond, labels...)

		// Failed channels have no reading
		if !r.OK() {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.utilizationPercent, prometheus.GaugeValue, r.UtilizationPct, labels...)
		ch <- prometheus.MustNewConstMetric(c.bitrateBps, prometheus.GaugeValue, r.BitsPerSecond, labels...)
	}

	if aggregate.OK() {
		ch <- prometheus.MustNewConstMetric(c.totalUtilization, prometheus.GaugeValue, aggregate.UtilizationPct)
		ch <- prometheus.MustNewConstMetric(c.totalBitrateBps, prometheus.GaugeValue, aggregate.BitsPerSecond)
	}

	ch <- prometheus.MustNewConstMetric(c.cycleDuration, prometheus.GaugeValue, stats.LastCycleDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.lastCycle, prometheus.GaugeValue, float64(stats.LastCycle.Unix()))

	c.logger.Debug("Prometheus scrape completed", "cycles", stats.Cycles, "channels", len(results))
}
