package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineStats provides the collector access to live engine state.
type EngineStats interface {
	TankCount() int
	DeviceCount() int
	HistoryRingCount() int
	BusPending() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats EngineStats

	tanks       *prometheus.Desc
	devices     *prometheus.Desc
	historyRings *prometheus.Desc
	busPending  *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
func NewCollector(stats EngineStats) *Collector {
	return &Collector{
		stats: stats,
		tanks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tank_records"),
			"Current number of live tank records.", nil, nil),
		devices: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "device_meta_entries"),
			"Current number of device metadata entries.", nil, nil),
		historyRings: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "history_rings"),
			"Number of hot-tier history rings.", nil, nil),
		busPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bus_pending_notes"),
			"Inbound notes buffered but not yet drained.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tanks
	ch <- c.devices
	ch <- c.historyRings
	ch <- c.busPending
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.tanks, prometheus.GaugeValue, float64(c.stats.TankCount()))
	ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(c.stats.DeviceCount()))
	ch <- prometheus.MustNewConstMetric(c.historyRings, prometheus.GaugeValue, float64(c.stats.HistoryRingCount()))
	ch <- prometheus.MustNewConstMetric(c.busPending, prometheus.GaugeValue, float64(c.stats.BusPending()))
}
