package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexhsamuel/procstar/internal/procs"
)

// registryCollector exposes live proc counts without needing a separate
// hook wired through the Launcher/Reaper: it walks the Registry on every
// scrape.
type registryCollector struct {
	registry *procs.Registry

	total   *prometheus.Desc
	running *prometheus.Desc
}

func newMetricsRegistry(registry *procs.Registry) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&registryCollector{
		registry: registry,
		total:    prometheus.NewDesc("procstar_procs_total", "Number of procs currently tracked.", nil, nil),
		running:  prometheus.NewDesc("procstar_procs_running", "Number of tracked procs still running.", nil, nil),
	})
	return reg
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.running
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	ids := c.registry.Ids()
	running := 0
	for _, id := range ids {
		if rec, ok := c.registry.Get(id); ok && rec.State() == procs.StateRunning {
			running++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(len(ids)))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(running))
}
