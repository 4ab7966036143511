package counters

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bridges a Registry onto a prometheus scrape. Every counter is
// exported as one gauge named weft_<type> with label, session, and stream
// labels.
type Collector struct {
	registry *Registry
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps the registry for scraping.
func NewCollector(r *Registry) *Collector {
	return &Collector{registry: r}
}

// Describe implements prometheus.Collector. Descriptors are dynamic, so
// the collector is unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.registry.ForEach(func(cnt *Counter) {
		desc := prometheus.NewDesc(
			"weft_"+strings.ReplaceAll(cnt.Type(), "-", "_"),
			"weft transport counter "+cnt.Type(),
			[]string{"label", "session", "stream"},
			nil,
		)
		ch <- prometheus.MustNewConstMetric(
			desc,
			prometheus.GaugeValue,
			float64(cnt.Get()),
			cnt.Label(),
			strconv.Itoa(int(cnt.SessionID())),
			strconv.Itoa(int(cnt.StreamID())),
		)
	})
}
