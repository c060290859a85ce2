package facility

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports registry capacity and per-day consumption.
type Collector struct {
	registry  *Registry
	capacity  *prometheus.Desc
	allocated *prometheus.Desc
}

func NewCollector(registry *Registry) *Collector {
	return &Collector{
		registry: registry,
		capacity: prometheus.NewDesc("allocator_facility_capacity",
			"Per-day capacity of a facility resource.",
			[]string{"facility", "resource"}, nil),
		allocated: prometheus.NewDesc("allocator_facility_allocated",
			"Units of a facility resource reserved for a day.",
			[]string{"facility", "resource", "day"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.allocated
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, f := range c.registry.Facilities() {
		for _, k := range Kinds() {
			ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue,
				float64(f.Capacity[k]), f.ID, k.Key())
		}
	}
	for _, u := range c.registry.Snapshot() {
		day := strconv.Itoa(u.Day)
		for _, k := range Kinds() {
			ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue,
				float64(u.Allocated[k]), u.FacilityID, k.Key(), day)
		}
	}
}
