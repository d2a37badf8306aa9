// Package telemetry exports engine and stockpile state as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/talgya/progression/internal/driver"
	"github.com/talgya/progression/internal/economy"
	"github.com/talgya/progression/internal/engine"
)

const namespace = "progsim"

// Collector reads hosts and the stockpile at scrape time. Each host is
// locked only for the duration of its own read.
type Collector struct {
	hosts []*driver.Host
	stock *economy.Stockpile

	entities      *prometheus.Desc
	byStatus      *prometheus.Desc
	paused        *prometheus.Desc
	tick          *prometheus.Desc
	events        *prometheus.Desc
	processed     *prometheus.Desc
	skipped       *prometheus.Desc
	newlyTerminal *prometheus.Desc
	duration      *prometheus.Desc
	delta         *prometheus.Desc
	goods         *prometheus.Desc
	shortfall     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector. stock may be nil.
func NewCollector(stock *economy.Stockpile, hosts ...*driver.Host) *Collector {
	engineLabel := []string{"engine"}
	return &Collector{
		hosts:         hosts,
		stock:         stock,
		entities:      prometheus.NewDesc(namespace+"_entities", "Live entities per engine.", engineLabel, nil),
		byStatus:      prometheus.NewDesc(namespace+"_entities_by_status", "Live entities per status band.", []string{"engine", "band"}, nil),
		paused:        prometheus.NewDesc(namespace+"_entities_paused", "Paused entities per engine.", engineLabel, nil),
		tick:          prometheus.NewDesc(namespace+"_tick", "Ticks run by the engine.", engineLabel, nil),
		events:        prometheus.NewDesc(namespace+"_events_total", "Events committed by the engine.", engineLabel, nil),
		processed:     prometheus.NewDesc(namespace+"_last_tick_processed", "Entities committed in the last tick.", engineLabel, nil),
		skipped:       prometheus.NewDesc(namespace+"_last_tick_skipped", "Entities skipped in the last tick by reason.", []string{"engine", "reason"}, nil),
		newlyTerminal: prometheus.NewDesc(namespace+"_last_tick_newly_terminal", "Entities that became terminal in the last tick.", engineLabel, nil),
		duration:      prometheus.NewDesc(namespace+"_last_tick_duration_seconds", "Wall time of the last tick.", engineLabel, nil),
		delta:         prometheus.NewDesc(namespace+"_last_tick_total_delta", "Sum of committed deltas in the last tick.", engineLabel, nil),
		goods:         prometheus.NewDesc(namespace+"_stockpile_quantity", "Goods on hand.", []string{"good"}, nil),
		shortfall:     prometheus.NewDesc(namespace+"_stockpile_shortfall_total", "Demand that could not be covered.", []string{"good"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.entities, c.byStatus, c.paused, c.tick, c.events, c.processed,
		c.skipped, c.newlyTerminal, c.duration, c.delta, c.goods, c.shortfall,
	} {
		ch <- d
	}
}

type hostSample struct {
	name    string
	live    int
	paused  int
	tick    uint64
	events  uint64
	metrics engine.Metrics
	counts  map[string]int
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, h := range c.hosts {
		var s hostSample
		h.View(func(sys *engine.System) {
			s = hostSample{
				name:    sys.Name(),
				live:    sys.Len(),
				paused:  len(sys.PausedEntities()),
				tick:    sys.Tick(),
				events:  sys.LastEventSeq(),
				metrics: sys.Metrics(),
				counts:  sys.CountByStatus(),
			}
		})
		c.emit(ch, s)
	}

	if c.stock == nil {
		return
	}
	for _, e := range c.stock.Entries() {
		ch <- prometheus.MustNewConstMetric(c.goods, prometheus.GaugeValue, e.Quantity, e.Good)
		ch <- prometheus.MustNewConstMetric(c.shortfall, prometheus.CounterValue, e.Shortfall, e.Good)
	}
}

func (c *Collector) emit(ch chan<- prometheus.Metric, s hostSample) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	m := s.metrics

	gauge(c.entities, float64(s.live), s.name)
	gauge(c.paused, float64(s.paused), s.name)
	for band, n := range s.counts {
		gauge(c.byStatus, float64(n), s.name, band)
	}
	ch <- prometheus.MustNewConstMetric(c.tick, prometheus.CounterValue, float64(s.tick), s.name)
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(s.events), s.name)
	gauge(c.processed, float64(m.Processed), s.name)
	gauge(c.skipped, float64(m.SkippedPaused), s.name, "paused")
	gauge(c.skipped, float64(m.SkippedConditions), s.name, "conditions")
	gauge(c.skipped, float64(m.SkippedHook), s.name, "hook")
	gauge(c.newlyTerminal, float64(m.NewlyTerminal), s.name)
	gauge(c.duration, m.Duration.Seconds(), s.name)
	gauge(c.delta, m.TotalDelta, s.name)
}
