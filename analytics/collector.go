package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"agilitytrack/core"
)

const namespace = "agility"

// Collector exports tracker events as Prometheus counters.
type Collector struct {
	runs         *prometheus.CounterVec
	qualifying   *prometheus.CounterVec
	levelUps     *prometheus.CounterVec
	recalculated prometheus.Counter
	failures     prometheus.Counter
	dogs         prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_recorded_total",
			Help:      "Runs recorded, by class.",
		}, []string{"class"}),
		qualifying: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualifying_runs_total",
			Help:      "Qualifying runs recorded, by class.",
		}, []string{"class"}),
		levelUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Level advancements, by class and target level.",
		}, []string{"class", "level"}),
		recalculated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalculations_total",
			Help:      "Batch level recalculations that were applied.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progression_failures_total",
			Help:      "Runs stored without a successful progression check.",
		}),
		dogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dogs_created_total",
			Help:      "Dogs registered.",
		}),
	}
}

func (c *Collector) OnEvent(e core.Event) {
	switch e.Type {
	case core.EventRunRecorded:
		c.runs.WithLabelValues(string(e.Class)).Inc()
		if e.Qualified {
			c.qualifying.WithLabelValues(string(e.Class)).Inc()
		}
	case core.EventLevelUp:
		c.levelUps.WithLabelValues(string(e.Class), string(e.ToLevel)).Inc()
	case core.EventLevelsRecalculated:
		c.recalculated.Inc()
	case core.EventProgressionFailed:
		c.failures.Inc()
	case core.EventDogCreated:
		c.dogs.Inc()
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.qualifying.Describe(ch)
	c.levelUps.Describe(ch)
	c.recalculated.Describe(ch)
	c.failures.Describe(ch)
	c.dogs.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.qualifying.Collect(ch)
	c.levelUps.Collect(ch)
	c.recalculated.Collect(ch)
	c.failures.Collect(ch)
	c.dogs.Collect(ch)
}

// Registry returns a private registry holding c, plus the Go runtime and
// process collectors when runtime is set.
func (c *Collector) Registry(runtime bool) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	if runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ Hook                 = (*Collector)(nil)
	_ Hook                 = (*ActivityTracker)(nil)
)
