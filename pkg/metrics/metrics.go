// Package metrics acumula os contadores best-effort do engine. Não é
// contrato: os valores são efêmeros, zeram num Reset e podem zerar num
// restart do processo. O Collector também se expõe como coletor
// Prometheus para quem pluga um registry.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter identifica um contador do engine.
type Counter string

const (
	QueriesPlanned  Counter = "queries_planned"
	RowsLoaded      Counter = "rows_loaded"
	RowsSaved       Counter = "rows_saved"
	RowsDeleted     Counter = "rows_deleted"
	Conflicts       Counter = "conflicts"
	MarkerReplays   Counter = "marker_replays"
	CorruptionsSeen Counter = "corruptions_seen"
	CursorsIssued   Counter = "cursors_issued"
	FastPathHits    Counter = "fast_path_hits"
)

var allCounters = []Counter{
	QueriesPlanned, RowsLoaded, RowsSaved, RowsDeleted,
	Conflicts, MarkerReplays, CorruptionsSeen, CursorsIssued, FastPathHits,
}

// Collector guarda os contadores em atomics. Thread-safe por via das
// dúvidas, embora o engine seja single-threaded por chamada.
type Collector struct {
	counters map[Counter]*atomic.Uint64
	since    atomic.Int64
}

func NewCollector() *Collector {
	c := &Collector{counters: make(map[Counter]*atomic.Uint64, len(allCounters))}
	for _, name := range allCounters {
		c.counters[name] = &atomic.Uint64{}
	}
	c.since.Store(time.Now().UnixNano())
	return c
}

func (c *Collector) Inc(name Counter) {
	if ctr, ok := c.counters[name]; ok {
		ctr.Add(1)
	}
}

func (c *Collector) Add(name Counter, n uint64) {
	if ctr, ok := c.counters[name]; ok {
		ctr.Add(n)
	}
}

// Snapshot devolve os contadores desde o último Reset.
func (c *Collector) Snapshot() map[Counter]uint64 {
	out := make(map[Counter]uint64, len(c.counters))
	for name, ctr := range c.counters {
		out[name] = ctr.Load()
	}
	return out
}

// Since devolve o início da janela atual.
func (c *Collector) Since() time.Time {
	return time.Unix(0, c.since.Load())
}

// Reset zera tudo e reabre a janela.
func (c *Collector) Reset() {
	for _, ctr := range c.counters {
		ctr.Store(0)
	}
	c.since.Store(time.Now().UnixNano())
}

// === prometheus.Collector ===

var descs = func() map[Counter]*prometheus.Desc {
	out := make(map[Counter]*prometheus.Desc, len(allCounters))
	for _, name := range allCounters {
		out[name] = prometheus.NewDesc(
			"icydb_"+string(name)+"_total",
			"icydb engine counter "+string(name),
			nil, nil,
		)
	}
	return out
}()

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, ctr := range c.counters {
		ch <- prometheus.MustNewConstMetric(descs[name], prometheus.CounterValue, float64(ctr.Load()))
	}
}
