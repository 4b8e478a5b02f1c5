package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobboyms/icydb/pkg/metrics"
)

func TestCollector_IncSnapshotReset(t *testing.T) {
	c := metrics.NewCollector()

	c.Inc(metrics.RowsLoaded)
	c.Inc(metrics.RowsLoaded)
	c.Add(metrics.RowsSaved, 5)

	snap := c.Snapshot()
	if snap[metrics.RowsLoaded] != 2 {
		t.Errorf("rows_loaded = %d, want 2", snap[metrics.RowsLoaded])
	}
	if snap[metrics.RowsSaved] != 5 {
		t.Errorf("rows_saved = %d, want 5", snap[metrics.RowsSaved])
	}

	c.Reset()
	snap = c.Snapshot()
	for name, v := range snap {
		if v != 0 {
			t.Errorf("counter %s = %d after reset", name, v)
		}
	}
}

func TestCollector_UnknownCounterIsNoOp(t *testing.T) {
	c := metrics.NewCollector()
	c.Inc(metrics.Counter("ghost"))
	if _, ok := c.Snapshot()["ghost"]; ok {
		t.Error("unknown counters must not appear in snapshots")
	}
}

func TestCollector_PrometheusRegistration(t *testing.T) {
	c := metrics.NewCollector()
	c.Inc(metrics.MarkerReplays)

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("collector must register cleanly: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "icydb_marker_replays_total" {
			found = true
			if f.GetMetric()[0].GetCounter().GetValue() != 1 {
				t.Errorf("exported value = %v, want 1", f.GetMetric()[0].GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Error("marker replay counter must be exported")
	}
}
