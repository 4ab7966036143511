package counters

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegistryAllocateAndSnapshot(t *testing.T) {
	r := NewRegistry()
	a := r.Allocate(TypeSenderLimit, "pub-1", 1, 10)
	b := r.Allocate(TypeLossBytes, "stream-10", 0, 10)

	a.Set(4096)
	b.Add(128)
	b.Add(64)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size %d", len(snap))
	}
	if snap[0].Type != TypeSenderLimit || snap[0].Value != 4096 {
		t.Fatalf("first counter %+v", snap[0])
	}
	if snap[1].Type != TypeLossBytes || snap[1].Value != 192 {
		t.Fatalf("second counter %+v", snap[1])
	}
}

func TestCounterSetMax(t *testing.T) {
	r := NewRegistry()
	c := r.Allocate(TypeReceiverHWM, "img", 1, 1)
	c.SetMax(100)
	c.SetMax(50)
	if c.Get() != 100 {
		t.Fatalf("SetMax regressed: %d", c.Get())
	}
}

func TestCollectorExportsGauges(t *testing.T) {
	r := NewRegistry()
	r.Allocate(TypeSenderLimit, "pub-1", 5, 10).Set(777)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(r)); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "weft_sender_limit" {
			found = mf
		}
	}
	if found == nil {
		t.Fatalf("weft_sender_limit not exported: %v", families)
	}
	m := found.GetMetric()[0]
	if m.GetGauge().GetValue() != 777 {
		t.Fatalf("gauge value %v", m.GetGauge().GetValue())
	}
	var labels []string
	for _, lp := range m.GetLabel() {
		labels = append(labels, lp.GetName()+"="+lp.GetValue())
	}
	joined := strings.Join(labels, ",")
	if !strings.Contains(joined, "session=5") || !strings.Contains(joined, "stream=10") {
		t.Fatalf("labels %q", joined)
	}
}
