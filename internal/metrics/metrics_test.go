package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterQueueDepthReadsLiveValue(t *testing.T) {
	depth := 3.0
	RegisterQueueDepth(func() float64 { return depth })

	gather := func() float64 {
		t.Helper()
		mfs, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			t.Fatalf("Gather: %v", err)
		}
		for _, mf := range mfs {
			if mf.GetName() == "cryptopay_relay_queue_depth" {
				return mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("cryptopay_relay_queue_depth not registered")
		return 0
	}

	if got := gather(); got != 3 {
		t.Errorf("queue_depth = %v, want 3", got)
	}

	// Scrapes read the backing function, not a last-set value
	depth = 7
	if got := gather(); got != 7 {
		t.Errorf("queue_depth after change = %v, want 7", got)
	}
}
