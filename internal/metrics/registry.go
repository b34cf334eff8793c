package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	devicesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "registry",
		Name:      "devices",
		Help:      "Registered cameras by state",
	}, []string{"state"})

	rescans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "registry",
		Name:      "rescans_total",
		Help:      "Device rescans performed",
	})
)

// SetDeviceCounts replaces the per-state device gauge values. States missing
// from counts are dropped from the export.
func SetDeviceCounts(counts map[string]int) {
	devicesByState.Reset()
	for state, n := range counts {
		devicesByState.WithLabelValues(state).Set(float64(n))
	}
}

// IncRescans counts one registry rescan.
func IncRescans() {
	rescans.Inc()
}
