package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	vppSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vpp",
		Name:      "sessions",
		Help:      "Open post-processing sessions",
	})

	vppTasksInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vpp",
		Name:      "tasks_in_flight",
		Help:      "Submissions outstanding on the hardware",
	}, []string{"window"})

	vppFrcRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vpp",
		Name:      "frc_rate",
		Help:      "Frame-rate conversion multiplier, 1 when off",
	}, []string{"window"})

	vppFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vpp",
		Name:      "flushes_total",
		Help:      "Completed pipeline flushes",
	}, []string{"window", "reason"})

	vppOutputFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vpp",
		Name:      "output_frames_total",
		Help:      "Processed frames merged into the render list, by outcome",
	}, []string{"window", "outcome"})

	// Local cache so the API can report per-window values without scraping.
	vppCache   = make(map[string]*VPPWindowMetrics)
	vppCacheMu sync.RWMutex
)

// VPPWindowMetrics holds the current values for one output window.
type VPPWindowMetrics struct {
	TasksInFlight float64
	FrcRate       float64
	Flushes       float64
	Replaced      float64
	Inserted      float64
	Dropped       float64
}

// Render-list merge outcomes.
const (
	OutcomeReplaced = "replaced"
	OutcomeInserted = "inserted"
	OutcomeDropped  = "dropped"
)

// SetVPPSessions records the number of open sessions.
func SetVPPSessions(n int) {
	vppSessions.Set(float64(n))
}

// SetVPPTasksInFlight records outstanding hardware submissions.
func SetVPPTasksInFlight(window string, n int) {
	vppTasksInFlight.WithLabelValues(window).Set(float64(n))
	updateVPPCache(window, func(m *VPPWindowMetrics) { m.TasksInFlight = float64(n) })
}

// SetVPPFrcRate records the conversion multiplier (2.5 for 2.5x).
func SetVPPFrcRate(window string, rate float64) {
	vppFrcRate.WithLabelValues(window).Set(rate)
	updateVPPCache(window, func(m *VPPWindowMetrics) { m.FrcRate = rate })
}

// IncVPPFlushes counts a completed flush.
func IncVPPFlushes(window, reason string) {
	vppFlushes.WithLabelValues(window, reason).Inc()
	updateVPPCache(window, func(m *VPPWindowMetrics) { m.Flushes++ })
}

// IncVPPOutputFrames counts one render-list merge outcome.
func IncVPPOutputFrames(window, outcome string) {
	vppOutputFrames.WithLabelValues(window, outcome).Inc()
	updateVPPCache(window, func(m *VPPWindowMetrics) {
		switch outcome {
		case OutcomeReplaced:
			m.Replaced++
		case OutcomeInserted:
			m.Inserted++
		case OutcomeDropped:
			m.Dropped++
		}
	})
}

// DeleteVPPMetrics removes every series for a window.
func DeleteVPPMetrics(window string) {
	vppTasksInFlight.DeleteLabelValues(window)
	vppFrcRate.DeleteLabelValues(window)
	vppFlushes.DeletePartialMatch(prometheus.Labels{"window": window})
	vppOutputFrames.DeletePartialMatch(prometheus.Labels{"window": window})

	vppCacheMu.Lock()
	delete(vppCache, window)
	vppCacheMu.Unlock()
}

// GetVPPMetrics returns a copy of the cached values for a window, or nil.
func GetVPPMetrics(window string) *VPPWindowMetrics {
	vppCacheMu.RLock()
	defer vppCacheMu.RUnlock()
	m, ok := vppCache[window]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// GetAllVPPMetrics returns a copy of the cached values of every window.
func GetAllVPPMetrics() map[string]*VPPWindowMetrics {
	vppCacheMu.RLock()
	defer vppCacheMu.RUnlock()
	out := make(map[string]*VPPWindowMetrics, len(vppCache))
	for window, m := range vppCache {
		cp := *m
		out[window] = &cp
	}
	return out
}

func updateVPPCache(window string, fn func(*VPPWindowMetrics)) {
	vppCacheMu.Lock()
	defer vppCacheMu.Unlock()
	m, ok := vppCache[window]
	if !ok {
		m = &VPPWindowMetrics{}
		vppCache[window] = m
	}
	fn(m)
}
