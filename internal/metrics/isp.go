// Package metrics provides Prometheus metrics for the ISP state machine and the VPP pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ispnode"

// Capture modes exported as the "mode" label. Matches isp.Mode.String().
var captureModes = []string{"none", "preview", "video", "capture", "continuous"}

var (
	ispMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "isp",
		Name:      "mode",
		Help:      "1 for the active capture mode, 0 otherwise",
	}, []string{"mode"})

	ispSession = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "isp",
		Name:      "session",
		Help:      "Capture session counter, incremented on every start",
	})

	ispQueuedBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "isp",
		Name:      "queued_buffers",
		Help:      "Buffers currently queued to the driver",
	}, []string{"stream"})

	ispSkippedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "isp",
		Name:      "skipped_frames_total",
		Help:      "Frames discarded by observers",
	}, []string{"reason"})

	ispObserverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "isp",
		Name:      "observer_errors_total",
		Help:      "Poll sources that gave up after starvation retries",
	}, []string{"source"})

	ispTransitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "isp",
		Name:      "transition_failures_total",
		Help:      "Mode transitions that reverted to none",
	}, []string{"mode", "stage"})
)

// SetISPMode marks mode as the active capture mode.
func SetISPMode(mode string) {
	for _, m := range captureModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		ispMode.WithLabelValues(m).Set(v)
	}
}

// SetISPSession records the current capture session counter.
func SetISPSession(session int) {
	ispSession.Set(float64(session))
}

// SetISPQueuedBuffers records the number of buffers queued for a stream.
func SetISPQueuedBuffers(stream string, n int) {
	ispQueuedBuffers.WithLabelValues(stream).Set(float64(n))
}

// IncISPSkippedFrames counts a frame dropped by an observer.
func IncISPSkippedFrames(reason string) {
	ispSkippedFrames.WithLabelValues(reason).Inc()
}

// IncISPObserverErrors counts an observer that returned an error message.
func IncISPObserverErrors(source string) {
	ispObserverErrors.WithLabelValues(source).Inc()
}

// IncISPTransitionFailures counts a failed configure, allocate or start.
func IncISPTransitionFailures(mode, stage string) {
	ispTransitionFailures.WithLabelValues(mode, stage).Inc()
}
