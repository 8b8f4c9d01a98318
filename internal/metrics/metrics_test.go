package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetISPMode(t *testing.T) {
	SetISPMode("video")

	for _, m := range captureModes {
		want := 0.0
		if m == "video" {
			want = 1
		}
		if got := testutil.ToFloat64(ispMode.WithLabelValues(m)); got != want {
			t.Errorf("mode %s = %v, want %v", m, got, want)
		}
	}

	SetISPMode("none")
	if got := testutil.ToFloat64(ispMode.WithLabelValues("video")); got != 0 {
		t.Errorf("video should be cleared, got %v", got)
	}
}

func TestISPCounters(t *testing.T) {
	SetISPSession(7)
	if got := testutil.ToFloat64(ispSession); got != 7 {
		t.Errorf("session = %v, want 7", got)
	}

	SetISPQueuedBuffers("preview", 4)
	if got := testutil.ToFloat64(ispQueuedBuffers.WithLabelValues("preview")); got != 4 {
		t.Errorf("queued = %v, want 4", got)
	}

	before := testutil.ToFloat64(ispSkippedFrames.WithLabelValues("rate"))
	IncISPSkippedFrames("rate")
	IncISPSkippedFrames("rate")
	if got := testutil.ToFloat64(ispSkippedFrames.WithLabelValues("rate")); got != before+2 {
		t.Errorf("skipped = %v, want %v", got, before+2)
	}

	before = testutil.ToFloat64(ispTransitionFailures.WithLabelValues("video", "start"))
	IncISPTransitionFailures("video", "start")
	if got := testutil.ToFloat64(ispTransitionFailures.WithLabelValues("video", "start")); got != before+1 {
		t.Errorf("failures = %v, want %v", got, before+1)
	}
}

func TestVPPMetricsCache(t *testing.T) {
	const window = "test-window"
	DeleteVPPMetrics(window)

	if m := GetVPPMetrics(window); m != nil {
		t.Fatal("expected nil for unknown window")
	}

	SetVPPTasksInFlight(window, 2)
	SetVPPFrcRate(window, 2.5)
	IncVPPFlushes(window, "seek")
	IncVPPOutputFrames(window, OutcomeReplaced)
	IncVPPOutputFrames(window, OutcomeInserted)
	IncVPPOutputFrames(window, OutcomeDropped)
	IncVPPOutputFrames(window, OutcomeDropped)

	m := GetVPPMetrics(window)
	if m == nil {
		t.Fatal("expected cached metrics")
	}
	want := VPPWindowMetrics{TasksInFlight: 2, FrcRate: 2.5, Flushes: 1, Replaced: 1, Inserted: 1, Dropped: 2}
	if *m != want {
		t.Errorf("got %+v, want %+v", *m, want)
	}
	if got := testutil.ToFloat64(vppFrcRate.WithLabelValues(window)); got != 2.5 {
		t.Errorf("frc gauge = %v, want 2.5", got)
	}

	m.Dropped = 99
	if GetVPPMetrics(window).Dropped != 2 {
		t.Error("returned copy aliases the cache")
	}

	DeleteVPPMetrics(window)
	if GetVPPMetrics(window) != nil {
		t.Error("expected nil after delete")
	}
	if n := testutil.CollectAndCount(vppOutputFrames); n != 0 {
		t.Errorf("output frame series left after delete: %d", n)
	}
}

func TestSetVPPSessions(t *testing.T) {
	SetVPPSessions(3)
	if got := testutil.ToFloat64(vppSessions); got != 3 {
		t.Errorf("sessions = %v, want 3", got)
	}
}
