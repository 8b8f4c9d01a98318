package isp

import "testing"

func TestContinuousRingBufferSize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ContinuousConfig
		css     int
		maxSize int
		want    int
	}{
		{"single capture", ContinuousConfig{NumCaptures: 1}, 1, 0, 4},
		{"look back", ContinuousConfig{NumCaptures: 1, Offset: -4}, 1, 0, 7},
		{"look back with lock", ContinuousConfig{NumCaptures: 1, Offset: -4, RawBufferLock: true}, 1, 0, 4},
		{"burst", ContinuousConfig{NumCaptures: 3, Offset: -1}, 1, 0, 6},
		{"css2 minimum", ContinuousConfig{NumCaptures: 1, Offset: -1}, 2, 0, 5},
		{"css2 infinite burst", ContinuousConfig{NumCaptures: -1}, 2, 0, 7},
		{"clamped", ContinuousConfig{NumCaptures: 10}, 1, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContinuousRingBufferSize(tt.cfg, tt.css, tt.maxSize); got != tt.want {
				t.Errorf("ContinuousRingBufferSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckSkipFrame(t *testing.T) {
	tests := []struct {
		n              int
		sensor, target float64
		want           bool
	}{
		{2, 30, 15, true},
		{3, 30, 15, false},
		{3, 30, 10, false},
		{4, 30, 10, true},
		{5, 30, 10, true},
		{5, 30, 30, false},
		{5, 30, 20, false},
		{5, 30, 0, false},
	}
	for _, tt := range tests {
		if got := CheckSkipFrame(tt.n, tt.sensor, tt.target); got != tt.want {
			t.Errorf("CheckSkipFrame(%d, %v, %v) = %v, want %v", tt.n, tt.sensor, tt.target, got, tt.want)
		}
	}
}

func statsWithLuma(v int64) Statistics3A {
	return Statistics3A{Width: 2, Height: 1, BQsPerCell: 1, AEY: []int64{v, v}}
}

func TestCorruptStatsDetector(t *testing.T) {
	var d corruptStatsDetector
	steps := []struct {
		luma  int64
		flash bool
		want  statsVerdict
	}{
		{1000, false, statsAccepted},
		{400000, false, statsCorrupt},
		// The outlier became the reference, so a repeat is in range.
		{400000, false, statsAccepted},
		{1000, false, statsCorrupt},
		// Two outliers since the last refetch: the next in-range buffer
		// is dropped and the detector starts over.
		{1200, false, statsRefetch},
		{500000, false, statsAccepted},
		{1000, true, statsAccepted},
		{300000, false, statsCorrupt},
		{1000, false, statsCorrupt},
		{1000, false, statsRefetch},
		{1000, false, statsAccepted},
	}
	for i, s := range steps {
		if got := d.check(statsWithLuma(s.luma), s.flash); got != s.want {
			t.Fatalf("step %d: verdict %s, want %s", i, got, s.want)
		}
	}
}

func TestCorruptStatsDetectorIgnoresEmptyGrid(t *testing.T) {
	var d corruptStatsDetector
	if got := d.check(Statistics3A{}, false); got != statsAccepted {
		t.Errorf("empty statistics verdict %s", got)
	}
	if got := d.check(Statistics3A{Width: 4, Height: 4, AEY: []int64{1}}, false); got != statsAccepted {
		t.Errorf("short grid verdict %s", got)
	}
}
