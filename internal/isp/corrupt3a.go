package isp

// Offline capture firmware sometimes delivers 3A statistics from the
// wrong frame. This detector drops statistics whose average AE luma jumps
// too far from the previous buffer. The thresholds are empirical and must
// not be tuned without new captures to check against. Remove it once the
// firmware is fixed.

const (
	corruptStatsDiffThreshold  = 200000
	corruptStatsRetryThreshold = 2
)

type statsVerdict int

const (
	statsAccepted statsVerdict = iota
	// statsCorrupt drops the buffer.
	statsCorrupt
	// statsRefetch drops an in-range buffer once enough outliers have
	// piled up, and clears the detector so the next buffer is accepted
	// whatever it holds.
	statsRefetch
)

func (v statsVerdict) String() string {
	switch v {
	case statsCorrupt:
		return "corrupt"
	case statsRefetch:
		return "refetch"
	default:
		return "accepted"
	}
}

type corruptStatsDetector struct {
	prevAEY int64
	// corrupt counts outliers since the last refetch. Accepted buffers
	// do not reset it.
	corrupt int
}

// check classifies s. No buffer counts as an outlier while the flash fires.
func (d *corruptStatsDetector) check(s Statistics3A, flashOn bool) statsVerdict {
	cells := s.Width * s.Height
	if cells <= 0 || len(s.AEY) < cells {
		return statsAccepted
	}
	var aeY int64
	for _, v := range s.AEY[:cells] {
		aeY += v
	}
	aeY /= int64(cells)

	verdict := statsAccepted
	switch {
	case d.prevAEY != 0 && !flashOn && abs64(d.prevAEY-aeY) > corruptStatsDiffThreshold:
		d.corrupt++
		verdict = statsCorrupt
	case d.corrupt >= corruptStatsRetryThreshold:
		aeY = 0
		d.corrupt = 0
		verdict = statsRefetch
	}
	// The reference luma follows every buffer, dropped ones included.
	d.prevAEY = aeY
	return verdict
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
