package vpp

import "slices"

// FrcRate is the frame-rate conversion multiplier. The numeric value is
// the largest number of outputs one input can produce.
type FrcRate int

const (
	FrcRate1x   FrcRate = 1
	FrcRate2x   FrcRate = 2
	FrcRate2p5x FrcRate = 3
	FrcRate4x   FrcRate = 4
)

// String returns the rate as the API reports it.
func (r FrcRate) String() string {
	switch r {
	case FrcRate1x:
		return "1x"
	case FrcRate2x:
		return "2x"
	case FrcRate2p5x:
		return "2.5x"
	case FrcRate4x:
		return "4x"
	default:
		return "unknown"
	}
}

// Multiplier returns the average number of outputs per input.
func (r FrcRate) Multiplier() float64 {
	if r == FrcRate2p5x {
		return 2.5
	}
	return float64(r)
}

// OutputFps scales an input rate by r.
func (r FrcRate) OutputFps(inputFps int) int {
	if r == FrcRate2p5x {
		return inputFps * 5 / 2
	}
	return inputFps * int(r)
}

// maxFrcOutputs bounds the outputs of one submission.
const maxFrcOutputs = 4

// Frame rates the conversion table knows.
const (
	fps15 = 15
	fps24 = 24
	fps25 = 25
	fps30 = 30
	fps60 = 60
)

// FrcByInputFps picks the conversion for a local display:
// 15, 25 and 30 fps double, 24 fps goes to 60.
func FrcByInputFps(inputFps int) (bool, FrcRate) {
	switch inputFps {
	case fps15, fps25, fps30:
		return true, FrcRate2x
	case fps24:
		return true, FrcRate2p5x
	default:
		return false, FrcRate1x
	}
}

// FrcByHDMIRates picks the conversion whose output rate the HDMI sink
// accepts at its current resolution. refreshRates must not be empty.
func FrcByHDMIRates(inputFps int, refreshRates []int) (bool, FrcRate, error) {
	if len(refreshRates) == 0 {
		return false, FrcRate1x, NewError(CodeFail, "no HDMI refresh rates", nil)
	}
	switch inputFps {
	case fps15, fps25, fps30:
		if slices.Contains(refreshRates, inputFps*2) {
			return true, FrcRate2x, nil
		}
	case fps24:
		if slices.Contains(refreshRates, fps60) {
			return true, FrcRate2p5x, nil
		}
	}
	return false, FrcRate1x, nil
}

// outputCount is the number of outputs of submission index. The first
// submission after a reset has no previous frame to interpolate from.
// At 2.5x the count alternates between 3 and 2.
func outputCount(index uint32, frcOn bool, rate FrcRate) int {
	if !frcOn || index == 0 {
		return 1
	}
	n := int(rate)
	if rate == FrcRate2p5x {
		n -= int(index & 1)
	}
	return n
}
