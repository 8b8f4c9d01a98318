package vpp

import "testing"

func TestFrcByInputFps(t *testing.T) {
	tests := []struct {
		fps    int
		wantOn bool
		want   FrcRate
	}{
		{15, true, FrcRate2x},
		{24, true, FrcRate2p5x},
		{25, true, FrcRate2x},
		{30, true, FrcRate2x},
		{50, false, FrcRate1x},
		{60, false, FrcRate1x},
		{0, false, FrcRate1x},
	}
	for _, tt := range tests {
		on, rate := FrcByInputFps(tt.fps)
		if on != tt.wantOn || rate != tt.want {
			t.Errorf("FrcByInputFps(%d) = %v, %s; want %v, %s", tt.fps, on, rate, tt.wantOn, tt.want)
		}
	}
}

func TestFrcByHDMIRates(t *testing.T) {
	tests := []struct {
		name   string
		fps    int
		rates  []int
		wantOn bool
		want   FrcRate
	}{
		{"30 to 60", 30, []int{50, 60}, true, FrcRate2x},
		{"30 without 60", 30, []int{50}, false, FrcRate1x},
		{"25 to 50", 25, []int{50, 60}, true, FrcRate2x},
		{"15 to 30", 15, []int{30}, true, FrcRate2x},
		{"24 to 60", 24, []int{24, 60}, true, FrcRate2p5x},
		{"24 without 60", 24, []int{24, 48}, false, FrcRate1x},
		{"60 unchanged", 60, []int{60}, false, FrcRate1x},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			on, rate, err := FrcByHDMIRates(tt.fps, tt.rates)
			if err != nil {
				t.Fatalf("FrcByHDMIRates: %v", err)
			}
			if on != tt.wantOn || rate != tt.want {
				t.Errorf("got %v, %s; want %v, %s", on, rate, tt.wantOn, tt.want)
			}
		})
	}

	if _, _, err := FrcByHDMIRates(30, nil); CodeOf(err) != CodeFail {
		t.Errorf("empty rate list: error = %v, want FAIL", err)
	}
}

func TestOutputCount(t *testing.T) {
	tests := []struct {
		name  string
		index uint32
		on    bool
		rate  FrcRate
		want  int
	}{
		{"off", 5, false, FrcRate2x, 1},
		{"first submission", 0, true, FrcRate4x, 1},
		{"2x", 1, true, FrcRate2x, 2},
		{"4x", 7, true, FrcRate4x, 4},
		{"2.5x odd", 1, true, FrcRate2p5x, 2},
		{"2.5x even", 2, true, FrcRate2p5x, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outputCount(tt.index, tt.on, tt.rate); got != tt.want {
				t.Errorf("outputCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFrcRateOutputFps(t *testing.T) {
	tests := []struct {
		rate FrcRate
		in   int
		want int
		name string
	}{
		{FrcRate1x, 30, 30, "1x"},
		{FrcRate2x, 30, 60, "2x"},
		{FrcRate2p5x, 24, 60, "2.5x"},
		{FrcRate4x, 15, 60, "4x"},
	}
	for _, tt := range tests {
		if got := tt.rate.OutputFps(tt.in); got != tt.want {
			t.Errorf("%s.OutputFps(%d) = %d, want %d", tt.rate, tt.in, got, tt.want)
		}
		if tt.rate.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.rate.String(), tt.name)
		}
	}
}

func TestOutputOffsetUs(t *testing.T) {
	tests := []struct {
		n, i int
		want int64
	}{
		{1, 0, 0},
		{2, 0, 16666},
		{2, 1, 0},
		{3, 0, 33333},
		{3, 1, 16666},
		{4, 0, 50000},
	}
	for _, tt := range tests {
		if got := outputOffsetUs(tt.n, tt.i); got != tt.want {
			t.Errorf("outputOffsetUs(%d, %d) = %d, want %d", tt.n, tt.i, got, tt.want)
		}
	}
}
