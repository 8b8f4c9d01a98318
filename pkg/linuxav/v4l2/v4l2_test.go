package v4l2

import "testing"

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{
			name:     "NV12 format",
			format:   PixFmtNV12,
			expected: "NV12",
		},
		{
			name:     "NV21 format",
			format:   PixFmtNV21,
			expected: "NV21",
		},
		{
			name:     "YUV420 format",
			format:   PixFmtYUV420,
			expected: "YU12",
		},
		{
			name:     "raw bayer format",
			format:   PixFmtSGRBG10,
			expected: "BA10",
		},
		{
			name:     "JPEG format",
			format:   PixFmtJPEG,
			expected: "JPEG",
		},
		{
			name:     "null bytes",
			format:   0x00000000,
			expected: "\x00\x00\x00\x00",
		},
		{
			name:     "mixed bytes",
			format:   0x01020304,
			expected: "\x04\x03\x02\x01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		name   string
		fourcc uint32
		width  int
		height int
		want   int
	}{
		{"NV12 VGA", PixFmtNV12, 640, 480, 640 * 480 * 3 / 2},
		{"NV12 odd width rounds up", PixFmtNV12, 175, 144, 144 * 263},
		{"YUYV VGA", PixFmtYUYV, 640, 480, 640 * 480 * 2},
		{"RGB32 QVGA", PixFmtRGB32, 320, 240, 320 * 240 * 4},
		{"raw 8 bit", PixFmtSBGGR8, 1920, 1080, 1920 * 1080},
		{"JPEG uses worst case", PixFmtJPEG, 100, 100, 100 * 100 * 2},
		{"unknown fourcc is 16 bit", 0x11223344, 10, 10, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameSize(tt.fourcc, tt.width, tt.height); got != tt.want {
				t.Errorf("FrameSize(%s, %d, %d) = %d, want %d",
					FormatFourCC(tt.fourcc), tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestStrideConversion(t *testing.T) {
	tests := []struct {
		name   string
		fourcc uint32
		pixels int
		bytes  int
	}{
		{"planar NV12 is one byte per pixel", PixFmtNV12, 640, 640},
		{"packed YUYV is two bytes per pixel", PixFmtYUYV, 640, 1280},
		{"packed RGB32 is four bytes per pixel", PixFmtRGB32, 320, 1280},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PixelsToBytes(tt.fourcc, tt.pixels); got != tt.bytes {
				t.Errorf("PixelsToBytes = %d, want %d", got, tt.bytes)
			}
			if got := BytesToPixels(tt.fourcc, tt.bytes); got != tt.pixels {
				t.Errorf("BytesToPixels = %d, want %d", got, tt.pixels)
			}
		})
	}
}

func TestIsBayer(t *testing.T) {
	if !IsBayer(PixFmtSGRBG10) {
		t.Error("SGRBG10 should be bayer")
	}
	if IsBayer(PixFmtNV12) {
		t.Error("NV12 should not be bayer")
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateClosed:     "closed",
		StateOpen:       "open",
		StateConfigured: "configured",
		StatePrepared:   "prepared",
		StatePopulated:  "populated",
		StateStarted:    "started",
		State(42):       "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
