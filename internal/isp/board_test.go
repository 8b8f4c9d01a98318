package isp

import "testing"

func TestBoardLimits(t *testing.T) {
	b := DefaultBoard()
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"1080p preview", b.ResolutionSupportedByVFPP(1920, 1080), true},
		{"4k preview", b.ResolutionSupportedByVFPP(3840, 2160), false},
		{"8MP snapshot", b.SnapshotResolutionSupportedByCVF(3264, 2448), true},
		{"13MP snapshot", b.SnapshotResolutionSupportedByCVF(4208, 3120), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestDriverSensorFramerate(t *testing.T) {
	s := &DriverSensor{SensorName: "ov8830", Raw: true}
	if _, err := s.Framerate(); err == nil {
		t.Error("Framerate without a configured rate succeeded")
	}
	s.FPS = 30
	if fps, err := s.Framerate(); err != nil || fps != 30 {
		t.Errorf("Framerate = %v, %v", fps, err)
	}
}
