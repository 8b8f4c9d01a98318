//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"path/filepath"
	"testing"
	"unsafe"
)

func TestStructOffsets(t *testing.T) {
	var buf v4l2Buffer
	var ev v4l2Event
	var f v4l2Format

	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"buffer.timestamp", unsafe.Offsetof(buf.timestamp), 24},
		{"buffer.sequence", unsafe.Offsetof(buf.sequence), 56},
		{"buffer.m", unsafe.Offsetof(buf.m), 64},
		{"buffer.length", unsafe.Offsetof(buf.length), 72},
		{"event.u", unsafe.Offsetof(ev.u), 8},
		{"event.pending", unsafe.Offsetof(ev.pending), 72},
		{"event.timestamp", unsafe.Offsetof(ev.timestamp), 80},
		{"event.id", unsafe.Offsetof(ev.id), 96},
		{"format.pix", unsafe.Offsetof(f.pix), 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("offset = %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestEventData(t *testing.T) {
	var ev v4l2Event
	ev.u[0] = 0x0807060504030201
	ev.u[7] = 0xff00000000000000

	data := ev.data()
	for i := 0; i < 8; i++ {
		if data[i] != byte(i+1) {
			t.Fatalf("data[%d] = %d, want %d", i, data[i], i+1)
		}
	}
	if data[63] != 0xff {
		t.Errorf("data[63] = 0x%x, want 0xff", data[63])
	}
}

func TestClosedNodeRejectsOperations(t *testing.T) {
	node := NewVideoNode(filepath.Join(t.TempDir(), "video-missing"), "preview")

	if node.IsOpen() {
		t.Fatal("new node should be closed")
	}
	if err := node.Open(); err == nil {
		t.Fatal("Open on missing path should fail")
	}
	if node.State() != StateClosed {
		t.Errorf("state after failed open = %s, want closed", node.State())
	}

	f := Format{Width: 640, Height: 480, PixelFormat: PixFmtNV12}
	if err := node.SetFormat(&f); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetFormat on closed node = %v, want ErrInvalidState", err)
	}
	if err := node.Start(4, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start on closed node = %v, want ErrInvalidState", err)
	}
	if _, err := node.GrabFrame(); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("GrabFrame on closed node = %v, want ErrNotStreaming", err)
	}
	if err := node.PutFrame(0); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("PutFrame without pool = %v, want ErrInvalidIndex", err)
	}
	if _, err := node.GetControl(0x009a090d); !errors.Is(err, ErrInvalidState) {
		t.Errorf("GetControl on closed node = %v, want ErrInvalidState", err)
	}
	if err := node.Stop(false); err != nil {
		t.Errorf("Stop on closed node should be a no-op, got %v", err)
	}
	if err := node.Close(); err != nil {
		t.Errorf("Close on closed node = %v", err)
	}
}

func TestAllocBuffer(t *testing.T) {
	b, err := AllocBuffer(4096)
	if err != nil {
		t.Fatalf("AllocBuffer: %v", err)
	}
	if len(b) != 4096 {
		t.Fatalf("len = %d, want 4096", len(b))
	}
	b[0], b[4095] = 1, 2
	if err := FreeBuffer(b); err != nil {
		t.Errorf("FreeBuffer: %v", err)
	}
	if _, err := AllocBuffer(0); err == nil {
		t.Error("AllocBuffer(0) should fail")
	}
}
