package isp

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Mode is the active capture mode. Exactly one is active at a time.
type Mode int

// Capture modes.
const (
	ModeNone Mode = iota
	ModePreview
	ModeVideo
	ModeCapture
	ModeContinuous
)

var modeNames = [...]string{"none", "preview", "video", "capture", "continuous"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode converts a mode name back to a Mode.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return ModeNone, NewError(CodeBadValue, "unknown capture mode", map[string]any{"mode": s})
}

// FrameStatus classifies a dequeued frame.
type FrameStatus int

// Frame statuses.
const (
	FrameOK FrameStatus = iota
	FrameSkipped
	FrameCorrupted
)

func (s FrameStatus) String() string {
	switch s {
	case FrameOK:
		return "ok"
	case FrameSkipped:
		return "skipped"
	case FrameCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// FrameConfig describes one stream's negotiated format.
type FrameConfig = v4l2.Format

// NewFrameConfig fills stride and size for a width, height and fourcc.
func NewFrameConfig(width, height int, fourcc uint32) FrameConfig {
	return FrameConfig{
		Width:        uint32(width),
		Height:       uint32(height),
		BytesPerLine: uint32(v4l2.PixelsToBytes(fourcc, width)),
		SizeImage:    uint32(v4l2.FrameSize(fourcc, width, height)),
		PixelFormat:  fourcc,
	}
}

// Config is the per-stream configuration applied by Configure.
type Config struct {
	Preview   FrameConfig
	Recording FrameConfig
	Snapshot  FrameConfig
	Postview  FrameConfig
	// HALZSL is the full-resolution capture format used when the main
	// device doubles as the preview device.
	HALZSL FrameConfig

	NumPreviewBuffers   int
	NumRecordingBuffers int
	NumSnapshots        int

	PreviewFPS   float64
	RecordingFPS float64
	// FPS is the sensor rate reported after the last successful configure.
	FPS float64
	// Zoom is the zoom control value, 0 for no zoom.
	Zoom int
	// RawDump captures unprocessed sensor frames without postview.
	RawDump bool
}

// ContinuousConfig holds the look-back policy of continuous capture.
type ContinuousConfig struct {
	NumCaptures int
	// Offset is the look-back in frames, negative for the past.
	Offset int
	Skip   int
	// CapturePriority trades the viewfinder for capture throughput.
	CapturePriority bool
	// RawBufferLock keeps captured RAW frames locked in the ring.
	RawBufferLock bool
}

// Capture timing constants.
const (
	DefaultSensorFPS  = 15
	DefaultPreviewFPS = 30

	zoomRatioBase = 100
	// MaxZoom is the highest zoom control value, a 16x ratio.
	MaxZoom = 1500
)

// DefaultConfig returns VGA preview and 1080p capture formats.
func DefaultConfig() Config {
	return Config{
		Preview:             NewFrameConfig(640, 480, v4l2.PixFmtNV12),
		Recording:           NewFrameConfig(1920, 1080, v4l2.PixFmtNV12),
		Snapshot:            NewFrameConfig(1920, 1080, v4l2.PixFmtNV12),
		Postview:            NewFrameConfig(640, 480, v4l2.PixFmtNV12),
		NumPreviewBuffers:   6,
		NumRecordingBuffers: 9,
		NumSnapshots:        1,
		PreviewFPS:          DefaultPreviewFPS,
		RecordingFPS:        DefaultPreviewFPS,
		FPS:                 DefaultSensorFPS,
	}
}

// Stats is a point-in-time view of the state machine.
type Stats struct {
	Mode            Mode
	Session         int
	QueuedPreview   int
	QueuedRecording int
	QueuedCapture   int
	HALZSL          bool
	Roles           map[string]string
	FPS             float64
	Zoom            int
	Timestamp       time.Time
}
