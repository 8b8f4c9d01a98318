package isp

import (
	"errors"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Board describes a board from configuration. It implements Platform.
type Board struct {
	MaxVFPPWidth, MaxVFPPHeight int
	MaxCVFWidth, MaxCVFHeight   int
	ContinuousCapture           bool
	RingBufferMax               int
	ShutterLagMs                int
	StatisticsSkip              int
	TimeoutCount                int
	PreviewFourCC               uint32
	ZSLWidth, ZSLHeight         int
	CSSMajor                    int
}

var _ Platform = (*Board)(nil)

// DefaultBoard is a 1080p CSS 1.5 board with continuous capture.
func DefaultBoard() *Board {
	return &Board{
		MaxVFPPWidth:      1920,
		MaxVFPPHeight:     1088,
		MaxCVFWidth:       4096,
		MaxCVFHeight:      3072,
		ContinuousCapture: true,
		RingBufferMax:     10,
		TimeoutCount:      3,
		PreviewFourCC:     v4l2.PixFmtNV12,
		ZSLWidth:          1920,
		ZSLHeight:         1080,
		CSSMajor:          1,
	}
}

func (b *Board) ResolutionSupportedByVFPP(width, height int) bool {
	return width <= b.MaxVFPPWidth && height <= b.MaxVFPPHeight
}

func (b *Board) SnapshotResolutionSupportedByCVF(width, height int) bool {
	return width <= b.MaxCVFWidth && height <= b.MaxCVFHeight
}

func (b *Board) SupportsContinuousCapture() bool { return b.ContinuousCapture }

func (b *Board) MaxContinuousRawRingBuffer() int { return b.RingBufferMax }

func (b *Board) ShutterLagCompensationMs() int { return b.ShutterLagMs }

func (b *Board) StatisticsInitialSkip() int { return b.StatisticsSkip }

func (b *Board) MaxISPTimeoutCount() int { return b.TimeoutCount }

func (b *Board) PreviewPixelFormat() uint32 { return b.PreviewFourCC }

func (b *Board) HALZSLResolution() (width, height int) { return b.ZSLWidth, b.ZSLHeight }

func (b *Board) CSSMajorVersion() int { return b.CSSMajor }

// DriverSensor is a sensor the ISP driver powers and streams by itself.
// Start and Stop are no-ops and the frame rate comes from configuration.
type DriverSensor struct {
	SensorName string
	Raw        bool
	RawFourCC  uint32
	HFlip      bool
	VFlip      bool
	FPS        float64
}

var _ Sensor = (*DriverSensor)(nil)

func (s *DriverSensor) Name() string { return s.SensorName }

func (s *DriverSensor) IsRaw() bool { return s.Raw }

func (s *DriverSensor) RawFormat() uint32 { return s.RawFourCC }

func (s *DriverSensor) Flip() (horizontal, vertical bool) { return s.HFlip, s.VFlip }

func (s *DriverSensor) Prepare(bool) error { return nil }

func (s *DriverSensor) Framerate() (float64, error) {
	if s.FPS <= 0 {
		return 0, errors.New("sensor frame rate not configured")
	}
	return s.FPS, nil
}

func (s *DriverSensor) Start() error { return nil }

func (s *DriverSensor) Stop() error { return nil }
