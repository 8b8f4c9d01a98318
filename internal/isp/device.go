package isp

import (
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Device is one stream endpoint. *v4l2.VideoNode satisfies it on Linux.
//
// A device moves Closed -> Open -> Configured (SetFormat) -> Prepared
// (SetBufferPool) -> Started. Stop is idempotent.
type Device interface {
	Name() string
	State() v4l2.State
	IsOpen() bool
	Open() error
	Close() error
	QueryCapability() (v4l2.Capability, error)

	SetFormat(f *v4l2.Format) error
	Format() v4l2.Format
	SetCaptureMode(mode uint32) error
	SetBufferPool(buffers [][]byte, f v4l2.Format, cached bool) error

	Start(bufferCount, initialSkips int) error
	Stop(leavePopulated bool) error
	GrabFrame() (v4l2.Frame, error)
	PutFrame(index int) error
	Poll(timeoutMs int) (v4l2.PollResult, error)

	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32, name string) error
}

// EventDevice is an endpoint that also delivers driver events, such as
// the ISP subdevice reporting 3A statistics.
type EventDevice interface {
	Open() error
	Close() error
	IsOpen() bool
	Poll(timeoutMs int) (v4l2.PollResult, error)
	SubscribeEvent(typ uint32) error
	UnsubscribeEvent(typ uint32) error
	DequeueEvent() (v4l2.Event, error)
}

// ContinuousCapturer is implemented by main devices that accept a
// capture request against the continuous RAW ring buffer.
type ContinuousCapturer interface {
	SetContinuousCapture(numCaptures, offset, skip int) error
}

// Devices is the physical endpoint set. Inject and ISP may be nil.
type Devices struct {
	Main      Device
	Postview  Device
	Preview   Device
	Recording Device
	// Inject feeds a file through the ISP instead of the sensor.
	Inject Device
	// ISP is the subdevice emitting 3A statistics events.
	ISP EventDevice
}

func (d Devices) byID() [numDevices]Device {
	return [numDevices]Device{
		DeviceMain:      d.Main,
		DevicePostview:  d.Postview,
		DevicePreview:   d.Preview,
		DeviceRecording: d.Recording,
		DeviceInject:    d.Inject,
	}
}

// Sensor is the camera sensor driver.
type Sensor interface {
	Name() string
	// IsRaw reports a RAW (bayer) sensor. SoC sensors output YUV and
	// use the HAL-managed ZSL path for continuous capture.
	IsRaw() bool
	RawFormat() uint32
	Flip() (horizontal, vertical bool)
	// Prepare is called once the pipeline for a mode is configured.
	Prepare(capture bool) error
	Framerate() (float64, error)
	Start() error
	Stop() error
}

// Platform answers board capability questions.
type Platform interface {
	ResolutionSupportedByVFPP(width, height int) bool
	SnapshotResolutionSupportedByCVF(width, height int) bool
	SupportsContinuousCapture() bool
	MaxContinuousRawRingBuffer() int
	ShutterLagCompensationMs() int
	StatisticsInitialSkip() int
	MaxISPTimeoutCount() int
	PreviewPixelFormat() uint32
	HALZSLResolution() (width, height int)
	CSSMajorVersion() int
}

// Scaler converts and zooms a frame into another buffer.
type Scaler interface {
	ScaleAndZoom(src, dst *Buffer, zoomFactor float64) error
}

// Statistics3A is the AE luma grid of one 3A statistics buffer.
type Statistics3A struct {
	Width, Height int
	// BQsPerCell is the bayer quads per grid cell side.
	BQsPerCell int
	AEY        []int64
}

// StatisticsReader is implemented by main devices that export 3A statistics.
type StatisticsReader interface {
	Statistics() (Statistics3A, error)
}

// DevicePaths names the device nodes of one AtomISP instance. Inject and
// ISP are optional.
type DevicePaths struct {
	Main      string
	Postview  string
	Preview   string
	Recording string
	Inject    string
	ISP       string
}
