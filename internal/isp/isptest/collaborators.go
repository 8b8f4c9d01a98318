package isptest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// ErrNoEvent is returned by DequeueEvent when nothing is pending.
var ErrNoEvent = errors.New("isptest: no event pending")

// EventDevice simulates the ISP subdevice delivering driver events.
type EventDevice struct {
	mu             sync.Mutex
	cond           *sync.Cond
	open           bool
	subs           map[uint32]bool
	subscribeCalls int
	pending        []v4l2.Event
	sequence       uint32
}

var _ isp.EventDevice = (*EventDevice)(nil)

// NewEventDevice creates a closed subdevice.
func NewEventDevice() *EventDevice {
	d := &EventDevice{subs: make(map[uint32]bool)}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *EventDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *EventDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.subs = make(map[uint32]bool)
	d.pending = nil
	d.cond.Broadcast()
	return nil
}

func (d *EventDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *EventDevice) SubscribeEvent(typ uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return v4l2.ErrInvalidState
	}
	d.subscribeCalls++
	d.subs[typ] = true
	return nil
}

func (d *EventDevice) UnsubscribeEvent(typ uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return v4l2.ErrInvalidState
	}
	delete(d.subs, typ)
	return nil
}

// SubscribeCalls returns how many times SubscribeEvent succeeded.
func (d *EventDevice) SubscribeCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribeCalls
}

// Subscribed reports whether typ is subscribed.
func (d *EventDevice) Subscribed(typ uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[typ]
}

// Emit queues an event of typ if it is subscribed and returns its
// sequence number. Sequences start at 0.
func (d *EventDevice) Emit(typ uint32) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || !d.subs[typ] {
		return 0, false
	}
	seq := d.sequence
	d.sequence++
	d.pending = append(d.pending, v4l2.Event{Type: typ, Sequence: seq})
	d.cond.Broadcast()
	return seq, true
}

func (d *EventDevice) Poll(timeoutMs int) (v4l2.PollResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return v4l2.PollError, v4l2.ErrInvalidState
	}
	if waitLocked(d.cond, timeoutMs, func() bool { return len(d.pending) > 0 || !d.open }) && d.open {
		return v4l2.PollReady, nil
	}
	return v4l2.PollTimeout, nil
}

func (d *EventDevice) DequeueEvent() (v4l2.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return v4l2.Event{}, ErrNoEvent
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	ev.Pending = uint32(len(d.pending))
	return ev, nil
}

// Sensor simulates the camera sensor driver.
type Sensor struct {
	SensorName   string
	Raw          bool
	RawFourCC    uint32
	HFlip, VFlip bool
	// FPS is reported by Framerate. Zero keeps the controller's estimate.
	FPS float64

	mu       sync.Mutex
	started  bool
	prepared int
}

var _ isp.Sensor = (*Sensor)(nil)

// NewSensor returns a RAW bayer sensor.
func NewSensor() *Sensor {
	return &Sensor{SensorName: "isptest-raw", Raw: true, RawFourCC: v4l2.PixFmtSGRBG10}
}

func (s *Sensor) Name() string { return s.SensorName }

func (s *Sensor) IsRaw() bool { return s.Raw }

func (s *Sensor) RawFormat() uint32 { return s.RawFourCC }

func (s *Sensor) Flip() (horizontal, vertical bool) { return s.HFlip, s.VFlip }

func (s *Sensor) Prepare(bool) error {
	s.mu.Lock()
	s.prepared++
	s.mu.Unlock()
	return nil
}

func (s *Sensor) Framerate() (float64, error) {
	if s.FPS <= 0 {
		return 0, errors.New("isptest: sensor rate unknown")
	}
	return s.FPS, nil
}

func (s *Sensor) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Sensor) Stop() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// Started reports whether the sensor is streaming.
func (s *Sensor) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Platform answers capability questions from its fields.
type Platform struct {
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

var _ isp.Platform = (*Platform)(nil)

// DefaultPlatform returns a 1080p capable CSS 1.5 board.
func DefaultPlatform() *Platform {
	return &Platform{
		MaxVFPPWidth:      1920,
		MaxVFPPHeight:     1088,
		MaxCVFWidth:       4096,
		MaxCVFHeight:      3072,
		ContinuousCapture: true,
		RingBufferMax:     10,
		TimeoutCount:      3,
		PreviewFourCC:     v4l2.PixFmtNV12,
		CSSMajor:          1,
	}
}

func (p *Platform) ResolutionSupportedByVFPP(width, height int) bool {
	return width <= p.MaxVFPPWidth && height <= p.MaxVFPPHeight
}

func (p *Platform) SnapshotResolutionSupportedByCVF(width, height int) bool {
	return width <= p.MaxCVFWidth && height <= p.MaxCVFHeight
}

func (p *Platform) SupportsContinuousCapture() bool { return p.ContinuousCapture }

func (p *Platform) MaxContinuousRawRingBuffer() int { return p.RingBufferMax }

func (p *Platform) ShutterLagCompensationMs() int { return p.ShutterLagMs }

func (p *Platform) StatisticsInitialSkip() int { return p.StatisticsSkip }

func (p *Platform) MaxISPTimeoutCount() int { return p.TimeoutCount }

func (p *Platform) PreviewPixelFormat() uint32 { return p.PreviewFourCC }

func (p *Platform) HALZSLResolution() (width, height int) { return p.ZSLWidth, p.ZSLHeight }

func (p *Platform) CSSMajorVersion() int { return p.CSSMajor }

// ScaleCall is one recorded ScaleAndZoom call.
type ScaleCall struct {
	Source, Target isp.BufferKind
	Zoom           float64
}

// Scaler copies the source prefix into the target and records the call.
type Scaler struct {
	// Err fails every call when set.
	Err error

	mu    sync.Mutex
	calls []ScaleCall
}

var _ isp.Scaler = (*Scaler)(nil)

func (s *Scaler) ScaleAndZoom(src, dst *isp.Buffer, zoomFactor float64) error {
	if src == nil || dst == nil {
		return fmt.Errorf("isptest: nil scale buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ScaleCall{Source: src.Kind(), Target: dst.Kind(), Zoom: zoomFactor})
	if s.Err != nil {
		return s.Err
	}
	copy(dst.Data, src.Data)
	return nil
}

// Calls returns the recorded calls.
func (s *Scaler) Calls() []ScaleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScaleCall(nil), s.calls...)
}

// Set is a full simulated device set.
type Set struct {
	Main      *Device
	Postview  *Device
	Preview   *Device
	Recording *Device
	Inject    *Device
	ISP       *EventDevice
}

// NewSet creates every device closed.
func NewSet() *Set {
	return &Set{
		Main:      NewDevice("main"),
		Postview:  NewDevice("postview"),
		Preview:   NewDevice("preview"),
		Recording: NewDevice("recording"),
		Inject:    NewDevice("inject"),
		ISP:       NewEventDevice(),
	}
}

// Devices returns the set in the form the controller takes.
func (s *Set) Devices() isp.Devices {
	return isp.Devices{
		Main:      s.Main,
		Postview:  s.Postview,
		Preview:   s.Preview,
		Recording: s.Recording,
		Inject:    s.Inject,
		ISP:       s.ISP,
	}
}

// Options returns controller options over a fresh set with a RAW sensor,
// the default platform and a recording scaler.
func Options() (isp.Options, *Set) {
	set := NewSet()
	return isp.Options{
		Devices:  set.Devices(),
		Sensor:   NewSensor(),
		Platform: DefaultPlatform(),
		Scaler:   &Scaler{},
	}, set
}
