// Package isptest provides in-memory collaborators for the isp package:
// a simulated video node, ISP subdevice, sensor, platform and scaler.
// They back the package tests and the --simulate mode of the CLI.
package isptest

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Operation names accepted by FailNext and recorded by Ops.
const (
	OpOpen          = "open"
	OpClose         = "close"
	OpSetFormat     = "set_format"
	OpCaptureMode   = "set_capture_mode"
	OpSetBufferPool = "set_buffer_pool"
	OpStart         = "start"
	OpStop          = "stop"
	OpGrab          = "grab"
	OpPut           = "put"
	OpPoll          = "poll"
	OpGetControl    = "get_control"
	OpSetControl    = "set_control"
	OpContinuous    = "continuous_capture"
	OpStatistics    = "statistics"
)

// ContinuousRequest is one recorded continuous capture request.
type ContinuousRequest struct {
	NumCaptures int
	Offset      int
	Skip        int
}

// Device simulates a V4L2 capture node. It follows the same state rules
// as v4l2.VideoNode. A dequeued frame carries the low byte of its frame
// counter in Data[0].
type Device struct {
	name string
	// Interval delays every GrabFrame to pace a simulated sensor.
	Interval time.Duration

	mu           sync.Mutex
	cond         *sync.Cond
	state        v4l2.State
	format       v4l2.Format
	captureMode  uint32
	pool         [][]byte
	active       int
	queued       []int
	counter      int
	sequence     uint32
	initialSkips int
	stalled      bool
	controls     map[uint32]int32
	failures     map[string]error
	ops          []string
	contRequests []ContinuousRequest
	stats        isp.Statistics3A
	statsErr     error
}

var (
	_ isp.Device             = (*Device)(nil)
	_ isp.ContinuousCapturer = (*Device)(nil)
	_ isp.StatisticsReader   = (*Device)(nil)
)

// NewDevice creates a closed device.
func NewDevice(name string) *Device {
	d := &Device{
		name:     name,
		controls: make(map[uint32]int32),
		failures: make(map[string]error),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// FailNext makes the next call of op return err.
func (d *Device) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// Ops returns the operations called so far, in order.
func (d *Device) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.ops)
}

// Stall holds back every completed frame until Stall(false).
func (d *Device) Stall(stalled bool) {
	d.mu.Lock()
	d.stalled = stalled
	d.cond.Broadcast()
	d.mu.Unlock()
}

// SetControlValue sets a control regardless of the device state.
func (d *Device) SetControlValue(id uint32, value int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controls[id] = value
}

// ControlValue returns a control regardless of the device state.
func (d *Device) ControlValue(id uint32) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.controls[id]
	return v, ok
}

// CaptureMode returns the last capture mode set.
func (d *Device) CaptureMode() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captureMode
}

// Queued returns the number of buffers owned by the device.
func (d *Device) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

// FrameCounter returns the frames dequeued since Start.
func (d *Device) FrameCounter() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counter
}

// ContinuousRequests returns the recorded continuous capture requests.
func (d *Device) ContinuousRequests() []ContinuousRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.contRequests)
}

// SetStatistics sets what Statistics returns.
func (d *Device) SetStatistics(st isp.Statistics3A, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = st
	d.statsErr = err
}

// record logs op and returns its injected failure, if any.
func (d *Device) record(op string) error {
	d.ops = append(d.ops, op)
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

func (d *Device) Name() string { return d.name }

func (d *Device) State() v4l2.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) IsOpen() bool {
	return d.State() != v4l2.StateClosed
}

func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpOpen); err != nil {
		return err
	}
	if d.state == v4l2.StateClosed {
		d.state = v4l2.StateOpen
	}
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpClose); err != nil {
		return err
	}
	d.state = v4l2.StateClosed
	d.pool = nil
	d.active = 0
	d.queued = nil
	d.cond.Broadcast()
	return nil
}

func (d *Device) QueryCapability() (v4l2.Capability, error) {
	if !d.IsOpen() {
		return v4l2.Capability{}, v4l2.ErrInvalidState
	}
	return v4l2.Capability{
		Driver:       "isptest",
		Card:         d.name,
		Capabilities: v4l2.CapVideoCapture | v4l2.CapStreaming,
	}, nil
}

func (d *Device) SetFormat(f *v4l2.Format) error {
	if f == nil {
		return fmt.Errorf("isptest: nil format")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpSetFormat); err != nil {
		return err
	}
	if d.state != v4l2.StateOpen && d.state != v4l2.StateConfigured && d.state != v4l2.StatePrepared {
		return fmt.Errorf("%w: set format on %s in state %s", v4l2.ErrInvalidState, d.name, d.state)
	}
	f.BytesPerLine = uint32(v4l2.PixelsToBytes(f.PixelFormat, int(f.Width)))
	f.SizeImage = uint32(v4l2.FrameSize(f.PixelFormat, int(f.Width), int(f.Height)))
	d.format = *f
	d.pool = nil
	d.active = 0
	d.state = v4l2.StateConfigured
	return nil
}

func (d *Device) Format() v4l2.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

func (d *Device) SetCaptureMode(mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpCaptureMode); err != nil {
		return err
	}
	if d.state == v4l2.StateClosed {
		return v4l2.ErrInvalidState
	}
	d.captureMode = mode
	return nil
}

func (d *Device) SetBufferPool(buffers [][]byte, f v4l2.Format, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpSetBufferPool); err != nil {
		return err
	}
	if d.state != v4l2.StateConfigured && d.state != v4l2.StatePrepared {
		return fmt.Errorf("%w: set buffer pool on %s in state %s", v4l2.ErrInvalidState, d.name, d.state)
	}
	if len(buffers) == 0 || len(buffers) > v4l2.MaxBuffers {
		return fmt.Errorf("isptest: invalid pool size %d", len(buffers))
	}
	if f.Width != d.format.Width || f.Height != d.format.Height ||
		f.BytesPerLine != d.format.BytesPerLine || f.PixelFormat != d.format.PixelFormat {
		return v4l2.ErrPoolMismatch
	}
	d.pool = buffers
	d.active = 0
	d.state = v4l2.StatePrepared
	return nil
}

func (d *Device) Start(bufferCount, initialSkips int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpStart); err != nil {
		return err
	}
	if d.state != v4l2.StatePrepared && d.state != v4l2.StatePopulated {
		return fmt.Errorf("%w: start %s in state %s", v4l2.ErrInvalidState, d.name, d.state)
	}
	if d.active == 0 {
		if bufferCount <= 0 || bufferCount > len(d.pool) {
			return fmt.Errorf("%w: %d of %d", v4l2.ErrShortPool, bufferCount, len(d.pool))
		}
		d.active = bufferCount
	}
	d.queued = d.queued[:0]
	for i := range d.active {
		d.queued = append(d.queued, i)
	}
	d.counter = 0
	d.initialSkips = initialSkips
	d.state = v4l2.StateStarted
	d.cond.Broadcast()
	return nil
}

func (d *Device) Stop(leavePopulated bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpStop); err != nil {
		return err
	}
	if d.state != v4l2.StateStarted {
		return nil
	}
	d.queued = d.queued[:0]
	if leavePopulated {
		d.state = v4l2.StatePopulated
	} else {
		d.active = 0
		d.state = v4l2.StatePrepared
	}
	d.cond.Broadcast()
	return nil
}

func (d *Device) readyLocked() bool {
	return d.state == v4l2.StateStarted && len(d.queued) > 0 && !d.stalled
}

func (d *Device) GrabFrame() (v4l2.Frame, error) {
	if d.Interval > 0 {
		time.Sleep(d.Interval)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpGrab); err != nil {
		return v4l2.Frame{}, err
	}
	for !d.readyLocked() {
		if d.state != v4l2.StateStarted {
			return v4l2.Frame{}, v4l2.ErrNotStreaming
		}
		d.cond.Wait()
	}
	index := d.queued[0]
	d.queued = d.queued[1:]
	d.counter++
	d.sequence++
	frame := v4l2.Frame{
		Index:     index,
		Sequence:  d.sequence,
		BytesUsed: d.format.SizeImage,
		Timestamp: time.Duration(d.sequence) * 33 * time.Millisecond,
		Counter:   d.counter,
	}
	if d.initialSkips > 0 {
		frame.Corrupted = true
		d.initialSkips--
	}
	if buf := d.pool[index]; len(buf) > 0 {
		buf[0] = byte(d.counter)
	}
	return frame, nil
}

func (d *Device) PutFrame(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpPut); err != nil {
		return err
	}
	if index < 0 || index >= d.active {
		return fmt.Errorf("%w: %d of %d", v4l2.ErrInvalidIndex, index, d.active)
	}
	if d.state != v4l2.StateStarted {
		return v4l2.ErrNotStreaming
	}
	if slices.Contains(d.queued, index) {
		return fmt.Errorf("%w: buffer %d already queued", v4l2.ErrInvalidIndex, index)
	}
	d.queued = append(d.queued, index)
	d.cond.Broadcast()
	return nil
}

func (d *Device) Poll(timeoutMs int) (v4l2.PollResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpPoll); err != nil {
		return v4l2.PollError, err
	}
	if d.state == v4l2.StateClosed {
		return v4l2.PollError, v4l2.ErrInvalidState
	}
	if waitLocked(d.cond, timeoutMs, d.readyLocked) {
		return v4l2.PollReady, nil
	}
	return v4l2.PollTimeout, nil
}

func (d *Device) GetControl(id uint32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpGetControl); err != nil {
		return 0, err
	}
	if d.state == v4l2.StateClosed {
		return 0, v4l2.ErrInvalidState
	}
	return d.controls[id], nil
}

func (d *Device) SetControl(id uint32, value int32, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpSetControl); err != nil {
		return err
	}
	if d.state == v4l2.StateClosed {
		return v4l2.ErrInvalidState
	}
	d.controls[id] = value
	return nil
}

// SetContinuousCapture records the request.
func (d *Device) SetContinuousCapture(numCaptures, offset, skip int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpContinuous); err != nil {
		return err
	}
	d.contRequests = append(d.contRequests, ContinuousRequest{NumCaptures: numCaptures, Offset: offset, Skip: skip})
	return nil
}

// Statistics returns what SetStatistics stored.
func (d *Device) Statistics() (isp.Statistics3A, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpStatistics); err != nil {
		return isp.Statistics3A{}, err
	}
	st := d.stats
	st.AEY = slices.Clone(d.stats.AEY)
	return st, d.statsErr
}

// waitLocked waits on cond until ready holds or timeoutMs elapses. A
// negative timeout waits forever. The cond's lock is held by the caller.
func waitLocked(cond *sync.Cond, timeoutMs int, ready func() bool) bool {
	if ready() {
		return true
	}
	if timeoutMs == 0 {
		return false
	}
	if timeoutMs < 0 {
		for !ready() {
			cond.Wait()
		}
		return true
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	for !ready() {
		if !time.Now().Before(deadline) {
			return false
		}
		cond.Wait()
	}
	return true
}
