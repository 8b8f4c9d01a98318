//go:build linux && (amd64 || arm64)

package v4l2

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type bufferInfo struct {
	data       []byte
	vbuf       v4l2Buffer
	cacheFlags uint32
}

// VideoNode drives one V4L2 device node through its buffer lifecycle.
// Frame exchange methods may be called from a poll goroutine while the
// owner reconfigures the node; state is guarded by an internal mutex
// that is never held across a blocking wait.
type VideoNode struct {
	name      string
	path      string
	direction Direction
	logger    *slog.Logger

	mu           sync.Mutex
	fd           int
	state        State
	format       Format
	setPool      []bufferInfo
	pool         []bufferInfo
	frameCounter int
	initialSkips int
}

// NewVideoNode creates a closed capture node for path.
func NewVideoNode(path, name string) *VideoNode {
	return &VideoNode{
		name:      name,
		path:      path,
		direction: DirectionCapture,
		fd:        -1,
		logger:    slog.With("component", "v4l2", "node", name),
	}
}

// NewOutputNode creates a closed output node for path, such as a file
// injection endpoint feeding frames into the ISP.
func NewOutputNode(path, name string) *VideoNode {
	n := NewVideoNode(path, name)
	n.direction = DirectionOutput
	return n
}

// Name returns the node's role name.
func (n *VideoNode) Name() string { return n.name }

// Path returns the device path.
func (n *VideoNode) Path() string { return n.path }

// State returns the current lifecycle state.
func (n *VideoNode) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsOpen reports whether the node holds a file descriptor.
func (n *VideoNode) IsOpen() bool {
	return n.State() != StateClosed
}

// Open opens the device node.
func (n *VideoNode) Open() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateClosed {
		return fmt.Errorf("%w: open %s in state %s", ErrInvalidState, n.name, n.state)
	}
	fd, err := open(n.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", n.path, err)
	}
	n.fd = fd
	n.state = StateOpen
	return nil
}

// Close releases the buffer pool and the file descriptor. Closing a
// streaming node stops it first.
func (n *VideoNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateClosed {
		return nil
	}
	if n.state == StateStarted {
		if err := n.streamOffLocked(); err != nil {
			n.logger.Warn("stream off before close failed", "error", err)
		}
	}
	n.destroyPoolLocked()
	err := closeFd(n.fd)
	n.fd = -1
	n.state = StateClosed
	n.setPool = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", n.path, err)
	}
	return nil
}

// QueryCapability returns the driver identification.
func (n *VideoNode) QueryCapability() (Capability, error) {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()

	if fd < 0 {
		return Capability{}, ErrInvalidState
	}
	var c v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	caps := c.capabilities
	if caps&CapDeviceCaps != 0 {
		caps = c.deviceCaps
	}
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: caps,
	}, nil
}

// SetFormat negotiates f with the driver. The driver may adjust width,
// height and stride; f is updated with what it chose.
func (n *VideoNode) SetFormat(f *Format) error {
	if f == nil {
		return errors.New("v4l2: nil format")
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateOpen && n.state != StateConfigured && n.state != StatePrepared {
		return fmt.Errorf("%w: set format on %s in state %s", ErrInvalidState, n.name, n.state)
	}

	var vf v4l2Format
	vf.typ = n.bufType()
	if err := ioctl(n.fd, vidiocGFmt, unsafe.Pointer(&vf)); err != nil {
		return fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	vf.typ = n.bufType()
	vf.pix.width = f.Width
	vf.pix.height = f.Height
	vf.pix.bytesperline = f.BytesPerLine
	vf.pix.pixelformat = f.PixelFormat
	vf.pix.field = FieldInterlaced

	n.logger.Debug("VIDIOC_S_FMT", "width", f.Width, "height", f.Height,
		"bpl", f.BytesPerLine, "fourcc", FormatFourCC(f.PixelFormat))
	if err := ioctl(n.fd, vidiocSFmt, unsafe.Pointer(&vf)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}

	if f.BytesPerLine != 0 && f.BytesPerLine != vf.pix.bytesperline {
		n.logger.Warn("driver adjusted stride", "requested", f.BytesPerLine, "actual", vf.pix.bytesperline)
	}
	if (f.Width != 0 && f.Width != vf.pix.width) || (f.Height != 0 && f.Height != vf.pix.height) {
		n.logger.Warn("driver adjusted size",
			"requested", fmt.Sprintf("%dx%d", f.Width, f.Height),
			"actual", fmt.Sprintf("%dx%d", vf.pix.width, vf.pix.height))
	}

	n.format = Format{
		Width:        vf.pix.width,
		Height:       vf.pix.height,
		BytesPerLine: vf.pix.bytesperline,
		PixelFormat:  vf.pix.pixelformat,
	}
	width := BytesToPixels(n.format.PixelFormat, int(n.format.BytesPerLine))
	n.format.SizeImage = uint32(FrameSize(n.format.PixelFormat, width, int(n.format.Height)))
	*f = n.format

	n.state = StateConfigured
	n.setPool = nil
	return nil
}

// Format returns the last negotiated format.
func (n *VideoNode) Format() Format {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.format
}

// SetCaptureMode issues VIDIOC_S_PARM with the driver specific capture mode.
func (n *VideoNode) SetCaptureMode(mode uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateClosed {
		return ErrInvalidState
	}
	var parm v4l2StreamParm
	parm.typ = BufTypeVideoCapture
	parm.capture.capturemode = mode
	if err := ioctl(n.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("VIDIOC_S_PARM: %w", err)
	}
	return nil
}

// FrameRate returns the frame interval reported by VIDIOC_G_PARM.
func (n *VideoNode) FrameRate() (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateClosed {
		return 0, ErrInvalidState
	}
	var parm v4l2StreamParm
	parm.typ = BufTypeVideoCapture
	if err := ioctl(n.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return 0, fmt.Errorf("VIDIOC_G_PARM: %w", err)
	}
	tpf := parm.capture.timeperframe
	if tpf.numerator == 0 {
		return 0, nil
	}
	return float64(tpf.denominator) / float64(tpf.numerator), nil
}

// SetBufferPool registers externally allocated frame memory. Each buffer
// must be at least f.SizeImage bytes and f must match the negotiated
// format.
func (n *VideoNode) SetBufferPool(buffers [][]byte, f Format, cached bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateConfigured && n.state != StatePrepared {
		return fmt.Errorf("%w: set buffer pool on %s in state %s", ErrInvalidState, n.name, n.state)
	}
	if len(buffers) == 0 || len(buffers) > MaxBuffers {
		return fmt.Errorf("v4l2: invalid pool size %d", len(buffers))
	}
	if f.Width != n.format.Width || f.Height != n.format.Height ||
		f.BytesPerLine != n.format.BytesPerLine || f.PixelFormat != n.format.PixelFormat {
		return fmt.Errorf("%w: pool %dx%d %s, node %dx%d %s", ErrPoolMismatch,
			f.Width, f.Height, FormatFourCC(f.PixelFormat),
			n.format.Width, n.format.Height, FormatFourCC(n.format.PixelFormat))
	}

	var cacheFlags uint32
	if !cached {
		cacheFlags = BufFlagNoCacheInvalidate | BufFlagNoCacheClean
	}
	n.setPool = make([]bufferInfo, len(buffers))
	for i, b := range buffers {
		n.setPool[i] = bufferInfo{data: b, cacheFlags: cacheFlags}
	}
	n.state = StatePrepared
	return nil
}

// Start creates the active pool if needed, queues every buffer and turns
// streaming on. The first initialSkips frames are reported as corrupted.
func (n *VideoNode) Start(bufferCount, initialSkips int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StatePrepared && n.state != StatePopulated {
		return fmt.Errorf("%w: start %s in state %s", ErrInvalidState, n.name, n.state)
	}
	if len(n.pool) == 0 {
		if err := n.createPoolLocked(bufferCount); err != nil {
			n.destroyPoolLocked()
			return err
		}
	}
	for i := range n.pool {
		if err := n.qbufLocked(&n.pool[i]); err != nil {
			return fmt.Errorf("queue buffer %d: %w", i, err)
		}
	}
	typ := int32(n.bufType())
	if err := ioctl(n.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	n.frameCounter = 0
	n.initialSkips = initialSkips
	n.state = StateStarted
	return nil
}

// Stop turns streaming off. With leavePopulated the active pool is kept
// so a following Start resumes without renegotiating buffers.
func (n *VideoNode) Stop(leavePopulated bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateStarted {
		n.logger.Warn("stop on a node that is not started", "state", n.state.String())
		return nil
	}
	if err := n.streamOffLocked(); err != nil {
		return err
	}
	if leavePopulated {
		n.state = StatePopulated
		return nil
	}
	n.destroyPoolLocked()
	n.state = StatePrepared
	return nil
}

// GrabFrame dequeues one completed buffer, waiting for it if necessary.
func (n *VideoNode) GrabFrame() (Frame, error) {
	for {
		n.mu.Lock()
		if n.state != StateStarted {
			n.mu.Unlock()
			return Frame{}, ErrNotStreaming
		}
		vbuf := v4l2Buffer{typ: n.bufType(), memory: MemoryUserPtr}
		err := ioctl(n.fd, vidiocDqbuf, unsafe.Pointer(&vbuf))
		if err == nil {
			frame := n.completeFrameLocked(&vbuf)
			n.mu.Unlock()
			return frame, nil
		}
		n.mu.Unlock()

		if !errors.Is(err, unix.EAGAIN) {
			return Frame{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
		}
		if _, perr := n.Poll(PollInfinite); perr != nil {
			return Frame{}, perr
		}
	}
}

func (n *VideoNode) completeFrameLocked(vbuf *v4l2Buffer) Frame {
	n.frameCounter = (n.frameCounter + 1) & math.MaxInt32
	frame := Frame{
		Index:     int(vbuf.index),
		Sequence:  vbuf.sequence,
		BytesUsed: vbuf.bytesused,
		Flags:     vbuf.flags,
		Timestamp: time.Duration(vbuf.timestamp.sec)*time.Second + time.Duration(vbuf.timestamp.usec)*time.Microsecond,
		Corrupted: vbuf.flags&BufFlagError != 0,
		Counter:   n.frameCounter,
	}
	if n.initialSkips > 0 {
		frame.Corrupted = true
		n.initialSkips--
	}
	if int(vbuf.index) < len(n.pool) {
		n.pool[vbuf.index].vbuf = *vbuf
	}
	return frame
}

// PutFrame queues buffer index back to the driver.
func (n *VideoNode) PutFrame(index int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if index < 0 || index >= len(n.pool) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(n.pool))
	}
	if n.state != StateStarted {
		return ErrNotStreaming
	}
	return n.qbufLocked(&n.pool[index])
}

// FrameCounter returns the number of frames dequeued since Start.
func (n *VideoNode) FrameCounter() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.frameCounter
}

// Poll waits up to timeoutMs for a frame or event. PollInfinite blocks.
func (n *VideoNode) Poll(timeoutMs int) (PollResult, error) {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()
	if fd < 0 {
		return PollError, ErrInvalidState
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLPRI | unix.POLLERR}}
	for {
		ready, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return PollError, fmt.Errorf("poll %s: %w", n.name, err)
		}
		if ready == 0 {
			return PollTimeout, nil
		}
		if fds[0].Revents&unix.POLLERR != 0 {
			return PollError, fmt.Errorf("poll %s: POLLERR", n.name)
		}
		return PollReady, nil
	}
}

// GetControl reads a scalar control.
func (n *VideoNode) GetControl(id uint32) (int32, error) {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()
	if fd < 0 {
		return 0, ErrInvalidState
	}
	ctrl := v4l2Control{id: id}
	if err := ioctl(fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, fmt.Errorf("VIDIOC_G_CTRL 0x%x: %w", id, err)
	}
	return ctrl.value, nil
}

// SetControl writes a scalar control. name is used for diagnostics only.
func (n *VideoNode) SetControl(id uint32, value int32, name string) error {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()
	if fd < 0 {
		return ErrInvalidState
	}
	n.logger.Debug("VIDIOC_S_CTRL", "control", name, "value", value)
	ctrl := v4l2Control{id: id, value: value}
	if err := ioctl(fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL %s: %w", name, err)
	}
	return nil
}

// PrivateIoctl issues a driver-private request. arg must point to the
// structure the request encodes.
func (n *VideoNode) PrivateIoctl(req uint, arg unsafe.Pointer) error {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()
	if fd < 0 {
		return ErrInvalidState
	}
	if err := ioctl(fd, req, arg); err != nil {
		return fmt.Errorf("private ioctl 0x%x: %w", req, err)
	}
	return nil
}

// SubscribeEvent subscribes to a driver event type.
func (n *VideoNode) SubscribeEvent(typ uint32) error {
	return n.eventSubscription(vidiocSubscribeEvent, typ)
}

// UnsubscribeEvent cancels a subscription made with SubscribeEvent.
func (n *VideoNode) UnsubscribeEvent(typ uint32) error {
	return n.eventSubscription(vidiocUnsubscribeEvent, typ)
}

func (n *VideoNode) eventSubscription(req uint, typ uint32) error {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()
	if fd < 0 {
		return ErrInvalidState
	}
	sub := v4l2EventSubscription{typ: typ}
	if err := ioctl(fd, req, unsafe.Pointer(&sub)); err != nil {
		return fmt.Errorf("event subscription 0x%x: %w", typ, err)
	}
	return nil
}

// DequeueEvent pops one pending event.
func (n *VideoNode) DequeueEvent() (Event, error) {
	n.mu.Lock()
	fd := n.fd
	n.mu.Unlock()
	if fd < 0 {
		return Event{}, ErrInvalidState
	}
	var ev v4l2Event
	if err := ioctl(fd, vidiocDqevent, unsafe.Pointer(&ev)); err != nil {
		return Event{}, fmt.Errorf("VIDIOC_DQEVENT: %w", err)
	}
	return Event{
		Type:      ev.typ,
		ID:        ev.id,
		Sequence:  ev.sequence,
		Pending:   ev.pending,
		Timestamp: time.Duration(ev.timestamp.sec)*time.Second + time.Duration(ev.timestamp.nsec),
		Data:      ev.data(),
	}, nil
}

func (n *VideoNode) bufType() uint32 {
	if n.direction == DirectionOutput {
		return BufTypeVideoOutput
	}
	return BufTypeVideoCapture
}

func (n *VideoNode) createPoolLocked(count int) error {
	if n.state != StatePrepared {
		return fmt.Errorf("%w: create pool in state %s", ErrInvalidState, n.state)
	}
	if count > len(n.setPool) {
		return fmt.Errorf("%w: requested %d, provided %d", ErrShortPool, count, len(n.setPool))
	}
	got, err := n.requestBuffersLocked(count)
	if err != nil {
		return err
	}
	if got <= 0 {
		return fmt.Errorf("VIDIOC_REQBUFS: driver granted no buffers")
	}

	pool := make([]bufferInfo, 0, got)
	for i := 0; i < got; i++ {
		info := n.setPool[i]
		info.vbuf = v4l2Buffer{index: uint32(i), typ: n.bufType(), memory: MemoryUserPtr}
		if err := ioctl(n.fd, vidiocQuerybuf, unsafe.Pointer(&info.vbuf)); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF %d: %w", i, err)
		}
		info.vbuf.m = uint64(uintptr(unsafe.Pointer(unsafe.SliceData(info.data))))
		info.vbuf.length = uint32(len(info.data))
		pool = append(pool, info)
	}
	n.pool = pool
	n.state = StatePopulated
	return nil
}

func (n *VideoNode) destroyPoolLocked() {
	n.pool = nil
	if n.fd >= 0 {
		if _, err := n.requestBuffersLocked(0); err != nil {
			n.logger.Debug("release driver buffers failed", "error", err)
		}
	}
}

func (n *VideoNode) requestBuffersLocked(count int) (int, error) {
	req := v4l2RequestBuffers{count: uint32(count), typ: n.bufType(), memory: MemoryUserPtr}
	if err := ioctl(n.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS(%d): %w", count, err)
	}
	if int(req.count) < count {
		n.logger.Warn("driver granted fewer buffers than requested", "requested", count, "granted", req.count)
	}
	return int(req.count), nil
}

func (n *VideoNode) qbufLocked(info *bufferInfo) error {
	info.vbuf.flags = info.cacheFlags
	info.vbuf.reserved2 = 0
	info.vbuf.m = uint64(uintptr(unsafe.Pointer(unsafe.SliceData(info.data))))
	info.vbuf.length = uint32(len(info.data))
	if err := ioctl(n.fd, vidiocQbuf, unsafe.Pointer(&info.vbuf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF on %s: %w", n.name, err)
	}
	return nil
}

func (n *VideoNode) streamOffLocked() error {
	typ := int32(n.bufType())
	if err := ioctl(n.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
