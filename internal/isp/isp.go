// Package isp drives the AtomISP camera pipeline: which device nodes are
// open, in which capture mode, with which buffer pool, and how frames
// move between the driver and callers.
//
// A mode transition is always Configure -> AllocateBuffers -> Start and
// Stop undoes it. A failed step leaves the mode at ModeNone with no
// buffers queued.
package isp

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/metrics"
)

// Options configures a Controller.
type Options struct {
	Devices   Devices
	Sensor    Sensor
	Platform  Platform
	Scaler    Scaler
	Allocator Allocator
	Config    Config
	Logger    *slog.Logger
	Bus       *events.Bus

	// FileInjection feeds frames from Devices.Inject instead of the sensor.
	FileInjection bool
	// HALZSLRetryCount and StarvingWait bound the wait for a HAL-ZSL buffer.
	HALZSLRetryCount int
	StarvingWait     time.Duration
	// GetFrameRetryCount bounds preview starvation retries in the observer.
	GetFrameRetryCount int
}

// Controller is the capture-mode state machine.
//
// Lock order: mu (mode transitions), then a device lock, then zslMu.
// stateMu is a leaf guarding the fields frame exchange reads.
type Controller struct {
	logger   *slog.Logger
	bus      *events.Bus
	sensor   Sensor
	platform Platform
	scaler   Scaler
	alloc    Allocator

	mu       sync.Mutex
	devices  [numDevices]Device
	devLocks [numDevices]rankedMutex
	isp      EventDevice

	stateMu sync.RWMutex
	mode    Mode
	session int
	halZSL  bool
	roles   roleTable
	cfg     Config

	cont              ContinuousConfig
	contPrepared      bool
	previewTooBig     bool
	swapRecording     bool
	recordingSwapped  bool
	fileInject        bool
	injectBuf         []byte
	torchLevel        int
	flashOn           atomic.Bool
	initialSkips      int
	statisticSkips    int
	clientSnapshots   bool
	postviewAllocated bool

	previewPool   *bufferPool
	recordingPool *bufferPool
	snapshotPool  *bufferPool
	postviewPool  *bufferPool
	halzslPool    *bufferPool

	queuedPreview   *queueCounter
	queuedRecording *queueCounter
	queuedCapture   *queueCounter

	zslMu          rankedMutex
	zslCond        *sync.Cond
	zslPreviewFIFO []*Buffer
	zslCaptureFIFO []*Buffer
	zslRetryCount  int
	starvingWait   time.Duration
	getFrameRetry  int

	observers *ObserverManager
	stats3A   *statsSource
}

// New creates a controller with every device closed and the mode at ModeNone.
func New(opts Options) (*Controller, error) {
	if opts.Devices.Main == nil || opts.Devices.Preview == nil ||
		opts.Devices.Postview == nil || opts.Devices.Recording == nil {
		return nil, NewError(CodeBadValue, "main, preview, postview and recording devices are required", nil)
	}
	if opts.Sensor == nil || opts.Platform == nil {
		return nil, NewError(CodeBadValue, "sensor and platform are required", nil)
	}
	if opts.FileInjection && opts.Devices.Inject == nil {
		return nil, NewError(CodeBadValue, "file injection requires an inject device", nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("isp")
	}
	alloc := opts.Allocator
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	cfg := opts.Config
	if cfg.NumPreviewBuffers == 0 {
		cfg = DefaultConfig()
	}

	c := &Controller{
		logger:          logger,
		bus:             opts.Bus,
		sensor:          opts.Sensor,
		platform:        opts.Platform,
		scaler:          opts.Scaler,
		alloc:           alloc,
		devices:         opts.Devices.byID(),
		isp:             opts.Devices.ISP,
		roles:           defaultRoles(),
		cfg:             cfg,
		fileInject:      opts.FileInjection,
		previewPool:     newBufferPool(KindPreview, alloc),
		recordingPool:   newBufferPool(KindVideo, alloc),
		snapshotPool:    newBufferPool(KindSnapshot, alloc),
		postviewPool:    newBufferPool(KindPostview, alloc),
		halzslPool:      newBufferPool(KindHALZSL, alloc),
		queuedPreview:   newQueueCounter("preview"),
		queuedRecording: newQueueCounter("recording"),
		queuedCapture:   newQueueCounter("capture"),
		zslRetryCount:   orDefault(opts.HALZSLRetryCount, defaultHALZSLRetryCount),
		starvingWait:    opts.StarvingWait,
		getFrameRetry:   orDefault(opts.GetFrameRetryCount, defaultGetFrameRetryCount),
	}
	if c.starvingWait <= 0 {
		c.starvingWait = defaultStarvingWaitMs * time.Millisecond
	}
	if c.fileInject && opts.GetFrameRetryCount == 0 {
		c.getFrameRetry = fileInjectRetryCount
	}
	for i := range c.devLocks {
		c.devLocks[i].rank = rankDevice
	}
	c.zslMu.rank = rankZSL
	c.zslCond = sync.NewCond(&c.zslMu)
	c.stats3A = newStatsSource(c)
	c.observers = newObserverManager(c)

	metrics.SetISPMode(ModeNone.String())
	metrics.SetISPSession(0)
	return c, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Init opens the main device, which stays open for the controller's lifetime.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openDevice(DeviceMain); err != nil {
		return err
	}
	c.logger.Info("ISP initialized", "sensor", c.sensor.Name(), "raw", c.sensor.IsRaw())
	return nil
}

// Close stops any active mode, detaches observers and closes every device.
func (c *Controller) Close() error {
	if c.Mode() != ModeNone {
		if err := c.Stop(); err != nil {
			c.logger.Warn("Stop during close failed", "error", err)
		}
	}
	c.observers.close()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.freePreviewBuffers()
	c.freeRecordingBuffers()
	c.clientSnapshots = false
	c.snapshotPool.detach()
	c.postviewPool.detach()
	for id := range numDevices {
		c.closeDevice(id)
	}
	return nil
}

// Mode returns the active capture mode.
func (c *Controller) Mode() Mode {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.mode
}

// Session returns the capture session counter.
func (c *Controller) Session() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session
}

// HALZSL reports whether the HAL-managed ZSL path is active.
func (c *Controller) HALZSL() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.halZSL
}

// Config returns a copy of the current stream configuration.
func (c *Controller) Config() Config {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.cfg
}

// Stats returns a point-in-time view for status reporting.
func (c *Controller) Stats() Stats {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return Stats{
		Mode:            c.mode,
		Session:         c.session,
		QueuedPreview:   c.queuedPreview.value(),
		QueuedRecording: c.queuedRecording.value(),
		QueuedCapture:   c.queuedCapture.value(),
		HALZSL:          c.halZSL,
		Roles:           c.roles.snapshot(),
		FPS:             c.cfg.FPS,
		Zoom:            c.cfg.Zoom,
		Timestamp:       time.Now(),
	}
}

// Observers returns the observer manager of this controller.
func (c *Controller) Observers() *ObserverManager {
	return c.observers
}

type streamState struct {
	mode    Mode
	session int
	halZSL  bool
}

func (c *Controller) state() streamState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return streamState{mode: c.mode, session: c.session, halZSL: c.halZSL}
}

func (c *Controller) setMode(m Mode) {
	c.stateMu.Lock()
	prev := c.mode
	c.mode = m
	session := c.session
	c.stateMu.Unlock()
	if prev != m {
		c.logger.Info("Capture mode changed", "from", prev.String(), "to", m.String(), "session", session)
	}
	metrics.SetISPMode(m.String())
}

func (c *Controller) setHALZSL(on bool) {
	c.stateMu.Lock()
	c.halZSL = on
	c.stateMu.Unlock()
}

// roleDevice resolves a role through the role table.
func (c *Controller) roleDevice(r Role) (DeviceID, Device) {
	c.stateMu.RLock()
	id := c.roles.device(r)
	c.stateMu.RUnlock()
	return id, c.devices[id]
}

func (c *Controller) mutateRoles(fn func(t *roleTable)) {
	c.stateMu.Lock()
	fn(&c.roles)
	c.stateMu.Unlock()
}

// lockRole takes the device lock of the device serving r and returns it
// with its unlock function.
func (c *Controller) lockRole(r Role) (Device, func()) {
	id, dev := c.roleDevice(r)
	c.devLocks[id].Lock()
	return dev, c.devLocks[id].Unlock
}

func (c *Controller) openDevice(id DeviceID) error {
	dev := c.devices[id]
	if dev == nil {
		return NewError(CodeBadValue, "device not present", map[string]any{"device": id.String()})
	}
	if dev.IsOpen() {
		return nil
	}
	if err := dev.Open(); err != nil {
		return unknownError(fmt.Sprintf("open %s device", id), err)
	}
	if caps, err := dev.QueryCapability(); err != nil {
		c.logger.Warn("Capability query failed", "device", id.String(), "error", err)
	} else {
		c.logger.Debug("Device opened", "device", id.String(), "driver", caps.Driver, "card", caps.Card)
	}
	return nil
}

// closeDevice closes every device except main, which holds the
// continuous-capture ring buffer for the controller's lifetime.
func (c *Controller) closeDevice(id DeviceID) {
	dev := c.devices[id]
	if dev == nil || !dev.IsOpen() {
		return
	}
	if id == DeviceMain && c.Mode() != ModeNone {
		return
	}
	if err := dev.Close(); err != nil {
		c.logger.Warn("Close failed", "device", id.String(), "error", err)
	}
}

func (c *Controller) stopDevice(id DeviceID, leavePopulated bool) error {
	dev := c.devices[id]
	if dev == nil || !dev.IsOpen() {
		return nil
	}
	if err := dev.Stop(leavePopulated); err != nil {
		return unknownError(fmt.Sprintf("stop %s device", id), err)
	}
	return nil
}

func (c *Controller) publishMode(prev, mode Mode, err error) {
	ev := events.ModeChangedEvent{
		Previous:  prev.String(),
		Mode:      mode.String(),
		Session:   c.Session(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(ev)
}
