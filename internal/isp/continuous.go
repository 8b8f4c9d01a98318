package isp

import (
	"math"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// ContinuousRingBufferSize returns the number of RAW frames the driver
// keeps for continuous capture under cfg.
func ContinuousRingBufferSize(cfg ContinuousConfig, cssMajor, maxSize int) int {
	n := defaultRingBufferBase
	lookback := abs(cfg.Offset)
	if lookback > cfg.NumCaptures && !cfg.RawBufferLock {
		n += lookback
	} else {
		n += abs(cfg.NumCaptures)
	}

	if cssMajor >= 2 {
		// An offset of -1 is served by the frame being processed.
		if cfg.Offset == -1 && !cfg.RawBufferLock {
			n--
		}
		n = max(n, css2MinRingBufferSize)
		if cfg.NumCaptures == -1 {
			n = css2InfiniteBurstRingSize
		}
	}
	if maxSize > 0 {
		n = min(n, maxSize)
	}
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ShutterLagZeroAlign is the frame offset matching the moment the user
// pressed the shutter, counted at the default preview rate.
func (c *Controller) ShutterLagZeroAlign() int {
	frameIntervalMs := 1000.0 / DefaultPreviewFPS
	return int(math.Round(float64(c.platform.ShutterLagCompensationMs()) / frameIntervalMs))
}

// ContinuousBurstNegMinOffset is the smallest offset PrepareOfflineCapture
// accepts without a RAW buffer lock.
func (c *Controller) ContinuousBurstNegMinOffset() int {
	return -(c.platform.MaxContinuousRawRingBuffer() - 2)
}

// ContinuousBurstNegOffset returns the ring buffer offset of the frame at
// output index startIndex (<= 0) when skip sensor frames are dropped
// between outputs. Index 0 is the zero shutter lag frame.
func (c *Controller) ContinuousBurstNegOffset(skip, startIndex int) int {
	return (skip+1)*startIndex - c.ShutterLagZeroAlign()
}

// PrepareOfflineCapture records the burst that the next continuous
// configure sizes the RAW ring buffer for.
func (c *Controller) PrepareOfflineCapture(cfg ContinuousConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if minOffset := c.ContinuousBurstNegMinOffset(); cfg.Offset < minOffset && !cfg.RawBufferLock {
		return NewError(CodeUnknownError, "continuous capture offset not supported",
			map[string]any{"offset": cfg.Offset, "min": minOffset})
	}
	c.logger.Debug("Offline capture prepared", "captures", cfg.NumCaptures, "offset", cfg.Offset,
		"skip", cfg.Skip, "raw_lock", cfg.RawBufferLock, "capture_priority", cfg.CapturePriority)
	c.cont = cfg
	c.contPrepared = true
	return nil
}

// IsOfflineCaptureRunning reports whether snapshots are being rendered
// out of the continuous ring buffer.
func (c *Controller) IsOfflineCaptureRunning() bool {
	if c.Mode() != ModeContinuous {
		return false
	}
	return c.devices[DeviceMain].State() == v4l2.StateStarted && !c.HALZSL()
}

// StartOfflineCapture renders cfg.NumCaptures snapshots from the ring
// buffer. cfg must be within what PrepareOfflineCapture was given. On the
// HAL-ZSL path it only makes sure snapshot buffers exist.
func (c *Controller) StartOfflineCapture(cfg ContinuousConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m := c.Mode(); m != ModeContinuous {
		return invalidOperation("offline capture outside continuous mode", m)
	}
	if c.snapshotPool.empty() || c.postviewPool.empty() {
		if err := c.allocateSnapshotBuffers(); err != nil {
			return err
		}
	}
	if c.HALZSL() {
		return nil
	}
	if cfg.Offset < 0 && cfg.Offset < c.cont.Offset {
		return NewError(CodeUnknownError, "offset exceeds the prepared ring buffer",
			map[string]any{"offset": cfg.Offset, "prepared": c.cont.Offset})
	}
	if cfg.NumCaptures > c.cont.NumCaptures {
		return NewError(CodeUnknownError, "more captures than prepared",
			map[string]any{"captures": cfg.NumCaptures, "prepared": c.cont.NumCaptures})
	}

	// Frames dropped at preview start are still in the ring buffer.
	offset := cfg.Offset + c.initialSkips
	if err := c.requestContinuousCaptureLocked(cfg.NumCaptures, offset, cfg.Skip); err != nil {
		return err
	}
	return c.startCapture()
}

// StopOfflineCapture halts snapshot rendering but keeps the snapshot
// buffers bound for the next burst.
func (c *Controller) StopOfflineCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m := c.Mode(); m != ModeContinuous {
		return invalidOperation("offline capture outside continuous mode", m)
	}
	if c.HALZSL() {
		return nil
	}
	var err error
	for _, id := range []DeviceID{DeviceMain, DevicePostview} {
		c.devLocks[id].Lock()
		if dev := c.devices[id]; dev.State() == v4l2.StateStarted {
			if serr := dev.Stop(true); serr != nil && err == nil {
				err = unknownError("stop offline capture on "+id.String(), serr)
			}
		}
		c.devLocks[id].Unlock()
	}
	c.queuedCapture.set(0)
	c.contPrepared = true
	return err
}

// RequestContinuousCapture asks the driver to render numCaptures frames
// starting offset frames back, dropping skip frames between outputs.
func (c *Controller) RequestContinuousCapture(numCaptures, offset, skip int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestContinuousCaptureLocked(numCaptures, offset, skip)
}

func (c *Controller) requestContinuousCaptureLocked(numCaptures, offset, skip int) error {
	if !c.platform.SupportsContinuousCapture() {
		return nil
	}
	cc, ok := c.devices[DeviceMain].(ContinuousCapturer)
	if !ok {
		return NewError(CodeNotSupported, "main device cannot take continuous capture requests", nil)
	}
	if err := cc.SetContinuousCapture(numCaptures, offset, skip); err != nil {
		return unknownError("continuous capture request", err)
	}
	c.logger.Debug("Continuous capture requested", "captures", numCaptures, "offset", offset, "skip", skip)
	return nil
}

// configureContinuousMode switches the driver's continuous mode and its
// viewfinder. A nil cfg uses the committed configuration.
func (c *Controller) configureContinuousMode(enable bool, cfg *Config) error {
	if !c.platform.SupportsContinuousCapture() {
		return nil
	}
	if cfg == nil {
		committed := c.Config()
		cfg = &committed
	}
	main := c.devices[DeviceMain]
	if err := main.SetControl(CIDContinuousMode, boolControl(enable), "Continuous mode"); err != nil {
		return unknownError("continuous mode", err)
	}
	viewfinder := !c.cont.CapturePriority &&
		c.platform.SnapshotResolutionSupportedByCVF(int(cfg.Snapshot.Width), int(cfg.Snapshot.Height))
	if err := main.SetControl(CIDContinuousViewfinder, boolControl(viewfinder), "Continuous viewfinder"); err != nil {
		return unknownError("continuous viewfinder", err)
	}
	return nil
}

func (c *Controller) configureContinuousRingBuffer() error {
	size := ContinuousRingBufferSize(c.cont, c.platform.CSSMajorVersion(), c.platform.MaxContinuousRawRingBuffer())
	c.logger.Info("Continuous ring buffer", "size", size, "captures", c.cont.NumCaptures, "offset", c.cont.Offset)
	if err := c.devices[DeviceMain].SetControl(CIDContinuousRawBufferSize, int32(size), "Continuous raw ringbuffer size"); err != nil {
		return unknownError("continuous ring buffer size", err)
	}
	if err := c.rawBufferLockEnable(c.cont.RawBufferLock); err != nil {
		c.logger.Warn("Raw buffer lock not applied", "error", err)
	}
	return nil
}

func (c *Controller) rawBufferLockEnable(enable bool) error {
	if err := c.devices[DeviceMain].SetControl(CIDEnableRawBufferLock, boolControl(enable), "Continuous raw buffer lock mode"); err != nil {
		return unknownError("raw buffer lock", err)
	}
	return nil
}
