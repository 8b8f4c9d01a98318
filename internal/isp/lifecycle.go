package isp

import (
	"errors"
	"fmt"

	"github.com/smazurov/ispnode/internal/metrics"
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Start begins streaming in the configured mode and opens a new capture
// session. On failure the mode reverts to ModeNone.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := c.Mode()
	if mode == ModeNone {
		return invalidOperation("start without configure", mode)
	}
	if err := c.sensor.Start(); err != nil {
		c.logger.Warn("Sensor start failed", "error", err)
	}

	var err error
	switch mode {
	case ModePreview, ModeContinuous:
		err = c.startPreview()
	case ModeVideo:
		err = c.startRecording()
	case ModeCapture:
		err = c.startCapture()
	}
	if err != nil {
		c.logger.Error("Start failed", "mode", mode.String(), "error", err)
		metrics.IncISPTransitionFailures(mode.String(), "start")
		c.releaseAfterFailure(mode)
		if serr := c.sensor.Stop(); serr != nil {
			c.logger.Warn("Sensor stop failed", "error", serr)
		}
		c.setMode(ModeNone)
		c.publishMode(mode, ModeNone, err)
		return err
	}

	c.stateMu.Lock()
	c.session++
	session := c.session
	c.stateMu.Unlock()
	metrics.SetISPSession(session)
	c.runStartActions()
	c.logger.Info("Streaming started", "mode", mode.String(), "session", session)
	c.publishMode(ModeNone, mode, nil)
	return nil
}

func (c *Controller) startPreview() error {
	cfg := c.Config()
	count := cfg.NumPreviewBuffers
	if c.HALZSL() {
		count = numHALZSLBuffers
	}
	id, dev := c.roleDevice(RolePreview)
	if err := dev.Start(count, c.initialSkips); err != nil {
		_ = c.stopPreview()
		return unknownError("start preview on "+id.String(), err)
	}
	c.previewPool.markQueued()
	c.halzslPool.markQueued()
	c.queuedPreview.set(count)
	return nil
}

func (c *Controller) startRecording() error {
	cfg := c.Config()
	recID, rec := c.roleDevice(RoleRecording)
	if err := rec.Start(cfg.NumRecordingBuffers, c.initialSkips); err != nil {
		_ = c.stopRecording()
		return unknownError("start recording on "+recID.String(), err)
	}
	prevID, prev := c.roleDevice(RolePreview)
	if err := prev.Start(cfg.NumPreviewBuffers, c.initialSkips); err != nil {
		_ = c.stopRecording()
		return unknownError("start preview on "+prevID.String(), err)
	}
	c.recordingPool.markQueued()
	c.previewPool.markQueued()
	c.queuedRecording.set(cfg.NumRecordingBuffers)
	c.queuedPreview.set(cfg.NumPreviewBuffers)
	return nil
}

func (c *Controller) startCapture() error {
	cfg := c.Config()
	snapNum := cfg.NumSnapshots
	if cfg.Snapshot.PixelFormat == c.sensor.RawFormat() {
		snapNum = 1
	}
	skips := c.initialSkips
	if c.Mode() == ModeContinuous {
		skips = 0
	}

	main := c.devices[DeviceMain]
	if err := main.Start(snapNum, skips); err != nil {
		_ = c.stopCapture()
		return unknownError("start capture", err)
	}
	postview := c.devices[DevicePostview]
	if postview.State() == v4l2.StatePrepared || postview.State() == v4l2.StatePopulated {
		if err := postview.Start(snapNum, skips); err != nil {
			_ = c.stopCapture()
			return unknownError("start postview", err)
		}
	}
	c.snapshotPool.markQueued()
	c.postviewPool.markQueued()
	c.queuedCapture.set(snapNum)

	// Corrupted initial frames are dropped here so the first snapshot a
	// caller gets is usable.
	for i := range skips {
		frame, err := main.GrabFrame()
		if err != nil {
			_ = c.stopCapture()
			return unknownError(fmt.Sprintf("skip capture frame %d", i), err)
		}
		if err := main.PutFrame(frame.Index); err != nil {
			_ = c.stopCapture()
			return unknownError(fmt.Sprintf("requeue skipped capture frame %d", i), err)
		}
		if postview.State() == v4l2.StateStarted {
			if pf, perr := postview.GrabFrame(); perr == nil {
				_ = postview.PutFrame(pf.Index)
			}
		}
	}
	return nil
}

func (c *Controller) runStartActions() {
	if c.torchLevel > 0 {
		if err := c.setTorchLocked(c.torchLevel); err != nil {
			c.logger.Warn("Torch restore failed", "error", err)
		}
	}
	c.observers.setRunning(true)
}

func (c *Controller) runStopActions() {
	c.observers.setRunning(false)
	if c.torchLevel > 0 {
		if err := c.setTorchLocked(0); err != nil {
			c.logger.Warn("Torch off failed", "error", err)
		}
	}
}

// Stop halts streaming and releases the mode's buffers. Buffers held by
// callers become stale: putting them back returns DEAD_OBJECT.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := c.Mode()
	if mode == ModeNone {
		return nil
	}
	c.runStopActions()

	var err error
	switch mode {
	case ModePreview:
		err = c.stopPreview()
	case ModeVideo:
		err = c.stopRecording()
	case ModeCapture:
		err = c.stopCapture()
	case ModeContinuous:
		err = c.stopContinuousPreview()
	}
	if serr := c.sensor.Stop(); serr != nil {
		c.logger.Warn("Sensor stop failed", "error", serr)
	}
	if c.fileInject {
		c.stopFileInject()
	}
	if err != nil {
		c.logger.Error("Stop failed", "mode", mode.String(), "error", err)
		metrics.IncISPTransitionFailures(mode.String(), "stop")
		return err
	}
	c.setHALZSL(false)
	c.setMode(ModeNone)
	c.publishMode(mode, ModeNone, nil)
	return nil
}

func (c *Controller) stopPreview() error {
	id, dev := c.roleDevice(RolePreview)
	c.devLocks[id].Lock()
	var err error
	if dev.State() == v4l2.StateStarted {
		if serr := dev.Stop(false); serr != nil {
			err = unknownError("stop preview on "+id.String(), serr)
		}
	}
	c.freePreviewBuffers()
	c.devLocks[id].Unlock()
	c.queuedPreview.set(0)

	if id != DeviceMain {
		c.closeDevice(id)
	}
	c.mutateRoles(func(t *roleTable) { t.resetRole(RolePreview) })
	return err
}

func (c *Controller) stopRecording() error {
	if c.recordingSwapped {
		c.mutateRoles(func(t *roleTable) { t.swap(RolePreview, RoleRecording) })
		c.recordingSwapped = false
	}
	var errs []error

	c.devLocks[DeviceRecording].Lock()
	if dev := c.devices[DeviceRecording]; dev.State() == v4l2.StateStarted {
		if err := dev.Stop(false); err != nil {
			errs = append(errs, unknownError("stop recording", err))
		}
	}
	c.freeRecordingBuffers()
	c.devLocks[DeviceRecording].Unlock()
	c.queuedRecording.set(0)
	c.closeDevice(DeviceRecording)

	if err := c.stopPreview(); err != nil {
		errs = append(errs, err)
	}
	c.mutateRoles(func(t *roleTable) { t.reset() })
	return errors.Join(errs...)
}

// stopCapture keeps the main device open; it owns the continuous RAW
// ring buffer.
func (c *Controller) stopCapture() error {
	var errs []error
	for _, id := range []DeviceID{DevicePostview, DeviceMain} {
		c.devLocks[id].Lock()
		if dev := c.devices[id]; dev != nil && dev.State() == v4l2.StateStarted {
			if err := dev.Stop(false); err != nil {
				errs = append(errs, unknownError("stop "+id.String(), err))
			}
		}
		c.devLocks[id].Unlock()
	}
	c.closeDevice(DevicePostview)
	c.queuedCapture.set(0)
	c.freeSnapshotBuffers()
	c.freePostviewBuffers()
	return errors.Join(errs...)
}

// stopContinuousPreview tears down continuous capture. Every step runs
// even after a failure; any failure yields UNKNOWN_ERROR.
func (c *Controller) stopContinuousPreview() error {
	failures := 0
	halZSL := c.HALZSL()
	c.cont = ContinuousConfig{}
	c.contPrepared = false

	if err := c.stopCapture(); err != nil {
		c.logger.Warn("Continuous stop: capture", "error", err)
		failures++
	}
	if !halZSL {
		if err := c.requestContinuousCaptureLocked(0, 0, 0); err != nil {
			c.logger.Warn("Continuous stop: capture request", "error", err)
			failures++
		}
		if err := c.configureContinuousMode(false, nil); err != nil {
			c.logger.Warn("Continuous stop: continuous mode", "error", err)
			failures++
		}
	}
	if err := c.stopPreview(); err != nil {
		c.logger.Warn("Continuous stop: preview", "error", err)
		failures++
	}
	if !halZSL {
		if err := c.rawBufferLockEnable(false); err != nil {
			c.logger.Warn("Continuous stop: raw buffer lock", "error", err)
			failures++
		}
	}
	if failures > 0 {
		return NewError(CodeUnknownError, "continuous stop failed", map[string]any{"failures": failures})
	}
	return nil
}
