package isp

import (
	"github.com/smazurov/ispnode/internal/metrics"
)

// AllocateBuffers allocates or attaches the buffer pools of mode. It must
// follow a successful Configure of the same mode.
func (c *Controller) AllocateBuffers(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.Mode(); cur != mode {
		return invalidOperation("allocate buffers for a mode that is not configured", cur)
	}

	var err error
	switch mode {
	case ModePreview, ModeContinuous:
		if c.HALZSL() {
			c.mutateRoles(func(t *roleTable) { t.assign(RolePreview, DeviceMain) })
		}
		if err = c.allocatePreviewBuffers(); err != nil {
			_ = c.stopPreview()
		}
	case ModeVideo:
		if err = c.allocateRecordingBuffers(); err != nil {
			break
		}
		if err = c.allocatePreviewBuffers(); err != nil {
			_ = c.stopRecording()
		}
	case ModeCapture:
		err = c.allocateSnapshotBuffers()
	default:
		err = invalidOperation("no buffers for mode", mode)
	}
	if err != nil {
		c.logger.Error("Buffer allocation failed", "mode", mode.String(), "error", err)
		metrics.IncISPTransitionFailures(mode.String(), "allocate")
		c.releaseAfterFailure(mode)
		c.setMode(ModeNone)
		c.publishMode(mode, ModeNone, err)
		return err
	}
	return nil
}

// releaseAfterFailure undoes a configured mode that will never start.
func (c *Controller) releaseAfterFailure(mode Mode) {
	switch mode {
	case ModeCapture:
		_ = c.stopCapture()
	case ModeContinuous:
		if !c.HALZSL() {
			_ = c.configureContinuousMode(false, nil)
		}
	}
	c.mutateRoles(func(t *roleTable) { t.reset() })
	c.setHALZSL(false)
	c.recordingSwapped = false
	for _, id := range []DeviceID{DevicePreview, DevicePostview, DeviceRecording} {
		c.closeDevice(id)
	}
	if c.fileInject {
		c.stopFileInject()
	}
}

func (c *Controller) allocatePreviewBuffers() error {
	cfg := c.Config()
	halZSL := c.HALZSL()
	previewID, previewDev := c.roleDevice(RolePreview)

	if c.previewPool.empty() {
		if err := c.previewPool.allocate(cfg.NumPreviewBuffers, cfg.Preview, !halZSL); err != nil {
			return err
		}
		c.logger.Debug("Preview buffers allocated", "count", cfg.NumPreviewBuffers, "format", frameSize(cfg.Preview))
	} else {
		c.previewPool.markShared()
	}

	if halZSL {
		c.zslMu.Lock()
		c.zslPreviewFIFO = append(c.zslPreviewFIFO[:0], c.previewPool.buffers...)
		c.zslCaptureFIFO = c.zslCaptureFIFO[:0]
		c.zslMu.Unlock()
		if err := c.allocateHALZSLBuffers(cfg); err != nil {
			c.freePreviewBuffers()
			return err
		}
		return nil
	}

	if err := previewDev.SetBufferPool(c.previewPool.memory(), previewDev.Format(), true); err != nil {
		c.freePreviewBuffers()
		return unknownError("attach preview pool to "+previewID.String(), err)
	}
	return nil
}

func (c *Controller) allocateHALZSLBuffers(cfg Config) error {
	if err := c.halzslPool.allocate(numHALZSLBuffers, cfg.HALZSL, false); err != nil {
		return err
	}
	main := c.devices[DeviceMain]
	if err := main.SetBufferPool(c.halzslPool.memory(), main.Format(), false); err != nil {
		_ = c.halzslPool.free()
		return unknownError("attach HAL-ZSL pool", err)
	}
	c.logger.Debug("HAL-ZSL buffers allocated", "count", numHALZSLBuffers, "format", frameSize(cfg.HALZSL))
	return nil
}

func (c *Controller) allocateRecordingBuffers() error {
	cfg := c.Config()
	if c.recordingPool.empty() {
		if err := c.recordingPool.allocate(cfg.NumRecordingBuffers, cfg.Recording, false); err != nil {
			return err
		}
	}
	id, dev := c.roleDevice(RoleRecording)
	if err := dev.SetBufferPool(c.recordingPool.memory(), dev.Format(), false); err != nil {
		c.freeRecordingBuffers()
		return unknownError("attach recording pool to "+id.String(), err)
	}
	return nil
}

func (c *Controller) allocateSnapshotBuffers() error {
	cfg := c.Config()
	halZSL := c.HALZSL()

	if !c.clientSnapshots {
		if err := c.snapshotPool.allocate(cfg.NumSnapshots, cfg.Snapshot, true); err != nil {
			return err
		}
	}
	if !halZSL {
		main := c.devices[DeviceMain]
		if err := main.SetBufferPool(c.snapshotPool.memory(), main.Format(), true); err != nil {
			c.freeSnapshotBuffers()
			return unknownError("attach snapshot pool", err)
		}
	}

	if cfg.RawDump && !halZSL {
		return nil
	}
	needNew := halZSL || c.postviewPool.len() != cfg.NumSnapshots ||
		(c.postviewPool.len() > 0 && c.postviewPool.buffers[0].Format != cfg.Postview)
	if needNew {
		if err := c.postviewPool.allocate(cfg.NumSnapshots, cfg.Postview, true); err != nil {
			c.freeSnapshotBuffers()
			return err
		}
		c.postviewAllocated = true
	}
	if !halZSL {
		postview := c.devices[DevicePostview]
		if err := postview.SetBufferPool(c.postviewPool.memory(), postview.Format(), true); err != nil {
			c.freeSnapshotBuffers()
			c.freePostviewBuffers()
			return unknownError("attach postview pool", err)
		}
	}
	return nil
}

func (c *Controller) freePreviewBuffers() {
	if err := c.previewPool.free(); err != nil {
		c.logger.Warn("Free preview buffers failed", "error", err)
	}
	c.zslMu.Lock()
	c.zslPreviewFIFO = nil
	c.zslCaptureFIFO = nil
	c.zslMu.Unlock()
	if err := c.halzslPool.free(); err != nil {
		c.logger.Warn("Free HAL-ZSL buffers failed", "error", err)
	}
}

func (c *Controller) freeRecordingBuffers() {
	if err := c.recordingPool.free(); err != nil {
		c.logger.Warn("Free recording buffers failed", "error", err)
	}
}

// freeSnapshotBuffers is a no-op for caller-owned snapshot buffers.
func (c *Controller) freeSnapshotBuffers() {
	if c.clientSnapshots {
		return
	}
	if err := c.snapshotPool.free(); err != nil {
		c.logger.Warn("Free snapshot buffers failed", "error", err)
	}
}

func (c *Controller) freePostviewBuffers() {
	if err := c.postviewPool.free(); err != nil {
		c.logger.Warn("Free postview buffers failed", "error", err)
	}
	c.postviewAllocated = false
}

// SetGraphicPreviewBuffers adopts display-owned preview buffers. The
// count must equal the configured number of preview buffers.
func (c *Controller) SetGraphicPreviewBuffers(buffers []*Buffer) error {
	if len(buffers) == 0 {
		return NewError(CodeBadValue, "no graphic preview buffers", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.Config()
	if len(buffers) != cfg.NumPreviewBuffers {
		return NewError(CodeUnknownError, "graphic buffer count differs from preview buffer count",
			map[string]any{"got": len(buffers), "want": cfg.NumPreviewBuffers})
	}
	if c.Mode() != ModeNone {
		return invalidOperation("graphic buffers can only change while stopped", c.Mode())
	}
	for _, b := range buffers {
		if b != nil {
			b.kind = KindGraphic
		}
	}
	c.previewPool.detach()
	return c.previewPool.attachClientPool(buffers)
}

// SetSnapshotBuffers adopts caller-owned snapshot buffers.
func (c *Controller) SetSnapshotBuffers(buffers []*Buffer) error {
	if len(buffers) == 0 {
		return NewError(CodeBadValue, "no snapshot buffers", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Mode() == ModeCapture {
		return invalidOperation("snapshot buffers can only change outside capture", c.Mode())
	}
	for _, b := range buffers {
		if b != nil {
			b.kind = KindSnapshot
		}
	}
	c.snapshotPool.detach()
	if err := c.snapshotPool.attachClientPool(buffers); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.cfg.NumSnapshots = len(buffers)
	c.stateMu.Unlock()
	c.clientSnapshots = true
	return nil
}

// SetRecordingBuffers adopts caller-owned recording buffers.
func (c *Controller) SetRecordingBuffers(buffers []*Buffer) error {
	if len(buffers) == 0 {
		return NewError(CodeBadValue, "no recording buffers", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Mode() == ModeVideo {
		return invalidOperation("recording buffers can only change outside video", c.Mode())
	}
	for _, b := range buffers {
		if b != nil {
			b.kind = KindVideo
		}
	}
	c.recordingPool.detach()
	if err := c.recordingPool.attachClientPool(buffers); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.cfg.NumRecordingBuffers = len(buffers)
	c.stateMu.Unlock()
	return nil
}
