package isp

import (
	"fmt"
	"time"
)

// HAL-ZSL serves continuous capture on sensors without a driver RAW ring
// buffer. The main device streams full-resolution frames into the
// HAL-ZSL pool and doubles as the preview device. Each dequeued capture
// frame is scaled into a preview buffer and parked on the capture FIFO
// so a snapshot can be cut from the recent past. Returned preview
// buffers wait on the preview FIFO.
//
// Both FIFOs are guarded by zslMu, always taken inside the device lock.

// waitForHALZSLBuffer waits until fifo is non-empty or the retry budget
// runs out. The caller holds zslMu and devLock; both are released while
// waiting and retaken device first.
func (c *Controller) waitForHALZSLBuffer(fifo *[]*Buffer, devLock *rankedMutex) bool {
	if len(*fifo) > 0 {
		return true
	}
	timeout := c.waitDuration(c.zslRetryCount)
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.zslMu.Lock()
		c.zslCond.Broadcast()
		c.zslMu.Unlock()
	})
	defer timer.Stop()

	c.logger.Warn("Starving for HAL-ZSL buffers", "timeout", timeout)
	for len(*fifo) == 0 {
		if !time.Now().Before(deadline) {
			return false
		}
		devLock.Unlock()
		c.zslCond.Wait()
		c.zslMu.Unlock()
		devLock.Lock()
		c.zslMu.Lock()
	}
	return true
}

func (c *Controller) zoomFactor() float64 {
	return float64(zoomRatioBase+c.Config().Zoom) / zoomRatioBase
}

// getHALZSLPreviewFrame runs with the main device lock held.
func (c *Controller) getHALZSLPreviewFrame(dev Device, session int) (*Buffer, error) {
	frame, err := dev.GrabFrame()
	if err != nil {
		return nil, NewErrorWithCause(CodeBadIndex, "dequeue HAL-ZSL frame", err, nil)
	}
	capture, ok := c.halzslPool.at(frame.Index)
	if !ok {
		return nil, NewError(CodeBadIndex, "HAL-ZSL index out of range", map[string]any{"index": frame.Index})
	}
	c.queuedPreview.add(-1)
	stamp(capture, frame, session)

	c.zslMu.Lock()
	defer c.zslMu.Unlock()

	if !c.waitForHALZSLBuffer(&c.zslPreviewFIFO, &c.devLocks[DeviceMain]) {
		c.requeueCapture(dev, capture)
		return nil, unknownError("no preview buffer returned in time", nil)
	}
	preview := c.zslPreviewFIFO[0]
	c.zslPreviewFIFO = c.zslPreviewFIFO[1:]

	if capture.Status != FrameCorrupted {
		if err := c.copyOrScale(capture, nil, preview); err != nil {
			c.logger.Warn("HAL-ZSL preview scaling failed", "error", err)
			capture.Status = FrameCorrupted
		}
	}
	preview.copyMetadata(capture)
	preview.ID = c.previewSlot(preview)

	c.zslCaptureFIFO = append(c.zslCaptureFIFO, capture)
	c.zslCond.Broadcast()
	return preview, nil
}

// putHALZSLPreviewFrame runs with the main device lock held. It returns
// the oldest capture frame to the driver once the FIFO exceeds its bound.
func (c *Controller) putHALZSLPreviewFrame(b *Buffer) error {
	c.zslMu.Lock()
	defer c.zslMu.Unlock()

	b.ID = -1
	c.zslPreviewFIFO = append(c.zslPreviewFIFO, b)
	c.zslCond.Broadcast()

	for len(c.zslCaptureFIFO) > maxHALZSLBuffersHeldInHAL {
		oldest := c.zslCaptureFIFO[0]
		c.zslCaptureFIFO = c.zslCaptureFIFO[1:]
		if err := c.devices[DeviceMain].PutFrame(oldest.ID); err != nil {
			return unknownError(fmt.Sprintf("queue HAL-ZSL buffer %d", oldest.ID), err)
		}
		oldest.ID = -1
		c.queuedPreview.add(1)
	}
	return nil
}

// getHALZSLSnapshot cuts a snapshot and postview from the oldest capture
// frame and returns that frame to the driver.
func (c *Controller) getHALZSLSnapshot(session int) (*Buffer, *Buffer, error) {
	c.devLocks[DeviceMain].Lock()
	defer c.devLocks[DeviceMain].Unlock()
	c.zslMu.Lock()
	defer c.zslMu.Unlock()

	if !c.waitForHALZSLBuffer(&c.zslCaptureFIFO, &c.devLocks[DeviceMain]) {
		return nil, nil, unknownError("no HAL-ZSL capture frame in FIFO", nil)
	}
	snapshot, ok := c.snapshotPool.at(0)
	if !ok {
		return nil, nil, invalidOperation("no snapshot buffer allocated", ModeContinuous)
	}
	postview, ok := c.postviewPool.at(0)
	if !ok {
		return nil, nil, invalidOperation("no postview buffer allocated", ModeContinuous)
	}

	capture := c.zslCaptureFIFO[0]
	c.zslCaptureFIFO = c.zslCaptureFIFO[1:]
	match := c.matchingPreview(capture.FrameCounter)
	c.logger.Debug("HAL-ZSL snapshot", "frame_counter", capture.FrameCounter, "preview_match", match != nil)

	var err error
	if err = c.copyOrScale(capture, match, snapshot); err == nil {
		err = c.copyOrScale(capture, match, postview)
	}
	c.requeueCapture(c.devices[DeviceMain], capture)
	if err != nil {
		return nil, nil, unknownError("HAL-ZSL snapshot", err)
	}

	for _, b := range []*Buffer{snapshot, postview} {
		b.copyMetadata(capture)
		b.Session = session
		b.ID = 0
	}
	return snapshot, postview, nil
}

func (c *Controller) requeueCapture(dev Device, capture *Buffer) {
	if err := dev.PutFrame(capture.ID); err != nil {
		c.logger.Warn("Requeue HAL-ZSL buffer failed", "index", capture.ID, "error", err)
		return
	}
	capture.ID = -1
	c.queuedPreview.add(1)
}

// matchingPreview finds a returned preview buffer cut from the same
// capture frame. Caller holds zslMu.
func (c *Controller) matchingPreview(frameCounter int) *Buffer {
	for _, b := range c.zslPreviewFIFO {
		if b.FrameCounter == frameCounter {
			return b
		}
	}
	return nil
}

func (c *Controller) previewSlot(b *Buffer) int {
	for i, p := range c.previewPool.buffers {
		if p == b {
			return i
		}
	}
	return 0
}

// copyOrScale fills target from a capture frame. A plain copy is used
// when the target already has the capture geometry at zoom 1.0, or when
// a same-format preview of the same frame exists at the target size.
func (c *Controller) copyOrScale(capture, match, target *Buffer) error {
	if !capture.ZSLEligible() || !target.Scalable() {
		return NewError(CodeBadValue, "buffer cannot take part in HAL-ZSL scaling",
			map[string]any{"source": capture.Kind().String(), "target": target.Kind().String()})
	}
	cfg := c.Config()
	zoom := c.zoomFactor()
	tf := target.Format

	switch {
	case zoom == 1 && tf.PixelFormat == cfg.HALZSL.PixelFormat &&
		tf.Width == cfg.HALZSL.Width && tf.Height == cfg.HALZSL.Height:
		copy(target.Data, capture.Data)
		return nil
	case match != nil && tf.Width == cfg.Preview.Width && tf.Height == cfg.Preview.Height &&
		tf.PixelFormat == cfg.HALZSL.PixelFormat:
		copy(target.Data, match.Data)
		return nil
	}
	if c.scaler == nil {
		return NewError(CodeUnknownError, "no scaler configured", nil)
	}
	return c.scaler.ScaleAndZoom(capture, target, zoom)
}
