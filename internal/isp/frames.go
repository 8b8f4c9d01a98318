package isp

import (
	"fmt"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// stamp copies driver metadata into the slot handed to a caller.
func stamp(b *Buffer, f v4l2.Frame, session int) {
	b.ID = f.Index
	b.FrameCounter = f.Counter
	b.Session = session
	b.Timestamp = f.Timestamp
	b.Sequence = f.Sequence
	b.BytesUsed = f.BytesUsed
	b.Status = FrameOK
	if f.Corrupted {
		b.Status = FrameCorrupted
	}
}

// GetPreviewFrame dequeues the next preview frame. The caller owns the
// returned buffer until PutPreviewFrame.
func (c *Controller) GetPreviewFrame() (*Buffer, error) {
	st := c.state()
	if st.mode == ModeNone {
		return nil, invalidOperation("preview frame requested while stopped", st.mode)
	}
	dev, unlock := c.lockRole(RolePreview)
	defer unlock()

	if st.halZSL {
		return c.getHALZSLPreviewFrame(dev, st.session)
	}

	frame, err := dev.GrabFrame()
	if err != nil {
		return nil, NewErrorWithCause(CodeBadIndex, "dequeue preview frame", err, nil)
	}
	b, ok := c.previewPool.at(frame.Index)
	if !ok {
		return nil, NewError(CodeBadIndex, "preview index out of range", map[string]any{"index": frame.Index})
	}
	stamp(b, frame, st.session)
	c.queuedPreview.add(-1)
	return b, nil
}

// PutPreviewFrame re-queues a preview buffer. A buffer from an earlier
// session returns DEAD_OBJECT and leaves the counters untouched.
func (c *Controller) PutPreviewFrame(b *Buffer) error {
	st := c.state()
	if st.mode == ModeNone {
		return invalidOperation("preview frame returned while stopped", st.mode)
	}
	if b == nil || !b.PreviewLike() {
		return NewError(CodeBadValue, "not a preview buffer", nil)
	}
	dev, unlock := c.lockRole(RolePreview)
	defer unlock()

	// HAL-ZSL previews carry the session of the capture they were cut
	// from, whatever pool they belong to.
	if (st.halZSL || b.SessionBound()) && b.Session != st.session {
		return NewError(CodeDeadObject, "preview buffer from an earlier session",
			map[string]any{"buffer_session": b.Session, "session": st.session})
	}
	if b.ID < 0 {
		return NewError(CodeBadValue, "preview buffer is already queued", nil)
	}
	if st.halZSL {
		return c.putHALZSLPreviewFrame(b)
	}
	if err := dev.PutFrame(b.ID); err != nil {
		return unknownError(fmt.Sprintf("queue preview buffer %d", b.ID), err)
	}
	b.ID = -1
	c.queuedPreview.add(1)
	return nil
}

// GetRecordingFrame dequeues the next recording frame without blocking.
func (c *Controller) GetRecordingFrame() (*Buffer, error) {
	st := c.state()
	if st.mode != ModeVideo {
		return nil, invalidOperation("recording frame requested outside video", st.mode)
	}
	dev, unlock := c.lockRole(RoleRecording)
	defer unlock()

	if res, err := dev.Poll(0); err != nil || res != v4l2.PollReady {
		return nil, NewErrorWithCause(CodeNotEnoughData, "no recording frame ready", err, nil)
	}
	frame, err := dev.GrabFrame()
	if err != nil {
		return nil, NewErrorWithCause(CodeBadIndex, "dequeue recording frame", err, nil)
	}
	b, ok := c.recordingPool.at(frame.Index)
	if !ok {
		return nil, NewError(CodeBadIndex, "recording index out of range", map[string]any{"index": frame.Index})
	}
	stamp(b, frame, st.session)
	c.queuedRecording.add(-1)
	return b, nil
}

// PutRecordingFrame re-queues a recording buffer.
func (c *Controller) PutRecordingFrame(b *Buffer) error {
	st := c.state()
	if st.mode != ModeVideo {
		return invalidOperation("recording frame returned outside video", st.mode)
	}
	if b == nil {
		return NewError(CodeBadValue, "nil recording buffer", nil)
	}
	dev, unlock := c.lockRole(RoleRecording)
	defer unlock()

	if b.Session != st.session {
		return NewError(CodeDeadObject, "recording buffer from an earlier session",
			map[string]any{"buffer_session": b.Session, "session": st.session})
	}
	if b.ID < 0 {
		return NewError(CodeBadValue, "recording buffer is already queued", nil)
	}
	if err := dev.PutFrame(b.ID); err != nil {
		return unknownError(fmt.Sprintf("queue recording buffer %d", b.ID), err)
	}
	b.ID = -1
	c.queuedRecording.add(1)
	return nil
}

// ReturnRecordingBuffers re-queues every recording buffer callers still
// hold, such as frames kept across a recording pause.
func (c *Controller) ReturnRecordingBuffers() error {
	st := c.state()
	if st.mode != ModeVideo {
		return invalidOperation("return recording buffers outside video", st.mode)
	}
	dev, unlock := c.lockRole(RoleRecording)
	defer unlock()

	for _, b := range c.recordingPool.buffers {
		if b.Shared || b.Data == nil {
			return NewError(CodeUnknownError, "recording pool is not owned here", nil)
		}
	}
	for _, b := range c.recordingPool.buffers {
		if b.ID == -1 {
			continue
		}
		if err := dev.PutFrame(b.ID); err != nil {
			return unknownError(fmt.Sprintf("queue recording buffer %d", b.ID), err)
		}
		b.ID = -1
		c.queuedRecording.add(1)
	}
	return nil
}

// GetSnapshot dequeues a snapshot and its postview. Postview is nil in
// raw dump mode.
func (c *Controller) GetSnapshot() (snapshot, postview *Buffer, err error) {
	st := c.state()
	if st.mode != ModeCapture && st.mode != ModeContinuous {
		return nil, nil, invalidOperation("snapshot requested outside capture", st.mode)
	}
	if st.halZSL && !c.postviewPool.empty() {
		return c.getHALZSLSnapshot(st.session)
	}

	c.devLocks[DeviceMain].Lock()
	defer c.devLocks[DeviceMain].Unlock()
	main := c.devices[DeviceMain]

	frame, err := main.GrabFrame()
	if err != nil {
		return nil, nil, NewErrorWithCause(CodeBadIndex, "dequeue snapshot", err, nil)
	}
	snapshot, ok := c.snapshotPool.at(frame.Index)
	if !ok {
		return nil, nil, NewError(CodeBadIndex, "snapshot index out of range", map[string]any{"index": frame.Index})
	}

	pv := c.devices[DevicePostview]
	withPostview := !c.Config().RawDump && pv != nil && pv.State() == v4l2.StateStarted
	var pframe v4l2.Frame
	if withPostview {
		pframe, err = pv.GrabFrame()
		if err != nil {
			_ = main.PutFrame(frame.Index)
			return nil, nil, NewErrorWithCause(CodeBadIndex, "dequeue postview", err, nil)
		}
		if pframe.Index != frame.Index {
			_ = main.PutFrame(frame.Index)
			_ = pv.PutFrame(pframe.Index)
			return nil, nil, NewError(CodeBadIndex, "snapshot and postview indexes differ",
				map[string]any{"snapshot": frame.Index, "postview": pframe.Index})
		}
		postview, ok = c.postviewPool.at(pframe.Index)
		if !ok {
			_ = main.PutFrame(frame.Index)
			_ = pv.PutFrame(pframe.Index)
			return nil, nil, NewError(CodeBadIndex, "postview index out of range", map[string]any{"index": pframe.Index})
		}
		stamp(postview, pframe, st.session)
	}
	stamp(snapshot, frame, st.session)
	c.queuedCapture.add(-1)
	return snapshot, postview, nil
}

// PutSnapshot re-queues a snapshot and its postview.
func (c *Controller) PutSnapshot(snapshot, postview *Buffer) error {
	st := c.state()
	if st.mode != ModeCapture && st.mode != ModeContinuous {
		return invalidOperation("snapshot returned outside capture", st.mode)
	}
	if snapshot == nil {
		return NewError(CodeBadValue, "nil snapshot buffer", nil)
	}
	if st.halZSL {
		return nil
	}
	if snapshot.Session != st.session {
		return NewError(CodeDeadObject, "snapshot from an earlier session",
			map[string]any{"buffer_session": snapshot.Session, "session": st.session})
	}

	c.devLocks[DeviceMain].Lock()
	defer c.devLocks[DeviceMain].Unlock()
	if err := c.devices[DeviceMain].PutFrame(snapshot.ID); err != nil {
		return unknownError(fmt.Sprintf("queue snapshot %d", snapshot.ID), err)
	}
	snapshot.ID = -1
	if postview != nil && !c.Config().RawDump {
		if err := c.devices[DevicePostview].PutFrame(postview.ID); err != nil {
			return unknownError(fmt.Sprintf("queue postview %d", postview.ID), err)
		}
		postview.ID = -1
	}
	c.queuedCapture.add(1)
	return nil
}

// DataAvailable reports whether the active mode has frames queued to
// the driver, so a dequeue can eventually complete.
func (c *Controller) DataAvailable() bool {
	switch c.Mode() {
	case ModeVideo:
		return c.queuedRecording.value() > 0 && c.queuedPreview.value() > 0
	case ModeCapture:
		return c.queuedCapture.value() > 0
	case ModePreview, ModeContinuous:
		return c.queuedPreview.value() > 0
	default:
		return false
	}
}

// PollPreview waits up to timeoutMs for a preview frame.
func (c *Controller) PollPreview(timeoutMs int) (v4l2.PollResult, error) {
	_, dev := c.roleDevice(RolePreview)
	return dev.Poll(timeoutMs)
}

// PollRecording waits up to timeoutMs for a recording frame.
func (c *Controller) PollRecording(timeoutMs int) (v4l2.PollResult, error) {
	_, dev := c.roleDevice(RoleRecording)
	return dev.Poll(timeoutMs)
}

// PollCapture waits up to timeoutMs for a snapshot. On the HAL-ZSL path a
// non-empty capture FIFO is ready at once.
func (c *Controller) PollCapture(timeoutMs int) (v4l2.PollResult, error) {
	if c.HALZSL() {
		c.zslMu.Lock()
		n := len(c.zslCaptureFIFO)
		c.zslMu.Unlock()
		if n > 0 {
			return v4l2.PollReady, nil
		}
	}
	return c.devices[DeviceMain].Poll(timeoutMs)
}

// PausePreview halts the preview stream but keeps its buffers bound.
func (c *Controller) PausePreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.Mode(); m != ModePreview && m != ModeVideo && m != ModeContinuous {
		return invalidOperation("pause preview without a preview stream", m)
	}
	id, dev := c.roleDevice(RolePreview)
	c.devLocks[id].Lock()
	defer c.devLocks[id].Unlock()
	if err := dev.Stop(true); err != nil {
		return unknownError("pause preview on "+id.String(), err)
	}
	c.previewPool.markQueued()
	c.queuedPreview.set(0)
	return nil
}

// ResumePreview restarts a paused preview stream with every buffer queued.
func (c *Controller) ResumePreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.Mode(); m != ModePreview && m != ModeVideo && m != ModeContinuous {
		return invalidOperation("resume preview without a preview stream", m)
	}
	count := c.Config().NumPreviewBuffers
	if c.HALZSL() {
		count = numHALZSLBuffers
	}
	id, dev := c.roleDevice(RolePreview)
	c.devLocks[id].Lock()
	defer c.devLocks[id].Unlock()
	if err := dev.Start(count, 0); err != nil {
		return unknownError("resume preview on "+id.String(), err)
	}
	c.queuedPreview.set(count)
	return nil
}
