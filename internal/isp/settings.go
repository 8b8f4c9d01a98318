package isp

import (
	"fmt"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

func (c *Controller) setFrameConfig(target *FrameConfig, width, height int, fourcc uint32) error {
	if width <= 0 || height <= 0 {
		return NewError(CodeBadValue, "invalid frame size", map[string]any{"width": width, "height": height})
	}
	if c.Mode() != ModeNone {
		return invalidOperation("stream formats can only change while stopped", c.Mode())
	}
	c.stateMu.Lock()
	*target = NewFrameConfig(width, height, fourcc)
	c.stateMu.Unlock()
	return nil
}

// SetPreviewFrameFormat sets the preview stream format.
func (c *Controller) SetPreviewFrameFormat(width, height int, fourcc uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setFrameConfig(&c.cfg.Preview, width, height, fourcc)
}

// SetVideoFrameFormat sets the recording stream format.
func (c *Controller) SetVideoFrameFormat(width, height int, fourcc uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setFrameConfig(&c.cfg.Recording, width, height, fourcc)
}

// SetSnapshotFrameFormat sets the still capture format.
func (c *Controller) SetSnapshotFrameFormat(width, height int, fourcc uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setFrameConfig(&c.cfg.Snapshot, width, height, fourcc)
}

// SetPostviewFrameFormat sets the postview format.
func (c *Controller) SetPostviewFrameFormat(width, height int, fourcc uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setFrameConfig(&c.cfg.Postview, width, height, fourcc)
}

// SetPreviewFramerate sets the target preview rate used for frame skipping.
func (c *Controller) SetPreviewFramerate(fps float64) {
	c.stateMu.Lock()
	c.cfg.PreviewFPS = fps
	c.stateMu.Unlock()
}

// SetRecordingFramerate sets the target recording rate. 0 follows preview.
func (c *Controller) SetRecordingFramerate(fps float64) {
	c.stateMu.Lock()
	c.cfg.RecordingFPS = fps
	c.stateMu.Unlock()
}

// SetSnapshotNum sets how many snapshot buffers a capture queues.
func (c *Controller) SetSnapshotNum(n int) error {
	if n <= 0 {
		return NewError(CodeBadValue, "snapshot count must be positive", map[string]any{"count": n})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateMu.Lock()
	c.cfg.NumSnapshots = n
	c.stateMu.Unlock()
	return nil
}

// SetRawDump selects unprocessed sensor capture.
func (c *Controller) SetRawDump(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateMu.Lock()
	c.cfg.RawDump = on
	c.stateMu.Unlock()
}

// applyISPLimitations decides the device swaps for the next configure.
//
// A preview larger than the video stream cannot be downscaled on the
// preview path, so preview and recording devices swap. A preview the
// viewfinder postprocessor cannot sustain is served from the main device
// outside video mode, and by swapping devices in video mode. A preview
// larger than video while video itself exceeds the postprocessor is not
// supported.
func (c *Controller) applyISPLimitations(mode Mode) error {
	prev, rec := c.cfg.Preview, c.cfg.Recording
	videoMode := mode == ModeVideo
	swapForSize := false

	if videoMode {
		if prev.Width*prev.Height > rec.Width*rec.Height {
			swapForSize = true
			c.logger.Debug("Video smaller than preview, swapping preview and recording devices",
				"video", frameSize(rec), "preview", frameSize(prev))
		}
	}
	c.swapRecording = swapForSize

	if c.platform.ResolutionSupportedByVFPP(int(prev.Width), int(prev.Height)) {
		c.previewTooBig = false
		return nil
	}
	if !videoMode {
		c.previewTooBig = true
		return nil
	}
	if swapForSize {
		c.previewTooBig = false
		if !c.platform.ResolutionSupportedByVFPP(int(rec.Width), int(rec.Height)) {
			return NewError(CodeNotSupported, "preview larger than video with video beyond the viewfinder postprocessor",
				map[string]any{"preview": frameSize(prev), "video": frameSize(rec)})
		}
		return nil
	}
	c.previewTooBig = true
	c.swapRecording = true
	if prev.Width*prev.Height != rec.Width*rec.Height {
		c.logger.Error("Preview too big for the postprocessor and differs from video",
			"preview", frameSize(prev), "video", frameSize(rec))
	}
	return nil
}

func frameSize(f FrameConfig) string {
	return fmt.Sprintf("%s %dx%d", v4l2.FormatFourCC(f.PixelFormat), f.Width, f.Height)
}
