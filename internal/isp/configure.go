package isp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/smazurov/ispnode/internal/metrics"
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Configure opens and configures the devices needed by mode. It must be
// followed by AllocateBuffers and Start. On failure the mode stays
// ModeNone and every device opened by the attempt is closed.
func (c *Controller) Configure(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.Mode(); cur != ModeNone {
		return invalidOperation("configure while streaming", cur)
	}
	if mode == ModeNone {
		return NewError(CodeBadValue, "cannot configure mode none", nil)
	}
	c.logger.Info("Configuring", "mode", mode.String())

	c.setHALZSL(false)
	if c.fileInject {
		if err := c.startFileInject(); err != nil {
			return c.failConfigure(mode, err)
		}
	}

	cfg := c.Config()
	if err := c.applyISPLimitations(mode); err != nil {
		return c.failConfigure(mode, err)
	}

	var err error
	switch mode {
	case ModePreview:
		err = c.configurePreview(&cfg)
	case ModeVideo:
		err = c.configureRecording(&cfg)
	case ModeCapture:
		err = c.configureCapture(&cfg)
	case ModeContinuous:
		err = c.configureContinuous(&cfg)
	default:
		err = NewError(CodeBadValue, "unknown mode", map[string]any{"mode": int(mode)})
	}
	if err != nil {
		return c.failConfigure(mode, err)
	}

	if err := c.sensor.Prepare(mode == ModeCapture); err != nil {
		c.logger.Warn("Sensor prepare failed", "error", err)
	}
	if fps, ferr := c.sensor.Framerate(); ferr == nil && fps > 0 {
		cfg.FPS = fps
	}
	c.initialSkips = c.numSkipFrames()
	c.statisticSkips = c.platform.StatisticsInitialSkip()

	c.stateMu.Lock()
	c.cfg = cfg
	c.mode = mode
	c.stateMu.Unlock()
	metrics.SetISPMode(mode.String())
	c.logger.Info("Configured", "mode", mode.String(), "fps", cfg.FPS,
		"initial_skips", c.initialSkips, "statistics_skips", c.statisticSkips)
	return nil
}

// failConfigure closes everything the attempt opened and reports err.
// NOT_SUPPORTED and BAD_VALUE pass through, the rest become UNKNOWN_ERROR.
func (c *Controller) failConfigure(mode Mode, err error) error {
	c.logger.Error("Configure failed", "mode", mode.String(), "error", err)
	metrics.IncISPTransitionFailures(mode.String(), "configure")

	c.setHALZSL(false)
	c.mutateRoles(func(t *roleTable) { t.reset() })
	c.recordingSwapped = false
	for _, id := range []DeviceID{DevicePreview, DevicePostview, DeviceRecording} {
		c.closeDevice(id)
	}
	_ = c.snapshotPool.free()
	c.postviewAllocated = false
	_ = c.postviewPool.free()
	if c.fileInject {
		c.stopFileInject()
	}
	c.publishMode(ModeNone, ModeNone, err)

	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeNotSupported, CodeBadValue, CodeInvalidOperation, CodeUnknownError:
			return err
		}
	}
	return unknownError(fmt.Sprintf("configure %s", mode), err)
}

func (c *Controller) numSkipFrames() int {
	v, err := c.devices[DeviceMain].GetControl(CIDSkipFrames)
	if err != nil || v < 0 {
		return 0
	}
	return int(v)
}

func (c *Controller) configurePreview(cfg *Config) error {
	id := DevicePreview
	if c.previewTooBig {
		id = DeviceMain
	}
	c.mutateRoles(func(t *roleTable) { t.assign(RolePreview, id) })
	if err := c.openDevice(id); err != nil {
		return err
	}
	if err := c.configureDevice(id, ciModePreview, &cfg.Preview, false, cfg); err != nil {
		return err
	}
	return c.applyZoom(cfg.Zoom)
}

func (c *Controller) configureRecording(cfg *Config) error {
	if err := c.openDevice(DevicePreview); err != nil {
		return err
	}
	if err := c.openDevice(DeviceRecording); err != nil {
		return err
	}

	prevCfg, recCfg := &cfg.Preview, &cfg.Recording
	if c.swapRecording {
		prevCfg, recCfg = recCfg, prevCfg
	}
	if err := c.configureDevice(DeviceRecording, ciModeVideo, recCfg, false, cfg); err != nil {
		return err
	}

	if c.previewTooBig {
		// Preview frames come from the recording stream, the preview node
		// only needs the smallest format it accepts.
		*prevCfg = NewFrameConfig(qcifWidth, qcifHeight, prevCfg.PixelFormat)
		if err := c.configureDevice(DevicePreview, ciModeVideo, prevCfg, false, cfg); err != nil {
			return err
		}
		*prevCfg = *recCfg
	} else if err := c.configureDevice(DevicePreview, ciModeVideo, prevCfg, false, cfg); err != nil {
		return err
	}

	if c.swapRecording {
		c.mutateRoles(func(t *roleTable) { t.swap(RolePreview, RoleRecording) })
		c.recordingSwapped = true
		c.logger.Info("Preview and recording devices swapped")
	}
	return c.applyZoom(cfg.Zoom)
}

func (c *Controller) configureCapture(cfg *Config) error {
	if err := c.openDevice(DeviceMain); err != nil {
		return err
	}
	if err := c.configureDevice(DeviceMain, ciModeStill, &cfg.Snapshot, cfg.RawDump, cfg); err != nil {
		return err
	}
	if !cfg.RawDump {
		if err := c.openDevice(DevicePostview); err != nil {
			return err
		}
		if err := c.configureDevice(DevicePostview, ciModeStill, &cfg.Postview, false, cfg); err != nil {
			return err
		}
	}
	return c.applyZoom(cfg.Zoom)
}

func (c *Controller) configureContinuous(cfg *Config) error {
	if !c.contPrepared {
		return unknownError("continuous capture not prepared", nil)
	}
	if !c.sensor.IsRaw() {
		return c.configureContinuousSOC(cfg)
	}

	if err := c.configureContinuousMode(true, cfg); err != nil {
		return err
	}
	if err := c.configureContinuousRingBuffer(); err != nil {
		return err
	}
	if err := c.configureDevice(DeviceMain, ciModePreview, &cfg.Snapshot, false, cfg); err != nil {
		return err
	}
	captureFPS := cfg.FPS
	if err := c.configurePreview(cfg); err != nil {
		return err
	}
	cfg.FPS = captureFPS

	if err := c.openDevice(DevicePostview); err != nil {
		return err
	}
	return c.configureDevice(DevicePostview, ciModePreview, &cfg.Postview, false, cfg)
}

// configureContinuousSOC sets up the HAL-managed ZSL path: the main
// device streams full-resolution frames and doubles as preview.
func (c *Controller) configureContinuousSOC(cfg *Config) error {
	cfg.Zoom = 0
	if err := c.applyZoom(0); err != nil {
		return err
	}
	c.setHALZSL(true)
	c.mutateRoles(func(t *roleTable) { t.assign(RolePreview, DeviceMain) })
	if err := c.openDevice(DeviceMain); err != nil {
		return err
	}

	w, h := c.platform.HALZSLResolution()
	if w <= 0 || h <= 0 {
		w, h = int(cfg.Snapshot.Width), int(cfg.Snapshot.Height)
	}
	cfg.HALZSL = NewFrameConfig(w, h, c.platform.PreviewPixelFormat())
	// The main node stays open on failure; failConfigure only undoes the
	// role swap and the HAL-ZSL flag.
	if err := c.configureDevice(DeviceMain, ciModePreview, &cfg.HALZSL, false, cfg); err != nil {
		return err
	}
	c.logger.Info("HAL-ZSL configured", "capture", frameSize(cfg.HALZSL), "preview", frameSize(cfg.Preview))
	return nil
}

// configureDevice sets capture mode, sensor flip and format on one node.
// f is updated with what the driver accepted.
func (c *Controller) configureDevice(id DeviceID, ciMode uint32, f *FrameConfig, raw bool, cfg *Config) error {
	if f.Width == 0 || f.Height == 0 {
		return NewError(CodeBadValue, "zero frame size", map[string]any{"device": id.String()})
	}
	dev := c.devices[id]
	if err := dev.SetCaptureMode(ciMode); err != nil {
		return unknownError(fmt.Sprintf("set capture mode 0x%x on %s", ciMode, id), err)
	}

	if id == DeviceMain || id == DevicePreview || id == DeviceRecording {
		c.applySensorFlip(dev)
		fps := math.Max(cfg.PreviewFPS, cfg.RecordingFPS)
		if fps > DefaultPreviewFPS {
			cfg.FPS = fps
		} else {
			cfg.FPS = DefaultSensorFPS
		}
	}

	if raw {
		*f = NewFrameConfig(int(f.Width), int(f.Height), c.sensor.RawFormat())
	}
	if err := dev.SetFormat(f); err != nil {
		return unknownError(fmt.Sprintf("set format %s on %s", frameSize(*f), id), err)
	}
	c.logger.Debug("Device configured", "device", id.String(), "format", frameSize(*f),
		"stride", f.BytesPerLine, "size", f.SizeImage)
	return nil
}

func (c *Controller) applySensorFlip(dev Device) {
	h, v := c.sensor.Flip()
	if err := dev.SetControl(CIDHFlip, boolControl(h), "Horizontal flip"); err != nil {
		c.logger.Debug("Horizontal flip not applied", "error", err)
	}
	if err := dev.SetControl(CIDVFlip, boolControl(v), "Vertical flip"); err != nil {
		c.logger.Debug("Vertical flip not applied", "error", err)
	}
}

func boolControl(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (c *Controller) startFileInject() error {
	dev := c.devices[DeviceInject]
	if err := c.openDevice(DeviceInject); err != nil {
		return err
	}
	if dev.State() == v4l2.StateStarted {
		return nil
	}
	f := c.Config().Preview
	if err := dev.SetFormat(&f); err != nil {
		return unknownError("configure inject device", err)
	}
	data, err := c.alloc.Alloc(int(f.SizeImage))
	if err != nil {
		return NewErrorWithCause(CodeNoMemory, "allocate inject buffer", err, nil)
	}
	c.injectBuf = data
	if err := dev.SetBufferPool([][]byte{data}, f, true); err != nil {
		return unknownError("attach inject buffer", err)
	}
	if err := dev.Start(1, 0); err != nil {
		return unknownError("start inject device", err)
	}
	c.logger.Info("File injection started")
	return nil
}

func (c *Controller) stopFileInject() {
	if err := c.stopDevice(DeviceInject, false); err != nil {
		c.logger.Warn("Stop file injection failed", "error", err)
	}
	c.closeDevice(DeviceInject)
	if c.injectBuf != nil {
		_ = c.alloc.Free(c.injectBuf)
		c.injectBuf = nil
	}
}

// waitDuration is the bounded wait of retries starvation intervals.
func (c *Controller) waitDuration(retries int) time.Duration {
	return time.Duration(retries) * c.starvingWait
}
