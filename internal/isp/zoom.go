package isp

// SetZoom sets the digital zoom control, 0 to MaxZoom. The ratio is
// (100 + zoom) / 100, so MaxZoom is 16x. The value is kept for the next
// configure when no stream is active.
func (c *Controller) SetZoom(zoom int) error {
	if zoom < 0 || zoom > MaxZoom {
		return NewError(CodeBadValue, "zoom out of range", map[string]any{"zoom": zoom, "max": MaxZoom})
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.HALZSL() && zoom != 0 {
		return NewError(CodeNotSupported, "zoom is fixed while HAL-ZSL is active", nil)
	}
	if c.Config().Zoom == zoom {
		return nil
	}
	if c.Mode() != ModeNone {
		if err := c.applyZoom(zoom); err != nil {
			return err
		}
	}
	c.stateMu.Lock()
	c.cfg.Zoom = zoom
	c.stateMu.Unlock()
	c.logger.Info("Zoom set", "zoom", zoom, "ratio", zoomRatioBase+zoom)
	return nil
}

// applyZoom writes the zoom control. Capture applies zoom at configure
// time only.
func (c *Controller) applyZoom(zoom int) error {
	if c.Mode() == ModeCapture {
		return nil
	}
	main := c.devices[DeviceMain]
	if !main.IsOpen() {
		return nil
	}
	if err := main.SetControl(CIDZoomAbsolute, int32(zoom), "Zoom"); err != nil {
		return unknownError("set zoom", err)
	}
	return nil
}

// SetTorch turns the torch on at level (1-100) or off at 0. The level
// is restored on every start and the torch is turned off on stop.
func (c *Controller) SetTorch(level int) error {
	if level < 0 || level > 100 {
		return NewError(CodeBadValue, "torch level out of range", map[string]any{"level": level})
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.torchLevel = level
	if c.Mode() == ModeNone {
		return nil
	}
	return c.setTorchLocked(level)
}

func (c *Controller) setTorchLocked(level int) error {
	main := c.devices[DeviceMain]
	if level == 0 {
		if err := main.SetControl(CIDFlashMode, flashModeOff, "Flash mode"); err != nil {
			return unknownError("torch off", err)
		}
		c.flashOn.Store(false)
		return nil
	}
	if err := main.SetControl(CIDTorchLevel, int32(level), "Torch intensity"); err != nil {
		return unknownError("torch intensity", err)
	}
	if err := main.SetControl(CIDFlashMode, flashModeTorch, "Flash mode"); err != nil {
		return unknownError("torch on", err)
	}
	c.flashOn.Store(true)
	return nil
}
