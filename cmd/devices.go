// Package cmd holds the ispnode subcommands.
package cmd

import (
	"log/slog"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/isp/isptest"
	"github.com/spf13/pflag"
)

// DeviceConfig selects and describes the capture hardware.
type DeviceConfig struct {
	Paths        isp.DevicePaths
	Simulate     bool
	SensorName   string
	SensorRaw    bool
	SensorFPS    float64
	CSSMajor     int
	RingBufMax   int
	PreviewBufs  int
	RecordingBuf int
	Snapshots    int
	PreviewFPS   float64
}

// DefaultDeviceConfig returns the device nodes of the first AtomISP instance.
func DefaultDeviceConfig() DeviceConfig {
	def := isp.DefaultConfig()
	return DeviceConfig{
		Paths: isp.DevicePaths{
			Main:      "/dev/video0",
			Postview:  "/dev/video1",
			Preview:   "/dev/video2",
			Recording: "/dev/video3",
		},
		SensorName:   "primary",
		SensorRaw:    true,
		SensorFPS:    def.FPS,
		CSSMajor:     1,
		RingBufMax:   10,
		PreviewBufs:  def.NumPreviewBuffers,
		RecordingBuf: def.NumRecordingBuffers,
		Snapshots:    def.NumSnapshots,
		PreviewFPS:   def.PreviewFPS,
	}
}

// registerDeviceFlags binds the device flags shared by the capture subcommands.
func registerDeviceFlags(fs *pflag.FlagSet, c *DeviceConfig) {
	fs.BoolVar(&c.Simulate, "simulate", c.Simulate, "Use simulated devices instead of V4L2 nodes")
	fs.StringVar(&c.Paths.Main, "main-device", c.Paths.Main, "Main (capture) video node")
	fs.StringVar(&c.Paths.Postview, "postview-device", c.Paths.Postview, "Postview video node")
	fs.StringVar(&c.Paths.Preview, "preview-device", c.Paths.Preview, "Preview video node")
	fs.StringVar(&c.Paths.Recording, "recording-device", c.Paths.Recording, "Recording video node")
	fs.StringVar(&c.Paths.Inject, "inject-device", c.Paths.Inject, "File injection output node")
	fs.StringVar(&c.Paths.ISP, "isp-subdev", c.Paths.ISP, "ISP subdevice for 3A statistics events")
	fs.Float64Var(&c.SensorFPS, "sensor-fps", c.SensorFPS, "Sensor frame rate")
}

// NewController builds a controller over V4L2 nodes, or over simulated
// devices when Simulate is set. The controller is not yet initialized.
func NewController(c DeviceConfig, bus *events.Bus, logger *slog.Logger) (*isp.Controller, error) {
	cfg := isp.DefaultConfig()
	if c.PreviewBufs > 0 {
		cfg.NumPreviewBuffers = c.PreviewBufs
	}
	if c.RecordingBuf > 0 {
		cfg.NumRecordingBuffers = c.RecordingBuf
	}
	if c.Snapshots > 0 {
		cfg.NumSnapshots = c.Snapshots
	}
	if c.SensorFPS > 0 {
		cfg.FPS = c.SensorFPS
	}
	if c.PreviewFPS > 0 {
		cfg.PreviewFPS = c.PreviewFPS
		cfg.RecordingFPS = c.PreviewFPS
	}

	var opts isp.Options
	if c.Simulate {
		opts, _ = isptest.Options()
		sensor := isptest.NewSensor()
		sensor.FPS = cfg.FPS
		sensor.Raw = c.SensorRaw
		opts.Sensor = sensor
		platform := isptest.DefaultPlatform()
		platform.CSSMajor = c.CSSMajor
		platform.RingBufferMax = c.RingBufMax
		opts.Platform = platform
	} else {
		board := isp.DefaultBoard()
		board.CSSMajor = c.CSSMajor
		board.RingBufferMax = c.RingBufMax
		opts = isp.Options{
			Devices:       isp.NewV4L2Devices(c.Paths),
			Sensor:        &isp.DriverSensor{SensorName: c.SensorName, Raw: c.SensorRaw, FPS: cfg.FPS},
			Platform:      board,
			Allocator:     isp.V4L2Allocator{},
			FileInjection: c.Paths.Inject != "",
		}
	}
	opts.Config = cfg
	opts.Bus = bus
	opts.Logger = logger
	return isp.New(opts)
}
