package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/ispnode/cmd"
	"github.com/smazurov/ispnode/internal/api"
	"github.com/smazurov/ispnode/internal/config"
	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/led"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/metrics/exporters"
	"github.com/smazurov/ispnode/internal/systemd"
	"github.com/smazurov/ispnode/internal/version"
	"github.com/smazurov/ispnode/internal/vpp"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Device settings
	Simulate        bool   `help:"Run the ISP on simulated devices" default:"false" toml:"devices.simulate" env:"DEVICES_SIMULATE"`
	MainDevice      string `help:"Main output video node" default:"/dev/video0" toml:"devices.main" env:"DEVICES_MAIN"`
	PostviewDevice  string `help:"Postview video node" default:"/dev/video1" toml:"devices.postview" env:"DEVICES_POSTVIEW"`
	PreviewDevice   string `help:"Preview video node" default:"/dev/video2" toml:"devices.preview" env:"DEVICES_PREVIEW"`
	RecordingDevice string `help:"Recording video node" default:"/dev/video3" toml:"devices.recording" env:"DEVICES_RECORDING"`
	InjectDevice    string `help:"File injection output node" default:"" toml:"devices.inject" env:"DEVICES_INJECT"`
	ISPSubdev       string `help:"ISP subdevice for 3A statistics events" default:"" toml:"devices.isp_subdev" env:"DEVICES_ISP_SUBDEV"`

	// ISP settings
	ISPSensorName   string  `help:"Sensor name reported to the ISP" default:"" toml:"isp.sensor_name" env:"ISP_SENSOR_NAME"`
	ISPSensorRaw    bool    `help:"Sensor delivers Bayer RAW" default:"true" toml:"isp.sensor_raw" env:"ISP_SENSOR_RAW"`
	ISPSensorFPS    float64 `help:"Sensor frame rate" default:"30" toml:"isp.sensor_fps" env:"ISP_SENSOR_FPS"`
	ISPCSSMajor     int     `help:"Camera subsystem major version" default:"1" toml:"isp.css_major" env:"ISP_CSS_MAJOR"`
	ISPRingBufMax   int     `help:"Largest continuous RAW ring buffer" default:"10" toml:"isp.ring_buffer_max" env:"ISP_RING_BUFFER_MAX"`
	ISPPreviewBufs  int     `help:"Preview buffer count" default:"6" toml:"isp.preview_buffers" env:"ISP_PREVIEW_BUFFERS"`
	ISPRecordingBuf int     `help:"Recording buffer count" default:"6" toml:"isp.recording_buffers" env:"ISP_RECORDING_BUFFERS"`
	ISPSnapshots    int     `help:"Snapshot buffer count" default:"1" toml:"isp.snapshots" env:"ISP_SNAPSHOTS"`
	ISPPreviewFPS   float64 `help:"Preview frame rate delivered to observers" default:"30" toml:"isp.preview_fps" env:"ISP_PREVIEW_FPS"`

	// VPP settings
	VPPSettingsFile string `help:"Post-processor switches file, reloaded on change" default:"vpp.toml" toml:"vpp.settings_file" env:"VPP_SETTINGS_FILE"`

	// Features settings
	FeaturesLEDIndicator bool   `help:"Drive a board LED from the capture mode" default:"false" toml:"features.led_indicator_enabled" env:"FEATURES_LED_INDICATOR"`
	IndicatorLED         string `help:"Sysfs LED name, detected from the board when empty" default:"" toml:"features.indicator_led" env:"FEATURES_INDICATOR_LED"`

	// Metrics settings
	MetricsInterval time.Duration `help:"Interval between metrics snapshots on the event stream" default:"1s" toml:"metrics.sse_interval" env:"METRICS_SSE_INTERVAL"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingISP      string `help:"ISP controller logging level" default:"info" toml:"logging.isp" env:"LOGGING_ISP"`
	LoggingObserver string `help:"Observer logging level" default:"info" toml:"logging.observer" env:"LOGGING_OBSERVER"`
	LoggingVPP      string `help:"Post-processor logging level" default:"info" toml:"logging.vpp" env:"LOGGING_VPP"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingConfig   string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingMetrics  string `help:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
}

func (o *Options) deviceConfig() cmd.DeviceConfig {
	return cmd.DeviceConfig{
		Paths: isp.DevicePaths{
			Main:      o.MainDevice,
			Postview:  o.PostviewDevice,
			Preview:   o.PreviewDevice,
			Recording: o.RecordingDevice,
			Inject:    o.InjectDevice,
			ISP:       o.ISPSubdev,
		},
		Simulate:     o.Simulate,
		SensorName:   o.ISPSensorName,
		SensorRaw:    o.ISPSensorRaw,
		SensorFPS:    o.ISPSensorFPS,
		CSSMajor:     o.ISPCSSMajor,
		RingBufMax:   o.ISPRingBufMax,
		PreviewBufs:  o.ISPPreviewBufs,
		RecordingBuf: o.ISPRecordingBuf,
		Snapshots:    o.ISPSnapshots,
		PreviewFPS:   o.ISPPreviewFPS,
	}
}

func vppSettings(s config.VPPSettings) vpp.Settings {
	return vpp.Settings{
		CommonOn:         s.CommonOn,
		FrcOn:            s.FrcOn,
		FrcForHDMI:       s.FrcForHDMI,
		HDMIConnected:    s.HDMIConnected(),
		HDMIRefreshRates: s.HDMIRefreshRates,
	}
}

func main() {
	// Create Huma CLI
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"isp":      opts.LoggingISP,
				"observer": opts.LoggingObserver,
				"vpp":      opts.LoggingVPP,
				"api":      opts.LoggingAPI,
				"config":   opts.LoggingConfig,
				"metrics":  opts.LoggingMetrics,
			},
		})
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Mirror every log entry onto the bus for the log stream.
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		var (
			controller  *isp.Controller
			registry    *vpp.Registry
			watcher     *config.Watcher[config.VPPSettings]
			sseExporter *exporters.SSEExporter
			server      *api.Server
		)
		notifier := systemd.NewNotifier(logger)

		// Initialize LED indicator if enabled
		var ledManager *led.Manager
		if opts.FeaturesLEDIndicator {
			ledLogger := logging.GetLogger("led")
			ledManager = led.NewManager(led.New(led.SysfsRoot, opts.IndicatorLED, ledLogger), eventBus, ledLogger)
		}

		ctx, cancel := context.WithCancel(context.Background())

		// Devices are only opened when serving; subcommands build their own.
		hooks.OnStart(func() {
			if ledManager != nil {
				ledManager.Start()
			}

			var err error
			controller, err = cmd.NewController(opts.deviceConfig(), eventBus, logging.GetLogger("isp"))
			if err != nil {
				logger.Error("Failed to create ISP controller", "error", err)
				os.Exit(1)
			}
			if initErr := controller.Init(); initErr != nil {
				logger.Error("Failed to initialize ISP controller", "error", initErr)
				os.Exit(1)
			}

			configLogger := logging.GetLogger("config")
			watcher = config.NewConfigWatcher(opts.VPPSettingsFile, config.LoadVPPSettings, configLogger,
				config.WithErrorHandler[config.VPPSettings](func(err error) {
					configLogger.Warn("Keeping previous VPP settings", "error", err)
				}))
			settings, err := watcher.Load()
			if err != nil {
				logger.Warn("Failed to load VPP settings, using defaults", "file", opts.VPPSettingsFile, "error", err)
				settings = config.DefaultVPPSettings()
			}
			registry = vpp.NewRegistry(vpp.RegistryOptions{
				Settings: vppSettings(settings),
				Bus:      eventBus,
				Logger:   logging.GetLogger("vpp"),
			})

			watcher.OnReload(func(s config.VPPSettings) {
				configLogger.Info("VPP settings reloaded", "frc_on", s.FrcOn, "display_mode", s.DisplayMode)
				registry.SetSettings(vppSettings(s))
			})
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to watch VPP settings", "file", opts.VPPSettingsFile, "error", startErr)
			}

			sseExporter = exporters.NewSSEExporter(eventBus)
			if opts.MetricsInterval > 0 {
				sseExporter.SetInterval(opts.MetricsInterval)
			}
			sseExporter.Start(ctx)

			server = api.NewServer(&api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				ISP:               controller,
				VPP:               registry,
				EventBus:          eventBus,
				PrometheusHandler: exporters.HTTPHandler(),
			})

			if notifyErr := notifier.Ready(); notifyErr != nil {
				logger.Warn("Failed to notify systemd", "error", notifyErr)
			}
			if wdErr := notifier.StartWatchdog(ctx); wdErr != nil {
				logger.Warn("Failed to start watchdog", "error", wdErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_ = notifier.Stopping()
			if server != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				if stopErr := server.Stop(stopCtx); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}

			cancel()
			notifier.Stop()
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping config watcher", "error", stopErr)
				}
			}

			// Sessions release their frames before the camera goes down.
			if registry != nil {
				registry.CloseAll()
			}
			if controller != nil {
				if stopErr := controller.Stop(); stopErr != nil {
					logger.Error("Error stopping ISP", "error", stopErr)
				}
				if closeErr := controller.Close(); closeErr != nil {
					logger.Error("Error closing ISP controller", "error", closeErr)
				}
			}
			if ledManager != nil {
				ledManager.Stop()
			}
		})
	})

	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreatePreviewCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateVPPCmd())
	cli.Root().AddCommand(cmd.CreateVSPFWCmd())

	// Run the CLI
	cli.Run()
}
