package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/spf13/cobra"
)

// frameBytes trims a buffer to what the driver filled.
func frameBytes(b *isp.Buffer) []byte {
	if b.BytesUsed > 0 && int(b.BytesUsed) <= len(b.Data) {
		return b.Data[:b.BytesUsed]
	}
	return b.Data
}

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	devices := DefaultDeviceConfig()
	var count, offset int
	var continuous, soc bool
	var outputDir string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Take snapshots",
		Long: `Takes a burst of snapshots in capture mode, or from the continuous RAW ring buffer with --continuous. ` +
			`With --soc the sensor is treated as YUV, so continuous capture runs on the HAL zero-shutter-lag path. ` +
			`Each snapshot and postview is written to the output directory as raw frame data.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("capture")

			if soc {
				devices.SensorRaw = false
			}
			devices.Snapshots = count
			ctrl, err := NewController(devices, events.New(), logging.GetLogger("isp"))
			if err != nil {
				logger.Error("Failed to create controller", "error", err)
				os.Exit(1)
			}
			if err := ctrl.Init(); err != nil {
				logger.Error("Failed to initialize controller", "error", err)
				os.Exit(1)
			}
			defer ctrl.Close()

			if outputDir != "" {
				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					logger.Error("Failed to create output directory", "error", err)
					os.Exit(1)
				}
			}

			mode := isp.ModeCapture
			burst := isp.ContinuousConfig{NumCaptures: count, Offset: offset}
			if continuous {
				mode = isp.ModeContinuous
				if err := ctrl.PrepareOfflineCapture(burst); err != nil {
					logger.Error("Failed to prepare offline capture", "error", err)
					os.Exit(1)
				}
			} else if err := ctrl.SetSnapshotNum(count); err != nil {
				logger.Error("Failed to set snapshot count", "error", err)
				os.Exit(1)
			}

			if err := startMode(ctrl, mode); err != nil {
				logger.Error("Failed to start capture", "mode", mode.String(), "error", err)
				os.Exit(1)
			}
			defer func() {
				if err := ctrl.Stop(); err != nil {
					logger.Error("Failed to stop capture", "error", err)
				}
			}()

			if continuous {
				if err := ctrl.StartOfflineCapture(burst); err != nil {
					logger.Error("Failed to start offline capture", "error", err)
					return
				}
				defer func() {
					if err := ctrl.StopOfflineCapture(); err != nil {
						logger.Warn("Failed to stop offline capture", "error", err)
					}
				}()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode=%s hal_zsl=%t session=%d\n", mode, ctrl.HALZSL(), ctrl.Session())
			for i := range count {
				snapshot, postview, err := ctrl.GetSnapshot()
				if err != nil {
					logger.Error("Failed to get snapshot", "index", i, "error", err)
					return
				}
				fmt.Fprintf(out, "snapshot %d: %dx%d bytes=%d sequence=%d counter=%d\n",
					i, snapshot.Format.Width, snapshot.Format.Height, len(frameBytes(snapshot)), snapshot.Sequence, snapshot.FrameCounter)

				if outputDir != "" {
					name := filepath.Join(outputDir, fmt.Sprintf("snapshot-%03d.raw", i))
					if err := os.WriteFile(name, frameBytes(snapshot), 0o644); err != nil {
						logger.Warn("Failed to write snapshot", "file", name, "error", err)
					}
					if postview != nil {
						name = filepath.Join(outputDir, fmt.Sprintf("postview-%03d.raw", i))
						if err := os.WriteFile(name, frameBytes(postview), 0o644); err != nil {
							logger.Warn("Failed to write postview", "file", name, "error", err)
						}
					}
				}

				if err := ctrl.PutSnapshot(snapshot, postview); err != nil {
					logger.Error("Failed to return snapshot", "index", i, "error", err)
					return
				}
			}
		},
	}

	registerDeviceFlags(cmd.Flags(), &devices)
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of snapshots")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Capture from the continuous ring buffer")
	cmd.Flags().IntVar(&offset, "offset", 0, "Continuous burst offset in frames, negative looks back")
	cmd.Flags().BoolVar(&soc, "soc", false, "Treat the sensor as a YUV SoC sensor")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for raw snapshot files")
	return cmd
}
