package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/spf13/cobra"
)

// startMode runs configure, allocate and start, stopping on a late failure.
func startMode(c *isp.Controller, mode isp.Mode) error {
	if err := c.Configure(mode); err != nil {
		return err
	}
	if err := c.AllocateBuffers(mode); err != nil {
		_ = c.Stop()
		return err
	}
	if err := c.Start(); err != nil {
		_ = c.Stop()
		return err
	}
	return nil
}

// CreatePreviewCmd creates the preview command.
func CreatePreviewCmd() *cobra.Command {
	devices := DefaultDeviceConfig()
	var duration time.Duration
	var maxFrames int
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run a preview session",
		Long: `Starts the preview mode, attaches an observer to the preview stream and reports ` +
			`delivered and skipped frames until the duration elapses, the frame limit is reached or the process is interrupted.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("preview")

			bus := events.New()
			var skipped atomic.Int64
			defer bus.Subscribe(func(events.FrameSkippedEvent) { skipped.Add(1) })()

			ctrl, err := NewController(devices, bus, logging.GetLogger("isp"))
			if err != nil {
				logger.Error("Failed to create controller", "error", err)
				os.Exit(1)
			}
			if err := ctrl.Init(); err != nil {
				logger.Error("Failed to initialize controller", "error", err)
				os.Exit(1)
			}
			defer ctrl.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			var frames atomic.Int64
			var lastSeq atomic.Uint32
			detach, err := ctrl.Observers().Attach(isp.SourcePreview, isp.ObserverFunc(func(msg isp.Message) {
				switch msg.Kind {
				case isp.MessageFrame:
					if msg.Status != isp.FrameOK {
						return
					}
					lastSeq.Store(msg.Sequence)
					if n := frames.Add(1); maxFrames > 0 && n >= int64(maxFrames) {
						cancel()
					}
				case isp.MessageError:
					logger.Warn("Preview observer error", "error", msg.Err)
					cancel()
				}
			}))
			if err != nil {
				logger.Error("Failed to attach preview observer", "error", err)
				os.Exit(1)
			}
			defer detach()

			start := time.Now()
			if err := startMode(ctrl, isp.ModePreview); err != nil {
				logger.Error("Failed to start preview", "error", err)
				os.Exit(1)
			}
			st := ctrl.Stats()
			logger.Info("Preview started", "session", st.Session, "roles", st.Roles)

			<-ctx.Done()
			if err := ctrl.Stop(); err != nil {
				logger.Error("Failed to stop preview", "error", err)
			}

			elapsed := time.Since(start)
			n := frames.Load()
			fmt.Fprintf(cmd.OutOrStdout(), "frames=%d skipped=%d last_sequence=%d elapsed=%s fps=%.1f\n",
				n, skipped.Load(), lastSeq.Load(), elapsed.Round(time.Millisecond), float64(n)/elapsed.Seconds())
		},
	}

	registerDeviceFlags(cmd.Flags(), &devices)
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "How long to run, 0 until interrupted")
	cmd.Flags().IntVarP(&maxFrames, "frames", "n", 0, "Stop after this many frames, 0 for no limit")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON")
	return cmd
}
