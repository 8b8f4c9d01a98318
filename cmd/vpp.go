package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/vpp"
	"github.com/smazurov/ispnode/internal/vpp/vpptest"
	"github.com/spf13/cobra"
)

// playback drives one session until end of stream: it feeds decoded
// frames while the processor accepts them, presents processed frames and
// hands the rest back unrendered.
type playback struct {
	proc    *vpp.Processor
	window  *vpptest.Window
	decoder *vpptest.Decoder
	frames  int
	sent    int
	shown   []int64
	dropped int
}

func (p *playback) feed() error {
	for p.sent < p.frames && p.proc.CanSetDecoderBuffer() {
		f, ok := p.decoder.Next()
		if !ok {
			return nil
		}
		if err := p.proc.SetDecoderBuffer(f); err != nil && !errors.Is(err, vpp.ErrBufferNotReady) {
			return err
		}
		p.sent++
		if p.sent == p.frames {
			p.proc.SetEOS()
		}
	}
	return nil
}

// run returns nil once the processor reports end of stream.
func (p *playback) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.feed(); err != nil {
			return fmt.Errorf("set decoder buffer: %w", err)
		}

		f, err := p.proc.Read()
		switch {
		case err == nil:
			p.shown = append(p.shown, f.TimeUs)
			rendered := f.Processed
			if rendered {
				if err := p.window.Present(f); err != nil {
					return fmt.Errorf("present: %w", err)
				}
			} else {
				p.dropped++
			}
			p.proc.SignalBufferReturned(f, rendered)
		case errors.Is(err, vpp.ErrEndOfStream):
			return nil
		case errors.Is(err, vpp.ErrBufferNotReady):
			time.Sleep(time.Millisecond)
		default:
			return fmt.Errorf("read: %w", err)
		}
	}
}

// CreateVPPCmd creates the vpp command.
func CreateVPPCmd() *cobra.Command {
	var frames, fps, width, height int
	var common, frc, hdmi, printTimestamps bool
	var hdmiRates []int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "vpp",
		Short: "Run a simulated post-processing session",
		Long: `Opens a post-processing session on a simulated window and decoder, plays the given number of frames ` +
			`through it and reports the filters chosen, the conversion rate and the frames shown.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("vpp")

			bus := events.New()
			var frcChanges atomic.Int64
			defer bus.Subscribe(func(e events.FrcChangedEvent) {
				frcChanges.Add(1)
				logger.Info("Conversion rate changed", "window", e.Window, "rate", e.Rate)
			})()

			registry := vpp.NewRegistry(vpp.RegistryOptions{
				Settings: vpp.Settings{
					CommonOn:         common,
					FrcOn:            frc,
					FrcForHDMI:       len(hdmiRates) > 0,
					HDMIConnected:    hdmi,
					HDMIRefreshRates: hdmiRates,
				},
				Bus:    bus,
				Logger: logger,
			})
			defer registry.CloseAll()

			window := vpptest.NewWindow("sim0", 12, 100)
			decoder := vpptest.NewDecoder(12, 1, fps)
			session, err := registry.Open(window, vpptest.NewContext(), decoder)
			if err != nil {
				logger.Error("Failed to open session", "error", err)
				os.Exit(1)
			}
			proc := session.Processor
			if err := proc.ValidateVideoInfo(vpp.VideoInfo{Width: width, Height: height, Fps: fps}, 0); err != nil {
				logger.Error("Unsupported stream", "error", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := proc.Init(ctx, decoder.Surfaces()); err != nil {
				logger.Error("Failed to initialize session", "error", err)
				os.Exit(1)
			}

			p := &playback{proc: proc, window: window, decoder: decoder, frames: frames}
			start := time.Now()
			if err := p.run(ctx); err != nil {
				logger.Error("Playback stopped", "error", err)
			}

			st := proc.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session=%s window=%s filters=%+v frc=%s fps=%d->%d\n",
				session.ID, session.Window, st.Filters, st.FrcRate, st.InputFps, st.OutputFps)
			fmt.Fprintf(out, "sent=%d shown=%d presented=%d unprocessed=%d frc_changes=%d elapsed=%s\n",
				p.sent, len(p.shown), len(window.Presented()), p.dropped, frcChanges.Load(), time.Since(start).Round(time.Millisecond))
			if printTimestamps {
				for i, ts := range p.shown {
					fmt.Fprintf(out, "%4d %10d\n", i, ts)
				}
			}
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 60, "Number of decoded frames to play")
	cmd.Flags().IntVar(&fps, "fps", 30, "Decoded frame rate")
	cmd.Flags().IntVar(&width, "width", 1280, "Decoded width")
	cmd.Flags().IntVar(&height, "height", 720, "Decoded height")
	cmd.Flags().BoolVar(&common, "filters", true, "Enable the resolution-driven filters")
	cmd.Flags().BoolVar(&frc, "frc", false, "Enable frame-rate conversion")
	cmd.Flags().BoolVar(&hdmi, "hdmi", false, "Report an HDMI sink as connected")
	cmd.Flags().IntSliceVar(&hdmiRates, "hdmi-rates", nil, "Refresh rates the HDMI sink supports")
	cmd.Flags().BoolVar(&printTimestamps, "timestamps", false, "Print every shown timestamp")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}
