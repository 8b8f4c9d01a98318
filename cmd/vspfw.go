package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/vspfw"
	"github.com/spf13/cobra"
)

// sampleCommands builds the command sequence that sets up a denoise,
// sharpen and conversion pipeline and submits one picture. Parameter
// buffers are laid out back to back from paramBase.
func sampleCommands(ctxID, paramBase uint32, width, height uint32) ([]vspfw.Command, error) {
	type step struct {
		typ    vspfw.CommandType
		params any
	}
	steps := []step{
		{vspfw.CmdSetContext, nil},
		{vspfw.CmdPipelineParameter, vspfw.PipelineParams{
			NumFilters: 3,
			Filters:    [vspfw.MaxPipelineFilters]vspfw.FilterType{vspfw.FilterDenoise, vspfw.FilterSharpening, vspfw.FilterFrameRateConversion},
		}},
		{vspfw.CmdDenoiseParameter, vspfw.DenoiseParams{Type: vspfw.DenoiseDegrain, ValueThr: 20, CntThr: 8, Coef: 9, TempThr1: 256, TempThr2: 512}},
		{vspfw.CmdSharpenParameter, vspfw.SharpenParams{Quality: 32}},
		{vspfw.CmdFrcParameter, vspfw.FrcParams{Quality: vspfw.FrcHighQuality, ConversionRate: vspfw.Frc2xConversionRate}},
	}

	pic := vspfw.PictureParams{NumInputPictures: 1, NumOutputPictures: 2}
	pic.Input[0] = vspfw.Picture{SurfaceID: 1, Width: width, Height: height, Stride: width, Format: vspfw.FormatNV12}
	for i := range 2 {
		pic.Output[i] = vspfw.Picture{SurfaceID: uint32(100 + i), IRQ: 1, Width: width, Height: height, Stride: width, Format: vspfw.FormatNV12}
	}
	steps = append(steps, step{vspfw.CmdPicture, pic})

	cmds := make([]vspfw.Command, 0, len(steps))
	addr := paramBase
	for i, s := range steps {
		c, err := vspfw.NewCommand(ctxID, s.typ, addr, uint32(i), s.params)
		if err != nil {
			return nil, err
		}
		addr += c.Size
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// CreateVSPFWCmd creates the vspfw command.
func CreateVSPFWCmd() *cobra.Command {
	var base, settingsAddr, paramBase uint32
	var ctxID uint32
	var width, height uint32
	var ack bool

	cmd := &cobra.Command{
		Use:   "vspfw",
		Short: "Dump the firmware command queue layout",
		Long: `Lays out a firmware channel, queues a sample pipeline setup and picture submission, and prints the ` +
			`settings block, the control registers and the raw command records. With --ack the queue is answered ` +
			`the way the firmware would and the responses are printed.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("vspfw")

			ch := vspfw.NewChannel(base, settingsAddr)
			cmds, err := sampleCommands(ctxID, paramBase, width, height)
			if err != nil {
				logger.Error("Failed to build commands", "error", err)
				os.Exit(1)
			}
			for _, c := range cmds {
				if err := ch.SendCommand(c); err != nil {
					logger.Error("Failed to queue command", "type", c.Type.String(), "error", err)
					os.Exit(1)
				}
			}

			out := cmd.OutOrStdout()
			s := ch.Settings()
			fmt.Fprintf(out, "settings: cmd_queue=%d@0x%08X ack_queue=%d@0x%08X\n",
				s.CommandQueueSize, s.CommandQueueAddr, s.ResponseQueueSize, s.ResponseQueueAddr)
			ctrl := ch.Ctrl()
			fmt.Fprintf(out, "ctrl: setting_addr=0x%08X entry_kind=%d cmd_rd=%d cmd_wr=%d ack_rd=%d ack_wr=%d\n",
				ctrl.SettingAddr, ctrl.EntryKind, ctrl.CmdRd, ctrl.CmdWr, ctrl.AckRd, ctrl.AckWr)

			for i, c := range cmds {
				raw, err := ch.CommandSlot(i)
				if err != nil {
					logger.Error("Failed to read command slot", "slot", i, "error", err)
					os.Exit(1)
				}
				fmt.Fprintf(out, "cmd[%02d] %-28s buf=0x%08X size=%-3d % x\n", i, c.Type, c.Buffer, c.Size, raw)
			}

			if !ack {
				return
			}
			n, err := vspfw.Acknowledge(ch)
			if err != nil {
				logger.Error("Acknowledge failed", "error", err)
				os.Exit(1)
			}
			fmt.Fprintf(out, "acknowledged=%d pending_commands=%d\n", n, ch.PendingCommands())
			for {
				r, err := ch.ReceiveResponse()
				if errors.Is(err, vspfw.ErrQueueEmpty) {
					break
				}
				if err != nil {
					logger.Error("Failed to receive response", "error", err)
					os.Exit(1)
				}
				fmt.Fprintf(out, "resp %-22s status=%-22s buf=0x%08X size=%d\n", r.Type, r.Status, r.Buffer, r.Size)
			}
		},
	}

	cmd.Flags().Uint32Var(&base, "queue-base", 0x10000000, "Address of the command ring")
	cmd.Flags().Uint32Var(&settingsAddr, "settings-addr", 0x0FFFF000, "Address of the settings block")
	cmd.Flags().Uint32Var(&paramBase, "param-base", 0x20000000, "Address of the first parameter buffer")
	cmd.Flags().Uint32Var(&ctxID, "context", 1, "Firmware context id")
	cmd.Flags().Uint32Var(&width, "width", 1280, "Picture width")
	cmd.Flags().Uint32Var(&height, "height", 720, "Picture height")
	cmd.Flags().BoolVar(&ack, "ack", false, "Answer the queue and print the responses")
	return cmd
}
