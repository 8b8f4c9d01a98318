package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/ispnode/internal/vspfw"
)

func TestSampleCommandsLayout(t *testing.T) {
	cmds, err := sampleCommands(3, 0x2000, 640, 480)
	if err != nil {
		t.Fatalf("sampleCommands: %v", err)
	}
	wantTypes := []vspfw.CommandType{
		vspfw.CmdSetContext,
		vspfw.CmdPipelineParameter,
		vspfw.CmdDenoiseParameter,
		vspfw.CmdSharpenParameter,
		vspfw.CmdFrcParameter,
		vspfw.CmdPicture,
	}
	if len(cmds) != len(wantTypes) {
		t.Fatalf("got %d commands, want %d", len(cmds), len(wantTypes))
	}
	addr := uint32(0x2000)
	for i, c := range cmds {
		if c.Type != wantTypes[i] {
			t.Errorf("command %d type = %s, want %s", i, c.Type, wantTypes[i])
		}
		if c.Context != 3 || c.BufferID != uint32(i) {
			t.Errorf("command %d = %+v", i, c)
		}
		if c.Buffer != addr {
			t.Errorf("command %d buffer = 0x%X, want 0x%X", i, c.Buffer, addr)
		}
		addr += c.Size
	}
	if cmds[0].Size != 0 || cmds[5].Size != 352 {
		t.Errorf("sizes = %d, %d", cmds[0].Size, cmds[5].Size)
	}
}

func TestVSPFWCommandAcknowledges(t *testing.T) {
	var out bytes.Buffer
	c := CreateVSPFWCmd()
	c.SetOut(&out)
	c.SetArgs([]string{"--ack", "--queue-base", "4096"})
	if err := c.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"cmd_queue=64@0x00001000",
		"cmd_wr=6",
		"acknowledged=6 pending_commands=0",
		"resp output_surface_ready",
		"resp command_buffer_ready",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "\nresp "); n != 6 {
		t.Errorf("printed %d responses, want 6", n)
	}
}

func TestVPPCommandPlaysToEndOfStream(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"filters", []string{"--frames", "20", "--width", "176", "--height", "144"}, []string{"sent=20", "fps=30->30"}},
		{"frc", []string{"--frames", "20", "--frc", "--fps", "30"}, []string{"sent=20", "frc=2x", "fps=30->60"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := CreateVPPCmd()
			c.SetOut(&out)
			c.SetArgs(tt.args)
			if err := c.Execute(); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestCaptureCommandWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	c := CreateCaptureCmd()
	c.SetOut(&out)
	c.SetArgs([]string{"--simulate", "--count", "1", "--output", dir})
	if err := c.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "mode=capture") || !strings.Contains(out.String(), "snapshot 0:") {
		t.Errorf("output = %s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "snapshot-000.raw")); err != nil {
		t.Errorf("snapshot file: %v", err)
	}
}
