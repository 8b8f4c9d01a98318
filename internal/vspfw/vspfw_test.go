package vspfw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestCommandWireFormat(t *testing.T) {
	cmd := Command{
		Context:  1,
		Type:     CmdPicture,
		Buffer:   0x10002000,
		Size:     352,
		BufferID: 7,
		IRQ:      1,
	}
	got, err := cmd.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	want := []byte{
		0x01, 0x00, 0x00, 0x00,
		0xF9, 0xFF, 0x00, 0x00,
		0x00, 0x20, 0x00, 0x10,
		0x60, 0x01, 0x00, 0x00,
		0x07, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded command = % x\nwant             % x", got, want)
	}

	var back Command
	if err := back.UnmarshalBinary(got); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if back != cmd {
		t.Errorf("decoded = %+v, want %+v", back, cmd)
	}
}

func TestResponseStatusField(t *testing.T) {
	r := Response{Type: RespError, Status: StatusInvalidDdrAddress}
	raw, err := r.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if got := binary.LittleEndian.Uint32(raw[4:]); got != 0x80020000 {
		t.Errorf("type word = 0x%08X", got)
	}
	if got := binary.LittleEndian.Uint32(raw[16:]); got != 0x8005 {
		t.Errorf("vss_cc word = 0x%04X, want 0x8005", got)
	}
}

func TestUnmarshalRejectsWrongLength(t *testing.T) {
	var c Command
	if err := c.UnmarshalBinary(make([]byte, 28)); !errors.Is(err, ErrShortRecord) {
		t.Errorf("UnmarshalBinary(28 bytes) = %v, want ErrShortRecord", err)
	}
}

func TestRecordSizes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"command", Command{}, RecordSize},
		{"response", Response{}, RecordSize},
		{"settings", Settings{}, 32},
		{"ctrl", CtrlReg{}, 56},
		{"pipeline", PipelineParams{}, 32},
		{"sharpen", SharpenParams{}, 32},
		{"denoise", DenoiseParams{}, 32},
		{"color", ColorEnhancementParams{}, 32},
		{"frc", FrcParams{}, 32},
		{"picture", Picture{}, 64},
		{"picture params", PictureParams{}, 352},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := binary.Size(tt.v); got != tt.want {
				t.Errorf("encoded size = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPaddingEncodesAsZero(t *testing.T) {
	raw, err := Marshal(FrcParams{Quality: FrcHighQuality, ConversionRate: Frc2p5xConversionRate})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if binary.LittleEndian.Uint32(raw[0:]) != 1 || binary.LittleEndian.Uint32(raw[4:]) != 1 {
		t.Errorf("frc params = % x", raw[:8])
	}
	if !bytes.Equal(raw[8:], make([]byte, 24)) {
		t.Errorf("padding = % x, want zeros", raw[8:])
	}
}

func TestChannelRing(t *testing.T) {
	c := NewChannel(0x1000, 0x800)
	s := c.Settings()
	if s.CommandQueueSize != 64 || s.CommandQueueAddr != 0x1000 || s.ResponseQueueAddr != 0x1000+64*32 {
		t.Errorf("settings = %+v", s)
	}
	if v, err := c.Reg(RegSettingAddr); err != nil || v != 0x800 {
		t.Errorf("setting addr register = 0x%X, %v", v, err)
	}
	if _, err := c.Reg(16); !errors.Is(err, ErrBadRegister) {
		t.Errorf("Reg(16) = %v, want ErrBadRegister", err)
	}

	if _, err := c.FetchCommand(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("FetchCommand on empty ring = %v", err)
	}
	for i := range CmdQueueSize - 1 {
		if err := c.SendCommand(Command{Context: uint32(i), Type: CmdPicture}); err != nil {
			t.Fatalf("SendCommand %d: %v", i, err)
		}
	}
	if err := c.SendCommand(Command{Type: CmdPicture}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("SendCommand on full ring = %v, want ErrQueueFull", err)
	}
	if n := c.PendingCommands(); n != CmdQueueSize-1 {
		t.Errorf("pending = %d", n)
	}

	for i := range 10 {
		cmd, err := c.FetchCommand()
		if err != nil {
			t.Fatalf("FetchCommand: %v", err)
		}
		if cmd.Context != uint32(i) {
			t.Fatalf("fetched context %d, want %d", cmd.Context, i)
		}
	}
	// The write index wraps past the end of the ring.
	for range 10 {
		if err := c.SendCommand(Command{Type: CmdSetContext}); err != nil {
			t.Fatalf("SendCommand after drain: %v", err)
		}
	}
	if wr, _ := c.Reg(RegCmdQueueWr); wr != 9 {
		t.Errorf("write index = %d, want 9", wr)
	}
	if rd, _ := c.Reg(RegCmdQueueRd); rd != 10 {
		t.Errorf("read index = %d, want 10", rd)
	}
}

func TestAcknowledge(t *testing.T) {
	c := NewChannel(0, 0)
	cmds := []Command{
		{Context: 1, Type: CmdPipelineParameter},
		{Context: 1, Type: CmdPicture, Buffer: 0x40},
		{Context: 1, Type: CommandType(0x1234)},
	}
	for _, cmd := range cmds {
		if err := c.SendCommand(cmd); err != nil {
			t.Fatalf("SendCommand: %v", err)
		}
	}
	n, err := Acknowledge(c)
	if err != nil || n != 3 {
		t.Fatalf("Acknowledge = %d, %v", n, err)
	}

	want := []struct {
		typ    ResponseType
		status Status
	}{
		{RespCommandBufferReady, StatusOK},
		{RespOutputSurfaceReady, StatusOK},
		{RespError, StatusInvalidCommandType},
	}
	for i, w := range want {
		r, err := c.ReceiveResponse()
		if err != nil {
			t.Fatalf("ReceiveResponse %d: %v", i, err)
		}
		if r.Type != w.typ || r.Status != w.status {
			t.Errorf("response %d = %s/%s, want %s/%s", i, r.Type, r.Status, w.typ, w.status)
		}
	}
	if c.PendingResponses() != 0 {
		t.Errorf("pending responses = %d", c.PendingResponses())
	}
}

func TestNewCommandSizesBuffer(t *testing.T) {
	cmd, err := NewCommand(2, CmdPicture, 0x2000, 3, PictureParams{NumInputPictures: 1, NumOutputPictures: 2})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if cmd.Size != 352 || cmd.Buffer != 0x2000 || cmd.BufferID != 3 {
		t.Errorf("command = %+v", cmd)
	}
	if _, err := NewCommand(0, CommandType(1), 0, 0, nil); err == nil {
		t.Error("NewCommand accepted an unknown type")
	}
}
