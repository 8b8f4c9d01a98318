package vspfw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueFull is returned when a ring has no free entry.
	ErrQueueFull = errors.New("vspfw: queue full")
	// ErrQueueEmpty is returned when a ring has nothing to read.
	ErrQueueEmpty = errors.New("vspfw: queue empty")
	// ErrBadRegister is returned for a register outside the control block.
	ErrBadRegister = errors.New("vspfw: register out of range")
)

// ring is one queue of fixed-size records. It holds size-1 records at
// most; rd == wr means empty.
type ring struct {
	data [][RecordSize]byte
}

func newRing(size int) ring {
	return ring{data: make([][RecordSize]byte, size)}
}

func (r *ring) size() uint32 { return uint32(len(r.data)) }

func (r *ring) push(rd, wr *uint32, rec []byte) error {
	next := (*wr + 1) % r.size()
	if next == *rd {
		return ErrQueueFull
	}
	copy(r.data[*wr][:], rec)
	*wr = next
	return nil
}

func (r *ring) pop(rd, wr *uint32) ([]byte, error) {
	if *rd == *wr {
		return nil, ErrQueueEmpty
	}
	rec := r.data[*rd]
	*rd = (*rd + 1) % r.size()
	return rec[:], nil
}

func pending(rd, wr, size uint32) int {
	return int((wr + size - rd) % size)
}

// Channel is the memory shared by the host driver and the firmware: the
// control registers, the settings block and both rings. The host writes
// commands and reads responses; the firmware does the opposite.
type Channel struct {
	mu       sync.Mutex
	ctrl     CtrlReg
	settings Settings
	cmds     ring
	acks     ring
}

// NewChannel lays the command ring out at base followed by the response
// ring, with the settings block at settingsAddr.
func NewChannel(base, settingsAddr uint32) *Channel {
	c := &Channel{
		cmds: newRing(CmdQueueSize),
		acks: newRing(AckQueueSize),
	}
	c.settings = Settings{
		CommandQueueSize:  CmdQueueSize,
		CommandQueueAddr:  base,
		ResponseQueueSize: AckQueueSize,
		ResponseQueueAddr: base + CmdQueueSize*RecordSize,
	}
	c.ctrl.SettingAddr = settingsAddr
	c.ctrl.EntryKind = EntryInit
	return c
}

// Settings returns the settings block the firmware reads at boot.
func (c *Channel) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Ctrl returns a copy of the control registers.
func (c *Channel) Ctrl() CtrlReg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl
}

// Reg reads one control register by its hardware index.
func (c *Channel) Reg(index int) (uint32, error) {
	if index < ctrlRegBase || index >= ctrlRegBase+binary.Size(CtrlReg{})/4 {
		return 0, fmt.Errorf("%w: %d", ErrBadRegister, index)
	}
	c.mu.Lock()
	raw, err := Marshal(c.ctrl)
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	off := (index - ctrlRegBase) * 4
	return binary.LittleEndian.Uint32(raw[off:]), nil
}

// SendCommand appends a command for the firmware.
func (c *Channel) SendCommand(cmd Command) error {
	rec, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmds.push(&c.ctrl.CmdRd, &c.ctrl.CmdWr, rec)
}

// FetchCommand takes the oldest command, as the firmware does.
func (c *Channel) FetchCommand() (Command, error) {
	c.mu.Lock()
	rec, err := c.cmds.pop(&c.ctrl.CmdRd, &c.ctrl.CmdWr)
	c.mu.Unlock()
	if err != nil {
		return Command{}, err
	}
	var cmd Command
	return cmd, cmd.UnmarshalBinary(rec)
}

// PostResponse appends a response for the host, as the firmware does.
func (c *Channel) PostResponse(r Response) error {
	rec, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks.push(&c.ctrl.AckRd, &c.ctrl.AckWr, rec)
}

// ReceiveResponse takes the oldest response.
func (c *Channel) ReceiveResponse() (Response, error) {
	c.mu.Lock()
	rec, err := c.acks.pop(&c.ctrl.AckRd, &c.ctrl.AckWr)
	c.mu.Unlock()
	if err != nil {
		return Response{}, err
	}
	var r Response
	return r, r.UnmarshalBinary(rec)
}

// PendingCommands counts commands the firmware has not fetched.
func (c *Channel) PendingCommands() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pending(c.ctrl.CmdRd, c.ctrl.CmdWr, c.cmds.size())
}

// PendingResponses counts responses the host has not received.
func (c *Channel) PendingResponses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pending(c.ctrl.AckRd, c.ctrl.AckWr, c.acks.size())
}

// CommandSlot returns the raw bytes of command ring entry i.
func (c *Channel) CommandSlot(i int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.cmds.data) {
		return nil, fmt.Errorf("vspfw: command slot %d out of range", i)
	}
	rec := c.cmds.data[i]
	return rec[:], nil
}

// Acknowledge answers every pending command the way the firmware does:
// unknown types get an error response, pictures an output-ready
// response and everything else a command-buffer-ready response. It
// returns how many commands were answered.
func Acknowledge(c *Channel) (int, error) {
	n := 0
	for {
		cmd, err := c.FetchCommand()
		if errors.Is(err, ErrQueueEmpty) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		resp := Response{Context: cmd.Context, Buffer: cmd.Buffer, Size: cmd.Size, Status: StatusOK}
		switch {
		case !cmd.Type.Valid():
			resp.Type = RespError
			resp.Status = StatusInvalidCommandType
		case cmd.Type == CmdPicture:
			resp.Type = RespOutputSurfaceReady
		default:
			resp.Type = RespCommandBufferReady
		}
		if err := c.PostResponse(resp); err != nil {
			return n, err
		}
		n++
	}
}
