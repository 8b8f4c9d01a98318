package vspfw

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRecord is returned when a record has the wrong length.
var ErrShortRecord = errors.New("vspfw: record has wrong length")

// Marshal encodes any firmware structure.
func Marshal(v any) ([]byte, error) {
	n := binary.Size(v)
	if n < 0 {
		return nil, fmt.Errorf("vspfw: %T is not a fixed-size record", v)
	}
	return binary.Append(make([]byte, 0, n), binary.LittleEndian, v)
}

// Unmarshal decodes data into the structure v points at. data must be
// exactly the size of the structure.
func Unmarshal(data []byte, v any) error {
	n := binary.Size(v)
	if n < 0 {
		return fmt.Errorf("vspfw: %T is not a fixed-size record", v)
	}
	if len(data) != n {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortRecord, len(data), n)
	}
	_, err := binary.Decode(data, binary.LittleEndian, v)
	return err
}

func (c Command) MarshalBinary() ([]byte, error) { return Marshal(c) }

func (c *Command) UnmarshalBinary(data []byte) error { return Unmarshal(data, c) }

func (r Response) MarshalBinary() ([]byte, error) { return Marshal(r) }

func (r *Response) UnmarshalBinary(data []byte) error { return Unmarshal(data, r) }

func (s Settings) MarshalBinary() ([]byte, error) { return Marshal(s) }

func (s *Settings) UnmarshalBinary(data []byte) error { return Unmarshal(data, s) }

// NewCommand builds a command whose buffer at addr holds params.
func NewCommand(context uint32, t CommandType, addr, bufferID uint32, params any) (Command, error) {
	if !t.Valid() {
		return Command{}, fmt.Errorf("vspfw: invalid command type 0x%04X", uint32(t))
	}
	size := 0
	if params != nil {
		if size = binary.Size(params); size < 0 {
			return Command{}, fmt.Errorf("vspfw: %T is not a fixed-size record", params)
		}
	}
	return Command{
		Context:  context,
		Type:     t,
		Buffer:   addr,
		Size:     uint32(size),
		BufferID: bufferID,
	}, nil
}
