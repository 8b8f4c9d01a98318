package v4l2

import (
	"errors"
	"time"
)

// State is the lifecycle state of a VideoNode.
type State int

// Node states.
const (
	StateClosed State = iota
	StateOpen
	StateConfigured
	StatePrepared
	StatePopulated
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateConfigured:
		return "configured"
	case StatePrepared:
		return "prepared"
	case StatePopulated:
		return "populated"
	case StateStarted:
		return "started"
	default:
		return "unknown"
	}
}

// Direction tells whether a node produces or consumes frames.
type Direction int

// Node directions.
const (
	DirectionCapture Direction = iota
	DirectionOutput
)

// Format describes the negotiated frame layout of a node.
type Format struct {
	Width        uint32
	Height       uint32
	BytesPerLine uint32
	SizeImage    uint32
	PixelFormat  uint32
}

// Frame is the metadata of one dequeued buffer.
type Frame struct {
	Index     int
	Sequence  uint32
	BytesUsed uint32
	Flags     uint32
	Timestamp time.Duration
	Corrupted bool
	Counter   int
}

// Event is a dequeued driver event.
type Event struct {
	Type      uint32
	ID        uint32
	Sequence  uint32
	Pending   uint32
	Timestamp time.Duration
	Data      [64]byte
}

// Capability is the identification returned by VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
}

// PollResult classifies the outcome of a Poll call.
type PollResult int

// Poll outcomes.
const (
	PollReady PollResult = iota
	PollTimeout
	PollError
)

// PollInfinite blocks until the node becomes readable.
const PollInfinite = -1

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapStreaming    = 0x04000000
	CapDeviceCaps   = 0x80000000
)

// Buffer types and memory models.
const (
	BufTypeVideoCapture = 1
	BufTypeVideoOutput  = 2
	MemoryMMAP          = 1
	MemoryUserPtr       = 2
)

// Buffer flags.
const (
	BufFlagError             = 0x00000040
	BufFlagNoCacheInvalidate = 0x00000800
	BufFlagNoCacheClean      = 0x00001000
)

// Field orders.
const (
	FieldAny        = 0
	FieldNone       = 1
	FieldInterlaced = 4
)

// Event types.
const (
	EventSourceChange = 5
	EventPrivateStart = 0x08000000
)

// MaxBuffers is the largest pool a node accepts.
const MaxBuffers = 32

// Errors returned by VideoNode operations.
var (
	ErrInvalidState = errors.New("v4l2: invalid node state")
	ErrInvalidIndex = errors.New("v4l2: buffer index out of range")
	ErrPoolMismatch = errors.New("v4l2: buffer pool does not match configured format")
	ErrShortPool    = errors.New("v4l2: buffer pool smaller than requested count")
	ErrNotStreaming = errors.New("v4l2: node is not streaming")
	ErrUnsupported  = errors.New("v4l2: not supported on this platform")
)
