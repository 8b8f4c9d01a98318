package vpp

import "context"

// BufferStatus is the state of one pipeline slot.
type BufferStatus int

const (
	BufferFree BufferStatus = iota
	BufferLoaded
	BufferProcessing
	BufferReady
	BufferRendering
	// BufferEndFlag marks the output slot of a pending flush.
	BufferEndFlag
)

func (s BufferStatus) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferLoaded:
		return "loaded"
	case BufferProcessing:
		return "processing"
	case BufferReady:
		return "ready"
	case BufferRendering:
		return "rendering"
	case BufferEndFlag:
		return "end_flag"
	default:
		return "unknown"
	}
}

// Frame is one picture buffer exchanged with the decoder, the client and
// the output window.
type Frame struct {
	Surface SurfaceID
	TimeUs  int64
	Flags   uint32

	// Processed is set on frames rendered by the post-processor.
	Processed bool

	refs         int
	heldByClient bool
}

// FrameReleaser takes back decoder frames the processor no longer needs.
type FrameReleaser interface {
	ReleaseFrame(f *Frame)
}

// Window is the output target. Processed frames are drawn from and
// returned to it.
type Window interface {
	// ID identifies the target; one session may exist per ID.
	ID() string
	// Surfaces lists every buffer the window owns.
	Surfaces() []SurfaceID
	// Dequeue blocks until the window hands out a free buffer.
	Dequeue(ctx context.Context) (*Frame, error)
	// Cancel returns a buffer without displaying it.
	Cancel(f *Frame) error
}

type slot struct {
	frame  *Frame
	status BufferStatus
	timeUs int64
	flags  uint32
}

func (s *slot) reset(f *Frame) {
	s.frame = f
	s.status = BufferFree
	s.timeUs = 0
	s.flags = 0
}

func (s *slot) surface() SurfaceID {
	if s.frame == nil {
		return 0
	}
	return s.frame.Surface
}
