package isp

import (
	"time"
)

// BufferKind tags what a Buffer carries. Call sites ask the capability
// accessors instead of switching on the kind.
type BufferKind int

// Buffer kinds.
const (
	KindPreview BufferKind = iota
	// KindGraphic is a preview buffer owned by the display.
	KindGraphic
	KindVideo
	KindSnapshot
	KindPostview
	// KindHALZSL is a full-resolution capture buffer of the software ZSL path.
	KindHALZSL
)

var kindNames = [...]string{"preview", "graphic", "video", "snapshot", "postview", "halzsl"}

func (k BufferKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Buffer is one hardware-addressable picture buffer.
//
// ID is -1 while the slot is queued to the driver and holds the slot
// index while a caller owns it.
type Buffer struct {
	kind BufferKind

	ID     int
	Data   []byte
	Format FrameConfig

	FrameCounter int
	Timestamp    time.Duration
	Sequence     uint32
	BytesUsed    uint32
	Session      int
	Status       FrameStatus

	// Shared buffers are owned by the caller and never freed here.
	Shared bool
	Cached bool
}

func newBuffer(kind BufferKind, data []byte, f FrameConfig) *Buffer {
	return &Buffer{kind: kind, ID: -1, Data: data, Format: f}
}

// NewClientBuffer wraps caller-owned memory for SetGraphicPreviewBuffers,
// SetSnapshotBuffers or SetRecordingBuffers.
func NewClientBuffer(kind BufferKind, data []byte, f FrameConfig) *Buffer {
	b := newBuffer(kind, data, f)
	b.Shared = true
	return b
}

// Kind returns the buffer's tag.
func (b *Buffer) Kind() BufferKind { return b.kind }

// Queued reports whether the slot belongs to the driver.
func (b *Buffer) Queued() bool { return b.ID == -1 }

// SessionBound reports whether puts must match the capture session.
// Display-owned preview buffers outlive sessions.
func (b *Buffer) SessionBound() bool {
	return b.kind != KindGraphic && b.kind != KindHALZSL
}

// Scalable reports whether the buffer may be a scaler source or target.
func (b *Buffer) Scalable() bool {
	return b.kind != KindVideo
}

// ZSLEligible reports whether the buffer can back a HAL-ZSL snapshot.
func (b *Buffer) ZSLEligible() bool {
	return b.kind == KindHALZSL
}

// PreviewLike reports whether the buffer flows through the preview stream.
func (b *Buffer) PreviewLike() bool {
	return b.kind == KindPreview || b.kind == KindGraphic
}

// Clone returns a shallow copy sharing the frame memory.
func (b *Buffer) Clone() *Buffer {
	c := *b
	return &c
}

// copyMetadata stamps b with the capture metadata of src.
func (b *Buffer) copyMetadata(src *Buffer) {
	b.FrameCounter = src.FrameCounter
	b.Timestamp = src.Timestamp
	b.Sequence = src.Sequence
	b.Status = src.Status
	b.Session = src.Session
}
