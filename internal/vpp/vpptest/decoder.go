package vpptest

import (
	"sync"

	"github.com/smazurov/ispnode/internal/vpp"
)

// Decoder hands out frames from a fixed pool at a constant frame rate.
type Decoder struct {
	mu       sync.Mutex
	fps      int
	next     int64
	free     []*vpp.Frame
	surfaces []vpp.SurfaceID
	released int
	// Flags is stamped on every frame.
	Flags uint32
}

var _ vpp.FrameReleaser = (*Decoder)(nil)

// NewDecoder creates a decoder owning n frames with surfaces first,
// first+1 and so on.
func NewDecoder(n int, first vpp.SurfaceID, fps int) *Decoder {
	d := &Decoder{fps: fps}
	for i := range n {
		s := first + vpp.SurfaceID(i)
		d.free = append(d.free, &vpp.Frame{Surface: s})
		d.surfaces = append(d.surfaces, s)
	}
	return d
}

// Surfaces lists every surface the decoder owns.
func (d *Decoder) Surfaces() []vpp.SurfaceID {
	return append([]vpp.SurfaceID(nil), d.surfaces...)
}

// Next returns the next decoded frame, or false while every frame is
// still out.
func (d *Decoder) Next() (*vpp.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.free) == 0 {
		return nil, false
	}
	f := d.free[0]
	d.free = d.free[1:]
	f.TimeUs = d.next * 1000000 / int64(d.fps)
	f.Flags = d.Flags
	d.next++
	return f, true
}

// Timestamp returns the timestamp of frame n.
func (d *Decoder) Timestamp(n int) int64 {
	return int64(n) * 1000000 / int64(d.fps)
}

func (d *Decoder) ReleaseFrame(f *vpp.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free = append(d.free, f)
	d.released++
}

// Released returns how many frames came back.
func (d *Decoder) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Outstanding returns how many frames are still out.
func (d *Decoder) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.surfaces) - len(d.free)
}
