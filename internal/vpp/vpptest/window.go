package vpptest

import (
	"context"
	"errors"
	"sync"

	"github.com/smazurov/ispnode/internal/vpp"
)

// ErrUnknownBuffer is returned for frames the window never handed out.
var ErrUnknownBuffer = errors.New("vpptest: buffer not owned by window")

// Window simulates an output target with a fixed set of buffers.
type Window struct {
	id       string
	frames   map[vpp.SurfaceID]*vpp.Frame
	surfaces []vpp.SurfaceID
	free     chan *vpp.Frame

	mu        sync.Mutex
	presented []int64
	cancels   int
}

var _ vpp.Window = (*Window)(nil)

// NewWindow creates a window owning n buffers with surfaces first,
// first+1 and so on.
func NewWindow(id string, n int, first vpp.SurfaceID) *Window {
	w := &Window{
		id:     id,
		frames: make(map[vpp.SurfaceID]*vpp.Frame, n),
		free:   make(chan *vpp.Frame, n),
	}
	for i := range n {
		s := first + vpp.SurfaceID(i)
		f := &vpp.Frame{Surface: s}
		w.frames[s] = f
		w.surfaces = append(w.surfaces, s)
		w.free <- f
	}
	return w
}

func (w *Window) ID() string { return w.id }

func (w *Window) Surfaces() []vpp.SurfaceID {
	return append([]vpp.SurfaceID(nil), w.surfaces...)
}

func (w *Window) Dequeue(ctx context.Context) (*vpp.Frame, error) {
	select {
	case f := <-w.free:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Window) Cancel(f *vpp.Frame) error {
	if w.frames[f.Surface] != f {
		return ErrUnknownBuffer
	}
	w.mu.Lock()
	w.cancels++
	w.mu.Unlock()
	w.free <- f
	return nil
}

// Present displays f and takes the buffer back.
func (w *Window) Present(f *vpp.Frame) error {
	if w.frames[f.Surface] != f {
		return ErrUnknownBuffer
	}
	w.mu.Lock()
	w.presented = append(w.presented, f.TimeUs)
	w.mu.Unlock()
	w.free <- f
	return nil
}

// Presented returns the timestamps of every displayed buffer.
func (w *Window) Presented() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int64(nil), w.presented...)
}

// Free returns how many buffers the window holds.
func (w *Window) Free() int { return len(w.free) }
