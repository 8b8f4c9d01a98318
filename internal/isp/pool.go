package isp

import (
	"errors"
	"fmt"
)

// Allocator returns zeroed frame memory of at least size bytes.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(b []byte) error
}

// HeapAllocator allocates frame memory on the Go heap.
type HeapAllocator struct{}

// Alloc implements Allocator.
func (HeapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	return make([]byte, size), nil
}

// Free implements Allocator.
func (HeapAllocator) Free([]byte) error { return nil }

// bufferPool is a fixed-capacity array of slots for one stream. It is
// either fully populated or empty, never partially.
type bufferPool struct {
	kind        BufferKind
	alloc       Allocator
	buffers     []*Buffer
	clientOwned bool
}

func newBufferPool(kind BufferKind, alloc Allocator) *bufferPool {
	return &bufferPool{kind: kind, alloc: alloc}
}

// allocate creates count slots of format f. On any failure every slot
// created so far is released and NO_MEMORY is returned.
func (p *bufferPool) allocate(count int, f FrameConfig, cached bool) error {
	if count <= 0 {
		return NewError(CodeBadValue, "buffer count must be positive", map[string]any{"count": count})
	}
	if len(p.buffers) > 0 {
		p.free()
	}
	buffers := make([]*Buffer, 0, count)
	for i := range count {
		data, err := p.alloc.Alloc(int(f.SizeImage))
		if err != nil {
			for _, b := range buffers {
				_ = p.alloc.Free(b.Data)
			}
			return NewErrorWithCause(CodeNoMemory, fmt.Sprintf("allocate %s buffer %d of %d", p.kind, i, count), err,
				map[string]any{"size": f.SizeImage})
		}
		b := newBuffer(p.kind, data, f)
		b.Cached = cached
		buffers = append(buffers, b)
	}
	p.buffers = buffers
	p.clientOwned = false
	return nil
}

// attachClientPool adopts caller-owned buffers in place of allocation.
func (p *bufferPool) attachClientPool(buffers []*Buffer) error {
	if len(buffers) == 0 {
		return NewError(CodeBadValue, "empty client buffer pool", nil)
	}
	for i, b := range buffers {
		if b == nil || b.Data == nil {
			return NewError(CodeBadValue, "nil client buffer", map[string]any{"index": i})
		}
	}
	p.clientOwned = false
	p.free()
	p.buffers = make([]*Buffer, len(buffers))
	for i, b := range buffers {
		b.Shared = true
		b.ID = -1
		p.buffers[i] = b
	}
	p.clientOwned = true
	return nil
}

// markShared flags every slot as owned outside the pool.
func (p *bufferPool) markShared() {
	for _, b := range p.buffers {
		b.Shared = true
	}
}

// free releases the slots. Client-owned pools stay attached.
func (p *bufferPool) free() error {
	if p.clientOwned {
		return nil
	}
	var errs []error
	for _, b := range p.buffers {
		if b.Shared {
			continue
		}
		if err := p.alloc.Free(b.Data); err != nil {
			errs = append(errs, err)
		}
	}
	p.buffers = nil
	return errors.Join(errs...)
}

// detach forgets a client-owned pool without touching its memory.
func (p *bufferPool) detach() {
	if !p.clientOwned {
		_ = p.free()
		return
	}
	p.buffers = nil
	p.clientOwned = false
}

func (p *bufferPool) len() int { return len(p.buffers) }

func (p *bufferPool) empty() bool { return len(p.buffers) == 0 }

func (p *bufferPool) at(i int) (*Buffer, bool) {
	if i < 0 || i >= len(p.buffers) {
		return nil, false
	}
	return p.buffers[i], true
}

// memory returns the slot memory in index order for a device pool.
func (p *bufferPool) memory() [][]byte {
	out := make([][]byte, len(p.buffers))
	for i, b := range p.buffers {
		out[i] = b.Data
	}
	return out
}

// markQueued flags every slot as owned by the driver.
func (p *bufferPool) markQueued() {
	for _, b := range p.buffers {
		b.ID = -1
	}
}

// owned counts slots currently held by callers.
func (p *bufferPool) owned() int {
	n := 0
	for _, b := range p.buffers {
		if b.ID != -1 {
			n++
		}
	}
	return n
}
