package isp

import (
	"errors"
	"testing"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// countingAllocator fails after limit allocations.
type countingAllocator struct {
	limit  int
	allocs int
	frees  int
}

func (a *countingAllocator) Alloc(size int) ([]byte, error) {
	if a.allocs >= a.limit {
		return nil, errors.New("out of frame memory")
	}
	a.allocs++
	return make([]byte, size), nil
}

func (a *countingAllocator) Free([]byte) error {
	a.frees++
	return nil
}

func TestPoolAllocateRollsBack(t *testing.T) {
	alloc := &countingAllocator{limit: 3}
	pool := newBufferPool(KindPreview, alloc)

	err := pool.allocate(6, NewFrameConfig(640, 480, v4l2.PixFmtNV12), true)
	if CodeOf(err) != CodeNoMemory {
		t.Fatalf("allocate error = %v, want NO_MEMORY", err)
	}
	if !pool.empty() {
		t.Errorf("pool holds %d buffers after failure", pool.len())
	}
	if alloc.frees != alloc.allocs {
		t.Errorf("freed %d of %d allocated buffers", alloc.frees, alloc.allocs)
	}
}

func TestPoolAllocate(t *testing.T) {
	pool := newBufferPool(KindVideo, HeapAllocator{})
	f := NewFrameConfig(1920, 1080, v4l2.PixFmtNV12)

	if err := pool.allocate(4, f, false); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if pool.len() != 4 {
		t.Fatalf("len = %d, want 4", pool.len())
	}
	for i, b := range pool.buffers {
		if b.Kind() != KindVideo || !b.Queued() || len(b.Data) != int(f.SizeImage) {
			t.Errorf("buffer %d: kind %s queued %v size %d", i, b.Kind(), b.Queued(), len(b.Data))
		}
	}
	if _, ok := pool.at(4); ok {
		t.Error("at(4) should be out of range")
	}
	if err := pool.allocate(0, f, false); CodeOf(err) != CodeBadValue {
		t.Errorf("allocate(0) error = %v, want BAD_VALUE", err)
	}
}

func TestClientPoolSurvivesFree(t *testing.T) {
	pool := newBufferPool(KindGraphic, HeapAllocator{})
	f := NewFrameConfig(320, 240, v4l2.PixFmtNV12)
	client := []*Buffer{
		NewClientBuffer(KindGraphic, make([]byte, f.SizeImage), f),
		NewClientBuffer(KindGraphic, make([]byte, f.SizeImage), f),
	}
	if err := pool.attachClientPool(client); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := pool.free(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if pool.len() != 2 {
		t.Errorf("client pool dropped by free, len = %d", pool.len())
	}
	pool.detach()
	if !pool.empty() {
		t.Error("detach should forget the client pool")
	}
	if err := pool.attachClientPool([]*Buffer{{}}); CodeOf(err) != CodeBadValue {
		t.Errorf("attach of buffer without memory: %v, want BAD_VALUE", err)
	}
}

func TestBufferCapabilities(t *testing.T) {
	tests := []struct {
		kind                                    BufferKind
		sessionBound, scalable, zsl, previewish bool
	}{
		{KindPreview, true, true, false, true},
		{KindGraphic, false, true, false, true},
		{KindVideo, true, false, false, false},
		{KindSnapshot, true, true, false, false},
		{KindPostview, true, true, false, false},
		{KindHALZSL, false, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			b := newBuffer(tt.kind, nil, FrameConfig{})
			if b.SessionBound() != tt.sessionBound || b.Scalable() != tt.scalable ||
				b.ZSLEligible() != tt.zsl || b.PreviewLike() != tt.previewish {
				t.Errorf("capabilities of %s: bound %v scalable %v zsl %v preview %v", tt.kind,
					b.SessionBound(), b.Scalable(), b.ZSLEligible(), b.PreviewLike())
			}
		})
	}
}

func TestBufferClone(t *testing.T) {
	b := newBuffer(KindSnapshot, []byte{1, 2, 3}, FrameConfig{})
	b.Session = 4
	c := b.Clone()
	c.Session = 5
	c.Data[0] = 9
	if b.Session != 4 {
		t.Error("Clone should copy metadata")
	}
	if b.Data[0] != 9 {
		t.Error("Clone should share frame memory")
	}
}
