//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [40]byte  = [unsafe.Sizeof(v4l2CaptureParm{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2StreamParm{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Control{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2EventSubscription{})]byte{}
	_ [136]byte = [unsafe.Sizeof(v4l2Event{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocQuerycap         = 0x80685600
	vidiocGFmt             = 0xc0d05604
	vidiocSFmt             = 0xc0d05605
	vidiocReqbufs          = 0xc0145608
	vidiocQuerybuf         = 0xc0585609
	vidiocQbuf             = 0xc058560f
	vidiocDqbuf            = 0xc0585611
	vidiocStreamon         = 0x40045612
	vidiocStreamoff        = 0x40045613
	vidiocGParm            = 0xc0cc5615
	vidiocSParm            = 0xc0cc5616
	vidiocGCtrl            = 0xc008561b
	vidiocSCtrl            = 0xc008561c
	vidiocDqevent          = 0x80885659
	vidiocSubscribeEvent   = 0x4020565a
	vidiocUnsubscribeEvent = 0x4020565b
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32 // offset 0
	height       uint32 // offset 4
	pixelformat  uint32 // offset 8
	field        uint32 // offset 12
	bytesperline uint32 // offset 16
	sizeimage    uint32 // offset 20
	colorspace   uint32 // offset 24
	priv         uint32 // offset 28
	flags        uint32 // offset 32
	ycbcrEnc     uint32 // offset 36
	quantization uint32 // offset 40
	xferFunc     uint32 // offset 44
}

// v4l2Format has size 208 bytes. The kernel union is 8 byte aligned,
// so pix starts at offset 8.
type v4l2Format struct {
	typ uint32        // offset 0
	_   uint32        // padding
	pix v4l2PixFormat // offset 8
	_   [152]byte     // rest of the 200 byte union
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32  // offset 0
	typ          uint32  // offset 4
	memory       uint32  // offset 8
	capabilities uint32  // offset 12
	flags        uint8   // offset 16
	reserved     [3]byte // offset 17
}

// v4l2Timeval matches struct timeval on 64-bit.
type v4l2Timeval struct {
	sec  int64
	usec int64
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32      // offset 0
	typ       uint32      // offset 4
	bytesused uint32      // offset 8
	flags     uint32      // offset 12
	field     uint32      // offset 16
	_         uint32      // padding
	timestamp v4l2Timeval // offset 24
	timecode  [16]byte    // offset 40
	sequence  uint32      // offset 56
	memory    uint32      // offset 60
	m         uint64      // offset 64 - union of offset, userptr, planes, fd
	length    uint32      // offset 72
	reserved2 uint32      // offset 76
	requestFd uint32      // offset 80
	_         uint32      // padding to 88
}

// v4l2Fract has size 8 bytes.
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2CaptureParm has size 40 bytes.
type v4l2CaptureParm struct {
	capability   uint32    // offset 0
	capturemode  uint32    // offset 4
	timeperframe v4l2Fract // offset 8
	extendedmode uint32    // offset 16
	readbuffers  uint32    // offset 20
	reserved     [4]uint32 // offset 24
}

// v4l2StreamParm has size 204 bytes.
type v4l2StreamParm struct {
	typ     uint32          // offset 0
	capture v4l2CaptureParm // offset 4
	_       [160]byte       // rest of the 200 byte union
}

// v4l2Control has size 8 bytes.
type v4l2Control struct {
	id    uint32
	value int32
}

// v4l2EventSubscription has size 32 bytes.
type v4l2EventSubscription struct {
	typ      uint32    // offset 0
	id       uint32    // offset 4
	flags    uint32    // offset 8
	reserved [5]uint32 // offset 12
}

// v4l2Timespec matches struct timespec on 64-bit.
type v4l2Timespec struct {
	sec  int64
	nsec int64
}

// v4l2Event has size 136 bytes. The union holds 64-bit members so the
// whole struct is 8 byte aligned.
type v4l2Event struct {
	typ       uint32       // offset 0
	_         uint32       // padding
	u         [8]uint64    // offset 8
	pending   uint32       // offset 72
	sequence  uint32       // offset 76
	timestamp v4l2Timespec // offset 80
	id        uint32       // offset 96
	reserved  [8]uint32    // offset 100
}

// data returns the event union as bytes.
func (e *v4l2Event) data() [64]byte {
	var out [64]byte
	for i, w := range e.u {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(w >> (8 * b))
		}
	}
	return out
}
