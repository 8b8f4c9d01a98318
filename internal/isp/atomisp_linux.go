//go:build linux && (amd64 || arm64)

package isp

import (
	"unsafe"

	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// atomispIocSContCaptureConfig is ATOMISP_IOC_S_CONT_CAPTURE_CONFIG,
// _IOWR('v', BASE_VIDIOC_PRIVATE+33, struct atomisp_cont_capture_conf).
const atomispIocSContCaptureConfig uint = 0xc02056e1

// contCaptureConf mirrors struct atomisp_cont_capture_conf (32 bytes).
type contCaptureConf struct {
	numCaptures int32
	skipFrames  uint32
	offset      int32
	reserved    [5]uint32
}

// atomispNode is the main AtomISP video node. It adds the private
// continuous capture request to the V4L2 node.
type atomispNode struct {
	*v4l2.VideoNode
}

func (n atomispNode) SetContinuousCapture(numCaptures, offset, skip int) error {
	conf := contCaptureConf{
		numCaptures: int32(numCaptures),
		skipFrames:  uint32(skip),
		offset:      int32(offset),
	}
	return n.PrivateIoctl(atomispIocSContCaptureConfig, unsafe.Pointer(&conf))
}

// NewV4L2Devices builds the device set on V4L2 nodes. Nothing is opened
// until the controller needs it.
func NewV4L2Devices(p DevicePaths) Devices {
	d := Devices{
		Main:      atomispNode{v4l2.NewVideoNode(p.Main, "main")},
		Postview:  v4l2.NewVideoNode(p.Postview, "postview"),
		Preview:   v4l2.NewVideoNode(p.Preview, "preview"),
		Recording: v4l2.NewVideoNode(p.Recording, "recording"),
	}
	if p.Inject != "" {
		d.Inject = v4l2.NewOutputNode(p.Inject, "inject")
	}
	if p.ISP != "" {
		d.ISP = v4l2.NewVideoNode(p.ISP, "isp-subdev")
	}
	return d
}

// V4L2Allocator allocates page-aligned user pointer buffers.
type V4L2Allocator struct{}

// Alloc maps size bytes of anonymous memory.
func (V4L2Allocator) Alloc(size int) ([]byte, error) { return v4l2.AllocBuffer(size) }

// Free unmaps a buffer returned by Alloc.
func (V4L2Allocator) Free(b []byte) error { return v4l2.FreeBuffer(b) }
