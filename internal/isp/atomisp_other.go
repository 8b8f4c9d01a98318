//go:build !(linux && (amd64 || arm64))

package isp

// NewV4L2Devices returns an empty set: V4L2 nodes exist only on 64-bit
// Linux. New rejects it, so use the simulated devices instead.
func NewV4L2Devices(DevicePaths) Devices { return Devices{} }

// V4L2Allocator falls back to heap buffers off Linux.
type V4L2Allocator struct{ HeapAllocator }
