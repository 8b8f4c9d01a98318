// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for driving a single capture node through its buffer lifecycle.
//
// This package does not use cgo. Frame memory is registered with the
// driver as USERPTR buffers allocated with AllocBuffer.
//
// # Node lifecycle
//
// A VideoNode moves through a fixed set of states:
//
//	Closed -> Open -> Configured -> Prepared -> Populated -> Started
//
// SetFormat configures the node, SetBufferPool prepares it, and Start
// populates the driver with the pool and turns streaming on:
//
//	node := v4l2.NewVideoNode("/dev/video1", "preview")
//	_ = node.Open()
//	f := v4l2.Format{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtNV12}
//	_ = node.SetFormat(&f)
//	_ = node.SetBufferPool(buffers, f, true)
//	_ = node.Start(len(buffers), 2)
//	frame, _ := node.GrabFrame()
//	_ = node.PutFrame(frame.Index)
//
// # Events
//
// Private driver events such as 3A statistics readiness are received with
// SubscribeEvent, Poll on the exception set and DequeueEvent.
package v4l2
