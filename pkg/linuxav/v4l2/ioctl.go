//go:build linux

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

// AllocBuffer maps anonymous memory suitable for USERPTR streaming.
// The region lives outside the Go heap so the driver may keep it.
func AllocBuffer(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.New("v4l2: invalid buffer size")
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// FreeBuffer unmaps memory returned by AllocBuffer.
func FreeBuffer(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
