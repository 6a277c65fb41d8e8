package v4l2

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/edgevid/videostream/pkg/fourcc"
)

// Streaming-control wrappers over an already-open device fd, used by
// the capture pipeline. Only the single-planar API is covered.

const fieldAny = 0 // V4L2_FIELD_ANY

// QueryCaps returns the device's decoded capability set.
func QueryCaps(fd int) (Capabilities, error) {
	var qc rawCapability
	if err := xioctl(fd, vidiocQuerycap, unsafe.Pointer(&qc)); err != nil {
		return nil, fmt.Errorf("v4l2: querycap: %w", err)
	}
	return ParseCapabilities(deviceCaps(&qc)), nil
}

// NegotiatedFormat is what the driver actually configured; it may
// differ from the request (nearest supported geometry wins).
type NegotiatedFormat struct {
	Width  int
	Height int
	FourCC fourcc.Code
	Stride int
	Size   uint32
}

// SetFormat requests a capture format. Zero width, height or code keep
// the driver's current value for that field.
func SetFormat(fd int, bufType uint32, width, height int, code fourcc.Code) (NegotiatedFormat, error) {
	var f rawFormat
	f.Type = bufType
	if err := xioctl(fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return NegotiatedFormat{}, fmt.Errorf("v4l2: g_fmt: %w", err)
	}
	if width > 0 {
		f.Pix.Width = uint32(width)
	}
	if height > 0 {
		f.Pix.Height = uint32(height)
	}
	if code != 0 {
		f.Pix.PixelFormat = uint32(code)
	}
	f.Pix.Field = fieldAny
	// The driver recomputes these for the final geometry.
	f.Pix.BytesPerLine = 0
	f.Pix.SizeImage = 0
	if err := xioctl(fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return NegotiatedFormat{}, fmt.Errorf("v4l2: s_fmt %s: %w", code, err)
	}
	return NegotiatedFormat{
		Width:  int(f.Pix.Width),
		Height: int(f.Pix.Height),
		FourCC: fourcc.Code(f.Pix.PixelFormat),
		Stride: int(f.Pix.BytesPerLine),
		Size:   f.Pix.SizeImage,
	}, nil
}

// RequestBuffers asks the driver for count buffers and returns how many
// it granted. Count zero frees a previous allocation.
func RequestBuffers(fd int, bufType, memory, count uint32) (uint32, error) {
	req := rawRequestBuffers{Count: count, Type: bufType, Memory: memory}
	if err := xioctl(fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("v4l2: reqbufs: %w", err)
	}
	return req.Count, nil
}

// QueryBuffer returns the length of a driver buffer.
func QueryBuffer(fd int, bufType, memory, index uint32) (length uint32, err error) {
	buf := rawBuffer{Index: index, Type: bufType, Memory: memory}
	if err := xioctl(fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return 0, fmt.Errorf("v4l2: querybuf %d: %w", index, err)
	}
	return buf.Length, nil
}

// ExportBuffer exports a driver buffer as a dma-buf file descriptor.
func ExportBuffer(fd int, bufType, index uint32) (int, error) {
	exp := rawExportBuffer{Type: bufType, Index: index, Flags: unix.O_RDWR | unix.O_CLOEXEC}
	if err := xioctl(fd, vidiocExpbuf, unsafe.Pointer(&exp)); err != nil {
		return -1, fmt.Errorf("v4l2: expbuf %d: %w", index, err)
	}
	return int(exp.Fd), nil
}

// QueueBuffer hands a buffer to the driver for filling.
func QueueBuffer(fd int, bufType, memory, index uint32) error {
	buf := rawBuffer{Index: index, Type: bufType, Memory: memory}
	if err := xioctl(fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("v4l2: qbuf %d: %w", index, err)
	}
	return nil
}

// DequeuedBuffer is a filled buffer handed back by the driver.
type DequeuedBuffer struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
	Timestamp int64 // nanoseconds
}

// DequeueBuffer collects the next filled buffer. Returns unix.EAGAIN
// when the fd is non-blocking and no buffer is ready.
func DequeueBuffer(fd int, bufType, memory uint32) (DequeuedBuffer, error) {
	buf := rawBuffer{Type: bufType, Memory: memory}
	if err := xioctl(fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return DequeuedBuffer{}, errno
		}
		return DequeuedBuffer{}, err
	}
	return DequeuedBuffer{
		Index:     buf.Index,
		BytesUsed: buf.BytesUsed,
		Sequence:  buf.Sequence,
		Timestamp: buf.TvSec*1e9 + buf.TvUsec*1e3,
	}, nil
}

// StreamOn starts the capture engine.
func StreamOn(fd int, bufType uint32) error {
	bt := int32(bufType)
	if err := xioctl(fd, vidiocStreamon, unsafe.Pointer(&bt)); err != nil {
		return fmt.Errorf("v4l2: streamon: %w", err)
	}
	return nil
}

// StreamOff stops the capture engine and dequeues everything.
func StreamOff(fd int, bufType uint32) error {
	bt := int32(bufType)
	if err := xioctl(fd, vidiocStreamoff, unsafe.Pointer(&bt)); err != nil {
		return fmt.Errorf("v4l2: streamoff: %w", err)
	}
	return nil
}
