// Package v4l2 provides a read-only inventory of the kernel's video4linux
// devices: capabilities, supported formats, and a coarse classification
// (camera, encoder, decoder, ...) derived from them.
package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request codes, precomputed for 64-bit Linux.
const (
	vidiocQuerycap       = 0x80685600 // VIDIOC_QUERYCAP
	vidiocEnumFmt        = 0xc0405602 // VIDIOC_ENUM_FMT
	vidiocGFmt           = 0xc0d05604 // VIDIOC_G_FMT
	vidiocSFmt           = 0xc0d05605 // VIDIOC_S_FMT
	vidiocReqbufs        = 0xc0145608 // VIDIOC_REQBUFS
	vidiocQuerybuf       = 0xc0585609 // VIDIOC_QUERYBUF
	vidiocQbuf           = 0xc058560f // VIDIOC_QBUF
	vidiocExpbuf         = 0xc0405610 // VIDIOC_EXPBUF
	vidiocDqbuf          = 0xc0585611 // VIDIOC_DQBUF
	vidiocStreamon       = 0x40045612 // VIDIOC_STREAMON
	vidiocStreamoff      = 0x40045613 // VIDIOC_STREAMOFF
	vidiocEnumFramesizes = 0xc02c564a // VIDIOC_ENUM_FRAMESIZES
)

// Buffer types.
const (
	BufTypeCapture       = 1
	BufTypeOutput        = 2
	BufTypeCaptureMplane = 9
	BufTypeOutputMplane  = 10
)

// Memory access modes for REQBUFS.
const (
	MemoryMmap    = 1
	MemoryUserPtr = 2
	MemoryDMABuf  = 4
)

// struct v4l2_capability
type rawCapability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	_            [3]uint32
}

// struct v4l2_fmtdesc
type rawFmtDesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	PixelFormat uint32
	MbusCode    uint32
	_           [3]uint32
}

// struct v4l2_requestbuffers
type rawRequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	_            [3]uint8
}

// struct v4l2_exportbuffer
type rawExportBuffer struct {
	Type  uint32
	Index uint32
	Plane uint32
	Flags uint32
	Fd    int32
	_     [11]uint32
}

// struct v4l2_buffer, single-planar view, 64-bit layout.
type rawBuffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	_         uint32
	TvSec     int64
	TvUsec    int64
	Timecode  [16]byte
	Sequence  uint32
	Memory    uint32
	M         uint64 // offset / userptr / fd depending on Memory
	Length    uint32
	_         uint32
	_         uint32
	_         uint32
}

// struct v4l2_pix_format
type rawPixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// struct v4l2_format with the single-planar pix member of the union.
type rawFormat struct {
	Type uint32
	_    uint32
	Pix  rawPixFormat
	_    [152]byte
}

// struct v4l2_frmsizeenum, discrete member of the union.
type rawFrameSizeEnum struct {
	Index       uint32
	PixelFormat uint32
	Type        uint32
	Width       uint32
	Height      uint32
	_           [4]uint32
	_           [2]uint32
}

const frmsizeTypeDiscrete = 1

// xioctl retries the request through EINTR, matching v4l-utils.
func xioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return errno
		}
	}
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
