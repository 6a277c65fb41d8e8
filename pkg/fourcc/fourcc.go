// Package fourcc handles four-character pixel and bitstream format codes.
package fourcc

import "errors"

var ErrInvalidFormat = errors.New("fourcc: code must be exactly 4 characters")

// Code is a four-character format code packed little-endian,
// i.e. the first character occupies the lowest byte.
type Code uint32

const (
	RGBA Code = 'R' | 'G'<<8 | 'B'<<16 | 'A'<<24
	RGBX Code = 'R' | 'G'<<8 | 'B'<<16 | 'X'<<24
	RGB3 Code = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24
	BGRA Code = 'B' | 'G'<<8 | 'R'<<16 | 'A'<<24
	BGRX Code = 'B' | 'G'<<8 | 'R'<<16 | 'X'<<24
	BGR3 Code = 'B' | 'G'<<8 | 'R'<<16 | '3'<<24
	YUYV Code = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	YUY2 Code = 'Y' | 'U'<<8 | 'Y'<<16 | '2'<<24
	YVYU Code = 'Y' | 'V'<<8 | 'Y'<<16 | 'U'<<24
	UYVY Code = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24
	VYUY Code = 'V' | 'Y'<<8 | 'U'<<16 | 'Y'<<24
	NV12 Code = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	NV21 Code = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	NV16 Code = 'N' | 'V'<<8 | '1'<<16 | '6'<<24
	NV61 Code = 'N' | 'V'<<8 | '6'<<16 | '1'<<24
	I420 Code = 'I' | '4'<<8 | '2'<<16 | '0'<<24
	YV12 Code = 'Y' | 'V'<<8 | '1'<<16 | '2'<<24
	H264 Code = 'H' | '2'<<8 | '6'<<16 | '4'<<24
	HEVC Code = 'H' | 'E'<<8 | 'V'<<16 | 'C'<<24
	MJPG Code = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	JPEG Code = 'J' | 'P'<<8 | 'E'<<16 | 'G'<<24
	VP8  Code = 'V' | 'P'<<8 | '8'<<16 | '0'<<24
	VP9  Code = 'V' | 'P'<<8 | '9'<<16 | '0'<<24
)

// FromString converts a 4-character string into its packed code.
func FromString(s string) (Code, error) {
	if len(s) != 4 {
		return 0, ErrInvalidFormat
	}
	return Code(s[0]) | Code(s[1])<<8 | Code(s[2])<<16 | Code(s[3])<<24, nil
}

func (c Code) String() string {
	return string([]byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)})
}

// Stride returns the default row pitch in bytes for a raw frame of the
// given width, or 0 when the format has no fixed per-row layout
// (compressed bitstreams and unknown codes).
func (c Code) Stride(width int) int {
	switch c {
	case RGBA, RGBX, BGRA, BGRX:
		return width * 4
	case RGB3, BGR3:
		return width * 3
	case YUYV, YUY2, YVYU, UYVY, VYUY:
		return width * 2
	case NV16, NV61:
		return width * 2
	case NV12, NV21, I420, YV12:
		// Planar strides cover luma plus interleaved/split chroma rows.
		return width + width>>1
	default:
		return 0
	}
}

// Size returns the byte size of a raw frame, or 0 for formats without a
// computable layout.
func (c Code) Size(width, height int) int {
	return c.Stride(width) * height
}

// Compressed reports whether the code names a bitstream rather than a
// raw pixel layout.
func (c Code) Compressed() bool {
	switch c {
	case H264, HEVC, MJPG, JPEG, VP8, VP9:
		return true
	}
	return false
}
