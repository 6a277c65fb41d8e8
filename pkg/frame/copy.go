package frame

import (
	"errors"
	"image"

	"github.com/edgevid/videostream/pkg/fourcc"
	"golang.org/x/image/draw"
)

// ErrNotSupported is returned by CopyTo for format pairs the CPU path
// cannot convert.
var ErrNotSupported = errors.New("frame: conversion not supported")

// CopyTo copies this frame into dst: crop the source region, convert
// the pixel format, scale to dst's dimensions. Same-format copies use
// a direct row copy; RGB-family conversions and rescales go through
// x/image. Both frames are advisory-locked for the duration when they
// are not already held; copying a frame that is live on a host can
// still race its transmission.
func (f *Frame) CopyTo(dst *Frame, crop *image.Rectangle) (int, error) {
	if srcLock := f.TryLock(); srcLock == nil {
		defer func() { _ = f.Unlock() }()
	}
	if dstLock := dst.TryLock(); dstLock == nil {
		defer func() { _ = dst.Unlock() }()
	}

	src, err := f.Mmap()
	if err != nil {
		return 0, err
	}
	out, err := dst.Mmap()
	if err != nil {
		return 0, err
	}

	region := image.Rect(0, 0, f.Width(), f.Height())
	if crop != nil {
		region = crop.Intersect(region)
		if region.Empty() {
			return 0, nil
		}
	}

	sameFormat := f.FourCC() == dst.FourCC()
	sameGeometry := region.Dx() == dst.Width() && region.Dy() == dst.Height()
	if sameFormat && sameGeometry {
		return copyRows(src, out, f, dst, region), nil
	}

	rgba, err := toRGBA(src, f, region)
	if err != nil {
		return 0, err
	}
	if rgba.Bounds().Dx() != dst.Width() || rgba.Bounds().Dy() != dst.Height() {
		scaled := image.NewRGBA(image.Rect(0, 0, dst.Width(), dst.Height()))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), rgba, rgba.Bounds(), draw.Src, nil)
		rgba = scaled
	}
	return fromRGBA(rgba, out, dst)
}

func copyRows(src, out []byte, f, dst *Frame, region image.Rectangle) int {
	bpp := bytesPerPixel(f.FourCC())
	rowLen := region.Dx() * bpp
	if rowLen > dst.Stride() {
		rowLen = dst.Stride()
	}
	copied := 0
	for y := 0; y < region.Dy(); y++ {
		so := (region.Min.Y+y)*f.Stride() + region.Min.X*bpp
		do := y * dst.Stride()
		if so+rowLen > len(src) || do+rowLen > len(out) {
			break
		}
		copied += copy(out[do:do+rowLen], src[so:so+rowLen])
	}
	return copied
}

func bytesPerPixel(c fourcc.Code) int {
	switch c {
	case fourcc.RGBA, fourcc.RGBX, fourcc.BGRA, fourcc.BGRX:
		return 4
	case fourcc.RGB3, fourcc.BGR3:
		return 3
	case fourcc.YUYV, fourcc.YUY2, fourcc.YVYU, fourcc.UYVY, fourcc.VYUY:
		return 2
	default:
		return 1
	}
}

func toRGBA(src []byte, f *Frame, region image.Rectangle) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	for y := 0; y < region.Dy(); y++ {
		row := (region.Min.Y + y) * f.Stride()
		for x := 0; x < region.Dx(); x++ {
			var r, g, b, a byte
			a = 0xff
			switch f.FourCC() {
			case fourcc.RGBA, fourcc.RGBX:
				o := row + (region.Min.X+x)*4
				if o+3 >= len(src) {
					return nil, ErrNoMemory
				}
				r, g, b = src[o], src[o+1], src[o+2]
				if f.FourCC() == fourcc.RGBA {
					a = src[o+3]
				}
			case fourcc.BGRA, fourcc.BGRX:
				o := row + (region.Min.X+x)*4
				if o+3 >= len(src) {
					return nil, ErrNoMemory
				}
				b, g, r = src[o], src[o+1], src[o+2]
				if f.FourCC() == fourcc.BGRA {
					a = src[o+3]
				}
			case fourcc.RGB3:
				o := row + (region.Min.X+x)*3
				if o+2 >= len(src) {
					return nil, ErrNoMemory
				}
				r, g, b = src[o], src[o+1], src[o+2]
			case fourcc.BGR3:
				o := row + (region.Min.X+x)*3
				if o+2 >= len(src) {
					return nil, ErrNoMemory
				}
				b, g, r = src[o], src[o+1], src[o+2]
			default:
				return nil, ErrNotSupported
			}
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = r, g, b, a
		}
	}
	return img, nil
}

func fromRGBA(img *image.RGBA, out []byte, dst *Frame) (int, error) {
	copied := 0
	for y := 0; y < dst.Height(); y++ {
		for x := 0; x < dst.Width(); x++ {
			o := img.PixOffset(x, y)
			r, g, b, a := img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3]
			switch dst.FourCC() {
			case fourcc.RGBA, fourcc.RGBX:
				do := y*dst.Stride() + x*4
				if do+3 >= len(out) {
					return copied, ErrNoMemory
				}
				out[do], out[do+1], out[do+2], out[do+3] = r, g, b, a
				copied += 4
			case fourcc.BGRA, fourcc.BGRX:
				do := y*dst.Stride() + x*4
				if do+3 >= len(out) {
					return copied, ErrNoMemory
				}
				out[do], out[do+1], out[do+2], out[do+3] = b, g, r, a
				copied += 4
			case fourcc.RGB3:
				do := y*dst.Stride() + x*3
				if do+2 >= len(out) {
					return copied, ErrNoMemory
				}
				out[do], out[do+1], out[do+2] = r, g, b
				copied += 3
			case fourcc.BGR3:
				do := y*dst.Stride() + x*3
				if do+2 >= len(out) {
					return copied, ErrNoMemory
				}
				out[do], out[do+1], out[do+2] = b, g, r
				copied += 3
			default:
				return copied, ErrNotSupported
			}
		}
	}
	return copied, nil
}
