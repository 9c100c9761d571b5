// Package fourcc defines the pixel-format tags the shim understands and the
// plane arithmetic that goes with them.
//
// The tag values are the V4L2 fourcc codes, so a tag read from the driver can
// be compared directly against these constants without translation.
//
// All planar 4:2:0 arithmetic in this repository assumes the canonical layout:
// luma plane of width×height bytes, then two chroma planes of width×height/4
// bytes each, contiguous in memory.
package fourcc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FourCC is a four-character pixel-format tag in V4L2 byte order
// (first character in the least significant byte).
type FourCC uint32

// New builds a tag from its four characters, e.g. New('Y','U','1','2').
func New(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Supported format tags. This is the full fixed set the shim handles;
// arbitrary formats beyond it are out of scope.
const (
	// YU12 is planar YUV 4:2:0 (Y, then U, then V). Canonical cache format.
	YU12 = FourCC('Y' | 'U'<<8 | '1'<<16 | '2'<<24)
	// YV12 is planar YUV 4:2:0 with the chroma planes swapped (Y, V, U).
	YV12 = FourCC('Y' | 'V'<<8 | '1'<<16 | '2'<<24)
	// NV12 is semiplanar YUV 4:2:0 (Y, then interleaved UV).
	NV12 = FourCC('N' | 'V'<<8 | '1'<<16 | '2'<<24)
	// NV21 is semiplanar YUV 4:2:0 (Y, then interleaved VU).
	NV21 = FourCC('N' | 'V'<<8 | '2'<<16 | '1'<<24)
	// YUYV is packed YUV 4:2:2 (Y0 U0 Y1 V0).
	YUYV = FourCC('Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24)
	// UYVY is packed YUV 4:2:2 (U0 Y0 V0 Y1).
	UYVY = FourCC('U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24)
	// MJPG is motion JPEG as delivered by capture hardware.
	MJPG = FourCC('M' | 'J'<<8 | 'P'<<16 | 'G'<<24)
	// JPEG is a single JPEG-compressed image (output side, with EXIF APP1).
	JPEG = FourCC('J' | 'P'<<8 | 'E'<<16 | 'G'<<24)
	// RGB32 is 32-bit packed B G R X (V4L2 "RGB4" little-endian layout).
	RGB32 = FourCC('R' | 'G'<<8 | 'B'<<16 | '4'<<24)
	// BGR32 is 32-bit packed R G B X (V4L2 "BGR4" little-endian layout).
	BGR32 = FourCC('B' | 'G'<<8 | 'R'<<16 | '4'<<24)
)

// String renders the tag as its four characters, e.g. "YU12".
func (f FourCC) String() string {
	return fmt.Sprintf("%c%c%c%c", byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
}

// IsPlanar420 reports whether the tag is one of the planar or semiplanar
// YUV 4:2:0 layouts.
func (f FourCC) IsPlanar420() bool {
	switch f {
	case YU12, YV12, NV12, NV21:
		return true
	}
	return false
}

// IsCompressed reports whether frames carry variable-length compressed data.
func (f FourCC) IsCompressed() bool {
	return f == MJPG || f == JPEG
}

// FrameSize returns the number of bytes one width×height frame occupies,
// or 0 for compressed formats whose size is data dependent.
func (f FourCC) FrameSize(width, height int) int {
	switch f {
	case YU12, YV12, NV12, NV21:
		return width * height * 3 / 2
	case YUYV, UYVY:
		return width * height * 2
	case RGB32, BGR32:
		return width * height * 4
	}
	return 0
}

// LumaSize is the byte size of the Y plane of a 4:2:0 frame.
func LumaSize(width, height int) int { return width * height }

// ChromaSize is the byte size of one chroma plane of a 4:2:0 frame
// (a quarter of the luma plane).
func ChromaSize(width, height int) int { return width * height / 4 }

// ValidateDimensions rejects geometry the 4:2:0 plane math cannot express.
// Width and height must be positive and even.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("fourcc: non-positive dimensions %dx%d: %w", width, height, unix.EINVAL)
	}
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("fourcc: odd dimensions %dx%d (4:2:0 requires even width and height): %w", width, height, unix.EINVAL)
	}
	return nil
}
