//go:build linux && (amd64 || arm64)

package device

import "unsafe"

// V4L2 kernel ABI for 64-bit architectures.
// https://github.com/torvalds/linux/blob/master/include/uapi/linux/videodev2.h

// Compile-time struct size assertions against the kernel ABI.
// [0]struct{} = [actual - expected]struct{} fails to compile on a mismatch.
var (
	_ [0]struct{} = [unsafe.Sizeof(v4l2Capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Fmtdesc{}) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2RequestBuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Buffer{}) - 88]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Frmsizeenum{}) - 44]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Control{}) - 8]struct{}{}
)

const (
	vidiocQuerycap       = 0x80685600
	vidiocEnumFmt        = 0xc0405602
	vidiocGFmt           = 0xc0d05604
	vidiocSFmt           = 0xc0d05605
	vidiocReqbufs        = 0xc0145608
	vidiocQuerybuf       = 0xc0585609
	vidiocQbuf           = 0xc058560f
	vidiocDqbuf          = 0xc0585611
	vidiocStreamon       = 0x40045612
	vidiocStreamoff      = 0x40045613
	vidiocGCtrl          = 0xc008561b
	vidiocSCtrl          = 0xc008561c
	vidiocEnumFramesizes = 0xc02c564a
)

const (
	bufTypeVideoCapture = 1
	fieldNone           = 1
	memoryMmap          = 1
	memoryUserptr       = 2
	frmsizeTypeDiscrete = 1

	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000

	cidBrightness = 0x00980900
	cidContrast   = 0x00980901
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format is the fmt union sized to 200 bytes; only the pix member is
// used for video capture.
type v4l2Format struct {
	typ uint32
	_   [4]byte // the union contains 8-byte-aligned members
	pix v4l2PixFormat
	_   [152]byte
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

// v4l2Buffer matches the 64-bit kernel layout: the timestamp is a 16-byte
// timeval and the m union carries either the mmap offset or the userspace
// pointer.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         [4]byte
	timestamp [16]byte
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         uint64
	length    uint32
	reserved2 uint32
	requestFD uint32
	_         [4]byte
}

type v4l2FrmsizeDiscrete struct {
	width  uint32
	height uint32
}

type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	discrete    v4l2FrmsizeDiscrete
	_           [16]byte // stepwise union padding
	reserved    [2]uint32
}

type v4l2Control struct {
	id    uint32
	value int32
}
