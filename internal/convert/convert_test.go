package convert

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

func makeI420Source(w, h int) *frame.Borrowed {
	buf := make([]byte, fourcc.YU12.FrameSize(w, h))
	y, u, v := i420Planes(buf, w, h)
	for i := range y {
		y[i] = byte(i * 7)
	}
	for i := range u {
		u[i] = byte(i*3 + 64)
	}
	for i := range v {
		v[i] = byte(i*5 + 192)
	}
	return frame.NewBorrowed(fourcc.YU12, w, h, buf)
}

func noSettings() metadata.Settings { return metadata.New(nil) }

func TestConvertible(t *testing.T) {
	assert.True(t, Convertible(fourcc.YUYV, fourcc.JPEG))
	assert.True(t, Convertible(fourcc.MJPG, fourcc.RGB32))
	assert.True(t, Convertible(fourcc.YU12, fourcc.YU12))
	assert.False(t, Convertible(fourcc.RGB32, fourcc.YU12), "RGB is not a capture source")
	assert.False(t, Convertible(fourcc.YU12, fourcc.YUYV), "packed 4:2:2 is not an output")
	assert.False(t, Convertible(fourcc.YU12, fourcc.MJPG), "MJPG is input-only")
}

func TestI420RoundTripIsByteIdentical(t *testing.T) {
	const w, h = 640, 480
	src := makeI420Source(w, h)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: w, Height: h}, 0))
	defer c.UnsetSource()

	out := frame.NewAllocated(fourcc.YU12, w, h)
	require.NoError(t, c.Convert(noSettings(), out, false))
	assert.Equal(t, src.Data(), out.Data(), "same format and geometry must copy through untouched")
}

func TestOddDimensionsRejected(t *testing.T) {
	src := makeI420Source(640, 480)
	c := NewConverter()
	err := c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: 641, Height: 480}, 0)
	assert.True(t, errors.Is(err, unix.EINVAL))
}

func TestRotationRejects180(t *testing.T) {
	src := makeI420Source(64, 64)
	c := NewConverter()
	for _, deg := range []int{180, 45, -90, 360} {
		err := c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: 64, Height: 64}, deg)
		assert.True(t, errors.Is(err, unix.EINVAL), "rotation %d must be rejected", deg)
	}
}

func TestYUYVToRGB32(t *testing.T) {
	// Wide and flat exercises the row-pair chroma averaging on a minimal
	// two-row frame.
	const w, h = 1024, 2
	yuyv := make([]byte, w*h*2)
	for i := 0; i < len(yuyv); i += 2 {
		yuyv[i] = 128   // Y
		yuyv[i+1] = 128 // chroma neutral
	}
	src := frame.NewBorrowed(fourcc.YUYV, w, h, yuyv)

	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YUYV, Width: w, Height: h}, 0))
	defer c.UnsetSource()

	out := frame.NewAllocated(fourcc.RGB32, w, h)
	require.NoError(t, c.Convert(noSettings(), out, false))
	require.Equal(t, w*h*4, out.DataSize())

	// Y=128 over neutral chroma is mid gray in BT.601 studio swing.
	px := out.Data()[:4]
	assert.Equal(t, []byte{130, 130, 130, 0xff}, px)
}

func TestRotate90(t *testing.T) {
	const w, h = 64, 64
	src := makeI420Source(w, h)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: w, Height: h}, 90))
	defer c.UnsetSource()

	out := frame.NewAllocated(fourcc.YU12, w, h)
	require.NoError(t, c.Convert(noSettings(), out, false))

	// Square input skips the crop and the rescale is the identity, so the
	// corner mapping is exact: dst(0,0) is src(0, h-1).
	srcY, _, _ := i420Planes(src.Data(), w, h)
	dstY, _, _ := i420Planes(out.Data(), w, h)
	assert.Equal(t, srcY[(h-1)*w], dstY[0])
	assert.Equal(t, srcY[0], dstY[w-1], "dst(w-1,0) is src(0,0)")
}

func TestRescaleToOutputGeometry(t *testing.T) {
	src := makeI420Source(640, 480)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: 640, Height: 480}, 0))
	defer c.UnsetSource()

	out := frame.NewAllocated(fourcc.YU12, 320, 240)
	require.NoError(t, c.Convert(noSettings(), out, false))
	assert.Equal(t, fourcc.YU12.FrameSize(320, 240), out.DataSize())
}

func TestVideoHackKeepsYU12PlaneOrder(t *testing.T) {
	const w, h = 64, 64
	src := makeI420Source(w, h)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: w, Height: h}, 0))
	defer c.UnsetSource()

	straight := frame.NewAllocated(fourcc.YV12, w, h)
	require.NoError(t, c.Convert(noSettings(), straight, false))
	hacked := frame.NewAllocated(fourcc.YV12, w, h)
	require.NoError(t, c.Convert(noSettings(), hacked, true))

	// The hack leaves the planes in YU12 order despite the YV12 tag.
	assert.Equal(t, src.Data(), hacked.Data())
	assert.NotEqual(t, straight.Data(), hacked.Data(), "straight YV12 swaps chroma planes")
}

func TestMJPEGSource(t *testing.T) {
	const w, h = 160, 120
	// Round-trip through the encoder to get a legitimate compressed frame.
	plain := makeI420Source(w, h)
	y, u, v := i420Planes(plain.Data(), w, h)
	enc, err := encodeJPEG(y, u, v, w, h, 90, nil)
	require.NoError(t, err)
	src := frame.NewBorrowed(fourcc.MJPG, w, h, enc)

	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.MJPG, Width: w, Height: h}, 0))
	defer c.UnsetSource()

	out := frame.NewAllocated(fourcc.YU12, w, h)
	require.NoError(t, c.Convert(noSettings(), out, false))
	require.Equal(t, fourcc.YU12.FrameSize(w, h), out.DataSize())

	// Lossy round trip: compare mean luma, not bytes.
	dy, _, _ := i420Planes(out.Data(), w, h)
	var sumSrc, sumDst int
	for i := range y {
		sumSrc += int(y[i])
		sumDst += int(dy[i])
	}
	assert.InDelta(t, float64(sumSrc)/float64(len(y)), float64(sumDst)/float64(len(dy)), 4.0)
}

func TestMJPEGGeometryMismatchRejected(t *testing.T) {
	plain := makeI420Source(160, 120)
	y, u, v := i420Planes(plain.Data(), 160, 120)
	enc, err := encodeJPEG(y, u, v, 160, 120, 90, nil)
	require.NoError(t, err)
	src := frame.NewBorrowed(fourcc.MJPG, 320, 240, enc)

	c := NewConverter()
	err = c.SetSource(src, frame.Format{FourCC: fourcc.MJPG, Width: 320, Height: 240}, 0)
	assert.True(t, errors.Is(err, unix.EINVAL))
}

func TestConvertToJPEGWithEXIF(t *testing.T) {
	const w, h = 160, 120
	src := makeI420Source(w, h)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: w, Height: h}, 0))
	defer c.UnsetSource()

	settings := metadata.NewBuilder().
		SetU8(metadata.TagJPEGQuality, 90).
		SetI64(metadata.TagTimestamp, 1718445000).
		SetU16(metadata.TagOrientation, 1).
		SetU32(metadata.TagThumbnailWidth, 40).
		SetU32(metadata.TagThumbnailHeight, 30).
		Build()

	out := frame.NewAllocated(fourcc.JPEG, w, h)
	require.NoError(t, c.Convert(settings, out, false))
	data := out.Data()

	// SOI, then the APP1 EXIF segment before anything else.
	require.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff, 0xe1}))
	assert.Equal(t, []byte("Exif\x00\x00"), data[6:12])

	// The spliced stream must still decode to the right geometry.
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, w, h), img.Bounds())
}

func TestConvertJPEGWithoutEXIFFields(t *testing.T) {
	const w, h = 64, 64
	src := makeI420Source(w, h)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: w, Height: h}, 0))
	defer c.UnsetSource()

	out := frame.NewAllocated(fourcc.JPEG, w, h)
	require.NoError(t, c.Convert(noSettings(), out, false))
	data := out.Data()
	require.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}))
	// No EXIF-relevant settings, no APP1 splice.
	assert.NotEqual(t, byte(0xe1), data[3])
}

func TestBorrowedOutputTooSmall(t *testing.T) {
	src := makeI420Source(640, 480)
	c := NewConverter()
	require.NoError(t, c.SetSource(src, frame.Format{FourCC: fourcc.YU12, Width: 640, Height: 480}, 0))
	defer c.UnsetSource()

	small := frame.NewBorrowed(fourcc.RGB32, 640, 480, make([]byte, 16))
	err := c.Convert(noSettings(), small, false)
	assert.True(t, errors.Is(err, unix.EINVAL))
}

func TestConvertWithoutSource(t *testing.T) {
	c := NewConverter()
	out := frame.NewAllocated(fourcc.YU12, 64, 64)
	err := c.Convert(noSettings(), out, false)
	assert.True(t, errors.Is(err, unix.EINVAL))
}
