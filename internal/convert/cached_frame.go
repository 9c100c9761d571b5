package convert

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
)

// CachedFrame holds the canonical YUV 4:2:0 rendition of the current source
// frame plus the scratch buffers the transform steps need.
//
// Buffer lifecycle: all three buffers are lazily sized and grow monotonically
// (frame.Allocated never shrinks), so a pipeline that settles on one geometry
// stops allocating entirely. The source buffer itself is never owned here:
// the caller binds it with SetSource, must keep it alive until UnsetSource,
// and gets it back untouched.
type CachedFrame struct {
	source    frame.Buffer
	srcFormat frame.Format

	width  int // canonical cache geometry; equals srcFormat.Width/Height
	height int

	cache   *frame.Allocated // canonical I420
	rotated *frame.Allocated // crop/rotate scratch
	scaled  *frame.Allocated // rescale scratch
}

func NewCachedFrame() *CachedFrame {
	return &CachedFrame{
		cache:   &frame.Allocated{},
		rotated: &frame.Allocated{},
		scaled:  &frame.Allocated{},
	}
}

// SetSource canonicalizes src into the I420 cache.
//
// rotateDegrees of 90 or 270 additionally crops the canonical frame to a
// centered square sized by the shorter dimension, rotates it, and rescales
// back to the original geometry — the treatment for a sensor physically
// mounted sideways relative to the logical device orientation. Only 0, 90
// and 270 are accepted.
func (cf *CachedFrame) SetSource(src frame.Buffer, srcFormat frame.Format, rotateDegrees int) error {
	switch rotateDegrees {
	case 0, 90, 270:
	default:
		return fmt.Errorf("convert: rotation %d not in {0, 90, 270}: %w", rotateDegrees, unix.EINVAL)
	}
	if err := fourcc.ValidateDimensions(srcFormat.Width, srcFormat.Height); err != nil {
		return err
	}

	w, h := srcFormat.Width, srcFormat.Height
	cf.cache.Reset(fourcc.YU12, w, h, fourcc.YU12.FrameSize(w, h))

	data := src.Data()
	var err error
	switch tag := srcFormat.FourCC; {
	case tag.IsPlanar420():
		err = i420FromPlanar(cf.cache.Data(), data, w, h, srcFormat.Stride, tag)
	case tag == fourcc.YUYV || tag == fourcc.UYVY:
		err = i420FromPacked422(cf.cache.Data(), data, w, h, srcFormat.Stride, tag)
	case tag.IsCompressed():
		err = i420FromJPEG(cf.cache.Data(), data, w, h)
	default:
		err = fmt.Errorf("convert: unsupported source format %s: %w", tag, unix.EINVAL)
	}
	if err != nil {
		return err
	}

	if rotateDegrees != 0 {
		cf.applyRotation(rotateDegrees)
	}

	cf.source = src
	cf.srcFormat = srcFormat
	cf.width, cf.height = w, h
	return nil
}

// applyRotation runs the crop → rotate → rescale chain on the cache in place.
// Crop window is the centered square over the shorter dimension, even-aligned
// to keep the chroma planes valid.
func (cf *CachedFrame) applyRotation(degrees int) {
	w, h := cf.cache.Width(), cf.cache.Height()
	side := w
	if h < side {
		side = h
	}
	side &^= 1
	cx := ((w - side) / 2) &^ 1
	cy := ((h - side) / 2) &^ 1

	squareSize := fourcc.YU12.FrameSize(side, side)
	cf.rotated.Reset(fourcc.YU12, side, side, squareSize)
	cropI420(cf.rotated.Data(), cf.cache.Data(), w, h, cx, cy, side, side)

	cf.scaled.Reset(fourcc.YU12, side, side, squareSize)
	rotateI420(cf.scaled.Data(), cf.rotated.Data(), side, side, degrees)

	// Rescale the rotated square back to the original pixel count.
	cf.rotated.Reset(fourcc.YU12, w, h, fourcc.YU12.FrameSize(w, h))
	scaleI420(cf.rotated.Data(), w, h, cf.scaled.Data(), side, side)
	cf.cache, cf.rotated = cf.rotated, cf.cache
}

// UnsetSource releases the binding to the source buffer. The cached planes
// stay valid; only the borrowed pointer is dropped.
func (cf *CachedFrame) UnsetSource() {
	cf.source = nil
}

// HasSource reports whether a frame is currently canonicalized.
func (cf *CachedFrame) HasSource() bool { return cf.source != nil }

// Width and Height return the canonical cache geometry.
func (cf *CachedFrame) Width() int  { return cf.width }
func (cf *CachedFrame) Height() int { return cf.height }

// Planes returns I420 planes at the requested geometry, rescaling the cache
// into the scratch buffer when the geometry differs. The returned slices stay
// valid until the next SetSource or Planes call.
func (cf *CachedFrame) Planes(w, h int) (y, u, v []byte, err error) {
	if !cf.HasSource() {
		return nil, nil, nil, fmt.Errorf("convert: no source bound: %w", unix.EINVAL)
	}
	if err := fourcc.ValidateDimensions(w, h); err != nil {
		return nil, nil, nil, err
	}
	if w == cf.width && h == cf.height {
		y, u, v = i420Planes(cf.cache.Data(), w, h)
		return y, u, v, nil
	}
	cf.scaled.Reset(fourcc.YU12, w, h, fourcc.YU12.FrameSize(w, h))
	scaleI420(cf.scaled.Data(), w, h, cf.cache.Data(), cf.width, cf.height)
	y, u, v = i420Planes(cf.scaled.Data(), w, h)
	return y, u, v, nil
}
