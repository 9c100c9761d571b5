package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/exif"
	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
)

// DefaultJPEGQuality is used when the request settings carry no quality tag.
const DefaultJPEGQuality = 85

// i420FromJPEG decodes a compressed source frame (MJPG or JPEG) into tight
// I420. The decoded image must match the negotiated w×h exactly; capture
// hardware does not change geometry mid-stream, so a mismatch means the
// stream is misconfigured.
func i420FromJPEG(dst []byte, src []byte, w, h int) error {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("convert: decode compressed frame: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != w || bounds.Dy() != h {
		return fmt.Errorf("convert: compressed frame is %dx%d, stream is %dx%d: %w",
			bounds.Dx(), bounds.Dy(), w, h, unix.EINVAL)
	}
	y, u, v := i420Planes(dst, w, h)
	switch src := img.(type) {
	case *image.YCbCr:
		for row := 0; row < h; row++ {
			copy(y[row*w:row*w+w], src.Y[src.YOffset(bounds.Min.X, bounds.Min.Y+row):])
		}
		// Chroma: sample the co-sited source value for each 2x2 block.
		// COffset handles every subsample ratio the decoder can produce.
		cw := w / 2
		for row := 0; row < h/2; row++ {
			for col := 0; col < cw; col++ {
				off := src.COffset(bounds.Min.X+2*col, bounds.Min.Y+2*row)
				u[row*cw+col] = src.Cb[off]
				v[row*cw+col] = src.Cr[off]
			}
		}
	case *image.Gray:
		for row := 0; row < h; row++ {
			copy(y[row*w:row*w+w], src.Pix[src.PixOffset(bounds.Min.X, bounds.Min.Y+row):])
		}
		fill(u, 128)
		fill(v, 128)
	default:
		return fmt.Errorf("convert: unsupported decoded image type %T: %w", img, unix.EINVAL)
	}
	return nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// encodeJPEG compresses tight I420 planes with fixed 4:2:0 subsampling and,
// when app1 is non-empty, splices it as an APP1 segment directly after SOI.
// Scanline batching is the encoder's business (it works in MCU rows); this
// function only guarantees the subsampling and the segment placement.
func encodeJPEG(y, u, v []byte, w, h, quality int, app1 []byte) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	img := &image.YCbCr{
		Y:              y,
		Cb:             u,
		Cr:             v,
		YStride:        w,
		CStride:        w / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("convert: jpeg encode: %w", err)
	}
	enc := buf.Bytes()
	if len(app1) == 0 {
		return enc, nil
	}
	if len(app1) > exif.MaxPayload {
		return nil, fmt.Errorf("convert: APP1 payload %d bytes exceeds %d: %w",
			len(app1), exif.MaxPayload, unix.EINVAL)
	}
	if len(enc) < 2 || enc[0] != 0xff || enc[1] != 0xd8 {
		return nil, fmt.Errorf("convert: encoder output missing SOI: %w", unix.EINVAL)
	}
	out := make([]byte, 0, len(enc)+4+len(app1))
	out = append(out, 0xff, 0xd8) // SOI
	out = append(out, 0xff, 0xe1) // APP1 marker
	segLen := len(app1) + 2
	out = append(out, byte(segLen>>8), byte(segLen))
	out = append(out, app1...)
	out = append(out, enc[2:]...)
	return out, nil
}

// encodeThumbnail downscales I420 planes to tw×th and JPEG-compresses the
// result for embedding in the EXIF IFD1.
func encodeThumbnail(y, u, v []byte, w, h, tw, th, quality int) ([]byte, error) {
	tw &^= 1
	th &^= 1
	if tw <= 0 || th <= 0 {
		return nil, fmt.Errorf("convert: thumbnail size %dx%d: %w", tw, th, unix.EINVAL)
	}
	src := make([]byte, fourcc.YU12.FrameSize(w, h))
	sy, su, sv := i420Planes(src, w, h)
	copy(sy, y)
	copy(su, u)
	copy(sv, v)
	thumb := make([]byte, fourcc.YU12.FrameSize(tw, th))
	scaleI420(thumb, tw, th, src, w, h)
	ty, tu, tv := i420Planes(thumb, tw, th)
	return encodeJPEG(ty, tu, tv, tw, th, quality, nil)
}
