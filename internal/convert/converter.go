// Package convert implements the frame format-conversion engine: it
// canonicalizes a device-native source frame into planar YUV 4:2:0,
// optionally crops/rotates/rescales it, and produces output frames in any of
// the supported formats including JPEG with an embedded EXIF APP1 segment.
//
// The engine is stateful: one Converter serves one capture pipeline
// and reuses its plane buffers across frames (see CachedFrame). It is not
// safe for concurrent use; the dequeue worker is its only caller.
package convert

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/exif"
	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

// Convertible reports whether the engine can produce dst-format frames from
// src-format input. This is the reachability relation format negotiation uses
// to accept a "qualified" hardware format for a requested output format.
func Convertible(src, dst fourcc.FourCC) bool {
	switch src {
	case fourcc.YU12, fourcc.YV12, fourcc.NV12, fourcc.NV21,
		fourcc.YUYV, fourcc.UYVY, fourcc.MJPG, fourcc.JPEG:
	default:
		return false
	}
	switch dst {
	case fourcc.YU12, fourcc.YV12, fourcc.NV12, fourcc.NV21,
		fourcc.RGB32, fourcc.BGR32, fourcc.JPEG:
		return true
	}
	return false
}

// Converter is the stateful conversion engine.
type Converter struct {
	cached *CachedFrame
}

func NewConverter() *Converter {
	return &Converter{cached: NewCachedFrame()}
}

// SetSource canonicalizes a device frame into the YUV 4:2:0 cache.
// srcFormat carries the negotiated geometry and the driver-reported stride;
// rotateDegrees handles a physically rotated sensor (0, 90 or 270 only).
// The caller retains ownership of src and must not release it before
// UnsetSource.
func (c *Converter) SetSource(src frame.Buffer, srcFormat frame.Format, rotateDegrees int) error {
	return c.cached.SetSource(src, srcFormat, rotateDegrees)
}

// UnsetSource drops the borrowed source binding.
func (c *Converter) UnsetSource() {
	c.cached.UnsetSource()
}

// Convert renders the canonical cache into out's requested format and
// geometry, rescaling first when the geometry differs.
//
// videoHack, when set, treats a YV12 output as YU12 without swapping the
// chroma planes. This is compatibility behavior for consumers that predate
// the plane-order fix, not a format conversion.
func (c *Converter) Convert(settings metadata.Settings, out frame.Buffer, videoHack bool) error {
	outTag := out.FourCC()
	if videoHack && outTag == fourcc.YV12 {
		outTag = fourcc.YU12
	}
	tw, th := out.Width(), out.Height()
	y, u, v, err := c.cached.Planes(tw, th)
	if err != nil {
		return err
	}

	switch outTag {
	case fourcc.YU12, fourcc.YV12, fourcc.NV12, fourcc.NV21,
		fourcc.RGB32, fourcc.BGR32:
		need := outTag.FrameSize(tw, th)
		storage, err := reserve(out, need)
		if err != nil {
			return err
		}
		if outTag == fourcc.RGB32 || outTag == fourcc.BGR32 {
			err = i420ToPacked32(storage, y, u, v, tw, th, outTag)
		} else {
			err = i420ToPlanar(storage, y, u, v, tw, th, outTag)
		}
		if err != nil {
			return err
		}
		return out.SetDataSize(need)

	case fourcc.JPEG:
		app1, err := c.buildAPP1(settings, y, u, v, tw, th)
		if err != nil {
			return err
		}
		quality := jpegQuality(settings)
		data, err := encodeJPEG(y, u, v, tw, th, quality, app1)
		if err != nil {
			return err
		}
		storage, err := reserve(out, len(data))
		if err != nil {
			return err
		}
		copy(storage, data)
		return out.SetDataSize(len(data))
	}
	return fmt.Errorf("convert: unsupported output format %s: %w", outTag, unix.EINVAL)
}

// reserve returns a writable storage slice of at least n bytes, growing
// owning buffers and rejecting borrowed ones that are too small.
func reserve(out frame.Buffer, n int) ([]byte, error) {
	if a, ok := out.(*frame.Allocated); ok {
		a.Reserve(n)
	}
	if out.Capacity() < n {
		return nil, fmt.Errorf("convert: output buffer %d bytes, need %d: %w",
			out.Capacity(), n, unix.EINVAL)
	}
	return out.Storage(), nil
}

func jpegQuality(settings metadata.Settings) int {
	if q, ok := settings.U8(metadata.TagJPEGQuality); ok {
		return int(q)
	}
	return DefaultJPEGQuality
}

// buildAPP1 assembles the EXIF segment from the request settings. Returns
// nil when the settings carry no EXIF-relevant tags; fails (never truncates)
// when the segment would exceed the APP1 size cap.
func (c *Converter) buildAPP1(settings metadata.Settings, y, u, v []byte, w, h int) ([]byte, error) {
	if settings.IsNil() {
		return nil, nil
	}
	b := exif.NewBuilder()
	fields := 0
	if ts, ok := settings.I64(metadata.TagTimestamp); ok {
		b.SetDateTime(time.Unix(ts, 0).UTC())
		fields++
	}
	if o, ok := settings.U16(metadata.TagOrientation); ok {
		b.SetOrientation(o)
		fields++
	}
	if f, ok := settings.F64(metadata.TagFocalLength); ok {
		b.SetFocalLength(f)
		fields++
	}
	lat, okLat := settings.F64(metadata.TagGPSLatitude)
	lon, okLon := settings.F64(metadata.TagGPSLongitude)
	if okLat && okLon {
		alt, _ := settings.F64(metadata.TagGPSAltitude)
		gpsTime := time.Time{}
		if ts, ok := settings.I64(metadata.TagGPSTimestamp); ok {
			gpsTime = time.Unix(ts, 0)
		}
		b.SetGPS(lat, lon, alt, gpsTime)
		fields++
	}
	tw, okW := settings.U32(metadata.TagThumbnailWidth)
	thh, okH := settings.U32(metadata.TagThumbnailHeight)
	if okW && okH && tw > 0 && thh > 0 {
		thumb, err := encodeThumbnail(y, u, v, w, h, int(tw), int(thh), jpegQuality(settings))
		if err != nil {
			return nil, err
		}
		b.SetThumbnail(thumb)
		fields++
	}
	if fields == 0 {
		return nil, nil
	}
	return b.Build()
}
