package convert

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
)

// i420Planes slices a tightly packed planar 4:2:0 buffer into its planes.
// Layout invariant: luma w*h bytes, then U then V at w*h/4 bytes each.
func i420Planes(buf []byte, w, h int) (y, u, v []byte) {
	luma := fourcc.LumaSize(w, h)
	chroma := fourcc.ChromaSize(w, h)
	return buf[:luma], buf[luma : luma+chroma], buf[luma+chroma : luma+2*chroma]
}

func avg2(a, b byte) byte { return byte((uint16(a) + uint16(b) + 1) / 2) }

// i420FromPlanar copies a planar or semiplanar 4:2:0 source with arbitrary
// luma stride into a tight I420 destination.
func i420FromPlanar(dst, src []byte, w, h, stride int, tag fourcc.FourCC) error {
	if stride < w {
		stride = w
	}
	need := stride*h + stride*h/2
	if len(src) < need {
		return fmt.Errorf("convert: %s source %d bytes, need %d: %w", tag, len(src), need, unix.EINVAL)
	}
	y, u, v := i420Planes(dst, w, h)
	for row := 0; row < h; row++ {
		copy(y[row*w:row*w+w], src[row*stride:])
	}
	cw, ch := w/2, h/2
	switch tag {
	case fourcc.YU12, fourcc.YV12:
		cstride := stride / 2
		su := src[stride*h:]
		sv := src[stride*h+cstride*ch:]
		if tag == fourcc.YV12 {
			su, sv = sv, su
		}
		for row := 0; row < ch; row++ {
			copy(u[row*cw:row*cw+cw], su[row*cstride:])
			copy(v[row*cw:row*cw+cw], sv[row*cstride:])
		}
	case fourcc.NV12, fourcc.NV21:
		uv := src[stride*h:]
		for row := 0; row < ch; row++ {
			line := uv[row*stride:]
			for col := 0; col < cw; col++ {
				a, b := line[2*col], line[2*col+1]
				if tag == fourcc.NV21 {
					a, b = b, a
				}
				u[row*cw+col] = a
				v[row*cw+col] = b
			}
		}
	default:
		return fmt.Errorf("convert: %s is not a planar 4:2:0 layout: %w", tag, unix.EINVAL)
	}
	return nil
}

// i420FromPacked422 converts packed 4:2:2 (YUYV or UYVY) into tight I420,
// averaging the chroma of each row pair for the vertical subsample.
func i420FromPacked422(dst, src []byte, w, h, stride int, tag fourcc.FourCC) error {
	if stride < w*2 {
		stride = w * 2
	}
	if len(src) < stride*h {
		return fmt.Errorf("convert: %s source %d bytes, need %d: %w", tag, len(src), stride*h, unix.EINVAL)
	}
	// Byte offsets of Y0, U, Y1, V within one 2-pixel group.
	var oy0, ou, oy1, ov int
	switch tag {
	case fourcc.YUYV:
		oy0, ou, oy1, ov = 0, 1, 2, 3
	case fourcc.UYVY:
		oy0, ou, oy1, ov = 1, 0, 3, 2
	default:
		return fmt.Errorf("convert: %s is not a packed 4:2:2 layout: %w", tag, unix.EINVAL)
	}
	y, u, v := i420Planes(dst, w, h)
	cw := w / 2
	for row := 0; row < h; row += 2 {
		top := src[row*stride:]
		bot := src[(row+1)*stride:]
		for col := 0; col < w; col += 2 {
			g := 2 * col
			y[row*w+col] = top[g+oy0]
			y[row*w+col+1] = top[g+oy1]
			y[(row+1)*w+col] = bot[g+oy0]
			y[(row+1)*w+col+1] = bot[g+oy1]
			ci := (row/2)*cw + col/2
			u[ci] = avg2(top[g+ou], bot[g+ou])
			v[ci] = avg2(top[g+ov], bot[g+ov])
		}
	}
	return nil
}

// i420ToPlanar packs tight I420 planes into a planar or semiplanar 4:2:0
// destination buffer (tight as well; output buffers carry no device stride).
func i420ToPlanar(dst []byte, y, u, v []byte, w, h int, tag fourcc.FourCC) error {
	luma := fourcc.LumaSize(w, h)
	chroma := fourcc.ChromaSize(w, h)
	switch tag {
	case fourcc.YU12:
		copy(dst[:luma], y)
		copy(dst[luma:luma+chroma], u)
		copy(dst[luma+chroma:], v)
	case fourcc.YV12:
		copy(dst[:luma], y)
		copy(dst[luma:luma+chroma], v)
		copy(dst[luma+chroma:], u)
	case fourcc.NV12, fourcc.NV21:
		copy(dst[:luma], y)
		uv := dst[luma:]
		for i := 0; i < chroma; i++ {
			a, b := u[i], v[i]
			if tag == fourcc.NV21 {
				a, b = b, a
			}
			uv[2*i] = a
			uv[2*i+1] = b
		}
	default:
		return fmt.Errorf("convert: %s is not a planar 4:2:0 layout: %w", tag, unix.EINVAL)
	}
	return nil
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// i420ToPacked32 converts I420 into 32-bit packed RGB. BT.601 studio-swing
// integer math, no color management. Memory byte order per pixel:
// RGB32 → B G R X, BGR32 → R G B X (little-endian V4L2 conventions).
func i420ToPacked32(dst []byte, y, u, v []byte, w, h int, tag fourcc.FourCC) error {
	bgr := tag == fourcc.RGB32
	if !bgr && tag != fourcc.BGR32 {
		return fmt.Errorf("convert: %s is not a 32-bit RGB layout: %w", tag, unix.EINVAL)
	}
	cw := w / 2
	for row := 0; row < h; row++ {
		crow := row / 2
		for col := 0; col < w; col++ {
			c := 298 * (int(y[row*w+col]) - 16)
			d := int(u[crow*cw+col/2]) - 128
			e := int(v[crow*cw+col/2]) - 128
			r := clamp8((c + 409*e + 128) >> 8)
			g := clamp8((c - 100*d - 208*e + 128) >> 8)
			b := clamp8((c + 516*d + 128) >> 8)
			p := dst[4*(row*w+col):]
			if bgr {
				p[0], p[1], p[2], p[3] = b, g, r, 0xff
			} else {
				p[0], p[1], p[2], p[3] = r, g, b, 0xff
			}
		}
	}
	return nil
}
