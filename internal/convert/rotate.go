package convert

// rotatePlane rotates one w×h plane by 90 or 270 degrees clockwise into a
// h×w destination.
func rotatePlane(dst, src []byte, w, h, degrees int) {
	switch degrees {
	case 90:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[x*h+(h-1-y)] = src[y*w+x]
			}
		}
	case 270:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[(w-1-x)*h+y] = src[y*w+x]
			}
		}
	}
}

// cropPlane copies a cw×ch window at (cx,cy) out of a w-wide plane.
func cropPlane(dst, src []byte, w, cx, cy, cw, ch int) {
	for y := 0; y < ch; y++ {
		copy(dst[y*cw:y*cw+cw], src[(cy+y)*w+cx:])
	}
}

// cropI420 cuts a centered cw×ch window out of a tight I420 frame.
// All of cx, cy, cw, ch must be even so the chroma planes stay aligned.
func cropI420(dst []byte, src []byte, sw, sh, cx, cy, cw, ch int) {
	sy, su, sv := i420Planes(src, sw, sh)
	dy, du, dv := i420Planes(dst, cw, ch)
	cropPlane(dy, sy, sw, cx, cy, cw, ch)
	cropPlane(du, su, sw/2, cx/2, cy/2, cw/2, ch/2)
	cropPlane(dv, sv, sw/2, cx/2, cy/2, cw/2, ch/2)
}

// rotateI420 rotates a tight w×h I420 frame into a h×w destination.
func rotateI420(dst, src []byte, w, h, degrees int) {
	sy, su, sv := i420Planes(src, w, h)
	dy, du, dv := i420Planes(dst, h, w)
	rotatePlane(dy, sy, w, h, degrees)
	rotatePlane(du, su, w/2, h/2, degrees)
	rotatePlane(dv, sv, w/2, h/2, degrees)
}
