package convert

// scalePlane resizes one 8-bit plane with a box (area-average) filter.
// Every destination pixel averages the source box that maps onto it, so
// downscales keep detail instead of decimating and upscales degrade to
// nearest-box replication.
func scalePlane(dst []byte, dw, dh int, src []byte, sw, sh int) {
	if dw == sw && dh == sh {
		copy(dst[:dw*dh], src)
		return
	}
	for oy := 0; oy < dh; oy++ {
		sy0 := oy * sh / dh
		sy1 := (oy + 1) * sh / dh
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		for ox := 0; ox < dw; ox++ {
			sx0 := ox * sw / dw
			sx1 := (ox + 1) * sw / dw
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}
			sum, n := 0, 0
			for sy := sy0; sy < sy1; sy++ {
				row := src[sy*sw:]
				for sx := sx0; sx < sx1; sx++ {
					sum += int(row[sx])
					n++
				}
			}
			dst[oy*dw+ox] = byte((sum + n/2) / n)
		}
	}
}

// scaleI420 resizes a tight I420 frame plane by plane.
func scaleI420(dst []byte, dw, dh int, src []byte, sw, sh int) {
	dy, du, dv := i420Planes(dst, dw, dh)
	sy, su, sv := i420Planes(src, sw, sh)
	scalePlane(dy, dw, dh, sy, sw, sh)
	scalePlane(du, dw/2, dh/2, su, sw/2, sh/2)
	scalePlane(dv, dw/2, dh/2, sv, sw/2, sh/2)
}
