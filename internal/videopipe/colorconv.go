package videopipe

import "sync"

// YUVFrame holds a planar YUV 4:2:0 image: one full-resolution Y plane and
// quarter-resolution U/V planes, matching the input layout go-openh264's
// YUVSource expects.
type YUVFrame struct {
	Width, Height int
	Y, U, V       []byte
	YStride       int
	UVStride      int
}

type yuvPoolEntry struct {
	w, h int
	pool sync.Pool
}

var yuvPool = struct {
	mu      sync.Mutex
	entries map[[2]int]*yuvPoolEntry
}{entries: make(map[[2]int]*yuvPoolEntry)}

func getYUVFrame(w, h int) *YUVFrame {
	key := [2]int{w, h}
	yuvPool.mu.Lock()
	entry, ok := yuvPool.entries[key]
	if !ok {
		entry = &yuvPoolEntry{w: w, h: h}
		yuvPool.entries[key] = entry
	}
	yuvPool.mu.Unlock()

	if v := entry.pool.Get(); v != nil {
		f := v.(*YUVFrame)
		return f
	}

	cw, ch := (w+1)/2, (h+1)/2
	return &YUVFrame{
		Width: w, Height: h,
		Y:        make([]byte, w*h),
		U:        make([]byte, cw*ch),
		V:        make([]byte, cw*ch),
		YStride:  w,
		UVStride: cw,
	}
}

// putYUVFrame returns a frame to its size-keyed pool for reuse on the next
// conversion at the same resolution, matching the reuse contract in §4.5
// ("persistent, resizable allocation reused frame to frame").
func putYUVFrame(f *YUVFrame) {
	key := [2]int{f.Width, f.Height}
	yuvPool.mu.Lock()
	entry, ok := yuvPool.entries[key]
	yuvPool.mu.Unlock()
	if ok {
		entry.pool.Put(f)
	}
}

// bgraToYUV420 converts BGRA pixel data to planar YUV 4:2:0 using BT.601
// fixed-point coefficients. Width and height must be even. Chroma samples
// average the full 2x2 luma block, not just the top-left pixel, so that
// round-tripping a flat-colour image lands within a couple of integer
// units of the algebraic target.
func bgraToYUV420(bgra []byte, width, height, stride int) *YUVFrame {
	out := getYUVFrame(width, height)

	for y := 0; y < height; y++ {
		rowOff := y * stride
		yRowOff := y * out.YStride
		for x := 0; x < width; x++ {
			pi := rowOff + x*4
			b := int(bgra[pi+0])
			g := int(bgra[pi+1])
			r := int(bgra[pi+2])

			yVal := clamp(((66*r+129*g+25*b+128)>>8)+16, 16, 235)
			out.Y[yRowOff+x] = byte(yVal)
		}
	}

	cw := out.UVStride
	for cy := 0; cy < height/2; cy++ {
		for cx := 0; cx < width/2; cx++ {
			y0, x0 := cy*2, cx*2

			var rSum, gSum, bSum int
			for dy := 0; dy < 2; dy++ {
				rowOff := (y0 + dy) * stride
				for dx := 0; dx < 2; dx++ {
					pi := rowOff + (x0+dx)*4
					bSum += int(bgra[pi+0])
					gSum += int(bgra[pi+1])
					rSum += int(bgra[pi+2])
				}
			}
			r, g, b := rSum/4, gSum/4, bSum/4

			uVal := clamp(((-38*r-74*g+112*b+128)>>8)+128, 16, 240)
			vVal := clamp(((112*r-94*g-18*b+128)>>8)+128, 16, 240)

			idx := cy*cw + cx
			out.U[idx] = byte(uVal)
			out.V[idx] = byte(vVal)
		}
	}

	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
