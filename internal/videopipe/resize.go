package videopipe

// resizeBGRA scales a BGRA image from (srcW,srcH) to (dstW,dstH) using
// separable bilinear interpolation with 16-bit fixed-point weights: a
// horizontal pass followed by a vertical pass (§4.5). When the source and
// destination dimensions are identical the source buffer is returned
// unmodified with no copy (P7).
func resizeBGRA(src []byte, srcW, srcH, srcStride, dstW, dstH int) []byte {
	if srcW == dstW && srcH == dstH {
		return src
	}

	const fixedShift = 16
	const fixedOne = 1 << fixedShift

	// Horizontal pass: srcW x srcH -> dstW x srcH.
	horiz := make([]byte, dstW*srcH*4)
	xWeights, x0s := buildWeights(srcW, dstW, fixedShift)

	for y := 0; y < srcH; y++ {
		srcRow := src[y*srcStride : y*srcStride+srcW*4]
		dstRow := horiz[y*dstW*4 : (y+1)*dstW*4]
		for x := 0; x < dstW; x++ {
			x0 := x0s[x]
			w1 := xWeights[x]
			w0 := fixedOne - w1
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = srcW - 1
			}
			for c := 0; c < 4; c++ {
				p0 := int(srcRow[x0*4+c])
				p1 := int(srcRow[x1*4+c])
				dstRow[x*4+c] = byte((p0*w0 + p1*w1) >> fixedShift)
			}
		}
	}

	// Vertical pass: dstW x srcH -> dstW x dstH.
	out := make([]byte, dstW*dstH*4)
	yWeights, y0s := buildWeights(srcH, dstH, fixedShift)

	for y := 0; y < dstH; y++ {
		y0 := y0s[y]
		w1 := yWeights[y]
		w0 := fixedOne - w1
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = srcH - 1
		}
		row0 := horiz[y0*dstW*4 : (y0+1)*dstW*4]
		row1 := horiz[y1*dstW*4 : (y1+1)*dstW*4]
		dstRow := out[y*dstW*4 : (y+1)*dstW*4]
		for i := range dstRow {
			p0 := int(row0[i])
			p1 := int(row1[i])
			dstRow[i] = byte((p0*w0 + p1*w1) >> fixedShift)
		}
	}

	return out
}

// buildWeights returns, for each destination index, the source index of the
// lower sample and a 16-bit fixed-point weight for the upper sample.
func buildWeights(srcLen, dstLen, fixedShift int) (weights []int, idx []int) {
	weights = make([]int, dstLen)
	idx = make([]int, dstLen)
	if dstLen == 0 {
		return
	}
	scale := float64(srcLen) / float64(dstLen)
	for i := 0; i < dstLen; i++ {
		srcPos := (float64(i)+0.5)*scale - 0.5
		if srcPos < 0 {
			srcPos = 0
		}
		i0 := int(srcPos)
		if i0 > srcLen-1 {
			i0 = srcLen - 1
		}
		frac := srcPos - float64(i0)
		idx[i] = i0
		weights[i] = int(frac * float64(int(1)<<fixedShift))
	}
	return
}
