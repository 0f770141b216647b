package videopipe

import "testing"

func flatBGRA(w, h int, b, g, r byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		buf[i*4+0] = b
		buf[i*4+1] = g
		buf[i*4+2] = r
		buf[i*4+3] = 0xff
	}
	return buf
}

func withinDelta(got, want, delta int) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= delta
}

func TestBGRAToYUV420FlatWhite(t *testing.T) {
	w, h := 16, 16
	bgra := flatBGRA(w, h, 255, 255, 255)
	frame := bgraToYUV420(bgra, w, h, w*4)

	if !withinDelta(int(frame.Y[0]), 235, 2) {
		t.Fatalf("Y = %d, want ~235", frame.Y[0])
	}
	if !withinDelta(int(frame.U[0]), 128, 2) {
		t.Fatalf("U = %d, want ~128", frame.U[0])
	}
	if !withinDelta(int(frame.V[0]), 128, 2) {
		t.Fatalf("V = %d, want ~128", frame.V[0])
	}
}

func TestBGRAToYUV420FlatBlack(t *testing.T) {
	w, h := 8, 8
	bgra := flatBGRA(w, h, 0, 0, 0)
	frame := bgraToYUV420(bgra, w, h, w*4)

	if !withinDelta(int(frame.Y[0]), 16, 2) {
		t.Fatalf("Y = %d, want ~16", frame.Y[0])
	}
	if !withinDelta(int(frame.U[0]), 128, 2) {
		t.Fatalf("U = %d, want ~128", frame.U[0])
	}
}

func TestBGRAToYUV420PlaneSizes(t *testing.T) {
	w, h := 32, 16
	bgra := flatBGRA(w, h, 10, 20, 30)
	frame := bgraToYUV420(bgra, w, h, w*4)

	if len(frame.Y) != w*h {
		t.Fatalf("Y plane len = %d, want %d", len(frame.Y), w*h)
	}
	if len(frame.U) != (w/2)*(h/2) {
		t.Fatalf("U plane len = %d, want %d", len(frame.U), (w/2)*(h/2))
	}
	if len(frame.V) != len(frame.U) {
		t.Fatalf("V plane len %d != U plane len %d", len(frame.V), len(frame.U))
	}
}

func TestBGRAToYUV420ChromaIsBlockAverage(t *testing.T) {
	// Two pixels of a 2x2 block are pure blue, two are black; the averaged
	// chroma (B=127) should land between the two, not match either pixel
	// exactly (blue alone gives U=240 V=110, black alone U=V=128).
	w, h := 2, 2
	bgra := make([]byte, w*h*4)
	copy(bgra[0:4], []byte{255, 0, 0, 255})
	copy(bgra[4:8], []byte{0, 0, 0, 255})
	copy(bgra[8:12], []byte{255, 0, 0, 255})
	copy(bgra[12:16], []byte{0, 0, 0, 255})

	frame := bgraToYUV420(bgra, w, h, w*4)
	if !withinDelta(int(frame.U[0]), 184, 2) {
		t.Fatalf("averaged U = %d, want ~184", frame.U[0])
	}
	if !withinDelta(int(frame.V[0]), 119, 2) {
		t.Fatalf("averaged V = %d, want ~119", frame.V[0])
	}
}

func TestGetYUVFramePoolReuse(t *testing.T) {
	f1 := getYUVFrame(64, 64)
	putYUVFrame(f1)
	f2 := getYUVFrame(64, 64)
	if &f1.Y[0] != &f2.Y[0] {
		t.Fatal("expected pooled frame to be reused for the same resolution")
	}
}
