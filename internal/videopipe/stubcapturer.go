package videopipe

import "time"

// StubCapturer is the external-collaborator boundary's default
// implementation (§1): it produces a synthetic BGRA test pattern instead of
// calling into a real desktop-duplication API. It exists so the pipeline and
// every layer above it can be wired, started, and exercised without a
// platform-specific capture backend; swapping it for DXGI/X11/CGDisplayStream
// is a drop-in ScreenCapturer replacement.
type StubCapturer struct {
	cfg       CaptureConfig
	width     int
	height    int
	stride    int
	frame     int
	lastDraw  time.Time
}

// NewStubCapturer builds a fixed-resolution synthetic capturer.
func NewStubCapturer(cfg CaptureConfig) *StubCapturer {
	return &StubCapturer{cfg: cfg, width: 1920, height: 1080, stride: 1920 * 4}
}

// Capture renders a moving vertical bar over a solid background at roughly
// 30Hz: a call less than 33ms after the last drawn frame returns a nil
// buffer with changed=false; otherwise it draws the next frame and reports
// changed=true.
func (s *StubCapturer) Capture() (bgra []byte, width, height, stride int, changed bool, err error) {
	if time.Since(s.lastDraw) < 33*time.Millisecond {
		return nil, s.width, s.height, s.stride, false, nil
	}
	s.lastDraw = time.Now()

	buf := make([]byte, s.stride*s.height)
	barX := (s.frame * 4) % s.width
	for y := 0; y < s.height; y++ {
		row := buf[y*s.stride : y*s.stride+s.width*4]
		for x := 0; x < s.width; x++ {
			px := row[x*4 : x*4+4]
			if x == barX {
				px[0], px[1], px[2], px[3] = 0xff, 0xff, 0xff, 0xff
			} else {
				px[0], px[1], px[2], px[3] = 0x40, 0x20, 0x10, 0xff
			}
		}
	}
	s.frame++

	return buf, s.width, s.height, s.stride, true, nil
}

// Close is a no-op; the stub holds no OS resources.
func (s *StubCapturer) Close() error { return nil }
