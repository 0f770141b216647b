package videopipe

import (
	"testing"
	"time"
)

type noopCapturer struct{}

func (noopCapturer) Capture() ([]byte, int, int, int, bool, error) { return nil, 0, 0, 0, false, nil }
func (noopCapturer) Close() error                                  { return nil }

// patternCapturer always reports a changed, solid-colour 64x64 BGRA frame so
// a QualityEncoder subscribed to it has something to encode on every tick.
type patternCapturer struct{}

func (patternCapturer) Capture() ([]byte, int, int, int, bool, error) {
	const w, h = 64, 64
	buf := make([]byte, w*h*4)
	for i := range buf {
		buf[i] = 0x80
	}
	return buf, w, h, w * 4, true, nil
}
func (patternCapturer) Close() error { return nil }

func testQuality(name string) QualityConfig {
	return QualityConfig{Name: name, Width: 64, Height: 64, BitrateKbps: 500, FPS: 15}
}

func waitForEncodedFrame(t *testing.T, ch <-chan *EncodedFrame, timeout time.Duration) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("fanout closed before producing a frame")
		}
	case <-time.After(timeout):
		t.Fatal("timed out waiting for an encoded frame")
	}
}

func TestAddQualityStreamIsIdempotentByName(t *testing.T) {
	p := NewPipeline(noopCapturer{})
	defer p.Shutdown()

	f1, err := p.AddQualityStream(testQuality("high"))
	if err != nil {
		t.Fatalf("AddQualityStream: %v", err)
	}
	f2, err := p.AddQualityStream(testQuality("high"))
	if err != nil {
		t.Fatalf("AddQualityStream (second call): %v", err)
	}
	if f1 != f2 {
		t.Fatal("expected the second call with the same name to return the same fanout")
	}
}

func TestQualityLookupReflectsInstalledStreams(t *testing.T) {
	p := NewPipeline(noopCapturer{})
	defer p.Shutdown()

	if _, ok := p.Quality("high"); ok {
		t.Fatal("expected no quality installed yet")
	}

	if _, err := p.AddQualityStream(testQuality("high")); err != nil {
		t.Fatalf("AddQualityStream: %v", err)
	}
	if _, ok := p.Quality("high"); !ok {
		t.Fatal("expected quality to be found after install")
	}

	p.RemoveQualityStream("high")
	if _, ok := p.Quality("high"); ok {
		t.Fatal("expected quality to be gone after removal")
	}
}

// A peer session repeatedly drives EnsureCapturing/StopCapturing over the
// life of one agent process (Connected -> Disconnected cycles, §4.3) while
// the quality streams installed at startup are never reinstalled. Capture
// must survive a stop/restart without orphaning the encoders already
// subscribed to it.
func TestCaptureSurvivesStopStartCycleWithoutOrphaningEncoders(t *testing.T) {
	p := NewPipeline(patternCapturer{})
	defer p.Shutdown()

	fanout, err := p.AddQualityStream(testQuality("high"))
	if err != nil {
		t.Fatalf("AddQualityStream: %v", err)
	}
	ch, unsub := fanout.Subscribe()
	defer unsub()

	p.EnsureCapturing()
	waitForEncodedFrame(t, ch, 2*time.Second)
	p.StopCapturing()

	// A later peer reconnecting restarts capture without reinstalling any
	// quality stream; the encoder installed at startup must still be alive.
	p.EnsureCapturing()
	waitForEncodedFrame(t, ch, 2*time.Second)
	p.StopCapturing()
}
