package videopipe

import (
	"errors"
	"sync/atomic"
)

// ScreenCapturer produces BGRA pixel data for the primary display. A real
// implementation wraps the platform's desktop-duplication API (DXGI, X11
// MIT-SHM, CGDisplayStream, ...); it is an external collaborator per the
// scope boundary in §1 — this package only depends on the interface.
type ScreenCapturer interface {
	// Capture returns the current BGRA frame, its stride in bytes, and
	// whether the image changed since the previous call. When changed is
	// false the caller must not encode the returned buffer.
	Capture() (bgra []byte, width, height, stride int, changed bool, err error)

	// Close releases any resources held by the capturer.
	Close() error
}

// CaptureConfig configures a ScreenCapturer.
type CaptureConfig struct {
	DisplayIndex int
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{DisplayIndex: 0}
}

// ErrNotSupported is returned when screen capture is not supported on the
// platform the agent is running on.
var ErrNotSupported = errors.New("screen capture not supported on this platform")

// ErrDisplayNotFound is returned when the configured display index does not
// exist.
var ErrDisplayNotFound = errors.New("display not found")

// RawFrame is a reference-counted BGRA buffer produced by DesktopCapture and
// shared, not copied, across every QualityEncoder subscriber (§3, §4.4).
type RawFrame struct {
	Width, Height, Stride int
	Data                  []byte
	FrameID               uint64

	refs    int32
	release func()
}

func newRawFrame(data []byte, width, height, stride int, frameID uint64, release func()) *RawFrame {
	return &RawFrame{
		Width: width, Height: height, Stride: stride,
		Data: data, FrameID: frameID,
		refs: 1, release: release,
	}
}

// Retain increments the reference count. Call before handing the frame to an
// additional consumer that will call Release independently.
func (f *RawFrame) Retain() {
	atomic.AddInt32(&f.refs, 1)
}

// Release decrements the reference count and invokes the underlying buffer's
// release callback, if any, once the count reaches zero.
func (f *RawFrame) Release() {
	if atomic.AddInt32(&f.refs, -1) == 0 && f.release != nil {
		f.release()
	}
}
