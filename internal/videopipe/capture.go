package videopipe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lqmydesk/agent/internal/logging"
)

const captureTargetHz = 60

var captureLog = logging.L("videopipe.capture")

// DesktopCapture owns the capture source and broadcasts every produced frame
// to the FrameFanout (§4.4). It runs on a dedicated goroutine pinned to its
// own loop rather than a cooperative task, matching the "two dedicated OS
// threads" scheduling model in §5.
type DesktopCapture struct {
	capturer ScreenCapturer
	fanout   *Fanout[*RawFrame]

	running int32
	stop    chan struct{}
	wg      sync.WaitGroup

	frameID uint64
}

func NewDesktopCapture(capturer ScreenCapturer) *DesktopCapture {
	return &DesktopCapture{
		capturer: capturer,
		fanout:   NewFanout[*RawFrame](),
		stop:     make(chan struct{}),
	}
}

// Fanout exposes the raw-frame broadcast for QualityEncoder subscription.
func (c *DesktopCapture) Fanout() *Fanout[*RawFrame] { return c.fanout }

// Start begins the capture loop if it is not already running. Safe to call
// repeatedly; a second call while running is a no-op, matching "ensure
// capture ... running" on first Connected transition (§4.3).
func (c *DesktopCapture) Start() {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return
	}
	c.wg.Add(1)
	go c.loop()
}

// Stop halts the capture loop and blocks until it has exited. The fanout is
// left open: capture is started and stopped once per session rather than
// once per process (§4.3's Connected/Disconnected cycle repeats over a
// single agent lifetime), and every QualityEncoder subscribed to it via
// Pipeline.AddQualityStream is installed only once, at startup. Closing the
// fanout here would permanently kill those encoders on the first
// Disconnected transition, leaving every later session subscribed to a dead
// pipeline. Fanout.Publish with no subscribers is already a safe no-op, so
// leaving it open between Start/Stop cycles costs nothing.
func (c *DesktopCapture) Stop() {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return
	}
	close(c.stop)
	c.wg.Wait()
	c.stop = make(chan struct{})
}

// Close permanently shuts down the capture source: it stops the loop if
// running and closes the fanout so every subscribed QualityEncoder exits.
// Call only at process teardown (Pipeline.Shutdown), never between sessions.
func (c *DesktopCapture) Close() {
	c.Stop()
	c.fanout.Close()
}

func (c *DesktopCapture) loop() {
	defer c.wg.Done()

	period := time.Second / captureTargetHz
	next := time.Now().Add(period)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		bgra, w, h, stride, changed, err := c.capturer.Capture()
		if err != nil {
			captureLog.Error("capture failed", logging.KeyError, err)
			time.Sleep(time.Millisecond)
			continue
		}
		if !changed {
			time.Sleep(time.Millisecond)
			continue
		}

		id := atomic.AddUint64(&c.frameID, 1)
		frame := newRawFrame(bgra, w, h, stride, id, nil)
		c.fanout.Publish(frame)

		now := time.Now()
		residual := next.Sub(now)
		if residual > 100*time.Microsecond {
			time.Sleep(residual)
		}
		next = next.Add(period)
		if next.Before(now) {
			next = now.Add(period)
		}
	}
}
