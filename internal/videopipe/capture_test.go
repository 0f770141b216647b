package videopipe

import "testing"

func TestDesktopCaptureStopLeavesFanoutOpenForRestart(t *testing.T) {
	c := NewDesktopCapture(patternCapturer{})
	ch, unsub := c.Fanout().Subscribe()
	defer unsub()

	c.Start()
	if _, ok := <-ch; !ok {
		t.Fatal("expected a frame while capturing")
	}
	c.Stop()

	// Stop must not close the fanout: encoders subscribed at startup are
	// never resubscribed, so a later Start has to feed the same channel.
	c.Start()
	defer c.Stop()
	if _, ok := <-ch; !ok {
		t.Fatal("fanout closed across a Stop/Start cycle; subscribers orphaned")
	}
}

func TestDesktopCaptureCloseClosesFanout(t *testing.T) {
	c := NewDesktopCapture(patternCapturer{})
	ch, _ := c.Fanout().Subscribe()

	c.Start()
	if _, ok := <-ch; !ok {
		t.Fatal("expected a frame while capturing")
	}
	c.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected fanout closed after Close")
	}
}
