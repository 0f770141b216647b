package videopipe

import "testing"

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	f := NewFanout[int]()
	ch1, _ := f.Subscribe()
	ch2, _ := f.Subscribe()

	f.Publish(42)

	if v := <-ch1; v != 42 {
		t.Fatalf("sub1 got %d, want 42", v)
	}
	if v := <-ch2; v != 42 {
		t.Fatalf("sub2 got %d, want 42", v)
	}
}

func TestFanoutLagDropsNeverBlocksPublish(t *testing.T) {
	f := NewFanout[int]()
	ch, _ := f.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < fanoutCapacity*4; i++ {
			f.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // Publish must return promptly even though nobody drains ch.
	<-ch
}

func TestFanoutUnsubscribeClosesChannel(t *testing.T) {
	f := NewFanout[int]()
	ch, unsub := f.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestFanoutCloseClosesAllSubscribers(t *testing.T) {
	f := NewFanout[int]()
	ch1, _ := f.Subscribe()
	ch2, _ := f.Subscribe()
	f.Close()

	if _, ok := <-ch1; ok {
		t.Fatal("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected ch2 closed")
	}
}

func TestFanoutSubscribeAfterCloseGetsClosedChannel(t *testing.T) {
	f := NewFanout[int]()
	f.Close()
	ch, _ := f.Subscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected already-closed channel for subscribe-after-close")
	}
}
