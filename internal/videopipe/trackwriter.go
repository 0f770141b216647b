package videopipe

import (
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/lqmydesk/agent/internal/logging"
)

var trackLog = logging.L("videopipe.trackwriter")

// VideoTrack is the subset of *webrtc.TrackLocalStaticSample a TrackWriter
// needs; narrowed to an interface so tests can substitute a fake track.
type VideoTrack interface {
	WriteSample(s media.Sample) error
}

// TrackWriter is one subscriber per (quality, peer): it receives encoded
// frames from a quality's EncodedFanout and writes them to a peer's WebRTC
// video track (§4.5). It exits when told to stop or when the track write
// fails (the peer connection went away).
type TrackWriter struct {
	track VideoTrack
	sub   <-chan *EncodedFrame
	unsub func()

	stopped int32
	done    chan struct{}
}

// NewTrackWriter subscribes to fanout and starts forwarding frames to track
// on its own goroutine.
func NewTrackWriter(fanout *Fanout[*EncodedFrame], track VideoTrack) *TrackWriter {
	sub, unsub := fanout.Subscribe()
	tw := &TrackWriter{
		track: track,
		sub:   sub,
		unsub: unsub,
		done:  make(chan struct{}),
	}
	go tw.loop()
	return tw
}

func (tw *TrackWriter) loop() {
	defer close(tw.done)
	timeout := time.NewTimer(100 * time.Millisecond)
	defer timeout.Stop()

	for {
		if atomic.LoadInt32(&tw.stopped) == 1 {
			return
		}

		if !timeout.Stop() {
			select {
			case <-timeout.C:
			default:
			}
		}
		timeout.Reset(100 * time.Millisecond)

		select {
		case frame, ok := <-tw.sub:
			if !ok {
				return
			}
			if err := tw.track.WriteSample(media.Sample{Data: frame.Data, Duration: frame.Duration}); err != nil {
				trackLog.Warn("track write failed, stopping writer", logging.KeyQuality, frame.QualityName, logging.KeyError, err)
				return
			}
		case <-timeout.C:
			// re-check the shutdown flag on the next iteration.
		}
	}
}

// Stop signals the writer to exit and blocks until it has done so.
func (tw *TrackWriter) Stop() {
	if !atomic.CompareAndSwapInt32(&tw.stopped, 0, 1) {
		<-tw.done
		return
	}
	tw.unsub()
	<-tw.done
}
