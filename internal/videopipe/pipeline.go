package videopipe

import (
	"fmt"
	"sync"

	"github.com/lqmydesk/agent/internal/logging"
)

var pipelineLog = logging.L("videopipe.pipeline")

// Pipeline owns the DesktopCapture and the set of installed QualityEncoders.
// add_quality_stream/remove_quality_stream/shutdown are the operations named
// in §4.5's Lifecycle paragraph.
type Pipeline struct {
	mu       sync.Mutex
	capture  *DesktopCapture
	encoders map[string]*QualityEncoder
}

func NewPipeline(capturer ScreenCapturer) *Pipeline {
	return &Pipeline{
		capture:  NewDesktopCapture(capturer),
		encoders: make(map[string]*QualityEncoder),
	}
}

// EnsureCapturing starts the capture thread if it is not already running.
// Called on every Connected transition of a peer session (§4.3); a call
// while capture is already running is a no-op.
func (p *Pipeline) EnsureCapturing() {
	p.capture.Start()
}

// StopCapturing halts the capture thread. Called when the last session that
// needed it disconnects.
func (p *Pipeline) StopCapturing() {
	p.capture.Stop()
}

// AddQualityStream installs cfg's encoder if not already present (I5, P5)
// and returns its EncodedFanout for TrackWriter subscription. A second call
// with the same name returns the same underlying fanout rather than
// creating a new encoder.
func (p *Pipeline) AddQualityStream(cfg QualityConfig) (*Fanout[*EncodedFrame], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if qe, ok := p.encoders[cfg.Name]; ok {
		return qe.Fanout(), nil
	}

	qe, err := NewQualityEncoder(cfg, p.capture.Fanout())
	if err != nil {
		return nil, fmt.Errorf("add quality stream %q: %w", cfg.Name, err)
	}
	p.encoders[cfg.Name] = qe
	pipelineLog.Info("quality stream installed", logging.KeyQuality, cfg.Name)
	return qe.Fanout(), nil
}

// RemoveQualityStream drops the named encoder and its fanout. Outstanding
// TrackWriters observe the closed channel and exit on their own.
func (p *Pipeline) RemoveQualityStream(name string) {
	p.mu.Lock()
	qe, ok := p.encoders[name]
	if ok {
		delete(p.encoders, name)
	}
	p.mu.Unlock()

	if ok {
		qe.Close()
		pipelineLog.Info("quality stream removed", logging.KeyQuality, name)
	}
}

// Quality looks up an installed encoder's fanout by name for subscription
// by a newly connected peer. The bool is false if no such quality exists.
func (p *Pipeline) Quality(name string) (*Fanout[*EncodedFrame], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	qe, ok := p.encoders[name]
	if !ok {
		return nil, false
	}
	return qe.Fanout(), true
}

// Shutdown stops and joins the capture loop, then closes every encoder in
// turn, and drains the encoder registry. Unlike StopCapturing (used between
// sessions), this permanently closes the raw-frame fanout: every encoder is
// about to be closed anyway, and the Pipeline itself is not reused after
// Shutdown.
func (p *Pipeline) Shutdown() {
	p.capture.Close()

	p.mu.Lock()
	encoders := p.encoders
	p.encoders = make(map[string]*QualityEncoder)
	p.mu.Unlock()

	for name, qe := range encoders {
		qe.Close()
		pipelineLog.Info("quality stream removed", logging.KeyQuality, name)
	}
}
