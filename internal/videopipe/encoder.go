package videopipe

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/y9o/go-openh264"

	"github.com/lqmydesk/agent/internal/logging"
)

// QualityConfig describes one installable video quality (§3). Width and
// height must be positive and even; fps must be in [1,120].
type QualityConfig struct {
	Name             string
	Width, Height    int
	BitrateKbps      int
	FPS              int
	KeyframeInterval int // frames; 0 defaults to 2*FPS
}

// EncodedFrame is the output of a QualityEncoder: one H.264 access unit
// plus the metadata a TrackWriter needs to forward it as a WebRTC sample.
type EncodedFrame struct {
	Data        []byte
	Duration    time.Duration
	FrameID     uint64
	IsKeyframe  bool
	QualityName string
}

// h264Encoder wraps the OpenH264 baseline encoder. One instance belongs to
// exactly one QualityEncoder and is never shared across qualities.
type h264Encoder struct {
	mu      sync.Mutex
	enc     *openh264.ISVCEncoder
	width   int32
	height  int32
	frameNo int64
}

func newH264Encoder(cfg QualityConfig) (*h264Encoder, error) {
	var enc *openh264.ISVCEncoder
	if ret := openh264.WelsCreateSVCEncoder(&enc); ret != 0 || enc == nil {
		return nil, fmt.Errorf("create h264 encoder: code %d", ret)
	}

	params := openh264.SEncParamBase{
		IUsageType:     openh264.SCREEN_CONTENT_REAL_TIME,
		IPicWidth:      int32(cfg.Width),
		IPicHeight:     int32(cfg.Height),
		ITargetBitrate: int32(cfg.BitrateKbps * 1000),
		FMaxFrameRate:  float32(cfg.FPS),
	}
	if ret := enc.Initialize(&params); ret != 0 {
		openh264.WelsDestroySVCEncoder(enc)
		return nil, fmt.Errorf("initialize h264 encoder: code %d", ret)
	}

	return &h264Encoder{enc: enc, width: int32(cfg.Width), height: int32(cfg.Height)}, nil
}

// encode submits one planar YUV420 frame and returns the encoded access
// unit, or nil if the encoder elected to skip the frame.
func (e *h264Encoder) encode(frame *YUVFrame) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := openh264.SSourcePicture{
		IColorFormat: openh264.VideoFormatI420,
		IStride:      [4]int32{int32(frame.YStride), int32(frame.UVStride), int32(frame.UVStride), 0},
		IPicWidth:    e.width,
		IPicHeight:   e.height,
		UiTimeStamp:  e.frameNo * 33,
	}
	src.PData[0] = (*uint8)(unsafe.Pointer(&frame.Y[0]))
	src.PData[1] = (*uint8)(unsafe.Pointer(&frame.U[0]))
	src.PData[2] = (*uint8)(unsafe.Pointer(&frame.V[0]))

	var info openh264.SFrameBSInfo
	if ret := e.enc.EncodeFrame(&src, &info); ret != openh264.CmResultSuccess {
		return nil, fmt.Errorf("encode frame: code %d", ret)
	}
	e.frameNo++

	if info.EFrameType == openh264.VideoFrameTypeSkip {
		return nil, nil
	}

	var out []byte
	for i := 0; i < int(info.ILayerNum); i++ {
		layer := &info.SLayerInfo[i]
		var size int32
		nalLens := unsafe.Slice(layer.PNalLengthInByte, layer.INalCount)
		for _, l := range nalLens {
			size += l
		}
		out = append(out, unsafe.Slice(layer.PBsBuf, size)...)
	}
	return out, nil
}

func (e *h264Encoder) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc != nil {
		e.enc.Uninitialize()
		openh264.WelsDestroySVCEncoder(e.enc)
		e.enc = nil
	}
}

// QualityEncoder subscribes to a FrameFanout, enforces its own frame-rate
// budget, resizes and colour-converts as needed, and encodes to H.264,
// broadcasting the result on its own EncodedFanout (§4.5). One instance
// serves every peer subscribed to its quality — never per-peer.
type QualityEncoder struct {
	cfg    QualityConfig
	fanout *Fanout[*EncodedFrame]

	backend *h264Encoder

	sub   <-chan *RawFrame
	unsub func()

	stop chan struct{}
	wg   sync.WaitGroup

	lastEncode time.Time
	frameCount uint64
}

func keyframeInterval(cfg QualityConfig) int {
	if cfg.KeyframeInterval > 0 {
		return cfg.KeyframeInterval
	}
	return 2 * cfg.FPS
}

// NewQualityEncoder creates and starts an encoder subscribed to raw.
func NewQualityEncoder(cfg QualityConfig, raw *Fanout[*RawFrame]) (*QualityEncoder, error) {
	backend, err := newH264Encoder(cfg)
	if err != nil {
		return nil, err
	}

	sub, unsub := raw.Subscribe()
	qe := &QualityEncoder{
		cfg:     cfg,
		fanout:  NewFanout[*EncodedFrame](),
		backend: backend,
		sub:     sub,
		unsub:   unsub,
		stop:    make(chan struct{}),
	}
	qe.wg.Add(1)
	go qe.loop()
	return qe, nil
}

// Fanout exposes the encoded-frame broadcast for TrackWriter subscription.
func (qe *QualityEncoder) Fanout() *Fanout[*EncodedFrame] { return qe.fanout }

func (qe *QualityEncoder) loop() {
	defer qe.wg.Done()
	budget := time.Second / time.Duration(qe.cfg.FPS)
	interval := keyframeInterval(qe.cfg)

	for {
		select {
		case <-qe.stop:
			return
		case raw, ok := <-qe.sub:
			if !ok {
				return
			}
			qe.handleFrame(raw, budget, interval)
		}
	}
}

func (qe *QualityEncoder) handleFrame(raw *RawFrame, budget time.Duration, interval int) {
	defer raw.Release()

	now := time.Now()
	if !qe.lastEncode.IsZero() && now.Sub(qe.lastEncode) < budget {
		return
	}
	qe.lastEncode = now

	bgra := raw.Data
	w, h, stride := raw.Width, raw.Height, raw.Stride
	if w != qe.cfg.Width || h != qe.cfg.Height {
		bgra = resizeBGRA(bgra, w, h, stride, qe.cfg.Width, qe.cfg.Height)
		stride = qe.cfg.Width * 4
	}

	yuv := bgraToYUV420(bgra, qe.cfg.Width, qe.cfg.Height, stride)
	data, err := qe.backend.encode(yuv)
	putYUVFrame(yuv)
	if err != nil {
		logging.L("videopipe.encoder").Error("encode failed", logging.KeyQuality, qe.cfg.Name, logging.KeyError, err)
		return
	}
	if data == nil {
		return
	}

	qe.frameCount++
	qe.fanout.Publish(&EncodedFrame{
		Data:        data,
		Duration:    budget,
		FrameID:     qe.frameCount,
		IsKeyframe:  int(qe.frameCount)%interval == 0,
		QualityName: qe.cfg.Name,
	})
}

// Close stops the encoder loop, unsubscribes from the raw-frame fanout, and
// releases the OpenH264 backend. Outstanding TrackWriters observe the
// closed EncodedFanout and exit.
func (qe *QualityEncoder) Close() {
	close(qe.stop)
	qe.unsub()
	qe.wg.Wait()
	qe.fanout.Close()
	qe.backend.close()
}
