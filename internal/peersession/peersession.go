// Package peersession implements the per-peer WebRTC state machine (§4.3):
// one RTCPeerConnection, one H.264 video track, and one reliable data
// channel for remote input, per connected viewer.
package peersession

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/lqmydesk/agent/internal/input"
	"github.com/lqmydesk/agent/internal/logging"
)

var log = logging.L("peersession")

// State mirrors the peer-connection state machine table in §4.3.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	disconnectGrace = 10 * time.Second
	pliRateLimit    = 500 * time.Millisecond
)

// H264 baseline, as negotiated by the video track's SDPFmtpLine.
const (
	videoMimeType   = webrtc.MimeTypeH264
	videoClockRate  = 90000
	videoSDPFmtp    = "profile-level-id=42e01f;packetization-mode=1"
	videoPayloadHdr = 96
)

// Candidate is the trickled-ICE payload shape sent to the peer (§4.3).
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// PeerSession owns one RTCPeerConnection for one remote viewer.
type PeerSession struct {
	ClientUUID string

	pc          *webrtc.PeerConnection
	videoTrack  *webrtc.TrackLocalStaticSample
	dataChannel *webrtc.DataChannel
	injector    input.Injector

	onCandidate   func(Candidate)
	onStateChange func(*PeerSession, State)
	onKeyframeReq func()

	mu              sync.Mutex
	state           State
	disconnectTimer *time.Timer

	closeOnce sync.Once
	closed    chan struct{}
}

// Options configures a new PeerSession.
type Options struct {
	STUNServers   []string
	Injector      input.Injector
	OnCandidate   func(Candidate)
	OnStateChange func(*PeerSession, State)
	// OnKeyframeRequest fires on PLI/FIR from the peer, rate-limited.
	OnKeyframeRequest func()
}

// New creates the RTCPeerConnection and its video track, registers all
// event handlers, but does not yet negotiate; call HandleOffer next.
func New(clientUUID string, opts Options) (*PeerSession, error) {
	if opts.Injector == nil {
		opts.Injector = input.NoopInjector{}
	}

	iceServers := []webrtc.ICEServer{{URLs: opts.STUNServers}}
	if len(opts.STUNServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("peersession: create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    videoMimeType,
			ClockRate:   videoClockRate,
			SDPFmtpLine: videoSDPFmtp,
		},
		"video",
		"desktop",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("peersession: create video track: %w", err)
	}

	sender, err := pc.AddTrack(videoTrack)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("peersession: add video track: %w", err)
	}

	ps := &PeerSession{
		ClientUUID:    clientUUID,
		pc:            pc,
		videoTrack:    videoTrack,
		injector:      opts.Injector,
		onCandidate:   opts.OnCandidate,
		onStateChange: opts.OnStateChange,
		onKeyframeReq: opts.OnKeyframeRequest,
		state:         StateNew,
		closed:        make(chan struct{}),
	}

	go ps.drainRTCP(sender)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if ps.onCandidate == nil {
			return
		}
		if c == nil {
			ps.onCandidate(Candidate{})
			return
		}
		init := c.ToJSON()
		cand := Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		ps.onCandidate(cand)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "input" {
			return
		}
		ps.mu.Lock()
		ps.dataChannel = dc
		ps.mu.Unlock()
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			ps.handleInputMessage(msg.Data)
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		ps.handlePeerConnectionState(s)
	})

	return ps, nil
}

func (ps *PeerSession) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	var lastKeyframeReq time.Time
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if time.Since(lastKeyframeReq) < pliRateLimit {
					continue
				}
				lastKeyframeReq = time.Now()
				if ps.onKeyframeReq != nil {
					ps.onKeyframeReq()
				}
			}
		}
	}
}

func (ps *PeerSession) handleInputMessage(data []byte) {
	var cmd input.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Warn("malformed input command, ignoring", logging.KeyPeerUUID, ps.ClientUUID, logging.KeyError, err)
		return
	}
	if cmd.Cmd == "" {
		log.Warn("input command missing cmd field, ignoring", logging.KeyPeerUUID, ps.ClientUUID)
		return
	}
	if err := ps.injector.Inject(cmd); err != nil {
		log.Warn("input injection failed", logging.KeyPeerUUID, ps.ClientUUID, logging.KeyError, err)
	}
}

// HandleOffer implements the offer/answer flow in §4.3 steps 3-5 (JWT
// validation and registry insertion are the caller's responsibility).
func (ps *PeerSession) HandleOffer(sdp string) (answerSDP string, err error) {
	if err := ps.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return "", fmt.Errorf("peersession: set remote description: %w", err)
	}

	answer, err := ps.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("peersession: create answer: %w", err)
	}
	if err := ps.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("peersession: set local description: %w", err)
	}

	ps.setState(StateConnecting)
	return answer.SDP, nil
}

// AddRemoteICECandidate injects one trickled candidate from the peer.
func (ps *PeerSession) AddRemoteICECandidate(candidate, sdpMid string, sdpMLineIndex uint16) error {
	init := webrtc.ICECandidateInit{Candidate: candidate}
	if sdpMid != "" {
		init.SDPMid = &sdpMid
	}
	init.SDPMLineIndex = &sdpMLineIndex
	return ps.pc.AddICECandidate(init)
}

func (ps *PeerSession) VideoTrack() *webrtc.TrackLocalStaticSample {
	return ps.videoTrack
}

func (ps *PeerSession) State() State {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

func (ps *PeerSession) setState(s State) {
	ps.mu.Lock()
	old := ps.state
	if old == s {
		ps.mu.Unlock()
		return
	}
	ps.state = s
	ps.mu.Unlock()

	if ps.onStateChange != nil {
		ps.onStateChange(ps, s)
	}
}

func (ps *PeerSession) handlePeerConnectionState(s webrtc.PeerConnectionState) {
	log.Info("peer connection state changed", logging.KeyPeerUUID, ps.ClientUUID, "state", s.String())

	switch s {
	case webrtc.PeerConnectionStateConnected:
		ps.cancelDisconnectTimer()
		ps.setState(StateConnected)

	case webrtc.PeerConnectionStateDisconnected:
		ps.setState(StateDisconnected)
		ps.mu.Lock()
		ps.disconnectTimer = time.AfterFunc(disconnectGrace, func() {
			if ps.State() == StateDisconnected {
				ps.Close()
			}
		})
		ps.mu.Unlock()

	case webrtc.PeerConnectionStateFailed:
		ps.cancelDisconnectTimer()
		ps.setState(StateFailed)
		ps.Close()

	case webrtc.PeerConnectionStateClosed:
		ps.cancelDisconnectTimer()
		ps.setState(StateClosed)
	}
}

func (ps *PeerSession) cancelDisconnectTimer() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.disconnectTimer != nil {
		ps.disconnectTimer.Stop()
		ps.disconnectTimer = nil
	}
}

// Close tears down the peer connection. Safe to call multiple times and
// from any state.
func (ps *PeerSession) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		ps.cancelDisconnectTimer()
		err = ps.pc.Close()
		close(ps.closed)
		ps.setState(StateClosed)
	})
	return err
}
