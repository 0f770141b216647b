package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lqmydesk/agent/internal/auth"
	"github.com/lqmydesk/agent/internal/confirm"
	"github.com/lqmydesk/agent/internal/input"
	"github.com/lqmydesk/agent/internal/logging"
	"github.com/lqmydesk/agent/internal/peersession"
	"github.com/lqmydesk/agent/internal/signaling"
	"github.com/lqmydesk/agent/internal/videopipe"
)

var log = logging.L("session.orchestrator")

const defaultQuality = "high"

// Status bodies mirror the admission algorithm's literal responses (§4.2).
const (
	bodyRosterFull        = "连接被拒绝"
	bodyPasswordMismatch  = "连接口令错误"
	bodyRequestInFlight   = "请求已在处理，请稍后"
	bodyControllerHeld    = "已有控制者"
	bodyControlReclaimed  = "控制权取回"
)

// Orchestrator owns the SessionRoster and wires peer admission, WebRTC
// negotiation, and quality-stream subscription together. It implements
// signaling.Dispatcher so a Client can drive it directly.
type Orchestrator struct {
	state     *auth.AgentState
	pipeline  *videopipe.Pipeline
	roster    *Roster
	stunURLs  []string
	injector  input.Injector
	confirmer confirm.Confirmer
	client    *signaling.Client

	mu        sync.Mutex
	peersByID map[string]*peersession.PeerSession
}

// NewOrchestrator wires an admission/session layer over an already
// constructed AgentState and video pipeline.
func NewOrchestrator(state *auth.AgentState, pipeline *videopipe.Pipeline, capacity int, stunURLs []string, injector input.Injector, confirmer confirm.Confirmer) *Orchestrator {
	if injector == nil {
		injector = input.NoopInjector{}
	}
	return &Orchestrator{
		state:     state,
		pipeline:  pipeline,
		roster:    NewRoster(capacity),
		stunURLs:  stunURLs,
		injector:  injector,
		confirmer: confirmer,
		peersByID: make(map[string]*peersession.PeerSession),
	}
}

// AttachClient lets the orchestrator enqueue replies through the signaling
// connection once it exists. Must be called once before Dispatch fires.
func (o *Orchestrator) AttachClient(c *signaling.Client) {
	o.client = c
}

func (o *Orchestrator) Roster() *Roster { return o.roster }

// signaling.Dispatcher implementation.

func (o *Orchestrator) OnRegistered(localUUID string) {
	o.state.SetLocalUUID(localUUID)
	log.Info("registered with rendezvous server", logging.KeyPeerUUID, localUUID)
}

func (o *Orchestrator) OnRegisterRejected(reason string) {
	log.Warn("registration rejected", "reason", reason)
}

func (o *Orchestrator) OnDisconnected(err error) {
	log.Warn("signaling connection lost", logging.KeyError, err)
}

func (o *Orchestrator) Dispatch(msg signaling.InboundMessage, reply func(string, signaling.Payload)) {
	switch msg.Payload.Cmd() {
	case signaling.CmdAuth:
		o.handleAuth(msg, reply)
	case signaling.CmdOffer:
		o.handleOffer(msg, reply)
	case signaling.CmdCandidate:
		o.handleCandidate(msg)
	case signaling.CmdControl:
		o.handleControl(msg, reply)
	case signaling.CmdRevokeCtrl:
		o.handleRevokeCtrl(msg)
	case signaling.CmdDisconnect:
		o.handleDisconnect(msg)
	case signaling.CmdCloseRTC:
		o.handleCloseRTC(msg)
	default:
		log.Warn("unknown payload cmd, ignoring", "cmd", msg.Payload.Cmd())
	}
}

// handleAuth implements the admission algorithm of §4.2.
func (o *Orchestrator) handleAuth(msg signaling.InboundMessage, reply func(string, signaling.Payload)) {
	deviceName, _ := msg.Payload["device_name"].(string)
	deviceSerial, _ := msg.Payload["device_serial"].(string)
	password, _ := msg.Payload["password"].(string)
	peerUUID, _ := msg.Payload["uuid"].(string)
	if peerUUID == "" {
		peerUUID = msg.From
	}

	respond := func(status, body string) {
		reply(peerUUID, signaling.Payload{"cmd": signaling.CmdAuth, "status": status, "body": body})
	}

	if o.roster.Full() {
		respond("403", bodyRosterFull)
		return
	}

	rec, known := o.state.Users.Lookup(deviceSerial)
	switch {
	case known && rec.Category == auth.Blacklist:
		respond("403", bodyRosterFull)
		return

	case known && rec.Category == auth.Trusted:
		o.admit(peerUUID, deviceSerial, deviceName, auth.Trusted, respond)
		return
	}

	if password != o.state.ConnectionPassword() {
		respond("403", bodyPasswordMismatch)
		return
	}

	release, ok := o.state.Confirm.Acquire(deviceSerial)
	if !ok {
		respond("202", bodyRequestInFlight)
		return
	}
	defer release()

	approved := o.confirmer.Confirm("远程连接请求", fmt.Sprintf("设备 %s 请求连接", deviceName))
	if !approved {
		respond("403", bodyPasswordMismatch)
		return
	}

	category := auth.Normal
	if known {
		category = rec.Category
	} else {
		if err := o.state.Users.Add(auth.UserRecord{DeviceSerial: deviceSerial, DeviceName: deviceName, Category: auth.Normal}); err != nil {
			log.Warn("failed to persist new device record", logging.KeyDeviceSN, deviceSerial, logging.KeyError, err)
		}
	}
	o.admit(peerUUID, deviceSerial, deviceName, category, respond)
}

func (o *Orchestrator) admit(peerUUID, deviceSerial, deviceName string, category auth.Category, respond func(status, body string)) {
	jwt, err := o.state.IssueSessionJWT(deviceSerial)
	if err != nil {
		log.Warn("failed to issue jwt", logging.KeyError, err)
		respond("403", bodyRosterFull)
		return
	}

	if err := o.roster.Insert(&ActiveSession{
		PeerUUID:     peerUUID,
		DeviceSerial: deviceSerial,
		DeviceName:   deviceName,
		Category:     category,
		IssuedJWT:    jwt,
	}); err != nil {
		respond("403", bodyRosterFull)
		return
	}
	respond("200", jwt)
}

// handleOffer implements §4.3 steps 1-5: validate JWT, build a
// PeerSession, negotiate, and subscribe it to a quality stream once
// connected.
func (o *Orchestrator) handleOffer(msg signaling.InboundMessage, reply func(string, signaling.Payload)) {
	clientUUID, _ := msg.Payload["client_uuid"].(string)
	sdp, _ := msg.Payload["sdp"].(string)
	mode, _ := msg.Payload["mode"].(string)
	jwtToken, _ := msg.Payload["jwt"].(string)

	if _, err := o.state.ValidateSessionJWT(jwtToken); err != nil {
		log.Warn("offer with invalid jwt, dropping", logging.KeyPeerUUID, clientUUID, logging.KeyError, err)
		return
	}

	quality := mode
	if quality == "" {
		quality = defaultQuality
	}

	ps, err := peersession.New(clientUUID, peersession.Options{
		STUNServers: o.stunURLs,
		Injector:    o.injector,
		OnCandidate: func(c peersession.Candidate) {
			reply(clientUUID, signaling.Payload{
				"cmd": signaling.CmdCandidate,
				"value": map[string]any{
					"candidate":       c.Candidate,
					"sdp_mid":         c.SDPMid,
					"sdp_mline_index": c.SDPMLineIndex,
				},
			})
		},
		OnStateChange: o.onPeerStateChange(quality),
	})
	if err != nil {
		log.Warn("failed to create peer session", logging.KeyPeerUUID, clientUUID, logging.KeyError, err)
		return
	}

	answerSDP, err := ps.HandleOffer(sdp)
	if err != nil {
		log.Warn("offer/answer negotiation failed", logging.KeyPeerUUID, clientUUID, logging.KeyError, err)
		ps.Close()
		return
	}

	o.mu.Lock()
	o.peersByID[clientUUID] = ps
	o.mu.Unlock()

	if s, ok := o.roster.Lookup(clientUUID); ok {
		s.Peer = ps
		s.Quality = quality
	}

	reply(clientUUID, signaling.Payload{"cmd": signaling.CmdAnswear, "client_uuid": clientUUID, "sdp": answerSDP})
}

// onPeerStateChange implements the state-machine actions of §4.3: ensure
// capture on first Connected transition, attach a TrackWriter, and stop
// capture once the last session using it is gone.
func (o *Orchestrator) onPeerStateChange(quality string) func(*peersession.PeerSession, peersession.State) {
	var writer *videopipe.TrackWriter
	var writerOnce sync.Once

	return func(ps *peersession.PeerSession, state peersession.State) {
		switch state {
		case peersession.StateConnected:
			o.pipeline.EnsureCapturing()
			writerOnce.Do(func() {
				if fanout, ok := o.pipeline.Quality(quality); ok {
					writer = videopipe.NewTrackWriter(fanout, ps.VideoTrack())
				} else {
					log.Warn("no such quality stream installed", logging.KeyQuality, quality)
				}
			})

		case peersession.StateFailed, peersession.StateClosed:
			if writer != nil {
				writer.Stop()
			}
			o.removePeer(ps.ClientUUID)
		}
	}
}

func (o *Orchestrator) removePeer(clientUUID string) {
	o.mu.Lock()
	delete(o.peersByID, clientUUID)
	remaining := len(o.peersByID)
	o.mu.Unlock()

	o.roster.Remove(clientUUID)

	if remaining == 0 {
		o.pipeline.StopCapturing()
	}
}

func (o *Orchestrator) handleCandidate(msg signaling.InboundMessage) {
	clientUUID, _ := msg.Payload["client_uuid"].(string)
	jwtToken, _ := msg.Payload["jwt"].(string)
	if _, err := o.state.ValidateSessionJWT(jwtToken); err != nil {
		return
	}

	o.mu.Lock()
	ps, ok := o.peersByID[clientUUID]
	o.mu.Unlock()
	if !ok {
		return
	}

	value, _ := msg.Payload["value"].(map[string]any)
	candidate, _ := value["candidate"].(string)
	sdpMid, _ := value["sdp_mid"].(string)
	sdpMLineIndex, _ := value["sdp_mline_index"].(float64)
	if err := ps.AddRemoteICECandidate(candidate, sdpMid, uint16(sdpMLineIndex)); err != nil {
		log.Warn("failed to add remote ice candidate", logging.KeyPeerUUID, clientUUID, logging.KeyError, err)
	}
}

func (o *Orchestrator) handleControl(msg signaling.InboundMessage, reply func(string, signaling.Payload)) {
	deviceSerial, _ := msg.Payload["device_serial"].(string)
	jwtToken, _ := msg.Payload["jwt"].(string)
	if _, err := o.state.ValidateSessionJWT(jwtToken); err != nil {
		reply(msg.From, signaling.Payload{"cmd": signaling.CmdControl, "status": "400", "body": "invalid jwt"})
		return
	}

	if err := o.roster.ClaimController(msg.From); err != nil {
		reply(msg.From, signaling.Payload{"cmd": signaling.CmdControl, "status": "400", "body": bodyControllerHeld})
		return
	}
	log.Info("control claimed", logging.KeyPeerUUID, msg.From, logging.KeyDeviceSN, deviceSerial)
	reply(msg.From, signaling.Payload{"cmd": signaling.CmdControl, "status": "200"})
}

// handleRevokeCtrl is the peer-initiated revoke (§4.2): only the current
// controller may tear its own video/data down this way.
func (o *Orchestrator) handleRevokeCtrl(msg signaling.InboundMessage) {
	if !o.roster.IsController(msg.From) {
		return
	}
	o.teardownPeer(msg.From)
}

// RevokeLocalControl implements the local-UI "revoke control" action: notify
// the current controller, then clear controller_index.
func (o *Orchestrator) RevokeLocalControl(reply func(string, signaling.Payload)) {
	uuid, ok := o.roster.ResetController()
	if !ok {
		return
	}
	reply(uuid, signaling.Payload{"cmd": signaling.CmdRevokeCtrl, "status": "100", "body": bodyControlReclaimed})
}

func (o *Orchestrator) handleDisconnect(msg signaling.InboundMessage) {
	deviceSerial, _ := msg.Payload["device_serial"].(string)
	jwtToken, _ := msg.Payload["jwt"].(string)
	if _, err := o.state.ValidateSessionJWT(jwtToken); err != nil {
		return
	}
	_ = deviceSerial
	o.teardownPeer(msg.From)
}

func (o *Orchestrator) handleCloseRTC(msg signaling.InboundMessage) {
	o.teardownPeer(msg.From)
}

func (o *Orchestrator) teardownPeer(clientUUID string) {
	o.mu.Lock()
	ps, ok := o.peersByID[clientUUID]
	o.mu.Unlock()
	if ok {
		ps.Close()
	}
	o.removePeer(clientUUID)
}

// DisconnectLocal implements the local-initiated disconnect (§4.2): close
// the peer connection first, then notify the peer.
func (o *Orchestrator) DisconnectLocal(clientUUID string, reply func(string, signaling.Payload)) {
	o.teardownPeer(clientUUID)
	reply(clientUUID, signaling.Payload{"cmd": signaling.CmdDisconnect})
}

// Shutdown implements the agent-stop sequence (§4.2): close every peer
// connection, notify every peer, stop the pipeline, and reset the roster.
func (o *Orchestrator) Shutdown(reply func(string, signaling.Payload)) {
	for _, s := range o.roster.Snapshot() {
		if s.Peer != nil {
			s.Peer.Close()
		}
		if reply != nil {
			reply(s.PeerUUID, signaling.Payload{"cmd": signaling.CmdDisconnect})
		}
	}
	o.pipeline.Shutdown()
	o.roster = NewRoster(o.roster.capacity)

	o.mu.Lock()
	o.peersByID = make(map[string]*peersession.PeerSession)
	o.mu.Unlock()
}

// NewPeerUUID mints a UUID for a peer that did not supply its own,
// matching the rendezvous server's own assignment scheme.
func NewPeerUUID() string {
	return uuid.NewString()
}
