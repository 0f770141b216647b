package signaling

import "encoding/json"

// Frame types (§4.1 protocol table).
const (
	FrameRegister       = "register"
	FrameRegisterAck    = "register_ack"
	FrameRegisterReject = "register_reject"
	FramePing           = "ping"
	FramePong           = "pong"
	FrameMessage        = "message"
	FrameClose          = "close"
)

// Payload commands carried inside a message frame's payload.cmd.
const (
	CmdAuth       = "auth"
	CmdOffer      = "offer"
	CmdAnswear    = "answear"
	CmdCandidate  = "candidate"
	CmdDisconnect = "disconnect"
	CmdControl    = "control"
	CmdRevokeCtrl = "revokectrl"
	CmdCloseRTC   = "closertc"
)

// Payload is the free-form payload object of a message frame; its shape
// varies by Cmd(), so it is kept as a map rather than one rigid struct.
type Payload map[string]any

func (p Payload) Cmd() string {
	if p == nil {
		return ""
	}
	cmd, _ := p["cmd"].(string)
	return cmd
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	v, _ := p[key].(string)
	return v
}

// Frame is the wire representation of every JSON text frame exchanged with
// the rendezvous server.
type Frame struct {
	Type       string          `json:"type"`
	ClientType string          `json:"client_type,omitempty"`
	UUID       string          `json:"uuid,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	From       string          `json:"from,omitempty"`
	TargetUUID string          `json:"target_uuid,omitempty"`
	Payload    Payload         `json:"payload,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	f.Raw = data
	return f, nil
}

func (f Frame) encode() ([]byte, error) {
	return json.Marshal(f)
}

// InboundMessage is the normalized view of a message-typed frame handed to
// a Dispatcher.
type InboundMessage struct {
	From       string
	TargetUUID string
	Payload    Payload
}
