package signaling

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lqmydesk/agent/internal/logging"
)

var log = logging.L("signaling")

const (
	handshakeTimeout = 10 * time.Second
	heartbeatPeriod  = 2 * time.Second
	heartbeatTimeout = 6 * time.Second
	writeWait        = 5 * time.Second
	maxMessageSize   = 256 * 1024

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

var ErrHeartbeatTimeout = errors.New("signaling: heartbeat timeout")

// Dispatcher reacts to events surfaced by the event loop (§4.1). Dispatch
// is called inline for non-blocking commands and on a dedicated goroutine
// for auth/offer, which may pop a confirmation dialog or negotiate SDP;
// in both cases Dispatch calls reply once per response it sends, which is
// zero times for commands with no response such as candidate or disconnect.
type Dispatcher interface {
	OnRegistered(localUUID string)
	OnRegisterRejected(reason string)
	OnDisconnected(err error)
	Dispatch(msg InboundMessage, reply func(targetUUID string, payload Payload))
}

// blockingCmds dispatch to a worker goroutine rather than running inline in
// the event loop, since they may block on I/O or a user confirmation.
var blockingCmds = map[string]bool{
	CmdAuth:  true,
	CmdOffer: true,
}

// Client owns a single WebSocket connection to the rendezvous server and
// multiplexes every inbound/outbound frame across it through one event
// loop goroutine (§4.1's concurrency contract): the write half of the
// socket is touched only from Run, giving outbound frames a total order
// without a write-side lock.
type Client struct {
	serverURL  string
	clientType string
	dispatcher Dispatcher

	conn *websocket.Conn

	outboxMu     sync.Mutex
	outboxQueue  []Frame
	outboxSignal chan struct{}

	shutdown chan struct{}

	registered    bool
	localUUID     string
	lastHeartbeat time.Time
}

func New(serverURL, clientType string, dispatcher Dispatcher) *Client {
	return &Client{
		serverURL:    serverURL,
		clientType:   clientType,
		dispatcher:   dispatcher,
		outboxSignal: make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
	}
}

// Enqueue appends a frame to the pending outbox and wakes the event loop;
// it never blocks.
func (c *Client) Enqueue(f Frame) {
	c.outboxMu.Lock()
	c.outboxQueue = append(c.outboxQueue, f)
	c.outboxMu.Unlock()

	select {
	case c.outboxSignal <- struct{}{}:
	default:
	}
}

// EnqueueMessage is the common case: a reply payload addressed to a peer.
func (c *Client) EnqueueMessage(targetUUID string, payload Payload) {
	c.Enqueue(Frame{
		Type:       FrameMessage,
		From:       c.localUUID,
		TargetUUID: targetUUID,
		Payload:    payload,
	})
}

// Shutdown requests a graceful exit: a close frame is emitted and the
// current Run call returns nil.
func (c *Client) Shutdown() {
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}
}

// Run dials once, registers, and drives the event loop until the
// connection drops, Shutdown is called, or ctx is cancelled. Callers that
// want automatic reconnection should use RunWithReconnect.
func (c *Client) Run(ctx context.Context) error {
	wsURL, err := buildWSURL(c.serverURL)
	if err != nil {
		return fmt.Errorf("signaling: build url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("signaling: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	c.conn = conn
	defer conn.Close()

	c.registered = false
	c.outboxMu.Lock()
	c.outboxQueue = nil
	c.outboxMu.Unlock()

	if err := c.writeFrame(Frame{Type: FrameRegister, ClientType: c.clientType}); err != nil {
		return fmt.Errorf("signaling: send register: %w", err)
	}

	inbound := make(chan Frame, 32)
	readerErr := make(chan error, 1)
	go c.readLoop(inbound, readerErr)

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeFrame(Frame{Type: FrameClose})
			return ctx.Err()

		case <-c.shutdown:
			c.writeFrame(Frame{Type: FrameClose})
			return nil

		case <-c.outboxSignal:
			if err := c.drainOutbox(); err != nil {
				return err
			}

		case <-ticker.C:
			if !c.registered {
				continue
			}
			if err := c.writeFrame(Frame{Type: FramePing, From: c.localUUID}); err != nil {
				return err
			}
			if time.Since(c.lastHeartbeat) > heartbeatTimeout {
				c.dispatcher.OnDisconnected(ErrHeartbeatTimeout)
				return ErrHeartbeatTimeout
			}

		case frame, ok := <-inbound:
			if !ok {
				err := <-readerErr
				c.dispatcher.OnDisconnected(err)
				return err
			}
			c.handleFrame(frame)
		}
	}
}

// RunWithReconnect repeatedly calls Run, backing off exponentially with
// jitter between attempts, until ctx is cancelled or Shutdown is called.
func (c *Client) RunWithReconnect(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		err := c.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Warn("signaling connection lost, reconnecting", logging.KeyError, err)

		jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) drainOutbox() error {
	c.outboxMu.Lock()
	frames := c.outboxQueue
	c.outboxQueue = nil
	c.outboxMu.Unlock()

	for _, f := range frames {
		if err := c.writeFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) writeFrame(f Frame) error {
	data, err := f.encode()
	if err != nil {
		return fmt.Errorf("signaling: encode frame: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(inbound chan<- Frame, readerErr chan<- error) {
	defer close(inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readerErr <- err
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			log.Warn("malformed inbound frame, closing connection", logging.KeyError, err)
			readerErr <- fmt.Errorf("signaling: malformed frame: %w", err)
			return
		}
		inbound <- frame
	}
}

func (c *Client) handleFrame(f Frame) {
	switch f.Type {
	case FrameRegisterAck:
		c.registered = true
		c.localUUID = f.UUID
		c.lastHeartbeat = time.Now()
		c.dispatcher.OnRegistered(f.UUID)

	case FrameRegisterReject:
		c.dispatcher.OnRegisterRejected(f.Reason)

	case FramePong:
		c.lastHeartbeat = time.Now()

	case FrameMessage:
		msg := InboundMessage{From: f.From, TargetUUID: f.TargetUUID, Payload: f.Payload}
		if blockingCmds[f.Payload.Cmd()] {
			go c.dispatcher.Dispatch(msg, c.EnqueueMessage)
		} else {
			c.dispatcher.Dispatch(msg, c.EnqueueMessage)
		}

	case FrameClose:
		// handled by the reader returning io.EOF/close error; nothing to do.

	default:
		log.Warn("unknown frame type", "type", f.Type)
	}
}

func buildWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
