package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeDispatcher struct {
	registered   chan string
	rejected     chan string
	disconnected chan error
	dispatched   chan InboundMessage
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		registered:   make(chan string, 1),
		rejected:     make(chan string, 1),
		disconnected: make(chan error, 1),
		dispatched:   make(chan InboundMessage, 8),
	}
}

func (f *fakeDispatcher) OnRegistered(uuid string)    { f.registered <- uuid }
func (f *fakeDispatcher) OnRegisterRejected(r string) { f.rejected <- r }
func (f *fakeDispatcher) OnDisconnected(err error)    { f.disconnected <- err }
func (f *fakeDispatcher) Dispatch(msg InboundMessage, reply func(string, Payload)) {
	f.dispatched <- msg
}

var upgrader = websocket.Upgrader{}

// rendezvousStub immediately acks registration and echoes back every
// message frame it receives, addressed to the sender.
func rendezvousStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var reg Frame
		if err := conn.ReadJSON(&reg); err != nil || reg.Type != FrameRegister {
			return
		}
		conn.WriteJSON(Frame{Type: FrameRegisterAck, UUID: "agent-uuid"})

		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case FramePing:
				conn.WriteJSON(Frame{Type: FramePong})
			case FrameMessage:
				conn.WriteJSON(Frame{Type: FrameMessage, From: "peer", TargetUUID: f.From, Payload: f.Payload})
			case FrameClose:
				return
			}
		}
	}))
}

func TestClientRegistersAndReceivesUUID(t *testing.T) {
	srv := rendezvousStub(t)
	defer srv.Close()

	disp := newFakeDispatcher()
	c := New("http://"+srv.Listener.Addr().String(), "agent", disp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case uuid := <-disp.registered:
		if uuid != "agent-uuid" {
			t.Fatalf("uuid = %q, want agent-uuid", uuid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for registration")
	}
}

func TestClientEnqueuedMessageIsDispatchedBack(t *testing.T) {
	srv := rendezvousStub(t)
	defer srv.Close()

	disp := newFakeDispatcher()
	c := New("http://"+srv.Listener.Addr().String(), "agent", disp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	<-disp.registered

	c.EnqueueMessage("peer-1", Payload{"cmd": CmdCandidate, "candidate": "c1"})

	select {
	case msg := <-disp.dispatched:
		if msg.Payload.Cmd() != CmdCandidate {
			t.Fatalf("cmd = %q, want candidate", msg.Payload.Cmd())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestClientShutdownReturnsCleanly(t *testing.T) {
	srv := rendezvousStub(t)
	defer srv.Close()

	disp := newFakeDispatcher()
	c := New("http://"+srv.Listener.Addr().String(), "agent", disp)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-disp.registered
	c.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after Shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}
