// Package agentapi wires the signaling, session, and video-pipeline layers
// together behind the control surface a GUI shell drives (§6).
package agentapi

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lqmydesk/agent/internal/auth"
	"github.com/lqmydesk/agent/internal/confirm"
	"github.com/lqmydesk/agent/internal/config"
	"github.com/lqmydesk/agent/internal/input"
	"github.com/lqmydesk/agent/internal/logging"
	"github.com/lqmydesk/agent/internal/session"
	"github.com/lqmydesk/agent/internal/signaling"
	"github.com/lqmydesk/agent/internal/videopipe"
)

var log = logging.L("agentapi")

const clientType = "agent"

// Agent is the process-wide object a GUI shell or CLI drives.
type Agent struct {
	cfg          *config.Config
	state        *auth.AgentState
	pipeline     *videopipe.Pipeline
	orchestrator *session.Orchestrator
	client       *signaling.Client

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New constructs an Agent from cfg. capturer drives the desktop capture
// source; injector and confirmer are the external collaborators named in
// §1 (nil defaults to a logging no-op / always-deny stand-in).
func New(cfg *config.Config, capturer videopipe.ScreenCapturer, injector input.Injector, confirmer confirm.Confirmer) (*Agent, error) {
	devicePath := cfg.DeviceFile
	if devicePath == "" {
		devicePath = filepath.Join(cfg.DataDir, "devices.json")
	}
	users, err := auth.LoadUserStore(devicePath)
	if err != nil {
		return nil, fmt.Errorf("agentapi: load device table: %w", err)
	}

	state, err := auth.NewAgentState(cfg.ServerURL, []byte(cfg.JWTSecret), users)
	if err != nil {
		return nil, fmt.Errorf("agentapi: create agent state: %w", err)
	}

	pipeline := videopipe.NewPipeline(capturer)
	for _, q := range cfg.Qualities {
		if _, err := pipeline.AddQualityStream(toVideopipeQuality(q)); err != nil {
			return nil, fmt.Errorf("agentapi: install quality %q: %w", q.Name, err)
		}
	}

	if confirmer == nil {
		confirmer = confirm.AlwaysDeny{}
	}
	orch := session.NewOrchestrator(state, pipeline, cfg.MaxSessions, cfg.STUNServers, injector, confirmer)

	return &Agent{cfg: cfg, state: state, pipeline: pipeline, orchestrator: orch}, nil
}

func toVideopipeQuality(q config.QualityConfig) videopipe.QualityConfig {
	interval := q.KeyframeIntervalOv
	return videopipe.QualityConfig{
		Name:             q.Name,
		Width:            q.Width,
		Height:           q.Height,
		BitrateKbps:      q.BitrateKbps,
		FPS:              q.FPS,
		KeyframeInterval: interval,
	}
}

// Start rotates the connection password, opens the signaling connection,
// registers, and enters the event loop in the background (§6 `start`).
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("agentapi: already running")
	}

	if err := a.state.RotatePassword(); err != nil {
		return fmt.Errorf("agentapi: rotate password: %w", err)
	}

	client := signaling.New(a.state.ServerURL(), clientType, a.orchestrator)
	a.orchestrator.AttachClient(client)
	a.client = client

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true

	go client.RunWithReconnect(runCtx)
	log.Info("agent started", "server", a.state.ServerURL())
	return nil
}

// Stop implements §6 `stop`: signal shutdown, tear down every session,
// clear runtime state.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}

	a.orchestrator.Shutdown(a.client.EnqueueMessage)
	a.client.Shutdown()
	if a.cancel != nil {
		a.cancel()
	}
	a.running = false
	log.Info("agent stopped")
}

// Status is the projection returned by §6 `get_status`.
type Status struct {
	ServerURL          string
	ConnectionPassword string
	LocalUUID          string
	Running            bool
	RosterSize         int
}

func (a *Agent) GetStatus() Status {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	return Status{
		ServerURL:          a.state.ServerURL(),
		ConnectionPassword: a.state.ConnectionPassword(),
		LocalUUID:          a.state.LocalUUID(),
		Running:            running,
		RosterSize:         a.orchestrator.Roster().Len(),
	}
}

// ListUsers implements §6 `list_users`.
func (a *Agent) ListUsers() []auth.UserRecord {
	return a.state.Users.List()
}

// UpdateUserType implements §6 `update_user_type`; UI-side confirmation is
// assumed to have already happened by the time this is called.
func (a *Agent) UpdateUserType(serial string, category auth.Category) error {
	return a.state.Users.UpdateCategory(serial, category)
}

// DeleteUser implements §6 `delete_user`.
func (a *Agent) DeleteUser(serial string) error {
	return a.state.Users.Delete(serial)
}

// SetServerAddr implements §6 `set_server_addr`; takes effect on next Start.
func (a *Agent) SetServerAddr(url string) {
	a.state.SetServerURL(url)
}

// Disconnect implements §6 `disconnect(uuid)`.
func (a *Agent) Disconnect(peerUUID string) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return
	}
	a.orchestrator.DisconnectLocal(peerUUID, client.EnqueueMessage)
}

// RevokeControl implements §6 `revoke_control`.
func (a *Agent) RevokeControl() {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return
	}
	a.orchestrator.RevokeLocalControl(client.EnqueueMessage)
}

// ShutdownCapture implements §6 `shutdown_capture`.
func (a *Agent) ShutdownCapture() {
	a.pipeline.Shutdown()
}
