package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// AgentState is the process-wide record that ties the signaling link, the
// admission logic, and the device table together (§3). It is created once
// at startup; every start rotates its connection password and boot nonce
// (RotatePassword) so that credentials and tokens from an earlier run do
// not carry over.
type AgentState struct {
	mu sync.RWMutex

	serverURL         string
	connectionPassword string
	localUUID         string

	jwtSigningKey []byte
	bootNonce     string

	Users   *UserStore
	Confirm *ConfirmGuard
}

// NewAgentState builds process-wide state for a fresh run: a random
// connection password and boot-nonce are generated so that credentials and
// tokens from any previous run are worthless (I4).
func NewAgentState(serverURL string, jwtSigningKey []byte, users *UserStore) (*AgentState, error) {
	password, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("generate connection password: %w", err)
	}
	nonce, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("generate boot nonce: %w", err)
	}

	return &AgentState{
		serverURL:          serverURL,
		connectionPassword: password,
		jwtSigningKey:      jwtSigningKey,
		bootNonce:          nonce,
		Users:              users,
		Confirm:            NewConfirmGuard(),
	}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (a *AgentState) ServerURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.serverURL
}

// SetServerURL updates the rendezvous address used by the next start; it
// does not itself tear down an existing connection, and a signaling client
// that is already running keeps reconnecting to the address it was built
// with.
func (a *AgentState) SetServerURL(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.serverURL = url
}

// RotatePassword replaces the connection password with a fresh random
// value, invalidating whatever any Normal/Unknown viewer had memorized, and
// replaces the boot nonce so that every JWT issued before the rotation stops
// validating (I4) (§6, the `start` command rotates on every agent start).
func (a *AgentState) RotatePassword() error {
	password, err := randomHex(16)
	if err != nil {
		return fmt.Errorf("rotate connection password: %w", err)
	}
	nonce, err := randomHex(16)
	if err != nil {
		return fmt.Errorf("rotate boot nonce: %w", err)
	}
	a.mu.Lock()
	a.connectionPassword = password
	a.bootNonce = nonce
	a.mu.Unlock()
	return nil
}

func (a *AgentState) ConnectionPassword() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connectionPassword
}

func (a *AgentState) LocalUUID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.localUUID
}

// SetLocalUUID records the identity assigned by the rendezvous server on
// successful registration.
func (a *AgentState) SetLocalUUID(uuid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.localUUID = uuid
}

func (a *AgentState) BootNonce() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bootNonce
}

// IssueSessionJWT mints a token for deviceSerial bound to the current boot
// nonce (I4).
func (a *AgentState) IssueSessionJWT(deviceSerial string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return IssueJWT(a.jwtSigningKey, deviceSerial, a.bootNonce)
}

// ValidateSessionJWT rejects any token not bound to the current boot nonce,
// including tokens this same process issued before a restart.
func (a *AgentState) ValidateSessionJWT(token string) (*Claims, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ValidateJWT(a.jwtSigningKey, token, a.bootNonce)
}
