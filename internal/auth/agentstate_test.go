package auth

import (
	"path/filepath"
	"testing"
)

func TestNewAgentStateGeneratesDistinctPerRunSecrets(t *testing.T) {
	users, err := LoadUserStore(filepath.Join(t.TempDir(), "devices.json"))
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}

	a, err := NewAgentState("wss://rendezvous.example.com/ws", []byte("secret"), users)
	if err != nil {
		t.Fatalf("NewAgentState: %v", err)
	}
	b, err := NewAgentState("wss://rendezvous.example.com/ws", []byte("secret"), users)
	if err != nil {
		t.Fatalf("NewAgentState: %v", err)
	}

	if a.ConnectionPassword() == b.ConnectionPassword() {
		t.Fatal("expected distinct connection passwords across runs")
	}
	if a.BootNonce() == b.BootNonce() {
		t.Fatal("expected distinct boot nonces across runs")
	}
}

func TestAgentStateIssueAndValidateSessionJWT(t *testing.T) {
	users, err := LoadUserStore(filepath.Join(t.TempDir(), "devices.json"))
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}
	a, err := NewAgentState("wss://rendezvous.example.com/ws", []byte("secret"), users)
	if err != nil {
		t.Fatalf("NewAgentState: %v", err)
	}

	token, err := a.IssueSessionJWT("SN-001")
	if err != nil {
		t.Fatalf("IssueSessionJWT: %v", err)
	}
	if _, err := a.ValidateSessionJWT(token); err != nil {
		t.Fatalf("ValidateSessionJWT: %v", err)
	}
}

func TestAgentStateSetServerURLAndLocalUUID(t *testing.T) {
	users, err := LoadUserStore(filepath.Join(t.TempDir(), "devices.json"))
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}
	a, err := NewAgentState("wss://rendezvous.example.com/ws", []byte("secret"), users)
	if err != nil {
		t.Fatalf("NewAgentState: %v", err)
	}

	a.SetServerURL("wss://new.example.com/ws")
	if got := a.ServerURL(); got != "wss://new.example.com/ws" {
		t.Fatalf("ServerURL() = %q", got)
	}

	a.SetLocalUUID("11111111-1111-1111-1111-111111111111")
	if got := a.LocalUUID(); got != "11111111-1111-1111-1111-111111111111" {
		t.Fatalf("LocalUUID() = %q", got)
	}
}
