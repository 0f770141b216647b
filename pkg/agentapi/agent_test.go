package agentapi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lqmydesk/agent/internal/auth"
	"github.com/lqmydesk/agent/internal/confirm"
	"github.com/lqmydesk/agent/internal/config"
)

type fakeCapturer struct{}

func (fakeCapturer) Capture() (bgra []byte, width, height, stride int, changed bool, err error) {
	return nil, 0, 0, 0, false, nil
}
func (fakeCapturer) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DeviceFile = filepath.Join(cfg.DataDir, "devices.json")
	cfg.JWTSecret = "test-secret"
	cfg.ServerURL = "ws://127.0.0.1:1/ws" // deliberately unreachable
	return cfg
}

func TestNewInstallsConfiguredQualityStreams(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, fakeCapturer{}, nil, confirm.NewScripted())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, q := range cfg.Qualities {
		if _, ok := a.pipeline.Quality(q.Name); !ok {
			t.Fatalf("expected quality %q to be installed", q.Name)
		}
	}
}

func TestAgentStartStopLifecycle(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, fakeCapturer{}, nil, confirm.NewScripted())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := a.GetStatus()
	if before.Running {
		t.Fatal("expected not running before Start")
	}

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail while already running")
	}

	time.Sleep(10 * time.Millisecond)
	status := a.GetStatus()
	if !status.Running {
		t.Fatal("expected Running after Start")
	}
	if status.ConnectionPassword == "" {
		t.Fatal("expected a rotated connection password")
	}

	a.Stop()
	if a.GetStatus().Running {
		t.Fatal("expected not running after Stop")
	}
}

func TestUserManagementCommands(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, fakeCapturer{}, nil, confirm.NewScripted())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.state.Users.Add(auth.UserRecord{DeviceSerial: "SN-1", DeviceName: "Laptop", Category: auth.Normal}); err != nil {
		t.Fatalf("seed Add: %v", err)
	}

	if got := a.ListUsers(); len(got) != 1 {
		t.Fatalf("ListUsers() = %v, want 1 record", got)
	}

	if err := a.UpdateUserType("SN-1", auth.Trusted); err != nil {
		t.Fatalf("UpdateUserType: %v", err)
	}
	rec, ok := a.state.Users.Lookup("SN-1")
	if !ok || rec.Category != auth.Trusted {
		t.Fatalf("record after update = %+v, ok=%v", rec, ok)
	}

	if err := a.DeleteUser("SN-1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok := a.state.Users.Lookup("SN-1"); ok {
		t.Fatal("expected SN-1 removed")
	}
}
