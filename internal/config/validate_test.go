package config

import (
	"strings"
	"testing"
)

func TestValidateBadURLScheme(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "http://example.com"
	errs := cfg.Validate()
	found := false
	for _, err := range errs {
		if strings.Contains(err.Error(), "scheme must be ws or wss") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scheme error, got %v", errs)
	}
}

func TestValidateWSSAccepted(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "wss://rendezvous.example.com/ws"
	for _, err := range cfg.Validate() {
		if strings.Contains(err.Error(), "server_url") {
			t.Fatalf("valid wss url flagged: %v", err)
		}
	}
}

func TestValidateMaxSessionsClamping(t *testing.T) {
	cfg := Default()
	cfg.MaxSessions = 0
	cfg.Validate()
	if cfg.MaxSessions != 1 {
		t.Fatalf("MaxSessions = %d, want 1 (clamped)", cfg.MaxSessions)
	}

	cfg.MaxSessions = 1000
	cfg.Validate()
	if cfg.MaxSessions != 64 {
		t.Fatalf("MaxSessions = %d, want 64 (clamped)", cfg.MaxSessions)
	}
}

func TestValidateEmptySTUNServersDefaulted(t *testing.T) {
	cfg := Default()
	cfg.STUNServers = nil
	cfg.Validate()
	if len(cfg.STUNServers) == 0 {
		t.Fatal("expected a default STUN server to be installed")
	}
}

func TestValidateQualityDimensionsForcedEven(t *testing.T) {
	cfg := Default()
	cfg.Qualities = []QualityConfig{{Name: "odd", Width: 641, Height: 361, BitrateKbps: 500, FPS: 30}}
	cfg.Validate()
	q := cfg.Qualities[0]
	if q.Width%2 != 0 || q.Height%2 != 0 {
		t.Fatalf("expected even dimensions, got %dx%d", q.Width, q.Height)
	}
}

func TestValidateQualityFPSClamping(t *testing.T) {
	cfg := Default()
	cfg.Qualities = []QualityConfig{{Name: "fast", Width: 640, Height: 480, BitrateKbps: 500, FPS: 500}}
	cfg.Validate()
	if cfg.Qualities[0].FPS != 120 {
		t.Fatalf("FPS = %d, want 120 (clamped)", cfg.Qualities[0].FPS)
	}
}

func TestValidateQualityKeyframeIntervalDefaulted(t *testing.T) {
	cfg := Default()
	cfg.Qualities = []QualityConfig{{Name: "mid", Width: 640, Height: 480, BitrateKbps: 500, FPS: 20}}
	cfg.Validate()
	if cfg.Qualities[0].KeyframeIntervalOv != 40 {
		t.Fatalf("KeyframeIntervalOv = %d, want 40 (2*fps default)", cfg.Qualities[0].KeyframeIntervalOv)
	}
}

func TestValidateUnknownLogLevelWarned(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	errs := cfg.Validate()
	found := false
	for _, err := range errs {
		if strings.Contains(err.Error(), "log_level") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config has validation errors: %v", errs)
	}
}
