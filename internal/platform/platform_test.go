package platform

import (
	"testing"

	"github.com/halcyonlabs/vigil/internal/bus"
	"github.com/halcyonlabs/vigil/internal/config"
)

func TestManagerNothingEnabled(t *testing.T) {
	m, err := NewManager(config.PlatformsConfig{}, bus.New(1))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if len(m.Enabled()) != 0 || len(m.Backends()) != 0 {
		t.Errorf("enabled = %v, backends = %d", m.Enabled(), len(m.Backends()))
	}
}

func TestManagerPropagatesInitErrors(t *testing.T) {
	cfg := config.PlatformsConfig{
		Telegram: config.TelegramConfig{Enabled: true}, // no token
	}
	if _, err := NewManager(cfg, bus.New(1)); err == nil {
		t.Error("expected error for misconfigured telegram connector")
	}
}

func TestManagerBuildsEnabledConnectors(t *testing.T) {
	cfg := config.PlatformsConfig{
		Matrix: config.MatrixConfig{Enabled: true, Homeserver: "https://hs.example", AccessToken: "tok"},
		Farcaster: config.FarcasterConfig{
			Enabled: true, APIKey: "key", SignerUUID: "signer",
		},
	}
	m, err := NewManager(cfg, bus.New(1))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if len(m.Backends()) != 2 {
		t.Errorf("backends = %d, want 2", len(m.Backends()))
	}
	names := map[string]bool{}
	for _, n := range m.Enabled() {
		names[n] = true
	}
	if !names["matrix"] || !names["farcaster"] {
		t.Errorf("enabled = %v", m.Enabled())
	}
}
