// Package platform holds the connectors to observed platforms. Each
// connector is both an observer (pushing normalized events onto the bus)
// and an action backend for the executor.
package platform

import (
	"context"
	"fmt"
	"log"

	"github.com/halcyonlabs/vigil/internal/bus"
	"github.com/halcyonlabs/vigil/internal/config"
	"github.com/halcyonlabs/vigil/internal/executor"
)

// Connector is one platform's observer + backend pair.
type Connector interface {
	executor.Backend
	Start(ctx context.Context) error
	Stop()
}

// Manager owns the enabled connectors.
type Manager struct {
	connectors map[string]Connector
}

func NewManager(cfg config.PlatformsConfig, b *bus.Bus) (*Manager, error) {
	m := &Manager{connectors: make(map[string]Connector)}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramConnector(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram connector: %w", err)
		}
		m.connectors[string(ch.Platform())] = ch
	}

	if cfg.Matrix.Enabled {
		ch, err := NewMatrixConnector(cfg.Matrix, b)
		if err != nil {
			return nil, fmt.Errorf("init matrix connector: %w", err)
		}
		m.connectors[string(ch.Platform())] = ch
	}

	if cfg.Farcaster.Enabled {
		ch, err := NewFarcasterConnector(cfg.Farcaster, b)
		if err != nil {
			return nil, fmt.Errorf("init farcaster connector: %w", err)
		}
		m.connectors[string(ch.Platform())] = ch
	}

	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.connectors {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) StopAll() {
	for name, ch := range m.connectors {
		ch.Stop()
		log.Printf("[platform] %s stopped", name)
	}
}

// Backends returns the action backends for executor registration.
func (m *Manager) Backends() []executor.Backend {
	out := make([]executor.Backend, 0, len(m.connectors))
	for _, ch := range m.connectors {
		out = append(out, ch)
	}
	return out
}

// Enabled lists the configured platform names.
func (m *Manager) Enabled() []string {
	out := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		out = append(out, name)
	}
	return out
}
