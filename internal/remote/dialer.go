package remote

import (
	"context"
	"fmt"

	"simgateway/internal/config"
)

// NewDialer builds the transport named by cfg.Transport.
func NewDialer(cfg config.RemoteConfig) (Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case config.TransportDocker:
		return NewDockerDialer(cfg)
	default:
		return NewSSHDialer(cfg)
	}
}

// Probe reports whether a session can be opened. It adapts a Dialer to the
// readiness checks.
type Probe struct {
	dialer Dialer
}

// NewProbe creates a new Probe.
func NewProbe(dialer Dialer) *Probe {
	return &Probe{dialer: dialer}
}

// Ready opens and immediately closes one session.
func (p *Probe) Ready(ctx context.Context) error {
	if p.dialer == nil {
		return fmt.Errorf("remote dialer not configured")
	}
	s, err := p.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	return s.Close()
}
