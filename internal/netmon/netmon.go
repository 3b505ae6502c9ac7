// Package netmon tracks whether the machine can reach the reasoning
// service, so the engine can fall back to rule-only classification while
// offline.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Probe reports whether the network is reachable right now.
type Probe func(ctx context.Context) bool

// DefaultProbe dials a well-known DNS endpoint with a short timeout.
func DefaultProbe(ctx context.Context) bool {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:53")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Monitor polls a probe and notifies listeners on status flips. It
// starts optimistic: the first probe result corrects the assumption.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a monitor. A nil probe uses DefaultProbe.
func New(probe Probe, interval time.Duration) *Monitor {
	if probe == nil {
		probe = DefaultProbe
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{probe: probe, interval: interval, online: true}
}

// IsOnline reports the last known status.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnStatusChange registers a listener invoked on every status flip.
func (m *Monitor) OnStatusChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start begins polling. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Check runs one probe immediately and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	m.apply(online)
	return online
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) apply(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	listeners := m.listeners
	m.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Bool("online", online).Msg("Network status changed")
	for _, fn := range listeners {
		fn(online)
	}
}
