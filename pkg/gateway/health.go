package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthMonitor periodically probes every registered backend, refreshing
// health flags and tool lists. Probe results drive the circuit breakers back
// to CLOSED once a backend recovers.
type HealthMonitor struct {
	gateway  *Gateway
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHealthMonitor(gateway *Gateway, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		gateway:  gateway,
		interval: interval,
		logger:   slog.Default().With("component", "gateway.health"),
	}
}

// Start launches the monitor loop. Idempotent.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx)
	m.logger.Info("Health monitor started", "interval", m.interval)
}

// Stop cancels the loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.cancel()
	<-m.done
	m.started = false
	m.logger.Info("Health monitor stopped")
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Immediate first pass so a cold start does not wait a full interval.
	m.gateway.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.gateway.CheckAll(ctx)
		}
	}
}
