package risk

import (
	"time"

	"go.uber.org/zap"
)

type breakerConfig struct {
	maxConsecutiveLosses int
	cooldown             time.Duration
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		maxConsecutiveLosses: 5,
		cooldown:             30 * time.Minute,
	}
}

// breakerActiveLocked reports whether the breaker currently blocks
// entries. A tripped breaker releases itself once the cooldown has
// elapsed; the check performs the release so callers never see a stale
// trip.
func (m *Manager) breakerActiveLocked() bool {
	if !m.state.BreakerTripped {
		return false
	}

	elapsed := m.now().Sub(m.state.TripTime)
	if elapsed < m.breaker.cooldown {
		return true
	}

	m.lg.Info("circuit breaker cooldown elapsed, resuming entries",
		zap.String("reason", m.state.TripReason),
		zap.Duration("tripped_for", elapsed))
	m.state.BreakerTripped = false
	m.state.TripReason = ""
	m.persistLocked()
	return false
}

func (m *Manager) tripLocked(reason string) {
	if m.state.BreakerTripped {
		return
	}

	m.state.BreakerTripped = true
	m.state.TripReason = reason
	m.state.TripTime = m.now()
	m.lg.Warn("circuit breaker tripped",
		zap.String("reason", reason),
		zap.Duration("cooldown", m.breaker.cooldown))
	m.persistLocked()
}

// TripBreaker blocks new entries immediately, e.g. from an operator
// command.
func (m *Manager) TripBreaker(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripLocked(reason)
}

// ResetBreaker clears the breaker and the loss streak regardless of
// cooldown.
func (m *Manager) ResetBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.BreakerTripped = false
	m.state.TripReason = ""
	m.state.ConsecutiveLosses = 0
	m.lg.Info("circuit breaker manually reset")
	m.persistLocked()
}

// BreakerTripped reports whether entries are currently blocked.
func (m *Manager) BreakerTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerActiveLocked()
}
