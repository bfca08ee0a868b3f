// Package daemon implements the enforcer and guardian daemons and the
// lifecycle of the enforcement poll loop.
package daemon

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

// Engine is the part of the enforcement engine the lifecycle drives.
type Engine interface {
	Tick(ctx context.Context) usecase.Decision
	State() domain.DaemonState
	SetRunning(running bool)
	Reset()
}

// LifecycleConfig holds poll loop timing.
type LifecycleConfig struct {
	PollInterval      time.Duration // Delay between the end of one tick and the next
	WakeLease         time.Duration // Wake lease length, renewed at half
	HeartbeatInterval time.Duration // Status re-publish interval
}

// DefaultLifecycleConfig returns default loop timing.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		PollInterval:      500 * time.Millisecond,
		WakeLease:         10 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Manager owns the run/restart state machine around the poll loop.
// caps, wake, indicator, relauncher and m may be nil.
type Manager struct {
	config     LifecycleConfig
	engine     Engine
	caps       domain.CapabilityChecker
	wake       domain.WakeLock
	indicator  domain.StatusIndicator
	relauncher domain.Relauncher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	// transition serializes Start, Stop and HandleTeardown end to end
	transition sync.Mutex

	mu         sync.Mutex
	state      domain.LifecycleState
	degraded   bool
	lastPollAt time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewManager creates a stopped lifecycle manager.
func NewManager(
	config LifecycleConfig,
	engine Engine,
	caps domain.CapabilityChecker,
	wake domain.WakeLock,
	indicator domain.StatusIndicator,
	relauncher domain.Relauncher,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Manager {
	mgr := &Manager{
		config:     config,
		engine:     engine,
		caps:       caps,
		wake:       wake,
		indicator:  indicator,
		relauncher: relauncher,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		state:      domain.StateStopped,
	}
	m.SetState(domain.StateStopped)
	return mgr
}

// Start acquires the wake lease, publishes the indicator and starts polling.
// No-op unless stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	if m.state != domain.StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(domain.StateStarting)
	m.mu.Unlock()

	m.acquireWake()

	m.mu.Lock()
	m.degraded = !m.capabilityGranted()
	m.launchLoopLocked()
	m.setStateLocked(domain.StateRunning)
	m.mu.Unlock()

	m.engine.SetRunning(true)
	m.publish()

	m.logger.Info("enforcement loop started",
		zap.Duration("poll_interval", m.config.PollInterval))
	return nil
}

// Stop cancels the loop, waits for it, releases the wake lease, removes the
// indicator and discards the runtime state. A Start or HandleTeardown in
// progress completes first. No-op when stopped.
func (m *Manager) Stop() {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	if m.state == domain.StateStopped || m.state == domain.StateStopping {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(domain.StateStopping)
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if m.wake != nil {
		if err := m.wake.Release(); err != nil {
			m.logger.Warn("failed to release wake lease", zap.Error(err))
		}
	}
	if m.indicator != nil {
		if err := m.indicator.Remove(); err != nil {
			m.logger.Warn("failed to remove status indicator", zap.Error(err))
		}
	}
	m.engine.Reset()

	m.mu.Lock()
	m.setStateLocked(domain.StateStopped)
	m.mu.Unlock()

	m.logger.Info("enforcement loop stopped")
}

// Restart is Stop followed by Start.
func (m *Manager) Restart(ctx context.Context) error {
	m.Stop()
	return m.Start(ctx)
}

// HandleTeardown recovers from an unexpected termination request:
// RUNNING -> RESTARTING, ask the host to relaunch, restart the loop, -> RUNNING.
// No-op unless running.
func (m *Manager) HandleTeardown(ctx context.Context) {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	if m.state != domain.StateRunning {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(domain.StateRestarting)
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	m.metrics.IncRestart()
	m.logger.Warn("unexpected teardown, restarting enforcement loop")
	m.publish()

	if cancel != nil {
		cancel()
		<-done
	}

	if m.relauncher != nil {
		if err := m.relauncher.RequestRelaunch(ctx); err != nil {
			m.logger.Warn("relaunch request failed", zap.Error(err))
		}
	}
	m.acquireWake()

	m.mu.Lock()
	m.launchLoopLocked()
	m.setStateLocked(domain.StateRunning)
	m.mu.Unlock()

	m.publish()
	m.logger.Info("enforcement loop restarted")
}

// State returns the current lifecycle state.
func (m *Manager) State() domain.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a read-only snapshot. Safe from any goroutine.
// Capability flags come from the host checks whatever the lifecycle state.
func (m *Manager) Status() domain.Status {
	rt := m.engine.State()
	granted := m.capabilityGranted()
	power := m.caps != nil && m.caps.PowerExemptionGranted()

	m.mu.Lock()
	defer m.mu.Unlock()

	running := m.state == domain.StateRunning || m.state == domain.StateRestarting
	return domain.Status{
		Running:               running,
		CapabilityGranted:     granted,
		LastPollAt:            m.lastPollAt,
		State:                 m.state,
		Degraded:              running && m.degraded,
		PowerExemptionGranted: power,
		LastTriggerTarget:     rt.LastTriggerTarget,
		LastTriggerAt:         rt.LastTriggerAt,
		PID:                   os.Getpid(),
	}
}

func (m *Manager) setStateLocked(state domain.LifecycleState) {
	if m.state != state {
		m.logger.Debug("lifecycle transition",
			zap.String("from", string(m.state)),
			zap.String("to", string(state)))
	}
	m.state = state
	m.metrics.SetState(state)
}

func (m *Manager) launchLoopLocked() {
	// Only Stop ends the loop, not the caller's context
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go m.loop(loopCtx, done)
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	heartbeat := time.NewTicker(m.config.HeartbeatInterval)
	renewEvery := m.config.WakeLease / 2
	if renewEvery <= 0 {
		renewEvery = m.config.WakeLease
	}
	renew := time.NewTicker(renewEvery)
	defer func() {
		timer.Stop()
		heartbeat.Stop()
		renew.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			m.tick(ctx)
			timer.Reset(m.config.PollInterval)

		case <-heartbeat.C:
			m.publish()

		case <-renew.C:
			m.acquireWake()
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	m.engine.Tick(ctx)
	granted := m.capabilityGranted()

	m.mu.Lock()
	m.lastPollAt = m.now()
	changed := m.degraded == granted
	m.degraded = !granted
	m.mu.Unlock()

	m.metrics.SetCapability(granted)
	if changed {
		if granted {
			m.logger.Info("foreground capability granted, leaving degraded mode")
		} else {
			m.logger.Warn("foreground capability missing, running degraded")
		}
		m.publish()
	}
}

func (m *Manager) capabilityGranted() bool {
	return m.caps == nil || m.caps.ForegroundQueryGranted()
}

func (m *Manager) acquireWake() {
	if m.wake == nil {
		return
	}
	if err := m.wake.Acquire(m.config.WakeLease); err != nil {
		m.logger.Warn("failed to acquire wake lease", zap.Error(err))
	}
}

func (m *Manager) publish() {
	if m.indicator == nil {
		return
	}
	if err := m.indicator.Publish(m.Status()); err != nil {
		m.logger.Warn("failed to publish status", zap.Error(err))
	}
}
