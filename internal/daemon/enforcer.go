package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// EnforcerConfig holds enforcer daemon configuration.
type EnforcerConfig struct {
	HeartbeatInterval    time.Duration // How often to update heartbeat
	PartnerCheckInterval time.Duration // How often to check guardian
	PlistCheckInterval   time.Duration // How often to check LaunchAgent plist
}

// DefaultEnforcerConfig returns default enforcer configuration.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		HeartbeatInterval:    30 * time.Second,
		PartnerCheckInterval: 30 * time.Second,
		PlistCheckInterval:   60 * time.Second,
	}
}

// Enforcer is the daemon process hosting the enforcement loop.
// It keeps the guardian alive, restores its LaunchAgent plist, and maps
// termination signals onto the lifecycle manager.
type Enforcer struct {
	config       EnforcerConfig
	manager      *Manager
	registry     domain.DaemonRegistry
	launchAgent  domain.LaunchAgentManager
	execPath     string
	startPartner func(role domain.DaemonRole) error
	signals      <-chan os.Signal
	logger       *zap.Logger
	daemon       domain.Daemon
}

// NewEnforcer creates an enforcer daemon. launchAgent may be nil.
func NewEnforcer(
	config EnforcerConfig,
	manager *Manager,
	registry domain.DaemonRegistry,
	launchAgent domain.LaunchAgentManager,
	execPath string,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Enforcer {
	return &Enforcer{
		config:       config,
		manager:      manager,
		registry:     registry,
		launchAgent:  launchAgent,
		execPath:     execPath,
		startPartner: StartDaemon,
		daemon:       daemon,
		logger:       logger,
	}
}

// NewEnforcerWithSignals creates an enforcer reading signals from sigCh and
// spawning partners with start (for testing).
func NewEnforcerWithSignals(
	config EnforcerConfig,
	manager *Manager,
	registry domain.DaemonRegistry,
	daemon domain.Daemon,
	sigCh <-chan os.Signal,
	start func(domain.DaemonRole) error,
	logger *zap.Logger,
) *Enforcer {
	e := NewEnforcer(config, manager, registry, nil, "", daemon, logger)
	e.signals = sigCh
	e.startPartner = start
	return e
}

// Run starts the enforcement loop and supervises it until stopped.
// This blocks until context is canceled or a stop is requested.
func (e *Enforcer) Run(ctx context.Context) error {
	if err := e.registry.Register(e.daemon); err != nil {
		e.logger.Error("failed to register enforcer", zap.Error(err))
		return err
	}
	// A fresh start clears any earlier stop intent
	if err := e.registry.SetStopRequested(false); err != nil {
		e.logger.Warn("failed to clear stop request", zap.Error(err))
	}

	sigCh := e.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
		defer signal.Stop(ch)
		sigCh = ch
	}

	e.logger.Info("enforcer daemon started", zap.Int("pid", e.daemon.PID))

	if err := e.manager.Start(ctx); err != nil {
		return err
	}
	defer e.manager.Stop()

	e.ensurePlistInstalled()

	heartbeatTicker := time.NewTicker(e.config.HeartbeatInterval)
	partnerCheckTicker := time.NewTicker(e.config.PartnerCheckInterval)
	plistCheckTicker := time.NewTicker(e.config.PlistCheckInterval)

	defer func() {
		heartbeatTicker.Stop()
		partnerCheckTicker.Stop()
		plistCheckTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("enforcer daemon stopping")
			return ctx.Err()

		case sig := <-sigCh:
			if e.handleSignal(ctx, sig) {
				e.logger.Info("enforcer daemon stopping on request")
				return nil
			}

		case <-heartbeatTicker.C:
			if err := e.registry.UpdateHeartbeat(domain.RoleEnforcer); err != nil {
				e.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-partnerCheckTicker.C:
			e.checkAndRestartGuardian()

		case <-plistCheckTicker.C:
			e.ensurePlistInstalled()
		}
	}
}

// handleSignal maps a signal onto the lifecycle. Returns true when the daemon should exit.
func (e *Enforcer) handleSignal(ctx context.Context, sig os.Signal) bool {
	e.logger.Info("received signal", zap.String("signal", sig.String()))

	if sig == syscall.SIGHUP {
		if err := e.manager.Restart(ctx); err != nil {
			e.logger.Error("restart failed", zap.Error(err))
		}
		return false
	}

	if e.stopRequested() {
		return true
	}
	e.manager.HandleTeardown(ctx)
	return false
}

func (e *Enforcer) stopRequested() bool {
	entry, err := e.registry.GetAll()
	if err != nil {
		e.logger.Warn("failed to read stop request", zap.Error(err))
		return false
	}
	return entry != nil && entry.StopRequested
}

// checkAndRestartGuardian checks if guardian is alive and restarts if needed.
func (e *Enforcer) checkAndRestartGuardian() {
	if e.stopRequested() {
		return
	}

	alive, err := e.registry.IsPartnerAlive(domain.RoleEnforcer)
	if err != nil {
		e.logger.Debug("no guardian registered yet")
		return
	}

	if !alive {
		e.logger.Info("guardian not running, restarting...")
		if err := e.startPartner(domain.RoleGuardian); err != nil {
			e.logger.Error("failed to restart guardian", zap.Error(err))
		} else {
			e.logger.Info("guardian restarted successfully")
		}
	}
}

// ensurePlistInstalled restores the LaunchAgent plist if it was deleted or edited.
func (e *Enforcer) ensurePlistInstalled() {
	if e.launchAgent == nil || e.execPath == "" {
		return
	}

	if !e.launchAgent.IsInstalled() {
		e.logger.Info("LaunchAgent plist missing, restoring...")
		if err := e.launchAgent.Install(e.execPath); err != nil {
			e.logger.Error("failed to restore LaunchAgent plist", zap.Error(err))
		}
	} else if e.launchAgent.NeedsUpdate(e.execPath) {
		e.logger.Info("LaunchAgent plist outdated, updating...")
		if err := e.launchAgent.Update(e.execPath); err != nil {
			e.logger.Error("failed to update LaunchAgent plist", zap.Error(err))
		}
	}
}
