package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// GuardianConfig holds guardian daemon configuration.
type GuardianConfig struct {
	EnforcerCheckInterval time.Duration // How often to check enforcer
	HeartbeatInterval     time.Duration // How often to update heartbeat
}

// DefaultGuardianConfig returns default guardian configuration.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		EnforcerCheckInterval: 30 * time.Second,
		HeartbeatInterval:     30 * time.Second,
	}
}

// Guardian relaunches the enforcer if it dies without a stop request.
type Guardian struct {
	config        GuardianConfig
	registry      domain.DaemonRegistry
	startEnforcer func(role domain.DaemonRole) error
	logger        *zap.Logger
	daemon        domain.Daemon
}

// NewGuardian creates a new guardian daemon.
func NewGuardian(
	config GuardianConfig,
	registry domain.DaemonRegistry,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Guardian {
	return NewGuardianWithStarter(config, registry, daemon, StartDaemon, logger)
}

// NewGuardianWithStarter creates a guardian with an injectable spawner (for testing).
func NewGuardianWithStarter(
	config GuardianConfig,
	registry domain.DaemonRegistry,
	daemon domain.Daemon,
	start func(domain.DaemonRole) error,
	logger *zap.Logger,
) *Guardian {
	return &Guardian{
		config:        config,
		registry:      registry,
		startEnforcer: start,
		daemon:        daemon,
		logger:        logger,
	}
}

// Run starts the guardian daemon loop.
// This blocks until context is canceled or a stop is requested.
func (g *Guardian) Run(ctx context.Context) error {
	if err := g.registry.Register(g.daemon); err != nil {
		g.logger.Error("failed to register guardian", zap.Error(err))
		return err
	}

	g.logger.Info("guardian daemon started", zap.Int("pid", g.daemon.PID))

	enforcerCheckTicker := time.NewTicker(g.config.EnforcerCheckInterval)
	heartbeatTicker := time.NewTicker(g.config.HeartbeatInterval)

	defer func() {
		enforcerCheckTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guardian daemon stopping")
			return ctx.Err()

		case <-enforcerCheckTicker.C:
			if g.checkAndRestartEnforcer() {
				g.logger.Info("stop requested, guardian exiting")
				return nil
			}

		case <-heartbeatTicker.C:
			if err := g.registry.UpdateHeartbeat(domain.RoleGuardian); err != nil {
				g.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// checkAndRestartEnforcer relaunches a dead enforcer. Returns true when the
// user asked the daemons to stop.
func (g *Guardian) checkAndRestartEnforcer() bool {
	entry, err := g.registry.GetAll()
	if err != nil {
		g.logger.Warn("failed to read registry", zap.Error(err))
		return false
	}
	if entry != nil && entry.StopRequested {
		return true
	}

	alive, err := g.registry.IsPartnerAlive(domain.RoleGuardian)
	if err != nil {
		g.logger.Debug("no enforcer registered yet")
		return false
	}

	if !alive {
		g.logger.Info("enforcer not running, restarting...")
		if err := g.startEnforcer(domain.RoleEnforcer); err != nil {
			g.logger.Error("failed to restart enforcer", zap.Error(err))
		} else {
			g.logger.Info("enforcer restarted successfully")
		}
	}
	return false
}
