package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// GuardianRelauncher implements domain.Relauncher by making sure the guardian
// is alive. The guardian relaunches the enforcer if this process goes away.
type GuardianRelauncher struct {
	registry domain.DaemonRegistry
	start    func(role domain.DaemonRole) error
	logger   *zap.Logger
}

// NewGuardianRelauncher creates a relauncher spawning guardians with StartDaemon.
func NewGuardianRelauncher(registry domain.DaemonRegistry, logger *zap.Logger) *GuardianRelauncher {
	return NewGuardianRelauncherWithStarter(registry, StartDaemon, logger)
}

// NewGuardianRelauncherWithStarter creates a relauncher with an injectable spawner (for testing).
func NewGuardianRelauncherWithStarter(registry domain.DaemonRegistry, start func(domain.DaemonRole) error, logger *zap.Logger) *GuardianRelauncher {
	return &GuardianRelauncher{registry: registry, start: start, logger: logger}
}

// RequestRelaunch starts a guardian unless one is already alive.
func (r *GuardianRelauncher) RequestRelaunch(ctx context.Context) error {
	alive, err := r.registry.IsPartnerAlive(domain.RoleEnforcer)
	if err == nil && alive {
		r.logger.Debug("guardian alive, relaunch not needed")
		return nil
	}

	r.logger.Info("guardian not running, starting one")
	return r.start(domain.RoleGuardian)
}

// Ensure GuardianRelauncher implements domain.Relauncher.
var _ domain.Relauncher = (*GuardianRelauncher)(nil)
