package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
)

// StartDaemon spawns a detached daemon process for role from the installed binary.
func StartDaemon(role domain.DaemonRole) error {
	execMode := infra.DetectExecMode()
	binary := execMode.BinaryPath
	if _, err := os.Stat(binary); err != nil {
		// Not installed yet, run from wherever we are
		binary, err = os.Executable()
		if err != nil {
			return err
		}
	}
	return StartDaemonWithPath(binary, role)
}

// StartDaemonWithPath spawns a detached daemon process for role from binaryPath.
// Hidden "daemon" command: appguard daemon --role enforcer
func StartDaemonWithPath(binaryPath string, role domain.DaemonRole) error {
	cmd := exec.Command(binaryPath, daemonArgs(role)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", role, err)
	}
	return cmd.Process.Release()
}

func daemonArgs(role domain.DaemonRole) []string {
	return []string{"daemon", "--role", string(role)}
}

// StartBothDaemons starts the enforcer and the guardian.
func StartBothDaemons() error {
	if err := StartDaemon(domain.RoleEnforcer); err != nil {
		return err
	}
	return StartDaemon(domain.RoleGuardian)
}

// StopDaemons records the stop intent, then signals both daemons to exit.
// Waits up to timeout for them to go away before clearing the registry.
func StopDaemons(registry domain.DaemonRegistry, pm domain.ProcessManager, timeout time.Duration, logger *zap.Logger) error {
	entry, err := registry.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}
	if entry == nil {
		return nil
	}

	// Guardian must see the intent before the enforcer disappears
	if err := registry.SetStopRequested(true); err != nil {
		return fmt.Errorf("failed to record stop request: %w", err)
	}

	pids := []int{entry.GuardianPID, entry.EnforcerPID}
	for _, pid := range pids {
		if pid <= 0 || !pm.IsRunning(pid) {
			continue
		}
		if err := pm.Signal(pid, int(syscall.SIGTERM)); err != nil {
			logger.Warn("failed to signal daemon", zap.Int("pid", pid), zap.Error(err))
		}
	}

	deadline := time.Now().Add(timeout)
	for _, pid := range pids {
		for pid > 0 && pm.IsRunning(pid) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if pid > 0 && pm.IsRunning(pid) {
			logger.Warn("daemon ignored SIGTERM, killing", zap.Int("pid", pid))
			_ = pm.Kill(pid)
		}
	}

	return registry.Clear()
}
