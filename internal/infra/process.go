// Package infra implements host-facing concerns: storage, processes, and macOS adapters.
package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindInBundle returns PIDs of processes whose executable is inside the
// ".app" bundle at bundlePath. The current process is never returned.
func (pm *ProcessManagerImpl) FindInBundle(bundlePath string) ([]int, error) {
	dir, err := bundleDir(bundlePath)
	if err != nil {
		return nil, err
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var found []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		exe, err := p.Exe()
		if err != nil || exe == "" {
			continue // Exited, or not ours to inspect
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if strings.HasPrefix(exe, dir) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// bundleDir returns the resolved bundle directory with a trailing separator.
// Anything that is not an absolute ".app" path is rejected so a bad lookup
// can never widen the match.
func bundleDir(bundlePath string) (string, error) {
	clean := filepath.Clean(strings.TrimSpace(bundlePath))
	if !filepath.IsAbs(clean) || !strings.HasSuffix(clean, ".app") {
		return "", fmt.Errorf("not an application bundle: %q", bundlePath)
	}
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}
	return clean + string(filepath.Separator), nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// Signal sends sig to pid.
func (pm *ProcessManagerImpl) Signal(pid int, sig int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.SendSignal(syscall.Signal(sig))
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks existence
	return proc.Signal(syscall.Signal(0)) == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
