package infra

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// spawnFunc starts a background command and returns a function that stops it.
type spawnFunc func(name string, args ...string) (stop func() error, err error)

func spawnDetached(name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return func() error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}, nil
}

// CaffeinateLock implements domain.WakeLock with `caffeinate -i -t <lease> -w <pid>`.
// Each lease is time-bounded and tied to our PID, so a dead daemon never leaks it.
type CaffeinateLock struct {
	binary string
	spawn  spawnFunc
	logger *zap.Logger

	mu   sync.Mutex
	stop func() error
}

// NewCaffeinateLock creates a wake lock. binary is empty when caffeinate is unavailable.
func NewCaffeinateLock(logger *zap.Logger) *CaffeinateLock {
	binary, _ := exec.LookPath("caffeinate")
	return NewCaffeinateLockWithSpawner(binary, spawnDetached, logger)
}

// NewCaffeinateLockWithSpawner creates a wake lock with an injectable spawner (for testing).
func NewCaffeinateLockWithSpawner(binary string, spawn spawnFunc, logger *zap.Logger) *CaffeinateLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaffeinateLock{binary: binary, spawn: spawn, logger: logger}
}

// Acquire starts a fresh lease, then drops the previous one so coverage never gaps.
func (c *CaffeinateLock) Acquire(lease time.Duration) error {
	if c.binary == "" {
		return fmt.Errorf("caffeinate not available")
	}
	secs := int(lease / time.Second)
	if secs < 1 {
		secs = 1
	}

	stop, err := c.spawn(c.binary, "-i", "-t", strconv.Itoa(secs), "-w", strconv.Itoa(os.Getpid()))
	if err != nil {
		return fmt.Errorf("failed to start caffeinate: %w", err)
	}

	c.mu.Lock()
	prev := c.stop
	c.stop = stop
	c.mu.Unlock()

	if prev != nil {
		_ = prev()
	}
	c.logger.Debug("wake lease acquired", zap.Duration("lease", lease))
	return nil
}

// Release drops the current lease. Safe to call when not held.
func (c *CaffeinateLock) Release() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	return stop()
}

// Held reports whether a lease is currently held.
func (c *CaffeinateLock) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// HostCapabilities implements domain.CapabilityChecker from the live host adapters.
type HostCapabilities struct {
	foreground *TransitionLog
	wake       *CaffeinateLock
}

// NewHostCapabilities combines the foreground log and the wake lock into capability flags.
func NewHostCapabilities(foreground *TransitionLog, wake *CaffeinateLock) *HostCapabilities {
	return &HostCapabilities{foreground: foreground, wake: wake}
}

// ForegroundQueryGranted reports whether the frontmost-app query is permitted.
func (h *HostCapabilities) ForegroundQueryGranted() bool {
	return h.foreground != nil && h.foreground.Granted()
}

// PowerExemptionGranted reports whether idle sleep is currently held off.
func (h *HostCapabilities) PowerExemptionGranted() bool {
	return h.wake != nil && h.wake.Held()
}

// Ensure implementations satisfy interfaces
var _ domain.WakeLock = (*CaffeinateLock)(nil)
var _ domain.CapabilityChecker = (*HostCapabilities)(nil)
