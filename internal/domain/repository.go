package domain

import (
	"context"
	"time"
)

// RuleStore is the durable source of truth for block rules.
// Writes are serialized; reads observe either the pre- or post-write state.
type RuleStore interface {
	// List returns a snapshot of all rules. Unreadable storage yields an empty list.
	List() []BlockRule

	// Find returns the rule for targetID, if any.
	Find(targetID string) (BlockRule, bool)

	// Upsert inserts or replaces the rule keyed by TargetID and persists it.
	Upsert(rule BlockRule) error

	// Remove deletes the rule for targetID. No-op when absent.
	Remove(targetID string) error

	// SetActive toggles IsActive, preserving the other fields. No-op when absent.
	SetActive(targetID string, active bool) error
}

// ForegroundEventSource is the host's activity-transition log.
type ForegroundEventSource interface {
	// QueryEvents returns transitions with begin <= Timestamp <= end, oldest first.
	QueryEvents(ctx context.Context, begin, end time.Time) ([]ActivityEvent, error)
}

// FrontmostReader asks the host which application is frontmost right now.
type FrontmostReader interface {
	Frontmost(ctx context.Context) (string, error)
}

// CapabilityChecker exposes host-granted permissions. Callers must not assume either is true.
type CapabilityChecker interface {
	// ForegroundQueryGranted reports whether the foreground signal can be read.
	ForegroundQueryGranted() bool

	// PowerExemptionGranted reports whether the daemon can hold off idle sleep.
	PowerExemptionGranted() bool
}

// WakeLock is a bounded wake resource held in renewable leases.
type WakeLock interface {
	// Acquire takes or renews a lease of the given length.
	Acquire(lease time.Duration) error

	// Release drops the lease. Safe to call when not held.
	Release() error
}

// StatusIndicator is the persistent status surface published to the host shell.
type StatusIndicator interface {
	Publish(status Status) error
	Remove() error
}

// InterstitialView is what the interrupt surface renders.
type InterstitialView struct {
	TargetID           string
	DisplayName        string
	Remaining          string
	ExcludeFromHistory bool
}

// InterstitialSurface renders the full-screen interrupt on the host.
type InterstitialSurface interface {
	Render(view InterstitialView) error
	Hide() error
}

// HomeNavigator sends the user to the host's neutral home surface.
type HomeNavigator interface {
	GoHome() error
}

// TargetTerminator asks the host to end a target application's process.
type TargetTerminator interface {
	Terminate(ctx context.Context, targetID, displayName string) error
}

// Relauncher requests the host to relaunch the daemon.
// Must be idempotent: no side effect if the daemon is already alive.
type Relauncher interface {
	RequestRelaunch(ctx context.Context) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindInBundle returns PIDs of processes whose executable lives inside
	// the application bundle at bundlePath.
	FindInBundle(bundlePath string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// Signal sends sig to pid.
	Signal(pid int, sig int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
// Enforcer and guardian find each other via PIDs stored in a registry file.
type DaemonRegistry interface {
	// Register saves the daemon's PID under its role.
	Register(daemon Daemon) error

	// GetPartner returns the partner daemon info (enforcer<->guardian).
	GetPartner(role DaemonRole) (*Daemon, error)

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// IsPartnerAlive checks if partner daemon is running via PID.
	IsPartnerAlive(role DaemonRole) (bool, error)

	// SetStopRequested records whether the user asked the daemons to stop.
	SetStopRequested(stop bool) error

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes the registry file.
	Clear() error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// LaunchAgentManager handles macOS LaunchAgent plist operations.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool

	// Update unloads, updates plist content, and reloads.
	Update(execPath string) error

	// GetPlistPath returns the plist file path.
	GetPlistPath() string
}
