// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// PermanentDuration is the DurationMinutes sentinel for a block that never expires.
const PermanentDuration = -1

// ErrInvalidRule is returned by the control surface for rules that cannot be stored.
var ErrInvalidRule = errors.New("invalid block rule")

// BlockRule associates a target application with a block policy.
// The JSON layout is the persisted record format shared with the CLI.
type BlockRule struct {
	TargetID        string `json:"targetId"`
	DisplayName     string `json:"displayName"`
	BlockedAt       int64  `json:"blockedAt"` // ms since epoch, start of the current block period
	DurationMinutes int    `json:"durationMinutes"`
	IsActive        bool   `json:"isActive"`
}

// Validate checks the fields the store relies on.
func (r BlockRule) Validate() error {
	if r.TargetID == "" {
		return fmt.Errorf("%w: empty target id", ErrInvalidRule)
	}
	if r.DurationMinutes < PermanentDuration {
		return fmt.Errorf("%w: duration %d for %s", ErrInvalidRule, r.DurationMinutes, r.TargetID)
	}
	return nil
}

// IsPermanent reports whether the rule uses the never-expires sentinel.
func (r BlockRule) IsPermanent() bool {
	return r.DurationMinutes == PermanentDuration
}

// ExpiresAt returns the ms timestamp after which a timed rule is expired.
// Meaningless for permanent rules.
func (r BlockRule) ExpiresAt() int64 {
	return r.BlockedAt + int64(r.DurationMinutes)*time.Minute.Milliseconds()
}

// IsExpired reports whether the rule's block period has elapsed at nowMs.
func (r BlockRule) IsExpired(nowMs int64) bool {
	return r.DurationMinutes >= 0 && nowMs > r.ExpiresAt()
}

// Enforceable is true when the rule should block its target at nowMs.
func (r BlockRule) Enforceable(nowMs int64) bool {
	return r.IsActive && !r.IsExpired(nowMs)
}

// Remaining formats the time left on a rule for display.
// Returns "Permanent", "Expired", "hh:mm" when at least an hour is left, else "mm".
func (r BlockRule) Remaining(nowMs int64) string {
	if r.IsPermanent() {
		return "Permanent"
	}
	if r.IsExpired(nowMs) {
		return "Expired"
	}

	left := time.Duration(r.ExpiresAt()-nowMs) * time.Millisecond
	hours := int(left / time.Hour)
	minutes := int((left % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d", hours, minutes)
	}
	return fmt.Sprintf("%02d", minutes)
}

// ToMillis converts a time to the ms-since-epoch representation used by rules.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// EventType classifies a host activity transition.
type EventType int

const (
	EventMovedToBackground EventType = iota
	EventMovedToForeground
)

// ActivityEvent is one entry of the host's activity-transition log.
type ActivityEvent struct {
	TargetID  string
	Type      EventType
	Timestamp time.Time
}

// DaemonState is the daemon's runtime cache. Never persisted.
type DaemonState struct {
	Running           bool
	LastForeground    string
	LastTriggerAt     time.Time
	LastTriggerTarget string
}

// LifecycleState is a state of the daemon run/restart state machine.
type LifecycleState string

const (
	StateStopped    LifecycleState = "STOPPED"
	StateStarting   LifecycleState = "STARTING"
	StateRunning    LifecycleState = "RUNNING"
	StateRestarting LifecycleState = "RESTARTING"
	StateStopping   LifecycleState = "STOPPING"
)

// Status is the read-only snapshot exposed to the configuration UI.
type Status struct {
	Running               bool           `json:"running"`
	CapabilityGranted     bool           `json:"capability_granted"`
	LastPollAt            time.Time      `json:"last_poll_at"`
	State                 LifecycleState `json:"state"`
	Degraded              bool           `json:"degraded"`
	PowerExemptionGranted bool           `json:"power_exemption_granted"`
	LastTriggerTarget     string         `json:"last_trigger_target,omitempty"`
	LastTriggerAt         time.Time      `json:"last_trigger_at,omitempty"`
	PID                   int            `json:"pid"`
}

// Remediation returns plain-language hints for the UI derived from the status.
func (s Status) Remediation() []string {
	var hints []string
	if !s.Running {
		hints = append(hints, "Run 'appguard start' to enable blocking.")
	}
	if s.Running && !s.CapabilityGranted {
		hints = append(hints, "Grant appguard Accessibility and Automation access in System Settings > Privacy & Security.")
	}
	if s.Running && !s.PowerExemptionGranted {
		hints = append(hints, "Exempt appguard from power management (caffeinate was not available).")
	}
	return hints
}

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleEnforcer DaemonRole = "enforcer"
	RoleGuardian DaemonRole = "guardian"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry stores the state of both daemons for mutual discovery.
// Persisted to a file for cross-process communication.
type RegistryEntry struct {
	Version       int    `json:"version"`
	EnforcerPID   int    `json:"enforcer_pid"`
	GuardianPID   int    `json:"guardian_pid"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	StopRequested bool   `json:"stop_requested"`
	AppVersion    string `json:"app_version,omitempty"`
}
