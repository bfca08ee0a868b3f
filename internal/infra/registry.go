package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

const registryFileName = "daemons.json"

// FileRegistry implements domain.DaemonRegistry using a JSON file in the data dir.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
	now            func() time.Time
}

// NewFileRegistry creates a registry in dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
		now:            time.Now,
	}
}

// Register saves the daemon's PID under its role.
func (r *FileRegistry) Register(daemon domain.Daemon) error {
	return r.update(func(entry *domain.RegistryEntry) error {
		switch daemon.Role {
		case domain.RoleEnforcer:
			entry.EnforcerPID = daemon.PID
		case domain.RoleGuardian:
			entry.GuardianPID = daemon.PID
		default:
			return fmt.Errorf("unknown role: %s", daemon.Role)
		}
		if daemon.AppVersion != "" {
			entry.AppVersion = daemon.AppVersion
		}
		entry.LastHeartbeat = r.now().Unix()
		return nil
	})
}

// GetPartner returns the partner daemon info.
func (r *FileRegistry) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	entry, err := r.GetAll()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("registry empty")
	}

	partner := &domain.Daemon{}
	switch role {
	case domain.RoleEnforcer:
		partner.Role = domain.RoleGuardian
		partner.PID = entry.GuardianPID
	case domain.RoleGuardian:
		partner.Role = domain.RoleEnforcer
		partner.PID = entry.EnforcerPID
	default:
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	if partner.PID == 0 {
		return nil, fmt.Errorf("partner %s not registered", partner.Role)
	}
	return partner, nil
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	return r.update(func(entry *domain.RegistryEntry) error {
		entry.LastHeartbeat = r.now().Unix()
		return nil
	})
}

// IsPartnerAlive checks if partner daemon is running via PID.
func (r *FileRegistry) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	partner, err := r.GetPartner(role)
	if err != nil {
		return false, nil // Partner not registered = not alive
	}
	return r.processManager.IsRunning(partner.PID), nil
}

// SetStopRequested records the user's stop intent so supervisors do not relaunch.
func (r *FileRegistry) SetStopRequested(stop bool) error {
	return r.update(func(entry *domain.RegistryEntry) error {
		entry.StopRequested = stop
		return nil
	})
}

// GetAll returns full registry state, or nil when nothing is registered.
func (r *FileRegistry) GetAll() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Clear removes registry file.
func (r *FileRegistry) Clear() error {
	err := os.Remove(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetRegistryPath returns the registry file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// update applies fn to the entry under the registry lock and writes it back.
func (r *FileRegistry) update(fn func(entry *domain.RegistryEntry) error) error {
	return withFileLock(r.path+".lock", func() error {
		entry, _ := r.GetAll() // May not exist yet, or be unreadable
		if entry == nil {
			entry = &domain.RegistryEntry{Version: 1}
		}
		if err := fn(entry); err != nil {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return atomicWriteFile(r.path, data, 0600)
	})
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
