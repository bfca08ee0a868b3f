package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

func newTestRegistry(t *testing.T) (*FileRegistry, *mockProcessManager) {
	t.Helper()
	pm := newMockProcessManager()
	return NewFileRegistry(t.TempDir(), pm), pm
}

func TestFileRegistry_RegisterAndGetAll(t *testing.T) {
	registry, _ := newTestRegistry(t)

	require.NoError(t, registry.Register(domain.Daemon{
		PID:        12345,
		Role:       domain.RoleEnforcer,
		StartedAt:  time.Now(),
		AppVersion: "0.1.0",
	}))
	require.NoError(t, registry.Register(domain.Daemon{PID: 67890, Role: domain.RoleGuardian}))

	entry, err := registry.GetAll()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, 12345, entry.EnforcerPID)
	assert.Equal(t, 67890, entry.GuardianPID)
	assert.Equal(t, "0.1.0", entry.AppVersion)
	assert.NotZero(t, entry.LastHeartbeat)
}

func TestFileRegistry_RegisterUnknownRole(t *testing.T) {
	registry, _ := newTestRegistry(t)

	err := registry.Register(domain.Daemon{PID: 1, Role: "watcher"})

	assert.Error(t, err)
}

func TestFileRegistry_GetAllWhenMissing(t *testing.T) {
	registry, _ := newTestRegistry(t)

	entry, err := registry.GetAll()

	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFileRegistry_GetPartner(t *testing.T) {
	registry, _ := newTestRegistry(t)
	require.NoError(t, registry.Register(domain.Daemon{PID: 100, Role: domain.RoleEnforcer}))

	_, err := registry.GetPartner(domain.RoleEnforcer)
	assert.Error(t, err, "guardian not registered yet")

	require.NoError(t, registry.Register(domain.Daemon{PID: 200, Role: domain.RoleGuardian}))

	partner, err := registry.GetPartner(domain.RoleEnforcer)
	require.NoError(t, err)
	assert.Equal(t, 200, partner.PID)
	assert.Equal(t, domain.RoleGuardian, partner.Role)

	partner, err = registry.GetPartner(domain.RoleGuardian)
	require.NoError(t, err)
	assert.Equal(t, 100, partner.PID)
}

func TestFileRegistry_IsPartnerAlive(t *testing.T) {
	registry, pm := newTestRegistry(t)

	alive, err := registry.IsPartnerAlive(domain.RoleEnforcer)
	require.NoError(t, err)
	assert.False(t, alive, "unregistered partner is not alive")

	require.NoError(t, registry.Register(domain.Daemon{PID: 200, Role: domain.RoleGuardian}))
	alive, _ = registry.IsPartnerAlive(domain.RoleEnforcer)
	assert.False(t, alive)

	pm.SetRunning(200, true)
	alive, _ = registry.IsPartnerAlive(domain.RoleEnforcer)
	assert.True(t, alive)
}

func TestFileRegistry_StopRequested(t *testing.T) {
	registry, _ := newTestRegistry(t)
	require.NoError(t, registry.Register(domain.Daemon{PID: 100, Role: domain.RoleEnforcer}))

	require.NoError(t, registry.SetStopRequested(true))
	entry, _ := registry.GetAll()
	assert.True(t, entry.StopRequested)
	assert.Equal(t, 100, entry.EnforcerPID, "other fields preserved")

	require.NoError(t, registry.SetStopRequested(false))
	entry, _ = registry.GetAll()
	assert.False(t, entry.StopRequested)
}

func TestFileRegistry_UpdateHeartbeat(t *testing.T) {
	registry, _ := newTestRegistry(t)
	registry.now = func() time.Time { return time.Unix(1000, 0) }
	require.NoError(t, registry.Register(domain.Daemon{PID: 100, Role: domain.RoleEnforcer}))

	registry.now = func() time.Time { return time.Unix(2000, 0) }
	require.NoError(t, registry.UpdateHeartbeat(domain.RoleEnforcer))

	entry, _ := registry.GetAll()
	assert.Equal(t, int64(2000), entry.LastHeartbeat)
}

func TestFileRegistry_Clear(t *testing.T) {
	registry, _ := newTestRegistry(t)
	require.NoError(t, registry.Register(domain.Daemon{PID: 100, Role: domain.RoleEnforcer}))

	require.NoError(t, registry.Clear())
	require.NoError(t, registry.Clear(), "clearing twice is fine")

	_, err := os.Stat(registry.GetRegistryPath())
	assert.True(t, os.IsNotExist(err))
}

func TestFileRegistry_RecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemons.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	registry := NewFileRegistryWithPath(path, newMockProcessManager())

	_, err := registry.GetAll()
	assert.Error(t, err)

	require.NoError(t, registry.Register(domain.Daemon{PID: 100, Role: domain.RoleEnforcer}))
	entry, err := registry.GetAll()
	require.NoError(t, err)
	assert.Equal(t, 100, entry.EnforcerPID)
}
