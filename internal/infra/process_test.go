package infra

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startProcess runs binary with args and kills it when the test ends.
func startProcess(t *testing.T, binary string, args ...string) int {
	t.Helper()
	cmd := exec.Command(binary, args...)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

// installInBundle copies the sleep binary into a fake app bundle.
func installInBundle(t *testing.T, bundle string) string {
	t.Helper()
	sleepPath, err := exec.LookPath("sleep")
	require.NoError(t, err)

	dst := filepath.Join(bundle, "Contents", "MacOS", "Sleeper")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))

	src, err := os.Open(sleepPath)
	require.NoError(t, err)
	defer src.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY, 0755)
	require.NoError(t, err)
	_, err = io.Copy(out, src)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	return dst
}

func TestProcessManager_FindInBundle(t *testing.T) {
	pm := NewProcessManager()
	apps := t.TempDir()

	bundled := startProcess(t, installInBundle(t, filepath.Join(apps, "Sleeper.app")), "30")
	sleepPath, err := exec.LookPath("sleep")
	require.NoError(t, err)
	unrelated := startProcess(t, sleepPath, "30")

	require.Eventually(t, func() bool {
		pids, err := pm.FindInBundle(filepath.Join(apps, "Sleeper.app"))
		return err == nil && contains(pids, bundled)
	}, 2*time.Second, 20*time.Millisecond)

	pids, err := pm.FindInBundle(filepath.Join(apps, "Sleeper.app") + "/")
	require.NoError(t, err)
	assert.Contains(t, pids, bundled, "trailing slash is accepted")
	assert.NotContains(t, pids, unrelated)

	// A bundle whose name is a prefix of another bundle's name matches nothing
	pids, err = pm.FindInBundle(filepath.Join(apps, "Sleep.app"))
	require.NoError(t, err)
	assert.NotContains(t, pids, bundled)
	assert.NotContains(t, pids, unrelated)
}

func TestProcessManager_FindInBundleIgnoresNameMatches(t *testing.T) {
	pm := NewProcessManager()
	sleepPath, err := exec.LookPath("sleep")
	require.NoError(t, err)
	unrelated := startProcess(t, sleepPath, "30")

	// "lee" is a substring of "sleep"; only bundle membership counts
	pids, err := pm.FindInBundle(filepath.Join(t.TempDir(), "lee.app"))

	require.NoError(t, err)
	assert.NotContains(t, pids, unrelated)
}

func TestProcessManager_FindInBundleRejectsNonBundles(t *testing.T) {
	pm := NewProcessManager()

	for _, path := range []string{"", "/", "Notes", "Notes.app", "/usr/bin", "/Applications/"} {
		t.Run(path, func(t *testing.T) {
			pids, err := pm.FindInBundle(path)
			assert.Error(t, err)
			assert.Empty(t, pids)
		})
	}
}

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()

	assert.True(t, pm.IsRunning(os.Getpid()))
	assert.False(t, pm.IsRunning(0))
	assert.False(t, pm.IsRunning(-1))
}

func contains(pids []int, pid int) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}
