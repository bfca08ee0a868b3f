package infra

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSpawner records spawned commands and which leases were stopped.
type fakeSpawner struct {
	spawned [][]string
	stopped []int
	err     error
}

func (f *fakeSpawner) spawn(name string, args ...string) (func() error, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := len(f.spawned)
	f.spawned = append(f.spawned, append([]string{name}, args...))
	return func() error {
		f.stopped = append(f.stopped, id)
		return nil
	}, nil
}

func TestCaffeinateLock_AcquireRenewRelease(t *testing.T) {
	spawner := &fakeSpawner{}
	lock := NewCaffeinateLockWithSpawner("/usr/bin/caffeinate", spawner.spawn, nil)

	require.NoError(t, lock.Acquire(10*time.Minute))
	assert.True(t, lock.Held())
	assert.Equal(t, []string{"/usr/bin/caffeinate", "-i", "-t", "600", "-w", strconv.Itoa(os.Getpid())}, spawner.spawned[0])

	require.NoError(t, lock.Acquire(10*time.Minute))
	assert.Equal(t, []int{0}, spawner.stopped, "renewal drops the previous lease after starting the new one")

	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())
	assert.Equal(t, []int{0, 1}, spawner.stopped)

	require.NoError(t, lock.Release(), "release when not held is a no-op")
}

func TestCaffeinateLock_SubSecondLeaseRoundsUp(t *testing.T) {
	spawner := &fakeSpawner{}
	lock := NewCaffeinateLockWithSpawner("caffeinate", spawner.spawn, nil)

	require.NoError(t, lock.Acquire(100*time.Millisecond))

	assert.Equal(t, "1", spawner.spawned[0][3])
}

func TestCaffeinateLock_Unavailable(t *testing.T) {
	lock := NewCaffeinateLockWithSpawner("", (&fakeSpawner{}).spawn, nil)

	assert.Error(t, lock.Acquire(time.Minute))
	assert.False(t, lock.Held())
}

func TestCaffeinateLock_SpawnFailureKeepsPreviousLease(t *testing.T) {
	spawner := &fakeSpawner{}
	lock := NewCaffeinateLockWithSpawner("caffeinate", spawner.spawn, nil)
	require.NoError(t, lock.Acquire(time.Minute))

	spawner.err = errors.New("exec format error")
	assert.Error(t, lock.Acquire(time.Minute))

	assert.True(t, lock.Held())
	assert.Empty(t, spawner.stopped)
}

func TestHostCapabilities(t *testing.T) {
	screen := &stubReader{err: ErrCapabilityDenied}
	log, now := newTestTransitionLog(screen, logStart)
	spawner := &fakeSpawner{}
	wake := NewCaffeinateLockWithSpawner("caffeinate", spawner.spawn, nil)
	caps := NewHostCapabilities(log, wake)

	assert.True(t, caps.ForegroundQueryGranted())
	assert.False(t, caps.PowerExemptionGranted())

	_, _ = log.QueryEvents(context.Background(), logStart, *now)
	require.NoError(t, wake.Acquire(time.Minute))

	assert.False(t, caps.ForegroundQueryGranted())
	assert.True(t, caps.PowerExemptionGranted())

	empty := NewHostCapabilities(nil, nil)
	assert.False(t, empty.ForegroundQueryGranted())
	assert.False(t, empty.PowerExemptionGranted())
}
