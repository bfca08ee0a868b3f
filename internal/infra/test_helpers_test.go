package infra

import (
	"context"
	"os"
	"strings"
	"sync"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	runningPIDs map[int]bool
	bundlePIDs  map[string][]int
	killErr     error
	killedPIDs  []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		bundlePIDs:  make(map[string][]int),
	}
}

func (m *mockProcessManager) FindInBundle(bundlePath string) ([]int, error) {
	return m.bundlePIDs[bundlePath], nil
}

func (m *mockProcessManager) Kill(pid int) error {
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.runningPIDs, pid)
	return nil
}

func (m *mockProcessManager) Signal(pid int, sig int) error {
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

// mockCommandRunner records commands and answers from a script keyed by
// a substring of the joined command line.
type mockCommandRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errors  map[string]error
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
	}
}

func (m *mockCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := m.Output(ctx, name, args...)
	return err
}

func (m *mockCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := name + " " + strings.Join(args, " ")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, line)

	for key, err := range m.errors {
		if strings.Contains(line, key) {
			return nil, err
		}
	}
	for key, out := range m.outputs {
		if strings.Contains(line, key) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func (m *mockCommandRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
