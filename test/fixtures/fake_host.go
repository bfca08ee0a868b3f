// Package fixtures provides fake host adapters for integration tests.
package fixtures

import (
	"context"
	"sync"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// ScriptedReader is a domain.FrontmostReader whose answer the test sets.
type ScriptedReader struct {
	mu        sync.Mutex
	frontmost string
	err       error
}

// NewScriptedReader creates a reader reporting frontmost.
func NewScriptedReader(frontmost string) *ScriptedReader {
	return &ScriptedReader{frontmost: frontmost}
}

// Frontmost returns the scripted answer.
func (p *ScriptedReader) Frontmost(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frontmost, p.err
}

// SetFrontmost changes the frontmost application.
func (p *ScriptedReader) SetFrontmost(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frontmost = id
}

// SetError makes every read fail with err (nil clears it).
func (p *ScriptedReader) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// HostRecorder implements the interstitial surface, home navigator and
// target terminator, recording what the daemon asked the host to do.
type HostRecorder struct {
	mu         sync.Mutex
	rendered   []domain.InterstitialView
	terminated []string
	homes      int
}

// Render records the view.
func (h *HostRecorder) Render(view domain.InterstitialView) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rendered = append(h.rendered, view)
	return nil
}

// Hide does nothing.
func (h *HostRecorder) Hide() error { return nil }

// GoHome counts navigations home.
func (h *HostRecorder) GoHome() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.homes++
	return nil
}

// Terminate records the target.
func (h *HostRecorder) Terminate(ctx context.Context, targetID, displayName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = append(h.terminated, targetID)
	return nil
}

// Rendered returns a copy of every rendered view.
func (h *HostRecorder) Rendered() []domain.InterstitialView {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.InterstitialView(nil), h.rendered...)
}

// Terminated returns a copy of every terminated target.
func (h *HostRecorder) Terminated() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.terminated...)
}

// Homes returns how many times the user was sent home.
func (h *HostRecorder) Homes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.homes
}
