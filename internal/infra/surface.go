package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// NotificationSurface implements domain.InterstitialSurface with a system notification.
// Notifications never enter the app switcher, which satisfies ExcludeFromHistory.
type NotificationSurface struct {
	runner CommandRunner
	logger *zap.Logger
}

// NewNotificationSurface creates the interstitial surface.
func NewNotificationSurface(runner CommandRunner, logger *zap.Logger) *NotificationSurface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationSurface{runner: runner, logger: logger}
}

// Render posts the blocked-app notification.
func (s *NotificationSurface) Render(view domain.InterstitialView) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body := "Blocked: " + view.Remaining
	if view.Remaining == "Permanent" || view.Remaining == "Expired" {
		body = view.Remaining + " block"
	}
	script := fmt.Sprintf("display notification %s with title %s subtitle %s",
		appleScriptString(body),
		appleScriptString(view.DisplayName+" is blocked"),
		appleScriptString("appguard"))
	return s.runner.Run(ctx, "osascript", "-e", script)
}

// Hide is a no-op; notifications dismiss themselves.
func (s *NotificationSurface) Hide() error {
	return nil
}

// FinderNavigator implements domain.HomeNavigator by activating Finder.
type FinderNavigator struct {
	runner CommandRunner
}

// NewFinderNavigator creates the home navigator.
func NewFinderNavigator(runner CommandRunner) *FinderNavigator {
	return &FinderNavigator{runner: runner}
}

// GoHome brings Finder, the neutral surface, to the front.
func (n *FinderNavigator) GoHome() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return n.runner.Run(ctx, "osascript", "-e", `tell application "Finder" to activate`)
}

// AppTerminator implements domain.TargetTerminator.
// It asks the app to quit by bundle id. If that fails, it kills the processes
// running from that app's bundle, and nothing else.
type AppTerminator struct {
	runner CommandRunner
	pm     domain.ProcessManager
	logger *zap.Logger
}

// NewAppTerminator creates a terminator.
func NewAppTerminator(runner CommandRunner, pm domain.ProcessManager, logger *zap.Logger) *AppTerminator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppTerminator{runner: runner, pm: pm, logger: logger}
}

// Terminate is best-effort; it returns an error only when every route failed.
func (t *AppTerminator) Terminate(ctx context.Context, targetID, displayName string) error {
	quitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	script := fmt.Sprintf("tell application id %s to quit", appleScriptString(targetID))
	quitErr := t.runner.Run(quitCtx, "osascript", "-e", script)
	if quitErr == nil {
		t.logger.Info("asked target to quit", zap.String("target", targetID))
		return nil
	}

	bundle, err := t.bundlePath(ctx, targetID)
	if err != nil {
		return errors.Join(quitErr, fmt.Errorf("failed to locate %s: %w", targetID, err))
	}
	pids, err := t.pm.FindInBundle(bundle)
	if err != nil {
		return errors.Join(quitErr, err)
	}
	if len(pids) == 0 {
		return quitErr
	}

	var killErrs []error
	for _, pid := range pids {
		if err := t.pm.Kill(pid); err != nil {
			t.logger.Warn("failed to kill process",
				zap.Int("pid", pid),
				zap.Error(err))
			killErrs = append(killErrs, err)
			continue
		}
		t.logger.Info("killed process",
			zap.String("target", targetID),
			zap.String("name", displayName),
			zap.Int("pid", pid))
	}
	if len(killErrs) == len(pids) {
		return errors.Join(append([]error{quitErr}, killErrs...)...)
	}
	return nil
}

// bundlePath resolves a bundle id to its installed ".app" path.
// `path to` is a Standard Additions command, so it needs no Automation grant.
func (t *AppTerminator) bundlePath(ctx context.Context, targetID string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	script := fmt.Sprintf("POSIX path of (path to application id %s)", appleScriptString(targetID))
	out, err := t.runner.Output(lookupCtx, "osascript", "-e", script)
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", fmt.Errorf("no application with id %s", targetID)
	}
	return path, nil
}

// Ensure implementations satisfy interfaces
var _ domain.InterstitialSurface = (*NotificationSurface)(nil)
var _ domain.HomeNavigator = (*FinderNavigator)(nil)
var _ domain.TargetTerminator = (*AppTerminator)(nil)
