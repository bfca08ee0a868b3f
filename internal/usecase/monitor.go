// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// DefaultExcludedTargets are shell, launcher and system UI ids never reported as foreground.
var DefaultExcludedTargets = []string{
	"com.apple.finder",
	"com.apple.dock",
	"com.apple.loginwindow",
	"com.apple.systemuiserver",
	"com.apple.controlcenter",
	"com.apple.notificationcenterui",
	"com.apple.Spotlight",
	"com.apple.WindowManager",
	"com.apple.UserNotificationCenter",
	"com.apple.ScreenSaver.Engine",
}

// ForegroundMonitor answers "which target is in the foreground?" from the host transition log.
type ForegroundMonitor struct {
	source   domain.ForegroundEventSource
	window   time.Duration
	excluded map[string]struct{}
	now      func() time.Time
}

// NewForegroundMonitor creates a monitor looking back window on source.
// selfID and extra are excluded in addition to DefaultExcludedTargets.
func NewForegroundMonitor(source domain.ForegroundEventSource, window time.Duration, selfID string, extra ...string) *ForegroundMonitor {
	excluded := make(map[string]struct{}, len(DefaultExcludedTargets)+len(extra)+1)
	for _, id := range DefaultExcludedTargets {
		excluded[id] = struct{}{}
	}
	for _, id := range extra {
		excluded[id] = struct{}{}
	}
	if selfID != "" {
		excluded[selfID] = struct{}{}
	}

	return &ForegroundMonitor{
		source:   source,
		window:   window,
		excluded: excluded,
		now:      time.Now,
	}
}

// NewForegroundMonitorWithClock creates a monitor with an injectable clock (for testing).
func NewForegroundMonitorWithClock(source domain.ForegroundEventSource, window time.Duration, selfID string, now func() time.Time) *ForegroundMonitor {
	m := NewForegroundMonitor(source, window, selfID)
	m.now = now
	return m
}

// IsExcluded reports whether targetID is never reported as foreground.
func (m *ForegroundMonitor) IsExcluded(targetID string) bool {
	_, ok := m.excluded[targetID]
	return ok
}

// Current returns the target of the most recent moved-to-foreground event in the
// trailing window. known is false when there is none, or when the most recent
// foreground target is excluded.
func (m *ForegroundMonitor) Current(ctx context.Context) (targetID string, known bool, err error) {
	end := m.now()
	events, err := m.source.QueryEvents(ctx, end.Add(-m.window), end)
	if err != nil {
		return "", false, err
	}

	var latest *domain.ActivityEvent
	for i := range events {
		ev := &events[i]
		if ev.Type != domain.EventMovedToForeground || ev.TargetID == "" {
			continue
		}
		// Ties go to the later entry in log order
		if latest == nil || !ev.Timestamp.Before(latest.Timestamp) {
			latest = ev
		}
	}

	if latest == nil || m.IsExcluded(latest.TargetID) {
		return "", false, nil
	}
	return latest.TargetID, true, nil
}
