package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// ErrCapabilityDenied means the host refused the foreground query (no Automation/Accessibility grant).
var ErrCapabilityDenied = errors.New("foreground query not permitted")

const frontmostScript = `tell application "System Events" to get bundle identifier of first application process whose frontmost is true`

// Markers in osascript failures that mean a missing privacy grant.
var permissionMarkers = []string{"-1743", "-25211", "-1719", "not allowed", "not authorized", "assistive access"}

// AppleScriptReader implements domain.FrontmostReader with System Events.
type AppleScriptReader struct {
	runner  CommandRunner
	timeout time.Duration
}

// NewAppleScriptReader creates a reader that shells out to osascript.
func NewAppleScriptReader() *AppleScriptReader {
	return NewAppleScriptReaderWithRunner(&RealCommandRunner{})
}

// NewAppleScriptReaderWithRunner creates a reader with an injectable runner (for testing).
func NewAppleScriptReaderWithRunner(runner CommandRunner) *AppleScriptReader {
	return &AppleScriptReader{runner: runner, timeout: time.Second}
}

// Frontmost returns the bundle id of the frontmost application.
func (p *AppleScriptReader) Frontmost(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "osascript", "-e", frontmostScript)
	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, marker := range permissionMarkers {
			if strings.Contains(msg, marker) {
				return "", fmt.Errorf("%w: %v", ErrCapabilityDenied, err)
			}
		}
		return "", err
	}

	id := strings.TrimSpace(string(out))
	if id == "missing value" {
		return "", nil
	}
	return id, nil
}

// TransitionLog implements domain.ForegroundEventSource on top of a FrontmostReader.
// Each sample that sees a new frontmost id appends a background event for the
// previous id and a foreground event for the new one, like a host usage log.
type TransitionLog struct {
	screen      domain.FrontmostReader
	logger      *zap.Logger
	now         func() time.Time
	retention   time.Duration
	minInterval time.Duration
	recheck     time.Duration

	mu          sync.Mutex
	events      []domain.ActivityEvent
	current     string
	lastSample  time.Time
	granted     bool
	lastCheckAt time.Time
}

// NewTransitionLog creates an event log that samples the reader at most every minInterval.
func NewTransitionLog(screen domain.FrontmostReader, minInterval time.Duration, logger *zap.Logger) *TransitionLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionLog{
		screen:      screen,
		logger:      logger,
		now:         time.Now,
		retention:   time.Minute,
		minInterval: minInterval,
		recheck:     5 * time.Second,
		granted:     true, // optimistic until the first denial
	}
}

// QueryEvents samples the host if due, then returns transitions in [begin, end].
func (l *TransitionLog) QueryEvents(ctx context.Context, begin, end time.Time) ([]domain.ActivityEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.sampleLocked(ctx); err != nil {
		return nil, err
	}

	var out []domain.ActivityEvent
	for _, ev := range l.events {
		if ev.Timestamp.Before(begin) || ev.Timestamp.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Granted reports the last known foreground-query capability, re-probing
// a denied capability every recheck interval so a later grant is noticed.
func (l *TransitionLog) Granted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.granted && l.now().Sub(l.lastCheckAt) >= l.recheck {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.lastSample = time.Time{}
		if err := l.sampleLocked(ctx); err != nil && !errors.Is(err, ErrCapabilityDenied) {
			l.logger.Debug("capability recheck failed", zap.Error(err))
		}
	}
	return l.granted
}

func (l *TransitionLog) sampleLocked(ctx context.Context) error {
	now := l.now()
	if !l.lastSample.IsZero() && now.Sub(l.lastSample) < l.minInterval {
		return nil
	}
	l.lastSample = now
	l.lastCheckAt = now

	id, err := l.screen.Frontmost(ctx)
	if err != nil {
		if errors.Is(err, ErrCapabilityDenied) {
			if l.granted {
				l.logger.Warn("foreground capability lost", zap.Error(err))
			}
			l.granted = false
		}
		return err
	}
	if !l.granted {
		l.logger.Info("foreground capability restored")
	}
	l.granted = true

	if id != "" && id != l.current {
		if l.current != "" {
			l.events = append(l.events, domain.ActivityEvent{
				TargetID: l.current, Type: domain.EventMovedToBackground, Timestamp: now,
			})
		}
		l.events = append(l.events, domain.ActivityEvent{
			TargetID: id, Type: domain.EventMovedToForeground, Timestamp: now,
		})
		l.current = id
	}

	// Drop history older than the retention horizon
	cutoff := now.Add(-l.retention)
	i := 0
	for i < len(l.events) && l.events[i].Timestamp.Before(cutoff) {
		i++
	}
	l.events = l.events[i:]
	return nil
}

// Ensure implementations satisfy interfaces
var _ domain.FrontmostReader = (*AppleScriptReader)(nil)
var _ domain.ForegroundEventSource = (*TransitionLog)(nil)
