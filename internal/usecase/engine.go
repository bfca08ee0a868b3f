package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
)

// Outcome names what a tick decided.
type Outcome string

const (
	OutcomeNoCapability Outcome = "no_capability"
	OutcomeUnknown      Outcome = "unknown"
	OutcomeNoRule       Outcome = "no_rule"
	OutcomeInactive     Outcome = "inactive"
	OutcomeExpired      Outcome = "expired"
	OutcomeDebounced    Outcome = "debounced"
	OutcomeTriggered    Outcome = "triggered"
	OutcomeError        Outcome = "error"
)

// Decision is the result of one tick.
type Decision struct {
	Outcome   Outcome
	TargetID  string
	Remaining string
}

// ForegroundReader is the part of ForegroundMonitor the engine uses.
type ForegroundReader interface {
	Current(ctx context.Context) (targetID string, known bool, err error)
}

// ShowRequest is what the engine asks the interstitial to display.
type ShowRequest struct {
	TargetID    string
	DisplayName string
	Remaining   string
}

// InterstitialPresenter shows the interrupt surface.
type InterstitialPresenter interface {
	Show(ctx context.Context, req ShowRequest) error
}

// EnforcementEngine decides once per tick whether to interrupt the foreground target.
type EnforcementEngine struct {
	monitor   ForegroundReader
	store     domain.RuleStore
	presenter InterstitialPresenter
	caps      domain.CapabilityChecker
	debounce  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu    sync.Mutex
	state domain.DaemonState
}

// NewEnforcementEngine creates an engine. caps and m may be nil.
func NewEnforcementEngine(
	monitor ForegroundReader,
	store domain.RuleStore,
	presenter InterstitialPresenter,
	caps domain.CapabilityChecker,
	debounce time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *EnforcementEngine {
	return &EnforcementEngine{
		monitor:   monitor,
		store:     store,
		presenter: presenter,
		caps:      caps,
		debounce:  debounce,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// NewEnforcementEngineWithClock creates an engine with an injectable clock (for testing).
func NewEnforcementEngineWithClock(
	monitor ForegroundReader,
	store domain.RuleStore,
	presenter InterstitialPresenter,
	caps domain.CapabilityChecker,
	debounce time.Duration,
	logger *zap.Logger,
	now func() time.Time,
) *EnforcementEngine {
	e := NewEnforcementEngine(monitor, store, presenter, caps, debounce, logger, nil)
	e.now = now
	return e
}

// Tick runs one enforcement decision. It never panics and never returns an
// error: failures are logged and treated as no action for this tick.
func (e *EnforcementEngine) Tick(ctx context.Context) (d Decision) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("enforcement tick panicked", zap.Any("panic", r))
			d = Decision{Outcome: OutcomeError, TargetID: d.TargetID}
		}
		e.metrics.ObserveTick(string(d.Outcome), time.Since(started))
	}()

	if e.caps != nil && !e.caps.ForegroundQueryGranted() {
		return Decision{Outcome: OutcomeNoCapability}
	}

	fg, known, err := e.monitor.Current(ctx)
	if err != nil {
		e.logger.Warn("foreground query failed", zap.Error(err))
		return Decision{Outcome: OutcomeError}
	}
	if !known {
		return Decision{Outcome: OutcomeUnknown}
	}

	e.mu.Lock()
	e.state.LastForeground = fg
	e.mu.Unlock()

	rule, ok := e.store.Find(fg)
	if !ok {
		return Decision{Outcome: OutcomeNoRule, TargetID: fg}
	}

	now := e.now()
	nowMs := domain.ToMillis(now)
	if !rule.IsActive {
		return Decision{Outcome: OutcomeInactive, TargetID: fg}
	}
	if rule.IsExpired(nowMs) {
		return Decision{Outcome: OutcomeExpired, TargetID: fg}
	}

	e.mu.Lock()
	if e.state.LastTriggerTarget == fg && now.Sub(e.state.LastTriggerAt) < e.debounce {
		e.mu.Unlock()
		return Decision{Outcome: OutcomeDebounced, TargetID: fg}
	}
	e.state.LastTriggerTarget = fg
	e.state.LastTriggerAt = now
	e.mu.Unlock()

	req := ShowRequest{
		TargetID:    fg,
		DisplayName: rule.DisplayName,
		Remaining:   rule.Remaining(nowMs),
	}
	if req.DisplayName == "" {
		req.DisplayName = fg
	}

	if err := e.presenter.Show(ctx, req); err != nil {
		e.logger.Warn("interstitial render failed",
			zap.String("target", fg),
			zap.Error(err))
	}
	e.metrics.ObserveTrigger(fg)
	e.logger.Info("blocked foreground target",
		zap.String("target", fg),
		zap.String("remaining", req.Remaining))

	return Decision{Outcome: OutcomeTriggered, TargetID: fg, Remaining: req.Remaining}
}

// State returns a snapshot of the runtime state.
func (e *EnforcementEngine) State() domain.DaemonState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetRunning marks the runtime state as running or not.
func (e *EnforcementEngine) SetRunning(running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Running = running
}

// Reset discards the runtime state, as on a fresh daemon start.
func (e *EnforcementEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = domain.DaemonState{}
}
