package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
)

// InterstitialState is SHOWN or CLOSED.
type InterstitialState string

const (
	InterstitialClosed InterstitialState = "CLOSED"
	InterstitialShown  InterstitialState = "SHOWN"
)

// CloseReason names the route by which the interstitial closed.
type CloseReason string

const (
	CloseDismissed  CloseReason = "dismissed"
	CloseTimeout    CloseReason = "timeout"
	CloseNavigation CloseReason = "navigation"
)

// Interstitial interrupts a blocked target and returns the user home.
// Every close route runs the same action: terminate the target, then go home.
type Interstitial struct {
	surface    domain.InterstitialSurface
	navigator  domain.HomeNavigator
	terminator domain.TargetTerminator
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu         sync.Mutex
	state      InterstitialState
	view       domain.InterstitialView
	timer      *time.Timer
	generation uint64
	closed     chan struct{}
}

// NewInterstitial creates a closed interstitial. terminator and m may be nil.
func NewInterstitial(
	surface domain.InterstitialSurface,
	navigator domain.HomeNavigator,
	terminator domain.TargetTerminator,
	timeout time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Interstitial {
	return &Interstitial{
		surface:    surface,
		navigator:  navigator,
		terminator: terminator,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
		state:      InterstitialClosed,
	}
}

// Show displays the interstitial, or updates it in place when already shown.
// The auto-dismiss timeout restarts on every call.
func (i *Interstitial) Show(ctx context.Context, req ShowRequest) error {
	i.mu.Lock()
	i.view = domain.InterstitialView{
		TargetID:           req.TargetID,
		DisplayName:        req.DisplayName,
		Remaining:          req.Remaining,
		ExcludeFromHistory: true,
	}
	if i.state == InterstitialClosed {
		i.state = InterstitialShown
		i.closed = make(chan struct{})
	}

	i.generation++
	gen := i.generation
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.timeout, func() { i.closeIf(gen, CloseTimeout) })
	view := i.view
	i.mu.Unlock()

	return i.surface.Render(view)
}

// Dismiss closes the interstitial on explicit user dismissal.
func (i *Interstitial) Dismiss() {
	i.close(CloseDismissed)
}

// NavigateAway closes the interstitial on a back/home navigation attempt.
func (i *Interstitial) NavigateAway() {
	i.close(CloseNavigation)
}

// State returns the current state.
func (i *Interstitial) State() InterstitialState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// View returns what is currently displayed.
func (i *Interstitial) View() domain.InterstitialView {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.view
}

// Done returns a channel closed when the current showing closes.
// Returns nil when nothing has been shown yet.
func (i *Interstitial) Done() <-chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Interstitial) closeIf(gen uint64, reason CloseReason) {
	i.mu.Lock()
	if gen != i.generation {
		i.mu.Unlock()
		return // Re-armed by a later Show
	}
	i.mu.Unlock()
	i.close(reason)
}

func (i *Interstitial) close(reason CloseReason) {
	i.mu.Lock()
	if i.state != InterstitialShown {
		i.mu.Unlock()
		return
	}
	i.state = InterstitialClosed
	i.generation++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	view := i.view
	done := i.closed
	i.mu.Unlock()

	i.metrics.ObserveClose(string(reason))
	i.logger.Debug("interstitial closing",
		zap.String("target", view.TargetID),
		zap.String("reason", string(reason)))

	if i.terminator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := i.terminator.Terminate(ctx, view.TargetID, view.DisplayName); err != nil {
			i.logger.Debug("target termination failed",
				zap.String("target", view.TargetID),
				zap.Error(err))
		}
		cancel()
	}
	if err := i.navigator.GoHome(); err != nil {
		i.logger.Warn("failed to navigate home", zap.Error(err))
	}
	if err := i.surface.Hide(); err != nil {
		i.logger.Debug("failed to hide interstitial", zap.Error(err))
	}
	close(done)
}
