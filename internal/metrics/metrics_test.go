package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTick("triggered", time.Millisecond)
		m.ObserveTrigger("game.app")
		m.ObserveClose("timeout")
		m.SetState(domain.StateRunning)
		m.SetCapability(true)
		m.IncRestart()
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTick("triggered", time.Millisecond)
	m.ObserveTick("triggered", time.Millisecond)
	m.ObserveTick("no_rule", time.Millisecond)
	m.ObserveTrigger("game.app")
	m.IncRestart()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("triggered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks.WithLabelValues("no_rule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Triggers.WithLabelValues("game.app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Restarts))
}

func TestMetrics_SetStateIsOneHot(t *testing.T) {
	m := New()

	m.SetState(domain.StateRunning)
	m.SetState(domain.StateRestarting)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.LifecycleState.WithLabelValues(string(domain.StateRunning))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleState.WithLabelValues(string(domain.StateRestarting))))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetCapability(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "appguard_capability_granted 1"))
}
