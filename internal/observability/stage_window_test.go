package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("transcribe", 500)
	w.Observe("transcribe", 700)
	w.Observe("transcribe", 900)
	w.ObserveIndicator("turn_interrupted")
	w.ObserveIndicator("turn_interrupted")

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)
	s := snap.Stages[0]
	assert.Equal(t, "transcribe", s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 900.0, s.LastMS)
	assert.Equal(t, 700.0, s.P50MS)
	assert.Greater(t, s.P95MS, 700.0)
	assert.LessOrEqual(t, s.P95MS, 900.0)
	assert.Equal(t, 1500.0, s.TargetP95MS)
	require.Len(t, snap.Indicators, 1)
	assert.Equal(t, Indicator{Name: "turn_interrupted", Count: 2}, snap.Indicators[0])
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 1; i <= 10; i++ {
		w.Observe("generate", float64(i*100))
	}
	snap := w.Snapshot()
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, 4, snap.Stages[0].Samples)
	assert.Equal(t, 1000.0, snap.Stages[0].LastMS)
	assert.Equal(t, 850.0, snap.Stages[0].AvgMS)
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 10)
	w.Observe("generate", -1)
	w.ObserveIndicator("  ")
	snap := w.Snapshot()
	assert.Empty(t, snap.Stages)
	assert.Empty(t, snap.Indicators)
}

func TestMetricsObserveTurn(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.ObserveStage("transcribe", 120*time.Millisecond)
	m.ObserveTurn("completed", 2*time.Second)
	m.ObserveTurn("interrupted", time.Second)
	m.ObserveProviderError("generate", "runpod")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("interrupted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderErrors.WithLabelValues("generate", "runpod")))

	snap := m.SnapshotStages()
	stages := make([]string, 0, len(snap.Stages))
	for _, s := range snap.Stages {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{"transcribe", StageTurnTotal}, stages)

	m.ResetStages()
	assert.Empty(t, m.SnapshotStages().Stages)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics("voicetest", nil)
	m.ActiveSessions.Set(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "voicetest_active_sessions 2")
	assert.Contains(t, string(body), "go_goroutines")
}
