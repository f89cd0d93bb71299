package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/session"
	"github.com/ent0n29/voicepipeline/internal/turn"
)

func buildForTest(t *testing.T) *BuildResult {
	t.Helper()
	cfg := baseConfig()
	cfg.MetricsNamespace = "test_app"
	cfg.SessionInactivityTimeout = time.Minute
	cfg.StageTimeout = 5 * time.Second
	cfg.SampleRate = 22050

	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return res
}

func TestBuildOneShotTurn(t *testing.T) {
	res := buildForTest(t)
	t.Cleanup(func() { _ = res.Cleanup(context.Background()) })

	out, err := res.Facade.Run(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "simulated voice input", out.Transcript)
	assert.NotEmpty(t, out.Audio)

	snap := res.Metrics.SnapshotStages()
	stages := make([]string, 0, len(snap.Stages))
	for _, s := range snap.Stages {
		stages = append(stages, s.Stage)
	}
	assert.ElementsMatch(t, []string{"generate", "synthesize", "transcribe"}, stages)
}

func TestBuildRecordsSessionTurns(t *testing.T) {
	res := buildForTest(t)

	outbound := make(chan turn.Event, 32)
	sess := res.Sessions.Create("app-session", outbound)
	assert.Equal(t, 1.0, testutil.ToFloat64(res.Metrics.ActiveSessions))

	ctx := context.Background()
	require.NoError(t, sess.Dispatch(ctx, protocol.ClientMessage{Type: protocol.TypeStreamStart}))
	require.NoError(t, sess.Dispatch(ctx, protocol.ClientMessage{Type: protocol.TypeAudioChunk, Audio: []byte("pcm")}))
	require.NoError(t, sess.Dispatch(ctx, protocol.ClientMessage{Type: protocol.TypeStreamEnd}))

	require.Eventually(t, func() bool {
		records, err := res.Journal.Recent(ctx, "app-session", 10)
		return err == nil && len(records) == 1
	}, 3*time.Second, 10*time.Millisecond)

	records, err := res.Journal.Recent(ctx, "app-session", 10)
	require.NoError(t, err)
	assert.Equal(t, string(session.OutcomeCompleted), records[0].Outcome)
	assert.Equal(t, 3, records[0].AudioInBytes)
	assert.Positive(t, records[0].AudioOutBytes)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, res.Cleanup(shutdownCtx))
	assert.Equal(t, 0.0, testutil.ToFloat64(res.Metrics.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(res.Metrics.Turns.WithLabelValues("completed")))
}
