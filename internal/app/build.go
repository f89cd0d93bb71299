package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/voicepipeline/internal/config"
	"github.com/ent0n29/voicepipeline/internal/httpapi"
	"github.com/ent0n29/voicepipeline/internal/journal"
	"github.com/ent0n29/voicepipeline/internal/observability"
	"github.com/ent0n29/voicepipeline/internal/session"
	"github.com/ent0n29/voicepipeline/internal/turn"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Facade    *turn.Facade
	Journal   journal.Store
	Metrics   *observability.Metrics
	Providers ProviderInfo

	recorder *journal.Recorder
}

// Cleanup stops every session, flushes queued journal writes and closes the
// journal store. It should be called once on shutdown.
func (b *BuildResult) Cleanup(ctx context.Context) error {
	var errs []error
	if err := b.Sessions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	b.recorder.Close()
	if err := b.Journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal close: %w", err))
	}
	return errors.Join(errs...)
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	providers, info, err := resolveProviders(cfg)
	if err != nil {
		return nil, err
	}

	controller, err := turn.NewController(providers, turn.Options{
		StageTimeout: cfg.StageTimeout,
		Logger:       logger,
		OnStage: func(r turn.StageResult) {
			switch {
			case r.Err == nil:
				metrics.ObserveStage(string(r.Stage), r.Duration)
			case !errors.Is(r.Err, turn.ErrCancelled):
				metrics.ObserveProviderError(string(r.Stage), r.Provider)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("turn controller init failed: %w", err)
	}

	store, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("turn journal init failed: %w", err)
	}
	recorder := journal.NewRecorder(store, journal.RecorderOptions{
		Logger: logger,
		OnDrop: func() { metrics.ObserveSessionEvent("journal_dropped") },
		OnFail: func(error) { metrics.ObserveSessionEvent("journal_failed") },
	})

	sessions := session.NewManager(session.Options{
		Controller:        controller,
		Logger:            logger,
		InactivityTimeout: cfg.SessionInactivityTimeout,
		Hooks: session.Hooks{
			OnSessionCreated: func(*session.Session) {
				metrics.ActiveSessions.Inc()
				metrics.ObserveSessionEvent("created")
			},
			OnSessionEnded: func(*session.Session) {
				metrics.ActiveSessions.Dec()
				metrics.ObserveSessionEvent("ended")
			},
			OnTurnFinished: func(s session.TurnSummary) {
				t := s.Timings
				metrics.ObserveTurn(string(s.Outcome), t.Transcribe+t.Generate+t.Synthesize)
				recorder.Record(recordFromSummary(s))
			},
		},
	})

	facade := turn.NewFacade(controller)
	api := httpapi.New(httpapi.Deps{
		Config:   cfg,
		Sessions: sessions,
		Pipeline: facade,
		Journal:  store,
		Metrics:  metrics,
		Logger:   logger,
	})

	logger.Info("voice providers resolved",
		zap.String("stt", info.STT),
		zap.String("llm", info.LLM),
		zap.String("tts", info.TTS),
	)

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Facade:    facade,
		Journal:   store,
		Metrics:   metrics,
		Providers: info,
		recorder:  recorder,
	}, nil
}

func recordFromSummary(s session.TurnSummary) journal.Record {
	return journal.Record{
		ID:            uuid.NewString(),
		SessionID:     s.SessionID,
		TurnID:        s.TurnID,
		Outcome:       string(s.Outcome),
		FailedStage:   string(s.FailedStage),
		AudioInBytes:  s.AudioInBytes,
		AudioOutBytes: s.AudioOutBytes,
		TranscribeMS:  s.Timings.Transcribe.Milliseconds(),
		GenerateMS:    s.Timings.Generate.Milliseconds(),
		SynthesizeMS:  s.Timings.Synthesize.Milliseconds(),
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
}
