package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/voicepipeline/internal/config"
	"github.com/ent0n29/voicepipeline/internal/voice"
)

// ProviderInfo names the backend resolved for each stage.
type ProviderInfo struct {
	STT string
	LLM string
	TTS string
}

func (p ProviderInfo) String() string {
	return fmt.Sprintf("stt=%s llm=%s tts=%s", p.STT, p.LLM, p.TTS)
}

func providerHTTPOptions(cfg config.Config) voice.HTTPOptions {
	return voice.HTTPOptions{
		Timeout:      cfg.StageTimeout,
		MaxRetries:   cfg.ProviderMaxRetries,
		RetryBackoff: cfg.ProviderRetryBackoff,
	}
}

// resolveProviders picks one backend per stage. "auto" uses a real backend
// when it is configured and the mock otherwise; an explicit choice that is
// not configured is an error.
func resolveProviders(cfg config.Config) (voice.Providers, ProviderInfo, error) {
	mock := voice.NewMockProvider()
	opts := providerHTTPOptions(cfg)
	var (
		out  voice.Providers
		info ProviderInfo
		err  error
	)

	out.Transcriber, info.STT, err = resolveTranscriber(cfg, opts, mock)
	if err != nil {
		return voice.Providers{}, ProviderInfo{}, err
	}

	out.Responder, info.LLM, err = resolveResponder(cfg, cfg.LLMProvider, opts, mock)
	if err != nil {
		return voice.Providers{}, ProviderInfo{}, err
	}
	if fallbackMode := strings.TrimSpace(cfg.LLMFallbackProvider); fallbackMode != "" {
		if fallbackMode == info.LLM {
			return voice.Providers{}, ProviderInfo{}, fmt.Errorf("VOICE_LLM_FALLBACK_PROVIDER must differ from the primary provider (%s)", info.LLM)
		}
		fallback, name, err := resolveResponder(cfg, fallbackMode, opts, mock)
		if err != nil {
			return voice.Providers{}, ProviderInfo{}, fmt.Errorf("fallback: %w", err)
		}
		out.Responder = voice.NewFailoverResponder(out.Responder, fallback)
		info.LLM = info.LLM + "+" + name
	}

	out.Synthesizer, info.TTS, err = resolveSynthesizer(cfg, opts, mock)
	if err != nil {
		return voice.Providers{}, ProviderInfo{}, err
	}
	return out, info, nil
}

func resolveTranscriber(cfg config.Config, opts voice.HTTPOptions, mock *voice.MockProvider) (voice.Transcriber, string, error) {
	whisper := func() (voice.Transcriber, string, error) {
		t, err := voice.NewWhisperTranscriber(voice.WhisperConfig{
			BaseURL:  cfg.WhisperURL,
			APIKey:   cfg.WhisperAPIKey,
			Model:    cfg.WhisperModel,
			Language: cfg.WhisperLanguage,
			HTTP:     opts,
		})
		if err != nil {
			return nil, "", fmt.Errorf("VOICE_STT_PROVIDER=whisper: %w", err)
		}
		return t, "whisper", nil
	}
	gemini := func() (voice.Transcriber, string, error) {
		t, err := voice.NewGeminiTranscriber(voice.GeminiConfig{
			BaseURL:       cfg.GeminiBaseURL,
			APIKey:        cfg.GeminiAPIKey,
			Model:         cfg.GeminiModel,
			AudioMIMEType: cfg.GeminiAudioMIMEType,
			HTTP:          opts,
		})
		if err != nil {
			return nil, "", fmt.Errorf("VOICE_STT_PROVIDER=gemini: %w", err)
		}
		return t, "gemini", nil
	}

	switch mode := strings.ToLower(strings.TrimSpace(cfg.STTProvider)); mode {
	case "whisper":
		return whisper()
	case "gemini":
		return gemini()
	case "mock":
		return mock, "mock", nil
	case "", "auto":
		if strings.TrimSpace(cfg.WhisperURL) != "" {
			return whisper()
		}
		if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
			return gemini()
		}
		return mock, "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid VOICE_STT_PROVIDER: %q (expected auto|whisper|gemini|mock)", mode)
	}
}

func resolveResponder(cfg config.Config, mode string, opts voice.HTTPOptions, mock *voice.MockProvider) (voice.Responder, string, error) {
	runpod := func() (voice.Responder, string, error) {
		r, err := voice.NewRunpodResponder(voice.RunpodConfig{
			BaseURL:      cfg.RunpodBaseURL,
			APIKey:       cfg.RunpodAPIKey,
			Model:        cfg.RunpodModel,
			SystemPrompt: cfg.LLMSystemPrompt,
			HTTP:         opts,
		})
		if err != nil {
			return nil, "", fmt.Errorf("llm provider runpod: %w", err)
		}
		return r, "runpod", nil
	}
	chatService := func() (voice.Responder, string, error) {
		r, err := voice.NewChatServiceResponder(voice.ChatServiceConfig{
			URL:    cfg.ChatServiceURL,
			APIKey: cfg.ChatServiceAPIKey,
			HTTP:   opts,
		})
		if err != nil {
			return nil, "", fmt.Errorf("llm provider chat_service: %w", err)
		}
		return r, "chat_service", nil
	}

	switch mode = strings.ToLower(strings.TrimSpace(mode)); mode {
	case "runpod":
		return runpod()
	case "chat_service":
		return chatService()
	case "mock":
		return mock, "mock", nil
	case "", "auto":
		if strings.TrimSpace(cfg.RunpodBaseURL) != "" {
			return runpod()
		}
		if strings.TrimSpace(cfg.ChatServiceURL) != "" {
			return chatService()
		}
		return mock, "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid llm provider: %q (expected auto|runpod|chat_service|mock)", mode)
	}
}

func resolveSynthesizer(cfg config.Config, opts voice.HTTPOptions, mock *voice.MockProvider) (voice.Synthesizer, string, error) {
	coqui := func() (voice.Synthesizer, string, error) {
		s, err := voice.NewCoquiSynthesizer(voice.CoquiConfig{
			URL:       cfg.TTSServiceURL,
			SpeakerID: cfg.TTSSpeakerID,
			Language:  cfg.TTSLanguage,
			Speed:     cfg.TTSSpeed,
			HTTP:      opts,
		})
		if err != nil {
			return nil, "", fmt.Errorf("VOICE_TTS_PROVIDER=coqui: %w", err)
		}
		return s, "coqui", nil
	}

	switch mode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider)); mode {
	case "coqui":
		return coqui()
	case "mock":
		return mock, "mock", nil
	case "", "auto":
		if strings.TrimSpace(cfg.TTSServiceURL) != "" {
			return coqui()
		}
		return mock, "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid VOICE_TTS_PROVIDER: %q (expected auto|coqui|mock)", mode)
	}
}
