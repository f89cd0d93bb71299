package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

// WhisperConfig addresses an OpenAI-compatible transcription server
// (faster-whisper-server, whisper.cpp server, or the hosted API).
type WhisperConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	HTTP     HTTPOptions
}

// WhisperTranscriber posts audio to {BaseURL}/v1/audio/transcriptions.
type WhisperTranscriber struct {
	cfg    WhisperConfig
	client *httpClient
}

func NewWhisperTranscriber(cfg WhisperConfig) (*WhisperTranscriber, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("whisper base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "base"
	}
	return &WhisperTranscriber{cfg: cfg, client: newHTTPClient("whisper", cfg.HTTP)}, nil
}

func (t *WhisperTranscriber) Name() string { return "whisper" }

func (t *WhisperTranscriber) endpoint() string {
	if strings.HasSuffix(t.cfg.BaseURL, "/v1") {
		return t.cfg.BaseURL + "/audio/transcriptions"
	}
	return t.cfg.BaseURL + "/v1/audio/transcriptions"
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioBytes []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioBytes); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	_ = writer.WriteField("model", t.cfg.Model)
	if lang := strings.TrimSpace(t.cfg.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}
	body := buf.Bytes()
	contentType := writer.FormDataContentType()

	res, err := t.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		setBearer(req, t.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var out whisperResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}
