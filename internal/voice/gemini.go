package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	geminiPrompt      = "Transcribe the following audio. Only output the exact words spoken, do not respond or add any commentary. Just the transcription:"
	geminiInstruction = "You are a speech-to-text transcription service. Your only job is to transcribe audio exactly as spoken. Do not respond, comment, or add anything. Just output the exact words you hear."
)

var geminiTimestamp = regexp.MustCompile(`(?m)^\d{2}:\d{2}(:\d{2})?\s+`)

type GeminiConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	AudioMIMEType string
	HTTP          HTTPOptions
}

// GeminiTranscriber asks a Gemini model to transcribe inline audio.
type GeminiTranscriber struct {
	cfg    GeminiConfig
	client *httpClient
}

func NewGeminiTranscriber(cfg GeminiConfig) (*GeminiTranscriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if strings.TrimSpace(cfg.AudioMIMEType) == "" {
		cfg.AudioMIMEType = "audio/wav"
	}
	return &GeminiTranscriber{cfg: cfg, client: newHTTPClient("gemini", cfg.HTTP)}, nil
}

func (t *GeminiTranscriber) Name() string { return "gemini" }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction geminiContent   `json:"system_instruction"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, audioBytes []byte) (string, error) {
	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: geminiPrompt},
				{InlineData: &geminiInlineData{
					MIMEType: t.cfg.AudioMIMEType,
					Data:     base64.StdEncoding.EncodeToString(audioBytes),
				}},
			},
		}},
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: geminiInstruction}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		t.cfg.BaseURL, url.PathEscape(t.cfg.Model), url.QueryEscape(t.cfg.APIKey))
	res, err := t.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var out geminiResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	text := extractGeminiTranscript(out)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

// extractGeminiTranscript returns the first candidate text. Models sometimes
// answer with JSON segments or "mm:ss" prefixed lines; both are flattened.
func extractGeminiTranscript(res geminiResponse) string {
	if len(res.Candidates) == 0 || len(res.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	text := strings.TrimSpace(res.Candidates[0].Content.Parts[0].Text)

	if strings.HasPrefix(text, "[") {
		var segments []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(text), &segments); err == nil {
			parts := make([]string, 0, len(segments))
			for _, s := range segments {
				if s.Text != "" {
					parts = append(parts, s.Text)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " ")
			}
		}
	} else if strings.HasPrefix(text, "{") {
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err == nil && obj.Text != "" {
			return obj.Text
		}
	}

	return strings.TrimSpace(geminiTimestamp.ReplaceAllString(text, ""))
}
