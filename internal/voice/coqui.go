package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/ent0n29/voicepipeline/internal/audio"
)

// MaxXTTSChunkRunes keeps each request under the XTTS 400 token limit.
const MaxXTTSChunkRunes = 250

type CoquiConfig struct {
	URL       string
	SpeakerID string
	Language  string
	Speed     float64
	HTTP      HTTPOptions
}

// CoquiSynthesizer calls a Coqui XTTS HTTP server once per text chunk and
// joins the returned WAV files into one artifact.
type CoquiSynthesizer struct {
	cfg    CoquiConfig
	client *httpClient
}

func NewCoquiSynthesizer(cfg CoquiConfig) (*CoquiSynthesizer, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("tts service url is required")
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	return &CoquiSynthesizer{cfg: cfg, client: newHTTPClient("coqui", cfg.HTTP)}, nil
}

func (s *CoquiSynthesizer) Name() string { return "coqui" }

type xttsRequest struct {
	Text      string  `json:"text"`
	Language  string  `json:"language"`
	Speed     float64 `json:"speed"`
	SpeakerID string  `json:"speaker_id,omitempty"`
}

func (s *CoquiSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks := SplitText(SpeakableText(text), MaxXTTSChunkRunes)
	language := LanguageFrom(ctx, s.cfg.Language)

	parts := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		wav, err := s.synthesizeChunk(ctx, chunk, language)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if len(wav) == 0 {
			continue
		}
		parts = append(parts, wav)
	}
	if len(parts) == 0 {
		return nil, ErrEmptyResult
	}
	joined, err := audio.JoinWAV(parts)
	if err != nil {
		return nil, fmt.Errorf("join xtts audio: %w", err)
	}
	return joined, nil
}

func (s *CoquiSynthesizer) synthesizeChunk(ctx context.Context, text, language string) ([]byte, error) {
	payload, err := json.Marshal(xttsRequest{
		Text:      text,
		Language:  language,
		Speed:     s.cfg.Speed,
		SpeakerID: strings.TrimSpace(s.cfg.SpeakerID),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	res, err := s.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return body, nil
}

// SplitText breaks text into chunks of at most maxRunes runes. It prefers the
// last sentence end (.!? followed by whitespace) inside the window, then the
// last whitespace, and only then cuts mid-word.
func SplitText(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if maxRunes <= 0 {
		maxRunes = MaxXTTSChunkRunes
	}
	remaining := []rune(text)
	if len(remaining) <= maxRunes {
		if len(remaining) == 0 {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(remaining) > maxRunes {
		cut := lastSentenceCut(remaining, maxRunes)
		if cut <= 0 {
			cut = lastSpaceCut(remaining, maxRunes)
		}
		if cut <= 0 {
			cut = maxRunes
		}
		if chunk := strings.TrimSpace(string(remaining[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[cut:])))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

func lastSentenceCut(r []rune, maxRunes int) int {
	for i := maxRunes; i > 0; i-- {
		if i >= len(r) {
			continue
		}
		if unicode.IsSpace(r[i]) && isSentenceEnd(r[i-1]) {
			return i
		}
	}
	return 0
}

func lastSpaceCut(r []rune, maxRunes int) int {
	for i := maxRunes; i > 0; i-- {
		if i < len(r) && unicode.IsSpace(r[i]) {
			return i
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
