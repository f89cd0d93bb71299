package voice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ChatServiceConfig struct {
	URL    string
	APIKey string
	HTTP   HTTPOptions
}

// ChatServiceResponder forwards utterances to an existing chat backend.
// The backend may answer with SSE, NDJSON, plain text lines, or one JSON object.
type ChatServiceResponder struct {
	cfg    ChatServiceConfig
	client *httpClient
}

func NewChatServiceResponder(cfg ChatServiceConfig) (*ChatServiceResponder, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("chat service url is required")
	}
	return &ChatServiceResponder{cfg: cfg, client: newHTTPClient("chat_service", cfg.HTTP)}, nil
}

func (c *ChatServiceResponder) Name() string { return "chat_service" }

type chatServiceRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

func (c *ChatServiceResponder) Generate(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(chatServiceRequest{Message: text, Stream: true})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	res, err := c.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		setBearer(req, c.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	var reply string
	if strings.Contains(ct, "application/json") {
		reply, err = readChatServiceObject(res.Body)
	} else {
		reply, err = readChatServiceLines(res.Body)
	}
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyResult
	}
	return reply, nil
}

func readChatServiceObject(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw)), nil
	}
	return extractText(obj), nil
}

func readChatServiceLines(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "content", "message", "response"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
