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

// RunpodConfig addresses an OpenAI-compatible chat completions endpoint.
type RunpodConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	HTTP         HTTPOptions
}

// RunpodResponder streams a chat completion and returns the accumulated reply.
type RunpodResponder struct {
	cfg    RunpodConfig
	client *httpClient
}

func NewRunpodResponder(cfg RunpodConfig) (*RunpodResponder, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("runpod base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &RunpodResponder{cfg: cfg, client: newHTTPClient("runpod", cfg.HTTP)}, nil
}

func (r *RunpodResponder) Name() string { return "runpod" }

// endpoint appends /v1/chat/completions unless the base already ends in /v1.
func (r *RunpodResponder) endpoint() string {
	if strings.HasSuffix(r.cfg.BaseURL, "/v1") {
		return r.cfg.BaseURL + "/chat/completions"
	}
	return r.cfg.BaseURL + "/v1/chat/completions"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *RunpodResponder) Generate(ctx context.Context, text string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if prompt := strings.TrimSpace(r.cfg.SystemPrompt); prompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	payload, err := json.Marshal(chatCompletionRequest{
		Model:    r.cfg.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	res, err := r.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		setBearer(req, r.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var reply string
	if strings.Contains(strings.ToLower(res.Header.Get("Content-Type")), "application/json") {
		reply, err = decodeChatCompletion(res.Body)
	} else {
		reply, err = consumeChatStream(res.Body)
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

func decodeChatCompletion(body io.Reader) (string, error) {
	var out chatCompletionChunk
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// consumeChatStream reads SSE "data:" lines until "[DONE]" and joins the
// choices[0].delta.content fragments. Lines that do not parse are skipped.
func consumeChatStream(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			out.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}
