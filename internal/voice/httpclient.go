package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/voicepipeline/internal/redact"
	"github.com/ent0n29/voicepipeline/internal/reliability"
)

const (
	defaultHTTPTimeout  = 120 * time.Second
	defaultRetryBackoff = 250 * time.Millisecond
	maxRetryBackoff     = 4 * time.Second
	maxErrorBodyBytes   = 4 << 10
)

// StatusError is a non-2xx response from a provider endpoint.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s http status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, body)
}

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// HTTPOptions tunes the client shared by HTTP-backed providers.
type HTTPOptions struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// Transport overrides the base round tripper; tests use it to reach httptest servers.
	Transport http.RoundTripper
}

type httpClient struct {
	provider   string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

func newHTTPClient(provider string, opts HTTPOptions) *httpClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &httpClient{
		provider: provider,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return provider + " " + r.Method
				}),
			),
		},
		maxRetries: max(opts.MaxRetries, 0),
		backoff:    backoff,
	}
}

// do sends the request built by newReq, retrying retryable statuses with
// capped exponential backoff. newReq is called once per attempt so request
// bodies can be replayed. The caller owns the returned body.
func (c *httpClient) do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, c.backoff, maxRetryBackoff)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		res, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Some providers authenticate with a query parameter.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				uerr.URL = redact.String(uerr.URL)
			}
			return nil, fmt.Errorf("send request: %w", err)
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return res, nil
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		_ = res.Body.Close()
		statusErr := &StatusError{Provider: c.provider, Code: res.StatusCode, Body: redact.String(string(body))}
		if !statusErr.Retryable() {
			return nil, statusErr
		}
		lastErr = statusErr
	}
	return nil, lastErr
}

func setBearer(req *http.Request, apiKey string) {
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}
