package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/dshills/pycontext-mcp/internal/retry"
)

// transport sends JSON requests with rate limiting and retries shared by
// every provider
type transport struct {
	client  *http.Client
	limiter *rate.Limiter // nil means unlimited
	retry   retry.Config
	headers map[string]string
}

func newTransport(cfg Config, headers map[string]string) *transport {
	t := &transport{
		client:  &http.Client{Timeout: cfg.Timeout},
		retry:   retry.DefaultConfig().WithAttempts(cfg.MaxAttempts),
		headers: headers,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(int(cfg.RequestsPerSecond), 1)
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t
}

// post sends body to url and returns the response once a 200 arrives.
// Transport errors, 429 and 5xx responses are retried; other statuses fail
// immediately. The caller closes the returned body.
func (t *transport) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(ctx, t.retry, func() (*http.Response, error) {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, retry.Permanent(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		statusErr := fmt.Errorf("api error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	})
}

func (t *transport) close() {
	t.client.CloseIdleConnections()
}
