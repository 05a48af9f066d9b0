package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// newHTTPClient builds the shared transport settings for provider clients.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// doJSON performs one JSON request/response round trip and maps transport
// and status failures onto the provider error taxonomy. out may be nil.
func doJSON(ctx context.Context, hc *http.Client, dep, method, url, apiKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &domain.FatalError{Provider: dep, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &domain.FatalError{Provider: dep, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &domain.RetryableError{Provider: dep, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.RetryableError{Provider: dep, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := classifyStatus(dep, resp, data); err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &domain.RetryableError{Provider: dep, Err: fmt.Errorf("parse response: %w", err)}
		}
	}
	return nil
}

// classifyStatus maps an HTTP status onto the error taxonomy: 429 carries
// the provider's retry-after hint, timeouts and 5xx are retryable,
// remaining 4xx are fatal.
func classifyStatus(dep string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitedError{
			Provider:   dep,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("http 429: %s", truncate(body)),
		}
	case code == http.StatusRequestTimeout || code >= 500:
		return &domain.RetryableError{Provider: dep, Err: fmt.Errorf("http %d: %s", code, truncate(body))}
	default:
		return &domain.FatalError{Provider: dep, Err: fmt.Errorf("http %d: %s", code, truncate(body))}
	}
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
