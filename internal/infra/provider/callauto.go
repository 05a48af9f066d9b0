package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// CallConfig holds call-automation provider settings.
type CallConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	SourceNumber string        `yaml:"source_number"`
	Timeout      time.Duration `yaml:"timeout"`
}

// HTTPCallClient implements CallClient against the call-automation REST API.
type HTTPCallClient struct {
	cfg   CallConfig
	hc    *http.Client
	guard *Guard
}

// NewHTTPCallClient creates the call-automation client.
func NewHTTPCallClient(cfg CallConfig, guard *Guard) *HTTPCallClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPCallClient{
		cfg:   cfg,
		hc:    newHTTPClient(cfg.Timeout),
		guard: guard,
	}
}

// CreateCall places an outbound call and returns the provider's call
// connection id.
func (c *HTTPCallClient) CreateCall(ctx context.Context, target, callbackURL string) (string, error) {
	var out struct {
		CallConnectionID string `json:"callConnectionId"`
	}
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		req := map[string]string{
			"source":      c.cfg.SourceNumber,
			"target":      target,
			"callbackUrl": callbackURL,
		}
		return doJSON(ctx, c.hc, DepCall, http.MethodPost, c.cfg.BaseURL+"/calls", c.cfg.APIKey, req, &out)
	})
	if err != nil {
		return "", err
	}
	if out.CallConnectionID == "" {
		return "", &domain.RetryableError{Provider: DepCall, Err: fmt.Errorf("create call returned no connection id")}
	}
	return out.CallConnectionID, nil
}

// HangUp terminates the call.
func (c *HTTPCallClient) HangUp(ctx context.Context, callConnectionID string) error {
	return c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/calls/%s", c.cfg.BaseURL, callConnectionID)
		return doJSON(ctx, c.hc, DepCall, http.MethodDelete, url, c.cfg.APIKey, nil, nil)
	})
}

// StartRecording begins recording the call and returns the recording id.
func (c *HTTPCallClient) StartRecording(ctx context.Context, callConnectionID string) (string, error) {
	var out struct {
		RecordingID string `json:"recordingId"`
	}
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		req := map[string]string{"callConnectionId": callConnectionID}
		return doJSON(ctx, c.hc, DepCall, http.MethodPost, c.cfg.BaseURL+"/recordings", c.cfg.APIKey, req, &out)
	})
	if err != nil {
		return "", err
	}
	return out.RecordingID, nil
}

// StopRecording stops the recording.
func (c *HTTPCallClient) StopRecording(ctx context.Context, recordingID string) error {
	return c.recordingAction(ctx, recordingID, "stop")
}

// PauseRecording pauses the recording.
func (c *HTTPCallClient) PauseRecording(ctx context.Context, recordingID string) error {
	return c.recordingAction(ctx, recordingID, "pause")
}

// ResumeRecording resumes a paused recording.
func (c *HTTPCallClient) ResumeRecording(ctx context.Context, recordingID string) error {
	return c.recordingAction(ctx, recordingID, "resume")
}

func (c *HTTPCallClient) recordingAction(ctx context.Context, recordingID, action string) error {
	return c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/recordings/%s:%s", c.cfg.BaseURL, recordingID, action)
		return doJSON(ctx, c.hc, DepCall, http.MethodPost, url, c.cfg.APIKey, nil, nil)
	})
}

// DownloadRecording fetches the finished recording bytes.
func (c *HTTPCallClient) DownloadRecording(ctx context.Context, recordingID string) ([]byte, error) {
	var data []byte
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/recordings/%s/content", c.cfg.BaseURL, recordingID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &domain.FatalError{Provider: DepCall, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.hc.Do(req)
		if err != nil {
			return &domain.RetryableError{Provider: DepCall, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.RetryableError{Provider: DepCall, Err: fmt.Errorf("read recording: %w", err)}
		}
		if err := classifyStatus(DepCall, resp, nil); err != nil {
			return err
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
