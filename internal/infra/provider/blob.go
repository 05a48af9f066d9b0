package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// BlobConfig holds blob storage settings.
type BlobConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Container string        `yaml:"container"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HTTPBlobClient implements BlobClient against an object-storage REST API.
type HTTPBlobClient struct {
	cfg   BlobConfig
	hc    *http.Client
	guard *Guard
}

// NewHTTPBlobClient creates the blob storage client.
func NewHTTPBlobClient(cfg BlobConfig, guard *Guard) *HTTPBlobClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second // uploads carry recording payloads
	}
	return &HTTPBlobClient{
		cfg:   cfg,
		hc:    newHTTPClient(cfg.Timeout),
		guard: guard,
	}
}

func (c *HTTPBlobClient) blobURL(name string) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.Container, name)
}

// Upload stores data under name and returns the blob URL.
func (c *HTTPBlobClient) Upload(ctx context.Context, name string, data []byte) (string, error) {
	url := c.blobURL(name)
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return &domain.FatalError{Provider: DepBlob, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.hc.Do(req)
		if err != nil {
			return &domain.RetryableError{Provider: DepBlob, Err: err}
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(DepBlob, resp, body)
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// Download fetches a stored blob.
func (c *HTTPBlobClient) Download(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.blobURL(name), nil)
		if err != nil {
			return &domain.FatalError{Provider: DepBlob, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.hc.Do(req)
		if err != nil {
			return &domain.RetryableError{Provider: DepBlob, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.RetryableError{Provider: DepBlob, Err: fmt.Errorf("read blob: %w", err)}
		}
		if err := classifyStatus(DepBlob, resp, nil); err != nil {
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
