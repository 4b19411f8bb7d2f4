package bsre

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah-isme/calibration-cert-api/pkg/config"
)

const maxResponseBytes = 1 << 20

// HTTPClient calls the live BSrE gateway.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a client with the configured timeout applied to every call.
func NewHTTPClient(cfg config.BSrEConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Sign requests a signature for the document. A 401 maps to ErrInvalidPassphrase.
func (c *HTTPClient) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	body, status, err := c.post(ctx, "/sign", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, ErrInvalidPassphrase
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: sign returned status %d", ErrProvider, status)
	}
	var result SignResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode sign response: %v", ErrProvider, err)
	}
	if result.Signature == "" {
		return nil, fmt.Errorf("%w: sign response missing signature", ErrProvider)
	}
	result.Raw = json.RawMessage(body)
	return &result, nil
}

// Verify checks a stored signature against the provider.
func (c *HTTPClient) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	body, status, err := c.post(ctx, "/verify", req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: verify returned status %d", ErrProvider, status)
	}
	var result VerifyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode verify response: %v", ErrProvider, err)
	}
	return &result, nil
}

// Timestamp obtains a trusted timestamp token for the given document hash.
func (c *HTTPClient) Timestamp(ctx context.Context, documentHash string) (*TimestampResult, error) {
	body, status, err := c.post(ctx, "/timestamp", map[string]string{"document_hash": documentHash})
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: timestamp returned status %d", ErrProvider, status)
	}
	var result TimestampResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode timestamp response: %v", ErrProvider, err)
	}
	if result.Token == "" {
		return nil, fmt.Errorf("%w: timestamp response missing token", ErrProvider)
	}
	result.Raw = json.RawMessage(body)
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build %s request: %v", ErrProvider, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrProvider, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s response: %v", ErrProvider, path, err)
	}
	return body, resp.StatusCode, nil
}
