// Package ocr extracts text from image bytes via an external OCR service.
// The engine is treated as an opaque text producer; recognized text is
// attached to vector-index payloads for display and debugging.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/totenbilder/searchd/internal/config"
)

// ErrRecognitionFailed indicates the OCR service rejected or failed a request.
var ErrRecognitionFailed = errors.New("ocr recognition failed")

// Engine produces UTF-8 text from image bytes.
type Engine interface {
	Recognize(ctx context.Context, data []byte) (string, error)
}

// Client is an Engine backed by an HTTP OCR service.
//
// POST {base}/ocr with raw image bytes -> {"text": "..."}
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an OCR service client.
func NewClient(cfg config.OCRConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ocr base URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Recognize sends image bytes to the OCR service and returns the text.
func (c *Client) Recognize(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrRecognitionFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrRecognitionFailed, err)
	}
	return parsed.Text, nil
}

var _ Engine = (*Client)(nil)
