package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/totenbilder/searchd/internal/config"
)

// Service is an Encoder backed by an HTTP CLIP inference service.
//
// Endpoints:
//
//	POST {base}/embed/image  body: raw image bytes      -> {"embedding": [...]}
//	POST {base}/embed/text   body: {"text": "..."}      -> {"embedding": [...]}
type Service struct {
	baseURL string
	client  *http.Client
}

// NewService creates an embedding service client.
func NewService(cfg config.EmbeddingConfig) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type textRequest struct {
	Text string `json:"text"`
}

// EncodeImage embeds raw image bytes.
func (s *Service) EncodeImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	return s.post(ctx, "/embed/image", "application/octet-stream", bytes.NewReader(data))
}

// EncodeText embeds a query string.
func (s *Service) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	body, err := json.Marshal(textRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling text request: %w", err)
	}
	return s.post(ctx, "/embed/text", "application/json", bytes.NewReader(body))
}

func (s *Service) post(ctx context.Context, path, contentType string, body io.Reader) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrEncodingFailed, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEncodingFailed, err)
	}
	if len(parsed.Embedding) != Dim {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrEncodingFailed, Dim, len(parsed.Embedding))
	}
	return parsed.Embedding, nil
}

var _ Encoder = (*Service)(nil)
