package embeddings

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totenbilder/searchd/internal/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()

	vec := make([]float32, Dim)
	for i := range vec {
		vec[i] = float32(i) / Dim
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embed/image":
			data, _ := io.ReadAll(r.Body)
			if len(data) == 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		case "/embed/text":
			var req struct {
				Text string `json:"text"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)

	svc, err := NewService(config.EmbeddingConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	return srv, svc
}

func TestEncodeImage(t *testing.T) {
	_, svc := newTestServer(t)

	vec, err := svc.EncodeImage(context.Background(), []byte("fake jpeg"))
	require.NoError(t, err)
	assert.Len(t, vec, Dim)
}

func TestEncodeText(t *testing.T) {
	_, svc := newTestServer(t)

	vec, err := svc.EncodeText(context.Background(), "ein altes foto")
	require.NoError(t, err)
	assert.Len(t, vec, Dim)
}

func TestEncodeEmptyInput(t *testing.T) {
	_, svc := newTestServer(t)

	_, err := svc.EncodeImage(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EncodeText(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEncodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewService(config.EmbeddingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EncodeText(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrEncodingFailed)
}

func TestEncodeWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 2, 3}})
	}))
	defer srv.Close()

	svc, err := NewService(config.EmbeddingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EncodeImage(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestNewServiceRequiresBaseURL(t *testing.T) {
	_, err := NewService(config.EmbeddingConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
