// Package embeddings provides image and text embedding generation via an
// external CLIP inference service.
//
// The image encoder and the multilingual text encoder share one 512-dim
// embedding space, so a text query vector can rank image vectors directly.
package embeddings

import (
	"context"
	"errors"
)

// Dim is the dimensionality of the shared embedding space.
const Dim = 512

var (
	// ErrEmptyInput indicates empty input bytes or text.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEncodingFailed indicates embedding generation failure.
	ErrEncodingFailed = errors.New("embedding generation failed")
)

// Encoder generates vectors in the shared image/text embedding space.
type Encoder interface {
	// EncodeImage embeds raw image bytes.
	EncodeImage(ctx context.Context, data []byte) ([]float32, error)

	// EncodeText embeds a search query string.
	EncodeText(ctx context.Context, text string) ([]float32, error)
}
