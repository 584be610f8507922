// Package search runs semantic and reference-image queries against the
// vector index.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/embeddings"
	"github.com/totenbilder/searchd/internal/metadata"
	"github.com/totenbilder/searchd/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/totenbilder/searchd/internal/search")

// DefaultLimit is used when a request does not set one.
const DefaultLimit = 30

// VectorIndex is the subset of index operations search needs.
type VectorIndex interface {
	FindByFilename(ctx context.Context, key string, withVector bool) (*vectorindex.Point, error)
	Search(ctx context.Context, vector []float32, filter vectorindex.Filter, limit, offset uint64) ([]vectorindex.Scored, error)
}

// Params selects what to search for. Exactly one of Query and Similar is
// meaningful; with neither set the result is empty, not an error.
type Params struct {
	// Query is free text, encoded into the shared embedding space.
	Query string `json:"query"`

	// Similar is the filename of a reference image whose stored vector
	// seeds the query.
	Similar string `json:"similar"`

	Limit  uint64 `json:"limit"`
	Offset uint64 `json:"offset"`

	// Delta filters on the delta payload attribute.
	Delta vectorindex.DeltaFilter `json:"delta"`
}

// Result is one ranked hit.
type Result struct {
	Filename string  `json:"filename"`
	ImageURL string  `json:"image_url"`
	Score    float64 `json:"score"`
}

// Service answers search queries.
type Service struct {
	index   VectorIndex
	encoder embeddings.Encoder
	prefix  string
	baseURL string
	logger  *zap.Logger
}

// New creates a search service. baseURL is the public URL prefix image
// links are built from.
func New(index VectorIndex, encoder embeddings.Encoder, prefix, baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		index:   index,
		encoder: encoder,
		prefix:  prefix,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("search"),
	}
}

// Search resolves the query vector, runs the nearest-neighbor query, and
// maps the hits to results. Index-native ranking is preserved untouched.
func (s *Service) Search(ctx context.Context, params Params) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()

	if params.Query == "" && params.Similar == "" {
		return []Result{}, nil
	}
	if err := params.Delta.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid delta filter")
		return nil, err
	}
	if params.Limit == 0 {
		params.Limit = DefaultLimit
	}

	vector, err := s.queryVector(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolving query vector")
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector, vectorindex.Filter{Delta: params.Delta}, params.Limit, params.Offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "querying index")
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Filename: hit.Payload.Filename,
			ImageURL: s.baseURL + "/" + hit.Payload.Filename,
			Score:    roundScore(hit.Score),
		})
	}

	span.SetAttributes(attribute.Int("search.results", len(results)))
	s.logger.Debug("search finished",
		zap.String("query", params.Query),
		zap.String("similar", params.Similar),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// queryVector encodes the text query, or fetches the reference image's
// stored vector when Similar is set. Similar wins if both are given.
func (s *Service) queryVector(ctx context.Context, params Params) ([]float32, error) {
	if params.Similar != "" {
		key := metadata.CanonicalKey(s.prefix, params.Similar)
		point, err := s.index.FindByFilename(ctx, key, true)
		if errors.Is(err, vectorindex.ErrNotFound) {
			return nil, fmt.Errorf("reference image %s: %w", key, err)
		}
		if err != nil {
			return nil, fmt.Errorf("looking up reference image %s: %w", key, err)
		}
		return point.Vector, nil
	}

	vector, err := s.encoder.EncodeText(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	return vector, nil
}

// roundScore rounds the index's native similarity score to 3 decimals.
func roundScore(score float32) float64 {
	return math.Round(float64(score)*1000) / 1000
}
