// Package indexer turns object-store images into vector-index points,
// idempotently and in batches.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"strings"

	// Decoders for the supported image formats.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/embeddings"
	"github.com/totenbilder/searchd/internal/metadata"
	"github.com/totenbilder/searchd/internal/ocr"
	"github.com/totenbilder/searchd/internal/vectorindex"
)

// batchSize is the upsert buffer threshold.
const batchSize = 50

// supportedExtensions are the image formats the pipeline indexes.
var supportedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// ObjectStore lists and fetches image blobs.
type ObjectStore interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// VectorIndex is the subset of index operations the pipeline needs.
type VectorIndex interface {
	FindByFilename(ctx context.Context, key string, withVector bool) (*vectorindex.Point, error)
	Upsert(ctx context.Context, points []vectorindex.Point) error
}

// Stats summarizes one bulk-indexing run.
type Stats struct {
	// Processed counts images newly embedded and upserted.
	Processed int `json:"processed"`

	// Skipped counts images that were already indexed.
	Skipped int `json:"skipped"`

	// Failed counts images that errored and will be retried on a future
	// run (they are neither processed nor skipped).
	Failed int `json:"failed"`
}

// Pipeline indexes images from the object store into the vector index.
type Pipeline struct {
	objects ObjectStore
	index   VectorIndex
	encoder embeddings.Encoder
	ocr     ocr.Engine // nil when OCR is disabled
	prefix  string
	logger  *zap.Logger
	metrics *metrics
}

// New creates an indexing pipeline. The OCR engine may be nil; points are
// then written without ocr_text.
func New(objects ObjectStore, index VectorIndex, encoder embeddings.Encoder, ocrEngine ocr.Engine, prefix string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		objects: objects,
		index:   index,
		encoder: encoder,
		ocr:     ocrEngine,
		prefix:  prefix,
		logger:  logger.Named("indexer"),
		metrics: newMetrics(logger),
	}
}

// PointID derives the vector point id deterministically from the canonical
// key, so re-indexing the same image always overwrites the same point
// instead of creating a duplicate.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// IndexAll walks every object under the prefix and indexes the images that
// are not in the vector index yet. With force set, the existence check is
// skipped and every image is re-embedded and overwritten.
//
// Per-item fetch/decode/embed failures are logged and counted but do not
// abort the run; listing or upsert failures do.
func (p *Pipeline) IndexAll(ctx context.Context, force bool) (Stats, error) {
	var stats Stats

	keys, err := p.objects.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing objects: %w", err)
	}

	p.logger.Info("starting bulk indexing",
		zap.Int("objects", len(keys)),
		zap.Bool("force", force),
	)

	buffer := make([]vectorindex.Point, 0, batchSize)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := p.index.Upsert(ctx, buffer); err != nil {
			return fmt.Errorf("upserting batch: %w", err)
		}
		buffer = buffer[:0]
		p.logger.Info("progress", zap.Int("processed", stats.Processed))
		return nil
	}

	for _, key := range keys {
		if key == p.prefix {
			continue
		}
		if !isSupportedImage(key) {
			continue
		}

		if !force {
			_, err := p.index.FindByFilename(ctx, key, false)
			if err == nil {
				stats.Skipped++
				p.metrics.recordSkipped(ctx)
				continue
			}
			if !errors.Is(err, vectorindex.ErrNotFound) {
				return stats, fmt.Errorf("existence check for %s: %w", key, err)
			}
		}

		point, err := p.buildPoint(ctx, key)
		if err != nil {
			stats.Failed++
			p.metrics.recordFailed(ctx)
			p.logger.Warn("skipping image after error", zap.String("key", key), zap.Error(err))
			continue
		}

		buffer = append(buffer, *point)
		stats.Processed++
		p.metrics.recordProcessed(ctx)

		if len(buffer) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	p.logger.Info("bulk indexing finished",
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// IndexOne fetches, embeds, and upserts exactly one key, overwriting any
// existing point for that key. Returns an error wrapping os.ErrNotExist
// when the object cannot be fetched.
func (p *Pipeline) IndexOne(ctx context.Context, key string) error {
	key = metadata.CanonicalKey(p.prefix, key)
	p.logger.Info("indexing single image", zap.String("key", key))

	point, err := p.buildPoint(ctx, key)
	if err != nil {
		return err
	}
	if err := p.index.Upsert(ctx, []vectorindex.Point{*point}); err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}

	p.metrics.recordProcessed(ctx)
	return nil
}

// buildPoint fetches the blob, validates it decodes as an image, embeds it,
// and attaches OCR text when an engine is configured.
func (p *Pipeline) buildPoint(ctx context.Context, key string) (*vectorindex.Point, error) {
	data, err := p.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}

	vector, err := p.encoder.EncodeImage(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", key, err)
	}

	payload := vectorindex.Payload{Filename: key}
	if p.ocr != nil {
		text, err := p.ocr.Recognize(ctx, data)
		if err != nil {
			// OCR text is a nice-to-have; the point is still indexed.
			p.logger.Warn("ocr failed", zap.String("key", key), zap.Error(err))
		} else {
			payload.OCRText = text
		}
	}

	return &vectorindex.Point{
		ID:      PointID(key),
		Vector:  vector,
		Payload: payload,
	}, nil
}

// isSupportedImage checks the key extension against the supported formats.
func isSupportedImage(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	_, ok := supportedExtensions[ext]
	return ok
}
