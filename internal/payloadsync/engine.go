// Package payloadsync copies mutable metadata attributes from the
// relational store onto the matching vector index payloads.
//
// The images table owns nid and delta; the vector index carries denormalized
// copies so that searches can filter on them without a join. Sync walks the
// relevant rows and patches each indexed point's payload in place.
package payloadsync

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/metadata"
	"github.com/totenbilder/searchd/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/totenbilder/searchd/internal/payloadsync")

// ErrInvalidArgument is returned when the sync target selection is
// ambiguous or empty.
var ErrInvalidArgument = errors.New("payloadsync: exactly one of filename or all must be set")

// MetadataSource yields the rows whose attributes are synced.
type MetadataSource interface {
	All(ctx context.Context) ([]metadata.Record, error)
	Get(ctx context.Context, filename string) (metadata.Record, error)
}

// VectorIndex is the subset of index operations sync needs.
type VectorIndex interface {
	FindByFilename(ctx context.Context, key string, withVector bool) (*vectorindex.Point, error)
	SetMetadata(ctx context.Context, pointID string, nid int64, delta float64) error
}

// Stats tallies the outcome of one sync run.
type Stats struct {
	// Synced counts points whose payload was updated.
	Synced int `json:"synced"`

	// Skipped counts rows with no matching point in the index.
	Skipped int `json:"skipped"`

	// Failed counts rows where the lookup or update errored.
	Failed int `json:"failed"`
}

// Engine syncs metadata attributes onto vector payloads.
type Engine struct {
	records MetadataSource
	index   VectorIndex
	prefix  string
	logger  *zap.Logger
}

// New creates a sync engine. The prefix is prepended to bare metadata
// filenames to form the index key.
func New(records MetadataSource, index VectorIndex, prefix string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		records: records,
		index:   index,
		prefix:  prefix,
		logger:  logger.Named("payloadsync"),
	}
}

// Sync patches nid and delta onto the indexed points. Exactly one of
// filename and all selects the target set; anything else returns
// ErrInvalidArgument. Per-row failures are counted but do not abort the run.
func (e *Engine) Sync(ctx context.Context, filename string, all bool) (Stats, error) {
	ctx, span := tracer.Start(ctx, "payloadsync.Sync")
	defer span.End()

	var stats Stats

	if (filename == "") == !all {
		span.SetStatus(codes.Error, "invalid target selection")
		return stats, ErrInvalidArgument
	}

	var (
		rows []metadata.Record
		err  error
	)
	if all {
		rows, err = e.records.All(ctx)
	} else {
		var row metadata.Record
		row, err = e.records.Get(ctx, filename)
		rows = []metadata.Record{row}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loading metadata rows")
		return stats, fmt.Errorf("loading metadata rows: %w", err)
	}

	e.logger.Info("starting payload sync", zap.Int("rows", len(rows)))

	for _, row := range rows {
		key := metadata.CanonicalKey(e.prefix, row.Filename)

		point, err := e.index.FindByFilename(ctx, key, false)
		if errors.Is(err, vectorindex.ErrNotFound) {
			stats.Skipped++
			continue
		}
		if err != nil {
			stats.Failed++
			e.logger.Warn("payload lookup failed", zap.String("key", key), zap.Error(err))
			continue
		}

		if err := e.index.SetMetadata(ctx, point.ID, row.NID, row.Delta); err != nil {
			stats.Failed++
			e.logger.Warn("payload update failed", zap.String("key", key), zap.Error(err))
			continue
		}
		stats.Synced++
	}

	span.SetAttributes(
		attribute.Int("sync.synced", stats.Synced),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.failed", stats.Failed),
	)
	e.logger.Info("payload sync finished",
		zap.Int("synced", stats.Synced),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
