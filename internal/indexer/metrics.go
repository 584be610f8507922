package indexer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/totenbilder/searchd/internal/indexer"

// metrics holds the indexing counters.
type metrics struct {
	processed metric.Int64Counter
	skipped   metric.Int64Counter
	failed    metric.Int64Counter
}

func newMetrics(logger *zap.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}

	var err error
	m.processed, err = meter.Int64Counter(
		"searchd.indexer.images_processed_total",
		metric.WithDescription("Images newly embedded and upserted into the vector index."),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		logger.Warn("failed to create processed counter", zap.Error(err))
	}

	m.skipped, err = meter.Int64Counter(
		"searchd.indexer.images_skipped_total",
		metric.WithDescription("Images skipped because they were already indexed."),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		logger.Warn("failed to create skipped counter", zap.Error(err))
	}

	m.failed, err = meter.Int64Counter(
		"searchd.indexer.images_failed_total",
		metric.WithDescription("Images that failed to fetch, decode, or embed."),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		logger.Warn("failed to create failed counter", zap.Error(err))
	}

	return m
}

func (m *metrics) recordProcessed(ctx context.Context) {
	if m.processed != nil {
		m.processed.Add(ctx, 1)
	}
}

func (m *metrics) recordSkipped(ctx context.Context) {
	if m.skipped != nil {
		m.skipped.Add(ctx, 1)
	}
}

func (m *metrics) recordFailed(ctx context.Context) {
	if m.failed != nil {
		m.failed.Add(ctx, 1)
	}
}
