// Package reconcile computes the three-way diff between the metadata store,
// the vector index, and the object store.
//
// The diff answers two operational questions: which images still need
// indexing (present in metadata and the object store, absent from the
// index), and which metadata rows point at objects that no longer exist.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/metadata"
)

// MetadataSource lists the filenames known to the relational store.
type MetadataSource interface {
	Filenames(ctx context.Context) ([]string, error)
}

// IndexSource lists the canonical keys present in the vector index.
type IndexSource interface {
	Filenames(ctx context.Context) (map[string]struct{}, error)
}

// ObjectSource lists the object keys under the storage prefix.
type ObjectSource interface {
	List(ctx context.Context) ([]string, error)
}

// Report is the result of one reconciliation run. It is recomputed on
// demand and never persisted.
type Report struct {
	// TotalMetadata is the number of distinct canonical keys in the
	// metadata store.
	TotalMetadata int

	// TotalIndexed is the number of distinct filenames in the vector index.
	TotalIndexed int

	// MissingInIndex holds keys present in metadata but absent from the
	// index, sorted.
	MissingInIndex []string

	// ReadyToIndex is the subset of MissingInIndex that exists in the
	// object store; empty when ObjectStoreChecked is false.
	ReadyToIndex []string

	// MissingInObjectStore is the subset of MissingInIndex absent from the
	// object store as well (dead rows); empty when ObjectStoreChecked is
	// false.
	MissingInObjectStore []string

	// ObjectStoreChecked reports whether the partition against the object
	// store was performed. When false, MissingInIndex is unpartitioned.
	ObjectStoreChecked bool
}

// Engine computes reconciliation reports.
//
// The object source may be nil when the object store is unavailable; the
// report is then returned unpartitioned and flagged.
type Engine struct {
	meta    MetadataSource
	index   IndexSource
	objects ObjectSource
	prefix  string
	logger  *zap.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(meta MetadataSource, index IndexSource, objects ObjectSource, prefix string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		meta:    meta,
		index:   index,
		objects: objects,
		prefix:  prefix,
		logger:  logger.Named("reconcile"),
	}
}

// Reconcile reads all three stores and computes the diff. It is read-only.
// A failure reading the metadata store or the index aborts the run; no
// partial report is returned.
func (e *Engine) Reconcile(ctx context.Context) (*Report, error) {
	names, err := e.meta.Filenames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing metadata filenames: %w", err)
	}

	metaKeys := make(map[string]struct{}, len(names))
	for _, name := range names {
		metaKeys[metadata.CanonicalKey(e.prefix, name)] = struct{}{}
	}
	e.logger.Info("loaded metadata keys", zap.Int("count", len(metaKeys)))

	indexed, err := e.index.Filenames(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning vector index: %w", err)
	}
	e.logger.Info("scanned vector index", zap.Int("count", len(indexed)))

	var missing []string
	for key := range metaKeys {
		if _, ok := indexed[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)

	report := &Report{
		TotalMetadata:  len(metaKeys),
		TotalIndexed:   len(indexed),
		MissingInIndex: missing,
	}

	if e.objects == nil {
		e.logger.Warn("object store unavailable, skipping partition")
		return report, nil
	}

	objectKeys, err := e.objects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing object store: %w", err)
	}
	objectSet := make(map[string]struct{}, len(objectKeys))
	for _, key := range objectKeys {
		objectSet[key] = struct{}{}
	}

	for _, key := range missing {
		if _, ok := objectSet[key]; ok {
			report.ReadyToIndex = append(report.ReadyToIndex, key)
		} else {
			report.MissingInObjectStore = append(report.MissingInObjectStore, key)
		}
	}
	report.ObjectStoreChecked = true

	e.logger.Info("reconciliation complete",
		zap.Int("missing_in_index", len(report.MissingInIndex)),
		zap.Int("ready_to_index", len(report.ReadyToIndex)),
		zap.Int("missing_in_object_store", len(report.MissingInObjectStore)),
	)
	return report, nil
}

// Sample returns at most n entries of keys; used to bound API responses.
func Sample(keys []string, n int) []string {
	if len(keys) <= n {
		return keys
	}
	return keys[:n]
}
