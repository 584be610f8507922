// Package app wires the stores, clients, and engines together.
//
// Collaborators are constructed lazily on first use and cached, including
// cached failures: an unreachable store makes every dependent operation
// fail fast with ErrUnavailable instead of retrying the connection on each
// request. Warm pre-builds everything from a background goroutine at daemon
// startup so the listener is never blocked on slow stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/config"
	"github.com/totenbilder/searchd/internal/embeddings"
	"github.com/totenbilder/searchd/internal/imagestore"
	"github.com/totenbilder/searchd/internal/indexer"
	"github.com/totenbilder/searchd/internal/metadata"
	"github.com/totenbilder/searchd/internal/ocr"
	"github.com/totenbilder/searchd/internal/payloadsync"
	"github.com/totenbilder/searchd/internal/reconcile"
	"github.com/totenbilder/searchd/internal/search"
	"github.com/totenbilder/searchd/internal/tasks"
	"github.com/totenbilder/searchd/internal/vectorindex"
)

// ErrUnavailable is returned when a required collaborator could not be
// initialized.
var ErrUnavailable = errors.New("service unavailable")

// lazy caches a one-time construction, failure included.
type lazy[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
	err   error
}

func (l *lazy[T]) get(build func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.value, l.err = build()
		l.done = true
	}
	return l.value, l.err
}

// peek returns the cached value without building it.
func (l *lazy[T]) peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.done && l.err == nil
}

// App holds the process-wide collaborators.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Tasks  *tasks.Runner

	images   lazy[*imagestore.Store]
	records  lazy[*metadata.Store]
	index    lazy[*vectorindex.Index]
	encoder  lazy[*embeddings.Service]
	ocrEng   lazy[ocr.Engine]
}

// New creates an app context. Nothing is connected yet.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config: cfg,
		Logger: logger,
		Tasks:  tasks.NewRunner(logger),
	}
}

// Images returns the object store client.
func (a *App) Images(ctx context.Context) (*imagestore.Store, error) {
	store, err := a.images.get(func() (*imagestore.Store, error) {
		return imagestore.Connect(ctx, a.Config.S3)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: object store: %v", ErrUnavailable, err)
	}
	return store, nil
}

// Records returns the relational metadata store.
func (a *App) Records(ctx context.Context) (*metadata.Store, error) {
	store, err := a.records.get(func() (*metadata.Store, error) {
		return metadata.Connect(ctx, a.Config.Database.DSN.Value())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: metadata store: %v", ErrUnavailable, err)
	}
	return store, nil
}

// Index returns the vector index, with the collection and payload index
// ensured.
func (a *App) Index(ctx context.Context) (*vectorindex.Index, error) {
	idx, err := a.index.get(func() (*vectorindex.Index, error) {
		idx, err := vectorindex.NewIndex(vectorindex.Config{
			Host:       a.Config.Qdrant.Host,
			Port:       a.Config.Qdrant.Port,
			APIKey:     a.Config.Qdrant.APIKey.Value(),
			Collection: a.Config.Qdrant.Collection,
			UseTLS:     a.Config.Qdrant.UseTLS,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureCollection(ctx); err != nil {
			_ = idx.Close()
			return nil, err
		}
		return idx, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector index: %v", ErrUnavailable, err)
	}
	return idx, nil
}

// Encoder returns the embedding inference client.
func (a *App) Encoder(ctx context.Context) (*embeddings.Service, error) {
	enc, err := a.encoder.get(func() (*embeddings.Service, error) {
		return embeddings.NewService(a.Config.Embedding)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoder: %v", ErrUnavailable, err)
	}
	return enc, nil
}

// OCR returns the OCR engine, or nil when OCR is disabled.
func (a *App) OCR(ctx context.Context) (ocr.Engine, error) {
	if !a.Config.OCR.Enabled {
		return nil, nil
	}
	eng, err := a.ocrEng.get(func() (ocr.Engine, error) {
		return ocr.NewClient(a.Config.OCR)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ocr: %v", ErrUnavailable, err)
	}
	return eng, nil
}

// Indexer builds the bulk indexing pipeline from the live collaborators.
func (a *App) Indexer(ctx context.Context) (*indexer.Pipeline, error) {
	images, err := a.Images(ctx)
	if err != nil {
		return nil, err
	}
	index, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	encoder, err := a.Encoder(ctx)
	if err != nil {
		return nil, err
	}
	ocrEngine, err := a.OCR(ctx)
	if err != nil {
		return nil, err
	}
	return indexer.New(images, index, encoder, ocrEngine, a.Config.S3.Prefix, a.Logger), nil
}

// PayloadSync builds the payload sync engine.
func (a *App) PayloadSync(ctx context.Context) (*payloadsync.Engine, error) {
	records, err := a.Records(ctx)
	if err != nil {
		return nil, err
	}
	index, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	return payloadsync.New(records, index, a.Config.S3.Prefix, a.Logger), nil
}

// Search builds the search service.
func (a *App) Search(ctx context.Context) (*search.Service, error) {
	index, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	encoder, err := a.Encoder(ctx)
	if err != nil {
		return nil, err
	}
	return search.New(index, encoder, a.Config.S3.Prefix, a.Config.Server.PublicImageBaseURL, a.Logger), nil
}

// Reconciler builds the reconciliation engine. The object store is
// optional there; a connection failure degrades the report instead of
// failing it.
func (a *App) Reconciler(ctx context.Context) (*reconcile.Engine, error) {
	records, err := a.Records(ctx)
	if err != nil {
		return nil, err
	}
	index, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	var objects reconcile.ObjectSource
	if images, err := a.Images(ctx); err != nil {
		a.Logger.Warn("object store unavailable, reconciliation degraded", zap.Error(err))
	} else {
		objects = images
	}
	return reconcile.NewEngine(records, index, objects, a.Config.S3.Prefix, a.Logger), nil
}

// Warm pre-builds every collaborator so the first request does not pay
// connection latency. Failures are logged and cached; the daemon still
// serves, returning ErrUnavailable from the affected operations.
func (a *App) Warm(ctx context.Context) {
	if _, err := a.Images(ctx); err != nil {
		a.Logger.Warn("warmup: object store", zap.Error(err))
	}
	if _, err := a.Records(ctx); err != nil {
		a.Logger.Warn("warmup: metadata store", zap.Error(err))
	}
	if _, err := a.Index(ctx); err != nil {
		a.Logger.Warn("warmup: vector index", zap.Error(err))
	}
	if _, err := a.Encoder(ctx); err != nil {
		a.Logger.Warn("warmup: encoder", zap.Error(err))
	}
	if _, err := a.OCR(ctx); err != nil {
		a.Logger.Warn("warmup: ocr", zap.Error(err))
	}
	a.Logger.Info("warmup finished")
}

// Close releases held connections. Collaborators that were never built
// are left alone.
func (a *App) Close() {
	a.Tasks.Wait()
	if store, ok := a.records.peek(); ok {
		store.Close()
	}
	if idx, ok := a.index.peek(); ok {
		_ = idx.Close()
	}
}
