package server

import (
	"context"

	"github.com/totenbilder/searchd/internal/app"
	"github.com/totenbilder/searchd/internal/indexer"
	"github.com/totenbilder/searchd/internal/payloadsync"
	"github.com/totenbilder/searchd/internal/reconcile"
	"github.com/totenbilder/searchd/internal/search"
	"github.com/totenbilder/searchd/internal/tasks"
)

// Searcher answers search queries.
type Searcher interface {
	Search(ctx context.Context, params search.Params) ([]search.Result, error)
}

// Indexer runs the indexing pipeline.
type Indexer interface {
	IndexAll(ctx context.Context, force bool) (indexer.Stats, error)
	IndexOne(ctx context.Context, key string) error
}

// Syncer copies metadata attributes onto vector payloads.
type Syncer interface {
	Sync(ctx context.Context, filename string, all bool) (payloadsync.Stats, error)
}

// Reconciler computes the three-way store diff.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconcile.Report, error)
}

// Backend provides the handlers with their collaborators. Constructors
// may fail when an underlying store is unavailable.
type Backend interface {
	Search(ctx context.Context) (Searcher, error)
	Indexer(ctx context.Context) (Indexer, error)
	PayloadSync(ctx context.Context) (Syncer, error)
	Reconciler(ctx context.Context) (Reconciler, error)
	Jobs() *tasks.Runner
}

// appBackend adapts the app context to the Backend interface.
type appBackend struct {
	app *app.App
}

// NewAppBackend wraps an app context for use by the server.
func NewAppBackend(a *app.App) Backend {
	return &appBackend{app: a}
}

func (b *appBackend) Search(ctx context.Context) (Searcher, error) {
	return b.app.Search(ctx)
}

func (b *appBackend) Indexer(ctx context.Context) (Indexer, error) {
	return b.app.Indexer(ctx)
}

func (b *appBackend) PayloadSync(ctx context.Context) (Syncer, error) {
	return b.app.PayloadSync(ctx)
}

func (b *appBackend) Reconciler(ctx context.Context) (Reconciler, error) {
	return b.app.Reconciler(ctx)
}

func (b *appBackend) Jobs() *tasks.Runner {
	return b.app.Tasks
}
