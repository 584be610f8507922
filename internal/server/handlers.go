package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/app"
	"github.com/totenbilder/searchd/internal/embeddings"
	"github.com/totenbilder/searchd/internal/metadata"
	"github.com/totenbilder/searchd/internal/payloadsync"
	"github.com/totenbilder/searchd/internal/reconcile"
	"github.com/totenbilder/searchd/internal/search"
	"github.com/totenbilder/searchd/internal/tasks"
	"github.com/totenbilder/searchd/internal/vectorindex"
)

// sampleCap bounds the filename lists in the reconciliation response.
const sampleCap = 500

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// SearchResponse is the response body for the search endpoints.
type SearchResponse struct {
	Results []search.Result `json:"results"`
	Count   int             `json:"count"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var params search.Params
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return s.runSearch(c, params)
}

// handleSearchGet is the query-string form, text queries only.
func (s *Server) handleSearchGet(c echo.Context) error {
	params := search.Params{
		Query: c.QueryParam("query"),
		Delta: vectorindex.DeltaFilter(c.QueryParam("delta")),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		params.Limit = limit
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		params.Offset = offset
	}
	return s.runSearch(c, params)
}

func (s *Server) runSearch(c echo.Context, params search.Params) error {
	ctx := c.Request().Context()

	svc, err := s.backend.Search(ctx)
	if err != nil {
		return s.mapError(c, err)
	}
	results, err := svc.Search(ctx, params)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// IndexRequest is the request body for POST /api/index.
type IndexRequest struct {
	ForceReindex bool `json:"force_reindex"`
}

// JobResponse acknowledges a dispatched background job.
type JobResponse struct {
	Job *tasks.Job `json:"job"`
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	pipeline, err := s.backend.Indexer(ctx)
	if err != nil {
		return s.mapError(c, err)
	}

	job := s.backend.Jobs().Submit("bulk-index", func(ctx context.Context) (any, error) {
		return pipeline.IndexAll(ctx, req.ForceReindex)
	})
	return c.JSON(http.StatusAccepted, JobResponse{Job: job})
}

// IndexOneRequest is the request body for POST /api/index-one.
type IndexOneRequest struct {
	Filename string `json:"filename"`
}

// IndexOneResponse reports the synchronously indexed key.
type IndexOneResponse struct {
	Indexed string `json:"indexed"`
}

func (s *Server) handleIndexOne(c echo.Context) error {
	var req IndexOneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "filename is required")
	}

	ctx := c.Request().Context()
	pipeline, err := s.backend.Indexer(ctx)
	if err != nil {
		return s.mapError(c, err)
	}

	if err := pipeline.IndexOne(ctx, req.Filename); err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, IndexOneResponse{Indexed: req.Filename})
}

// UpdatePayloadRequest is the request body for POST /api/update-payload.
type UpdatePayloadRequest struct {
	Filename string `json:"filename"`
	All      bool   `json:"all"`
}

func (s *Server) handleUpdatePayload(c echo.Context) error {
	var req UpdatePayloadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if (req.Filename != "") == req.All {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of filename and all must be set")
	}

	ctx := c.Request().Context()
	syncer, err := s.backend.PayloadSync(ctx)
	if err != nil {
		return s.mapError(c, err)
	}

	job := s.backend.Jobs().Submit("payload-sync", func(ctx context.Context) (any, error) {
		return syncer.Sync(ctx, req.Filename, req.All)
	})
	return c.JSON(http.StatusAccepted, JobResponse{Job: job})
}

// ReconcileResponse is the response body for GET /api/reconcile. The
// filename lists are capped samples, not complete sets.
type ReconcileResponse struct {
	TotalMetadata        int      `json:"total_metadata"`
	TotalIndexed         int      `json:"total_indexed"`
	MissingInIndex       int      `json:"missing_in_index"`
	ReadyToIndex         int      `json:"ready_to_index"`
	MissingInObjectStore int      `json:"missing_in_object_store"`
	ObjectStoreChecked   bool     `json:"object_store_checked"`
	MissingSample        []string `json:"missing_sample"`
	ReadySample          []string `json:"ready_sample"`
	DeadRowSample        []string `json:"dead_row_sample"`
}

func (s *Server) handleReconcile(c echo.Context) error {
	ctx := c.Request().Context()

	engine, err := s.backend.Reconciler(ctx)
	if err != nil {
		return s.mapError(c, err)
	}
	report, err := engine.Reconcile(ctx)
	if err != nil {
		return s.mapError(c, err)
	}

	return c.JSON(http.StatusOK, ReconcileResponse{
		TotalMetadata:        report.TotalMetadata,
		TotalIndexed:         report.TotalIndexed,
		MissingInIndex:       len(report.MissingInIndex),
		ReadyToIndex:         len(report.ReadyToIndex),
		MissingInObjectStore: len(report.MissingInObjectStore),
		ObjectStoreChecked:   report.ObjectStoreChecked,
		MissingSample:        reconcile.Sample(report.MissingInIndex, sampleCap),
		ReadySample:          reconcile.Sample(report.ReadyToIndex, sampleCap),
		DeadRowSample:        reconcile.Sample(report.MissingInObjectStore, sampleCap),
	})
}

func (s *Server) handleJob(c echo.Context) error {
	job, err := s.backend.Jobs().Get(c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, JobResponse{Job: job})
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, app.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, vectorindex.ErrNotFound),
		errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, os.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, payloadsync.ErrInvalidArgument),
		errors.Is(err, vectorindex.ErrInvalidFilter),
		errors.Is(err, embeddings.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
