// Package imports serves the operator endpoints that trigger imports and report on them.
package imports

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectologger"
	appcontext "github.com/Ramsey-B/heather/pkg/context"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"github.com/Ramsey-B/heather/pkg/utils"
	"github.com/labstack/echo/v4"
)

// CatalogRunner runs catalog imports on demand.
type CatalogRunner interface {
	Run(ctx context.Context) (models.CatalogResult, error)
	InProgress() bool
}

// AvailabilityRunner runs availability imports on demand.
type AvailabilityRunner interface {
	Run(ctx context.Context) (models.AvailabilityResult, error)
	InProgress() bool
}

// RunHistory reads recorded import runs.
type RunHistory interface {
	List(ctx context.Context, filter models.ImportRunFilter) ([]models.ImportRun, error)
	LatestByFeed(ctx context.Context, feed models.Feed) (*models.ImportRun, error)
}

// Handler serves the import routes.
type Handler struct {
	catalog      CatalogRunner
	availability AvailabilityRunner
	history      RunHistory
	logger       ectologger.Logger
}

func NewHandler(catalog CatalogRunner, availability AvailabilityRunner, history RunHistory, logger ectologger.Logger) *Handler {
	return &Handler{
		catalog:      catalog,
		availability: availability,
		history:      history,
		logger:       logger,
	}
}

// RunsQuery is the query string of GET /runs. Zero values mean no filter and the default limit.
type RunsQuery struct {
	Feed  string `query:"feed" validate:"omitempty,oneof=catalog availability"`
	Limit int    `query:"limit" validate:"omitempty,min=1"`
}

type RunsResponse struct {
	Items []models.ImportRun `json:"items"`
}

type FeedStatus struct {
	Feed       models.Feed       `json:"feed"`
	InProgress bool              `json:"in_progress"`
	LastRun    *models.ImportRun `json:"last_run,omitempty"`
}

type StatusResponse struct {
	Feeds []FeedStatus `json:"feeds"`
}

// Register registers import routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/catalog", h.RunCatalog)
	g.POST("/availability", h.RunAvailability)
	g.GET("/runs", h.ListRuns)
	g.GET("/status", h.Status)
}

// RunCatalog runs the catalog import in the request and returns its summary.
func (h *Handler) RunCatalog(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "imports_handler.RunCatalog")
	defer span.End()

	result, err := h.catalog.Run(manual(ctx))
	if err != nil {
		return err
	}
	return respond(c, models.Summarize(models.FeedCatalog, result))
}

// RunAvailability runs the availability import in the request and returns its summary.
func (h *Handler) RunAvailability(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "imports_handler.RunAvailability")
	defer span.End()

	result, err := h.availability.Run(manual(ctx))
	if err != nil {
		return err
	}
	return respond(c, models.Summarize(models.FeedAvailability, result))
}

// ListRuns returns recent run history, newest first.
func (h *Handler) ListRuns(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "imports_handler.ListRuns")
	defer span.End()

	var query RunsQuery
	if err := c.Bind(&query); err != nil {
		return importerrors.InvalidArgumentf("malformed query parameters: limit must be an integer, got %q", c.QueryParam("limit"))
	}
	if _, err := utils.Validate(query); err != nil {
		return importerrors.InvalidArgument(err.Error())
	}
	filter := models.ImportRunFilter{Feed: models.Feed(query.Feed), Limit: query.Limit}

	runs, err := h.history.List(ctx, filter)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("failed to list import runs")
		return err
	}
	if runs == nil {
		runs = []models.ImportRun{}
	}
	return c.JSON(http.StatusOK, RunsResponse{Items: runs})
}

// Status reports whether each import is running and how its last run ended.
func (h *Handler) Status(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "imports_handler.Status")
	defer span.End()

	feeds := []FeedStatus{
		{Feed: models.FeedCatalog, InProgress: h.catalog.InProgress()},
		{Feed: models.FeedAvailability, InProgress: h.availability.InProgress()},
	}
	for i := range feeds {
		last, err := h.history.LatestByFeed(ctx, feeds[i].Feed)
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).WithField("feed", feeds[i].Feed).Error("failed to read last import run")
			return err
		}
		feeds[i].LastRun = last
	}
	return c.JSON(http.StatusOK, StatusResponse{Feeds: feeds})
}

func manual(ctx context.Context) context.Context {
	return appcontext.SetTrigger(ctx, string(models.TriggerManual))
}

// respond answers 409 when the run was skipped because another one holds the guard.
func respond(c echo.Context, summary models.RunSummary) error {
	if summary.Skipped {
		return c.JSON(http.StatusConflict, summary)
	}
	return c.JSON(http.StatusOK, summary)
}
