package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ainexus/herald/internal/pipeline"
	"github.com/ainexus/herald/internal/runtime"
	"github.com/ainexus/herald/internal/store"
)

// Engine runs the generation pipeline under a pre-assigned run ID.
type Engine interface {
	GenerateWithID(ctx context.Context, trigger, id string) (*pipeline.RunState, error)
}

type RunsHandler struct {
	store  *store.Store
	engine Engine
	logger *log.Logger
}

func NewRunsHandler(st *store.Store, engine Engine) *RunsHandler {
	return &RunsHandler{
		store:  st,
		engine: engine,
		logger: log.New(log.Writer(), "[RUNS] ", log.LstdFlags),
	}
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.trigger)
	g.GET("", h.list)
	g.GET("/:run_id", h.get)
	g.GET("/:run_id/newsletter", h.newsletter)
}

// Trigger a new generation run
//
//	@Summary	Trigger run
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Produce	json
//	@Success	202	{object}	IDResponse	"Run accepted"
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs [post]
func (h *RunsHandler) trigger(c echo.Context) error {
	state := &pipeline.RunState{
		ID:        uuid.New().String(),
		Trigger:   "manual",
		Status:    pipeline.StatusPending,
		StartedAt: time.Now(),
	}
	// record the run before returning so the id is immediately queryable
	if err := h.store.CreateRun(c.Request().Context(), state); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if _, err := h.engine.GenerateWithID(ctx, "manual", state.ID); err != nil {
			h.logger.Printf("run %s failed: %v", state.ID, err)
		}
	}()

	return c.JSON(http.StatusAccepted, IDResponse{ID: state.ID})
}

// List recent runs
//
//	@Summary	List runs
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		limit	query	int	false	"Maximum runs to return"
//	@Produce	json
//	@Success	200	{array}		store.RunRecord
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs [get]
func (h *RunsHandler) list(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	items, err := h.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// Get a run by id
//
//	@Summary	Run by ID
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{object}	store.RunRecord
//	@Failure	404	{object}	HTTPError
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs/{run_id} [get]
func (h *RunsHandler) get(c echo.Context) error {
	rec, ok, err := h.store.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, rec)
}

// Get the newsletter produced by a run as markdown
//
//	@Summary	Run newsletter markdown
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	text/markdown
//	@Success	200	{string}	string
//	@Failure	404	{object}	HTTPError
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs/{run_id}/newsletter [get]
func (h *RunsHandler) newsletter(c echo.Context) error {
	rec, ok, err := h.store.GetNewsletterByRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "newsletter not found")
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(rec.Markdown))
}
