package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ainexus/herald/internal/archive"
	"github.com/ainexus/herald/internal/runtime"
	"github.com/ainexus/herald/internal/store"
)

// Searcher queries the full-text newsletter index.
type Searcher interface {
	Search(query string, k int) ([]archive.Hit, error)
}

type NewslettersHandler struct {
	store    *store.Store
	searcher Searcher
}

func NewNewslettersHandler(st *store.Store, searcher Searcher) *NewslettersHandler {
	return &NewslettersHandler{store: st, searcher: searcher}
}

func (h *NewslettersHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)
	g.GET("/search", h.search)
}

// List published newsletters
//
//	@Summary	List newsletters
//	@Tags		newsletters
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		limit	query	int	false	"Maximum newsletters to return"
//	@Produce	json
//	@Success	200	{array}		store.NewsletterRecord
//	@Failure	500	{object}	HTTPError
//	@Router		/api/newsletters [get]
func (h *NewslettersHandler) list(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	items, err := h.store.ListNewsletters(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// Full-text search over archived newsletters
//
//	@Summary	Search newsletters
//	@Tags		newsletters
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		q		query	string	true	"Query text"
//	@Param		top_k	query	int		false	"Maximum hits to return"
//	@Produce	json
//	@Success	200	{object}	SearchResponse
//	@Failure	400	{object}	HTTPError
//	@Failure	503	{object}	HTTPError
//	@Router		/api/newsletters/search [get]
func (h *NewslettersHandler) search(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q required")
	}
	topK := 10
	if v := strings.TrimSpace(c.QueryParam("top_k")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}
	if h.searcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index not configured")
	}
	hits, err := h.searcher.Search(query, topK)
	if err != nil {
		if errors.Is(err, archive.ErrSearchDisabled) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "search index not configured")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: query, Hits: hits})
}
