// Package server provides HTTP handlers and server setup for the index
// search service.
package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"repolens/internal/catalog"
	"repolens/internal/core"
	"repolens/internal/indexhub"
	"repolens/internal/payloadcache"
	"repolens/internal/search"
	"repolens/internal/version"
)

// Handler holds the HTTP handlers
type Handler struct {
	search   *search.Service
	payloads *payloadcache.Cache
	catalog  *catalog.Catalog
	hub      *indexhub.Hub
}

// NewHandler creates a new handler over the search service and its collaborators
func NewHandler(svc *search.Service, payloads *payloadcache.Cache, cat *catalog.Catalog, hub *indexhub.Hub) *Handler {
	return &Handler{
		search:   svc,
		payloads: payloads,
		catalog:  cat,
		hub:      hub,
	}
}

// Search handles POST /v1/search
func (h *Handler) Search(c echo.Context) error {
	var req search.Request
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	result, err := h.search.Search(c.Request().Context(), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// ListRepos handles GET /v1/repos
func (h *Handler) ListRepos(c echo.Context) error {
	repos := h.catalog.List()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"repos": repos,
		"count": len(repos),
	})
}

// RetrievePayload handles GET /cache/:handle
func (h *Handler) RetrievePayload(c echo.Context) error {
	handle := c.Param("handle")

	page := 0
	if raw := c.QueryParam("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError("page must be an integer: "+raw, err))
		}
		page = parsed
	}

	result, err := h.payloads.Retrieve(c.Request().Context(), handle, page)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// CacheStats handles GET /v1/admin/cache/stats
func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.hub.Stats())
}

// InvalidateRepo handles POST /v1/admin/repos/:name/invalidate. Repository
// names containing slashes must be percent-encoded in the path.
func (h *Handler) InvalidateRepo(c echo.Context) error {
	name := c.Param("name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if _, err := h.catalog.Get(name); err != nil {
		return handleError(c, err)
	}

	evicted := h.hub.Invalidate(name)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo":    name,
		"evicted": evicted,
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleError converts service errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var svcErr *core.Error
	if errors.As(err, &svcErr) {
		return c.JSON(svcErr.HTTPStatusCode(), svcErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
