package catalogversion

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/refrange/internal/platform/apperr"
	"github.com/ehr/refrange/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/catalog/versions", h.ListVersions)
	api.GET("/catalog/versions/latest", h.GetLatest)
	api.GET("/catalog/versions/:number", h.GetVersion)
	api.POST("/catalog/versions", h.CommitVersion)
}

func (h *Handler) ListVersions(c echo.Context) error {
	p := pagination.FromContext(c)
	versions, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(versions, total, p).WithLinks(c.Path()))
}

func (h *Handler) GetLatest(c echo.Context) error {
	v, err := h.svc.Latest(c.Request().Context())
	if err != nil {
		return httpError(err, "no catalog version recorded")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetVersion(c echo.Context) error {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid version number")
	}
	v, err := h.svc.Get(c.Request().Context(), n)
	if err != nil {
		return httpError(err, "catalog version not found")
	}
	return c.JSON(http.StatusOK, v)
}

// CommitVersion appends a version when the catalog changed. With
// ?dry_run=true it only reports whether it would.
func (h *Handler) CommitVersion(c echo.Context) error {
	ctx := c.Request().Context()
	dry := false
	if raw := c.QueryParam("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return httpError(apperr.NewInputError("dry_run", "must be a boolean, got "+strconv.Quote(raw)), "")
		}
		dry = v
	}
	var (
		res *CommitResult
		err error
	)
	if dry {
		res, err = h.svc.Check(ctx)
	} else {
		res, err = h.svc.Commit(ctx)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if res.Committed {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func httpError(err error, notFound string) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case apperr.IsInput(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
