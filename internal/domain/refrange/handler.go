package refrange

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/refrange/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reference-ranges/audit", h.Audit)
	api.POST("/reference-ranges/repairs/:kind", h.Repair)
}

func (h *Handler) Audit(c echo.Context) error {
	rep, err := h.svc.Audit(c.Request().Context(), c.QueryParam("filter"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Repair plans one pass and applies it when the body sets "apply".
func (h *Handler) Repair(c echo.Context) error {
	kind, ok := ParseKind(c.Param("kind"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown repair "+c.Param("kind"))
	}
	var req Request
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	req.Kind = kind
	req.OnPlan = nil

	res, err := h.svc.Run(c.Request().Context(), req)
	if err != nil {
		if res != nil {
			return c.JSON(http.StatusInternalServerError, res)
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func httpError(err error) error {
	var in *apperr.InputError
	if errors.As(err, &in) {
		return echo.NewHTTPError(http.StatusBadRequest, in.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
