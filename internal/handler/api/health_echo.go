package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	"PegWatch/internal/usecase"
	xhttp "PegWatch/pkg/http"
	"PegWatch/pkg/http/middleware"
	applogger "PegWatch/pkg/logger"
	"PegWatch/pkg/util"
)

// HealthEchoHandler exposes the health monitor over HTTP.
type HealthEchoHandler struct {
	monitor  *usecase.HealthMonitor
	registry domrepo.AssetRegistry
	limiter  middleware.Allower
	logger   *applogger.Logger
}

type availabilityReporter interface {
	Availability() map[string]bool
}

func NewHealthEchoHandler(monitor *usecase.HealthMonitor, registry domrepo.AssetRegistry, limiter middleware.Allower, l *applogger.Logger) *HealthEchoHandler {
	if l == nil {
		l = applogger.NewNop()
	}
	return &HealthEchoHandler{monitor: monitor, registry: registry, limiter: limiter, logger: l}
}

func (h *HealthEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api/v1")
	if h.limiter != nil {
		g.Use(middleware.RateLimit(h.limiter))
	}
	g.GET("/assets", h.Assets)
	g.GET("/health", h.BatchHealth)
	g.GET("/health/:symbol", h.Health)
	g.GET("/monitors", h.Monitors)
	g.POST("/monitors", h.StartMonitor)
	g.DELETE("/monitors", h.StopAllMonitors)
	g.DELETE("/monitors/:symbol", h.StopMonitor)
}

func (h *HealthEchoHandler) Healthz(c echo.Context) error {
	src := h.monitor.Source()
	body := map[string]interface{}{
		"status": "ok",
		"source": src.Name(),
	}
	if r, ok := src.(availabilityReporter); ok {
		body["sources"] = r.Availability()
	}
	if !src.IsAvailable() {
		body["status"] = "degraded"
		return xhttp.ServiceUnavailableResponse(c, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *HealthEchoHandler) Assets(c echo.Context) error {
	symbols := h.registry.ListAll()
	out := make([]models.AssetMetadata, 0, len(symbols))
	for _, s := range symbols {
		if a, ok := h.registry.Lookup(s); ok {
			out = append(out, a)
		}
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *HealthEchoHandler) Health(c echo.Context) error {
	req := &models.HealthRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	report, err := h.monitor.GetHealth(c.Request().Context(), req.Symbol, req.Chain)
	if err != nil {
		return xhttp.AppErrorResponse(c, h.mapError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, report)
}

// BatchHealth checks a comma separated list, or every registered asset when
// symbols is empty. Symbols that fail are left out of the result.
func (h *HealthEchoHandler) BatchHealth(c echo.Context) error {
	req := &models.BatchHealthRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	symbols := util.SplitSymbols(req.Symbols)
	if len(symbols) == 0 {
		symbols = h.registry.ListAll()
	}
	reports := h.monitor.GetMultipleHealth(c.Request().Context(), symbols, req.Chain)
	return xhttp.SuccessResponse(c, reports)
}

func (h *HealthEchoHandler) Monitors(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.monitor.ActiveMonitors())
}

func (h *HealthEchoHandler) StartMonitor(c echo.Context) error {
	req := &models.MonitorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if err := h.monitor.StartMonitoring(c.Request().Context(), req.Symbol, req.Chain, interval); err != nil {
		return xhttp.AppErrorResponse(c, h.mapError(err))
	}
	return xhttp.CreatedResponse(c, map[string]interface{}{
		"symbol":      req.Symbol,
		"chain":       req.Chain,
		"interval_ms": req.IntervalMs,
	})
}

func (h *HealthEchoHandler) StopMonitor(c echo.Context) error {
	req := &models.StopMonitorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if !h.monitor.StopMonitoring(req.Symbol, req.Chain) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no active monitor").WithParam("symbol", req.Symbol))
	}
	return xhttp.NoContentResponse(c)
}

func (h *HealthEchoHandler) StopAllMonitors(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]int{"stopped": h.monitor.StopAllMonitoring()})
}

func (h *HealthEchoHandler) mapError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrUnsupportedAsset):
		return xhttp.NewAppError("ERR_UNSUPPORTED_ASSET", "symbol", err.Error(), http.StatusNotFound).WithError(err)
	case errors.Is(err, models.ErrNoPriceData):
		return xhttp.NewAppError("ERR_NO_DATA", "", err.Error(), http.StatusServiceUnavailable).WithError(err)
	default:
		h.logger.Error("health request failed", applogger.Error(err))
		return xhttp.InternalError("health check failed").WithError(err)
	}
}
