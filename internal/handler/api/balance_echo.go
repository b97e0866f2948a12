package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"KasPull/internal/domain/models"
	"KasPull/internal/service/metrics"
	"KasPull/internal/service/ratelimit"
	"KasPull/internal/usecase"
	xhttp "KasPull/pkg/http"
	xlogger "KasPull/pkg/logger"
)

// BalanceEchoHandler serves the balance status and control endpoints.
type BalanceEchoHandler struct {
	logger  *xlogger.Logger
	svc     *usecase.BalanceService
	refresh *ratelimit.Limiter
}

func NewBalanceEchoHandler(logger *xlogger.Logger, svc *usecase.BalanceService, refresh *ratelimit.Limiter) *BalanceEchoHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &BalanceEchoHandler{logger: logger, svc: svc, refresh: refresh}
}

func (h *BalanceEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.observe("healthz", h.Health))

	g := e.Group("/api/balance")
	g.GET("", h.observe("current", h.Current))
	g.GET("/state", h.observe("state", h.State))
	g.GET("/history", h.observe("history", h.History))
	g.POST("/refresh", h.observe("refresh", h.Refresh))
	g.POST("/reset", h.observe("reset", h.Reset))
}

func (h *BalanceEchoHandler) observe(endpoint string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil || c.Response().Status >= http.StatusInternalServerError {
			metrics.APIErrors.WithLabelValues(endpoint).Inc()
		}
		return err
	}
}

func (h *BalanceEchoHandler) Current(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.svc.Current())
}

func (h *BalanceEchoHandler) State(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.State())
}

func (h *BalanceEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.svc.History(c.Request().Context(), req.Limit)
	switch {
	case errors.Is(err, usecase.ErrHistoryUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	case err != nil:
		h.logger.Error("history usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("history store unreachable").WithError(err))
	}
	if res.Stale {
		c.Response().Header().Set("Warning", `110 - "Response is Stale"`)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *BalanceEchoHandler) Refresh(c echo.Context) error {
	req := &models.RefreshRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.refresh != nil && !h.refresh.Allow(c.RealIP()) {
		metrics.RefreshRejected.WithLabelValues("rate_limited").Inc()
		h.logger.Warn("refresh rate limited", xlogger.String("remote_ip", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many refresh requests"))
	}

	if err := h.svc.Refresh(req.Reason); err != nil {
		metrics.RefreshRejected.WithLabelValues("in_flight").Inc()
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"reason": req.Reason})
}

func (h *BalanceEchoHandler) Reset(c echo.Context) error {
	if err := h.svc.Reset(c.Request().Context()); err != nil {
		h.logger.Error("reset usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("reset failed").WithError(err))
	}
	h.logger.Info("balance state reset via api", xlogger.String("remote_ip", c.RealIP()))
	return xhttp.SuccessResponse(c, h.svc.Current())
}

type healthResponse struct {
	Status       string              `json:"status"`
	Connectivity models.Connectivity `json:"connectivity"`
	Backends     map[string]string   `json:"backends,omitempty"`
}

// Health reports 503 when a configured backend is down. Upstream
// connectivity is informational only.
func (h *BalanceEchoHandler) Health(c echo.Context) error {
	res := healthResponse{
		Status:       "ok",
		Connectivity: h.svc.Current().Connectivity,
		Backends:     map[string]string{},
	}
	status := http.StatusOK
	for name, err := range h.svc.Health(c.Request().Context()) {
		if err != nil {
			res.Backends[name] = err.Error()
			res.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Backends[name] = "ok"
	}
	return c.JSON(status, res)
}
