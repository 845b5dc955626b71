package handlers

import (
	"context"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/payment-reconciler/pkg/http"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/valyala/fasthttp"
)

type HealthService interface {
	Check(ctx context.Context) (map[string]string, error)
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	report, err := h.svc.Check(ctx)
	if err != nil {
		logger.Warn("health check failed", "error", err)
		xhttp.WriteEnvelope(ctx, fasthttp.StatusServiceUnavailable, false, "unhealthy", report)
		return
	}
	xhttp.WriteEnvelope(ctx, fasthttp.StatusOK, true, "healthy", report)
}
