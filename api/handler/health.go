package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/api/transport"
	"github.com/fastygo/hms-gateway/internal/infrastructure/monitor"
	"github.com/fastygo/hms-gateway/pkg/httpcontext"
)

type StatusSource interface {
	GetStatus() monitor.Status
}

type HealthHandler struct {
	baseHandler
	monitor StatusSource
	version string
}

func NewHealthHandler(mon StatusSource, version string, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
		version:     version,
	}
}

// Check reports gateway liveness and the state of its backing services.
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	payload := map[string]any{
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"services": map[string]any{
			"postgresql": status.PostgreSQL,
			"redis":      status.Redis,
			"outbox": map[string]any{
				"state": status.Outbox,
				"size":  status.OutboxSize,
			},
		},
	}

	if status.Healthy() {
		h.respondSuccess(ctx, http.StatusOK, payload, nil)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "dependencies unhealthy", payload))
}
