package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck verifica una dependencia externa.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	logger *zap.Logger
	checks map[string]HealthCheck
}

func NewHealthHandler(logger *zap.Logger, checks map[string]HealthCheck) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger,
		checks: lo.OmitBy(checks, func(_ string, check HealthCheck) bool { return check == nil }),
	}
}

// Healthz maneja GET /healthz.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := lo.Keys(h.checks)
	sort.Strings(names)

	failed := make(map[string]string)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": names})
}
