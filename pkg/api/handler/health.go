package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/task-lifecycle/pkg/api/dto"
)

// readyTimeout 单次就绪检查的最长等待
const readyTimeout = 2 * time.Second

// Pinger 就绪检查依赖的存储探活
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 存活与就绪检查
type HealthHandler struct {
	version string
	started time.Time
	backend Pinger
}

// NewHealthHandler backend为nil时就绪检查恒为成功
func NewHealthHandler(version string, backend Pinger) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now(), backend: backend}
}

// Health 进程存活，不访问存储
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}))
}

// Ready 存储可用才返回200，否则503
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.backend != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		if err := h.backend.Ping(ctx); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, dto.APIResponse[dto.ReadyResponse]{
				Code:    http.StatusServiceUnavailable,
				Message: "not ready",
				Data:    dto.ReadyResponse{Status: "unavailable", Reason: err.Error()},
			})
			return
		}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ReadyResponse{Status: "ready"}))
}
