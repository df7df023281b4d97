package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/task-lifecycle/pkg/api/dto"
	"github.com/LENAX/task-lifecycle/pkg/api/middleware"
	"github.com/LENAX/task-lifecycle/pkg/core/engine"
)

// TaskHandler 任务级联清理与超时扫描处理器
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler 创建TaskHandler
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// Purge 任务删除后清理其全部工作流与SLA实例
// DELETE /api/v1/tasks/:task_id
func (h *TaskHandler) Purge(c *gin.Context) {
	taskID := c.Param("task_id")
	result, err := h.engine.PurgeTask(c.Request.Context(), middleware.TenantID(c), taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.PurgeResponse{
		TaskID:            taskID,
		WorkflowInstances: result.WorkflowInstances,
		SLAInstances:      result.SLAInstances,
	}))
}

// Scan 立即扫描当前租户的超时实例
// POST /api/v1/breaches/scan
func (h *TaskHandler) Scan(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	breached, err := h.engine.Scanner.CheckBreaches(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.SLAInstanceDetail, 0, len(breached))
	for _, inst := range breached {
		items = append(items, dto.NewSLAInstanceDetail(h.engine.SLAs.Snapshot(inst)))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ScanResponse{TenantID: tenantID, Breached: items}))
}
