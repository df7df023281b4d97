package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/task-lifecycle/pkg/api/dto"
	"github.com/LENAX/task-lifecycle/pkg/api/middleware"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
)

// WorkflowHandler 工作流API处理器
type WorkflowHandler struct {
	engine *workflow.Engine
}

// NewWorkflowHandler 创建WorkflowHandler
func NewWorkflowHandler(eng *workflow.Engine) *WorkflowHandler {
	return &WorkflowHandler{engine: eng}
}

// ListDefinitions 列出工作流定义
// GET /api/v1/workflow-definitions
func (h *WorkflowHandler) ListDefinitions(c *gin.Context) {
	defs, err := h.engine.ListDefinitions(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(defs)))
}

// CreateDefinition 创建工作流定义
// POST /api/v1/workflow-definitions
func (h *WorkflowHandler) CreateDefinition(c *gin.Context) {
	var req dto.WorkflowDefinitionRequest
	if !bindJSON(c, &req) {
		return
	}
	def, err := h.engine.CreateDefinition(c.Request.Context(), middleware.TenantID(c), req.ToDefinition())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(def))
}

// GetDefinition 获取工作流定义
// GET /api/v1/workflow-definitions/:id
func (h *WorkflowHandler) GetDefinition(c *gin.Context) {
	def, err := h.engine.GetDefinition(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(def))
}

// UpdateDefinition 更新工作流定义
// PUT /api/v1/workflow-definitions/:id
func (h *WorkflowHandler) UpdateDefinition(c *gin.Context) {
	var req dto.WorkflowDefinitionRequest
	if !bindJSON(c, &req) {
		return
	}
	def := req.ToDefinition()
	def.ID = c.Param("id")
	updated, err := h.engine.UpdateDefinition(c.Request.Context(), middleware.TenantID(c), def)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(updated))
}

// DeleteDefinition 删除工作流定义
// DELETE /api/v1/workflow-definitions/:id
func (h *WorkflowHandler) DeleteDefinition(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.DeleteDefinition(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{"id": id}))
}

// Start 为任务启动工作流
// POST /api/v1/tasks/:task_id/workflow
func (h *WorkflowHandler) Start(c *gin.Context) {
	var req dto.StartWorkflowRequest
	if !bindJSON(c, &req) {
		return
	}
	inst, err := h.engine.StartWorkflow(c.Request.Context(), middleware.TenantID(c),
		c.Param("task_id"), req.DefinitionID, middleware.ActorID(c, req.ActorID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(inst))
}

// Advance 推进任务的工作流
// POST /api/v1/tasks/:task_id/workflow/advance
func (h *WorkflowHandler) Advance(c *gin.Context) {
	var req dto.AdvanceWorkflowRequest
	if !bindJSON(c, &req) {
		return
	}
	inst, err := h.engine.AdvanceWorkflow(c.Request.Context(), middleware.TenantID(c),
		c.Param("task_id"), req.NextStageID, middleware.ActorID(c, req.ActorID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(inst))
}

// Get 获取任务的工作流实例
// GET /api/v1/tasks/:task_id/workflow
func (h *WorkflowHandler) Get(c *gin.Context) {
	inst, err := h.engine.GetWorkflowInstance(c.Request.Context(), middleware.TenantID(c), c.Param("task_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(inst))
}

// Transitions 获取当前阶段的可用转换，任务没有工作流时返回空列表
// GET /api/v1/tasks/:task_id/workflow/transitions
func (h *WorkflowHandler) Transitions(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, taskID := middleware.TenantID(c), c.Param("task_id")

	available, err := h.engine.GetAvailableTransitions(ctx, tenantID, taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.AvailableTransitionsResponse{TaskID: taskID, Available: available}

	inst, err := h.engine.GetWorkflowInstance(ctx, tenantID, taskID)
	switch {
	case err == nil:
		resp.CurrentStageID = inst.CurrentStageID
		resp.Completed = !inst.IsActive()
	case !errs.IsNotFound(err):
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}
