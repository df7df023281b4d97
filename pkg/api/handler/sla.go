package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/task-lifecycle/pkg/api/dto"
	"github.com/LENAX/task-lifecycle/pkg/api/middleware"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
)

// SLAHandler SLA定义与任务SLA API处理器
type SLAHandler struct {
	engine *sla.Engine
}

// NewSLAHandler 创建SLAHandler
func NewSLAHandler(eng *sla.Engine) *SLAHandler {
	return &SLAHandler{engine: eng}
}

// ListDefinitions 列出SLA定义
// GET /api/v1/sla-definitions
func (h *SLAHandler) ListDefinitions(c *gin.Context) {
	defs, err := h.engine.ListDefinitions(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]dto.SLADefinitionDetail, 0, len(defs))
	for _, def := range defs {
		items = append(items, dto.NewSLADefinitionDetail(def))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(items)))
}

// CreateDefinition 创建SLA定义
// POST /api/v1/sla-definitions
func (h *SLAHandler) CreateDefinition(c *gin.Context) {
	var req dto.SLADefinitionRequest
	if !bindJSON(c, &req) {
		return
	}
	def, err := req.ToDefinition()
	if err != nil {
		respondError(c, err)
		return
	}
	def, err = h.engine.CreateDefinition(c.Request.Context(), middleware.TenantID(c), def)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.NewSLADefinitionDetail(def)))
}

// GetDefinition 获取SLA定义
// GET /api/v1/sla-definitions/:id
func (h *SLAHandler) GetDefinition(c *gin.Context) {
	def, err := h.engine.GetDefinition(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewSLADefinitionDetail(def)))
}

// UpdateDefinition 更新SLA定义，只影响之后启动的计时
// PUT /api/v1/sla-definitions/:id
func (h *SLAHandler) UpdateDefinition(c *gin.Context) {
	var req dto.SLADefinitionRequest
	if !bindJSON(c, &req) {
		return
	}
	def, err := req.ToDefinition()
	if err != nil {
		respondError(c, err)
		return
	}
	def.ID = c.Param("id")
	updated, err := h.engine.UpdateDefinition(c.Request.Context(), middleware.TenantID(c), def)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewSLADefinitionDetail(updated)))
}

// Start 为任务启动SLA计时
// POST /api/v1/tasks/:task_id/slas
func (h *SLAHandler) Start(c *gin.Context) {
	var req dto.StartSLARequest
	if !bindJSON(c, &req) {
		return
	}
	inst, err := h.engine.StartSLAForTask(c.Request.Context(), middleware.TenantID(c), c.Param("task_id"), req.DefinitionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.NewSLAInstanceDetail(h.engine.Snapshot(inst))))
}

// Apply 按任务属性启动所有适用的SLA
// POST /api/v1/tasks/:task_id/slas/apply
func (h *SLAHandler) Apply(c *gin.Context) {
	var req dto.ApplySLAsRequest
	if !bindJSON(c, &req) {
		return
	}
	started, err := h.engine.StartApplicableSLAs(c.Request.Context(), middleware.TenantID(c), c.Param("task_id"), req.Attributes())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(h.details(started))))
}

// ListForTask 列出任务的全部SLA实例
// GET /api/v1/tasks/:task_id/slas
func (h *SLAHandler) ListForTask(c *gin.Context) {
	list, err := h.engine.GetTaskSLAs(c.Request.Context(), middleware.TenantID(c), c.Param("task_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(h.details(list))))
}

// GetInstance 获取SLA实例及剩余时间
// GET /api/v1/sla-instances/:id
func (h *SLAHandler) GetInstance(c *gin.Context) {
	inst, err := h.engine.GetInstance(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	h.respondInstance(c, inst, err)
}

// Pause 暂停SLA计时
// POST /api/v1/sla-instances/:id/pause
func (h *SLAHandler) Pause(c *gin.Context) {
	inst, err := h.engine.PauseSLAInstance(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	h.respondInstance(c, inst, err)
}

// Resume 恢复SLA计时
// POST /api/v1/sla-instances/:id/resume
func (h *SLAHandler) Resume(c *gin.Context) {
	inst, err := h.engine.ResumeSLAInstance(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	h.respondInstance(c, inst, err)
}

// Resolve 结束SLA计时
// POST /api/v1/sla-instances/:id/resolve
func (h *SLAHandler) Resolve(c *gin.Context) {
	inst, err := h.engine.ResolveSLAInstance(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	h.respondInstance(c, inst, err)
}

func (h *SLAHandler) respondInstance(c *gin.Context, inst *sla.Instance, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewSLAInstanceDetail(h.engine.Snapshot(inst))))
}

func (h *SLAHandler) details(list []*sla.Instance) []dto.SLAInstanceDetail {
	items := make([]dto.SLAInstanceDetail, 0, len(list))
	for _, inst := range list {
		items = append(items, dto.NewSLAInstanceDetail(h.engine.Snapshot(inst)))
	}
	return items
}
