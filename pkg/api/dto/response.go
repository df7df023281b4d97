package dto

import (
	"math"
	"time"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// ErrorDetail 错误类别与违反的规则
type ErrorDetail struct {
	Kind string `json:"kind"`
	Rule string `json:"rule,omitempty"`
}

// NewErrorResponseWithDetail 创建带错误详情的响应
func NewErrorResponseWithDetail(code int, message string, detail ErrorDetail) APIResponse[ErrorDetail] {
	return APIResponse[ErrorDetail]{
		Code:    code,
		Message: message,
		Data:    detail,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse 就绪检查响应
type ReadyResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total int `json:"total"`
	Items []T `json:"items"`
}

// NewListResponse 创建列表响应
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Total: len(items), Items: items}
}

// AvailableTransitionsResponse 可用转换
type AvailableTransitionsResponse struct {
	TaskID         string   `json:"task_id"`
	CurrentStageID string   `json:"current_stage_id"`
	Completed      bool     `json:"completed"`
	Available      []string `json:"available"`
}

// SLADefinitionDetail SLA定义，时限以小时表示
type SLADefinitionDetail struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	SLAType        string        `json:"sla_type,omitempty"`
	TimeLimitHours float64       `json:"time_limit_hours"`
	AppliesTo      sla.AppliesTo `json:"applies_to"`
	Active         bool          `json:"active"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewSLADefinitionDetail 转换SLA定义
func NewSLADefinitionDetail(def *sla.Definition) SLADefinitionDetail {
	return SLADefinitionDetail{
		ID:             def.ID,
		Name:           def.Name,
		Description:    def.Description,
		SLAType:        def.SLAType,
		TimeLimitHours: def.TimeLimitHours(),
		AppliesTo:      def.AppliesTo,
		Active:         def.Active,
		CreatedAt:      def.CreatedAt,
		UpdatedAt:      def.UpdatedAt,
	}
}

// SLAInstanceDetail SLA实例及其当前计时
type SLAInstanceDetail struct {
	ID                       string     `json:"id"`
	DefinitionID             string     `json:"definition_id"`
	TaskID                   string     `json:"task_id"`
	Status                   string     `json:"status"`
	StartedAt                time.Time  `json:"started_at"`
	Deadline                 time.Time  `json:"deadline"`
	EffectiveDeadline        time.Time  `json:"effective_deadline"`
	PausedAt                 *time.Time `json:"paused_at,omitempty"`
	AccumulatedPausedSeconds int64      `json:"accumulated_paused_seconds"`
	RemainingSeconds         int64      `json:"remaining_seconds"`
	Breached                 bool       `json:"breached"`
	ResolvedAt               *time.Time `json:"resolved_at,omitempty"`
	BreachedAt               *time.Time `json:"breached_at,omitempty"`
	Version                  int        `json:"version"`
}

// NewSLAInstanceDetail 由快照转换，秒数向下取整
func NewSLAInstanceDetail(s sla.Snapshot) SLAInstanceDetail {
	inst := s.Instance
	return SLAInstanceDetail{
		ID:                       inst.ID,
		DefinitionID:             inst.DefinitionID,
		TaskID:                   inst.TaskID,
		Status:                   string(inst.Status),
		StartedAt:                inst.StartedAt,
		Deadline:                 inst.Deadline,
		EffectiveDeadline:        s.EffectiveDeadline,
		PausedAt:                 inst.PausedAt,
		AccumulatedPausedSeconds: int64(inst.AccumulatedPaused / time.Second),
		RemainingSeconds:         int64(math.Floor(s.Remaining.Seconds())),
		Breached:                 s.Breached,
		ResolvedAt:               inst.ResolvedAt,
		BreachedAt:               inst.BreachedAt,
		Version:                  inst.Version,
	}
}

// ScanResponse 超时扫描结果
type ScanResponse struct {
	TenantID string              `json:"tenant_id"`
	Breached []SLAInstanceDetail `json:"breached"`
}

// PurgeResponse 任务级联删除结果
type PurgeResponse struct {
	TaskID            string `json:"task_id"`
	WorkflowInstances int    `json:"workflow_instances"`
	SLAInstances      int    `json:"sla_instances"`
}
