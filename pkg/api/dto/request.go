package dto

import (
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
)

// StageRequest 阶段
type StageRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AllowedNext []string `json:"allowed_next"`
}

// WorkflowDefinitionRequest 创建/更新工作流定义请求
type WorkflowDefinitionRequest struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Stages         []StageRequest `json:"stages"`
	InitialStageID string         `json:"initial_stage_id"`
	BoardID        string         `json:"board_id"`
	Active         *bool          `json:"active"` // 缺省为true
	Version        int            `json:"version"` // 更新时可带上读取到的版本，0表示不比对
}

// ToDefinition 转换为领域定义
func (r *WorkflowDefinitionRequest) ToDefinition() *workflow.Definition {
	stages := make([]workflow.Stage, 0, len(r.Stages))
	for _, s := range r.Stages {
		stages = append(stages, workflow.Stage{ID: s.ID, Name: s.Name, AllowedNext: s.AllowedNext})
	}
	return &workflow.Definition{
		Name:           r.Name,
		Description:    r.Description,
		Stages:         stages,
		InitialStageID: r.InitialStageID,
		BoardID:        r.BoardID,
		Active:         r.Active == nil || *r.Active,
		Version:        r.Version,
	}
}

// StartWorkflowRequest 启动工作流请求
type StartWorkflowRequest struct {
	DefinitionID string `json:"definition_id" binding:"required"`
	ActorID      string `json:"actor_id"`
}

// AdvanceWorkflowRequest 推进工作流请求
type AdvanceWorkflowRequest struct {
	NextStageID string `json:"next_stage_id" binding:"required"`
	ActorID     string `json:"actor_id"`
}

// SLADefinitionRequest 创建/更新SLA定义请求
type SLADefinitionRequest struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	SLAType        string        `json:"sla_type"`
	TimeLimitHours float64       `json:"time_limit_hours"`
	AppliesTo      sla.AppliesTo `json:"applies_to"`
	Active         *bool         `json:"active"` // 缺省为true
}

// ToDefinition 转换为领域定义，时限小时数无法表示时返回Validation错误
func (r *SLADefinitionRequest) ToDefinition() (*sla.Definition, error) {
	limit, err := sla.HoursToDuration(r.TimeLimitHours)
	if err != nil {
		return nil, err
	}
	return &sla.Definition{
		Name:        r.Name,
		Description: r.Description,
		SLAType:     r.SLAType,
		TimeLimit:   limit,
		AppliesTo:   r.AppliesTo,
		Active:      r.Active == nil || *r.Active,
	}, nil
}

// StartSLARequest 为任务启动SLA请求
type StartSLARequest struct {
	DefinitionID string `json:"definition_id" binding:"required"`
}

// ApplySLAsRequest 按任务属性启动所有适用SLA
type ApplySLAsRequest struct {
	Priority string            `json:"priority"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// Attributes 转换为任务属性
func (r *ApplySLAsRequest) Attributes() types.TaskAttributes {
	return types.TaskAttributes{Priority: r.Priority, Category: r.Category, Labels: r.Labels}
}
