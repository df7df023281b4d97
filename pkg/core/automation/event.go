// Package automation 自动化触发器出口（对外导出）
//
// 状态引擎在工作流启动/推进、SLA超时等时刻向Sink发出事件。
// 规则的条件评估与动作执行属于下游系统，这里只负责投递。
package automation

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent 自动化触发事件类型（对外导出）
type TriggerEvent string

const (
	// Workflow事件
	EventWorkflowStarted   TriggerEvent = "workflow.started"   // Workflow启动
	EventWorkflowAdvanced  TriggerEvent = "workflow.advanced"  // 阶段推进
	EventWorkflowCompleted TriggerEvent = "workflow.completed" // 到达终止阶段

	// SLA事件
	EventSLAStarted  TriggerEvent = "sla.started"  // SLA计时开始
	EventSLAResolved TriggerEvent = "sla.resolved" // SLA已解决
	EventSLABreached TriggerEvent = "sla.breached" // SLA超时
)

// AllEvents 全部事件类型
var AllEvents = []TriggerEvent{
	EventWorkflowStarted,
	EventWorkflowAdvanced,
	EventWorkflowCompleted,
	EventSLAStarted,
	EventSLAResolved,
	EventSLABreached,
}

// Event 投递给自动化系统的事件载荷（对外导出）
type Event struct {
	ID           string                 `json:"id"`
	Type         TriggerEvent           `json:"type"`
	TenantID     string                 `json:"tenant_id"`
	TaskID       string                 `json:"task_id"`
	InstanceID   string                 `json:"instance_id,omitempty"`
	DefinitionID string                 `json:"definition_id,omitempty"`
	ActorID      string                 `json:"actor_id,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// NewEvent 创建事件
func NewEvent(eventType TriggerEvent, tenantID, taskID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		TaskID:     taskID,
		OccurredAt: at,
		Data:       make(map[string]interface{}),
	}
}

// With 返回附加了自定义字段的副本
func (e Event) With(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}
