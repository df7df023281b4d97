package sla

import (
	"time"

	"github.com/LENAX/task-lifecycle/pkg/core/errs"
)

// Instance 绑定到任务的SLA计时实例（对外导出）
// Deadline在启动时确定且不再修改，暂停时长单独累计。
type Instance struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	DefinitionID      string        `json:"definition_id"`
	TaskID            string        `json:"task_id"`
	Status            Status        `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	Deadline          time.Time     `json:"deadline"`
	PausedAt          *time.Time    `json:"paused_at,omitempty"`
	AccumulatedPaused time.Duration `json:"accumulated_paused"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
	BreachedAt        *time.Time    `json:"breached_at,omitempty"`
	Version           int           `json:"version"`
}

// EffectiveDeadline 实际截止时间
func (i *Instance) EffectiveDeadline() time.Time {
	return EffectiveDeadline(i.Deadline, i.AccumulatedPaused)
}

// Remaining 在now时刻的剩余时间
func (i *Instance) Remaining(now time.Time) time.Duration {
	return RemainingTime(i.Status, now, i.Deadline, i.AccumulatedPaused, i.PausedAt)
}

// Breached 在now时刻是否应判定为超时
func (i *Instance) Breached(now time.Time) bool {
	return IsBreached(i.Status, now, i.Deadline, i.AccumulatedPaused, i.PausedAt)
}

// Clone 深拷贝
func (i *Instance) Clone() *Instance {
	c := *i
	c.PausedAt = cloneTime(i.PausedAt)
	c.ResolvedAt = cloneTime(i.ResolvedAt)
	c.BreachedAt = cloneTime(i.BreachedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (i *Instance) transition(target Status) error {
	if !i.Status.CanTransitionTo(target) {
		return errs.Validation("illegal_state_transition", "sla instance %s cannot move from %s to %s", i.ID, i.Status, target)
	}
	i.Status = target
	return nil
}

func (i *Instance) pause(now time.Time) error {
	if err := i.transition(StatusPaused); err != nil {
		return err
	}
	i.PausedAt = &now
	return nil
}

func (i *Instance) resume(now time.Time) error {
	if i.Status != StatusPaused {
		return errs.Validation("illegal_state_transition", "sla instance %s is %s, not paused", i.ID, i.Status)
	}
	if i.PausedAt != nil && now.After(*i.PausedAt) {
		i.AccumulatedPaused += now.Sub(*i.PausedAt)
	}
	i.PausedAt = nil
	return i.transition(StatusActive)
}

// resolve 解决暂停中的实例时不再补记本次暂停
func (i *Instance) resolve(now time.Time) error {
	if err := i.transition(StatusResolved); err != nil {
		return err
	}
	i.PausedAt = nil
	i.ResolvedAt = &now
	return nil
}

func (i *Instance) breach(now time.Time) error {
	if err := i.transition(StatusBreached); err != nil {
		return err
	}
	i.PausedAt = nil
	i.BreachedAt = &now
	return nil
}
