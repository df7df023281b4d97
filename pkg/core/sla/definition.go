package sla

import (
	"math"
	"time"

	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
)

// AppliesTo SLA适用范围（对外导出）
// 每个非空列表都必须包含任务对应的属性值；全部为空时匹配所有任务。
type AppliesTo struct {
	Priorities []string `json:"priorities,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// IsEmpty 是否匹配所有任务
func (a AppliesTo) IsEmpty() bool {
	return len(a.Priorities) == 0 && len(a.Categories) == 0
}

// Matches 判断任务属性是否命中
func (a AppliesTo) Matches(attrs types.TaskAttributes) bool {
	return matchAny(a.Priorities, attrs.Priority) && matchAny(a.Categories, attrs.Category)
}

func matchAny(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

// Definition SLA定义（对外导出）
type Definition struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	SLAType     string        `json:"sla_type"`
	TimeLimit   time.Duration `json:"time_limit"`
	AppliesTo   AppliesTo     `json:"applies_to"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate 校验定义
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errs.Validation("malformed_definition", "sla name is required")
	}
	if d.TimeLimit <= 0 {
		return errs.Validation("malformed_definition", "time limit must be positive")
	}
	if d.TimeLimit%time.Second != 0 {
		return errs.Validation("malformed_definition", "time limit must be a whole number of seconds")
	}
	return nil
}

// TimeLimitHours 以小时表示的时限
func (d *Definition) TimeLimitHours() float64 {
	return d.TimeLimit.Hours()
}

// Clone 深拷贝
func (d *Definition) Clone() *Definition {
	c := *d
	c.AppliesTo.Priorities = append([]string(nil), d.AppliesTo.Priorities...)
	c.AppliesTo.Categories = append([]string(nil), d.AppliesTo.Categories...)
	return &c
}

// MaxTimeLimit time.Duration 可表示的最大整秒时限，约292年
const MaxTimeLimit = time.Duration(math.MaxInt64/int64(time.Second)) * time.Second

// HoursToDuration 小时数转为time.Duration，按秒取整
// 非有限值或超出 MaxTimeLimit 时返回Validation错误，不做溢出回绕。
func HoursToDuration(hours float64) (time.Duration, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0, errs.Validation("malformed_definition", "time limit must be a finite number of hours")
	}
	secs := math.Round(hours * 3600)
	limit := float64(MaxTimeLimit / time.Second)
	if secs > limit {
		return 0, errs.Validation("malformed_definition",
			"time limit of %g hours is too large: the maximum is %.0f hours", hours, math.Floor(MaxTimeLimit.Hours()))
	}
	if secs < -limit {
		return 0, errs.Validation("malformed_definition", "time limit must be positive")
	}
	return time.Duration(secs) * time.Second, nil
}
