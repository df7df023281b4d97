package workflow

import (
	"time"

	"github.com/LENAX/task-lifecycle/pkg/core/errs"
)

// Stage 工作流阶段（对外导出）
// AllowedNext 为允许的后继阶段ID，空列表表示终止阶段。
type Stage struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	AllowedNext []string `json:"allowed_next" yaml:"allowed_next"`
}

// IsTerminal 是否为终止阶段
func (s Stage) IsTerminal() bool {
	return len(s.AllowedNext) == 0
}

// Allows 检查是否允许转换到target
func (s Stage) Allows(target string) bool {
	for _, id := range s.AllowedNext {
		if id == target {
			return true
		}
	}
	return false
}

// Definition 工作流定义（对外导出）
type Definition struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Stages         []Stage   `json:"stages"`
	InitialStageID string    `json:"initial_stage_id,omitempty"` // 为空时使用第一个阶段
	BoardID        string    `json:"board_id,omitempty"`
	Active         bool      `json:"active"`
	Version        int       `json:"version"` // 每次更新加1，推进与启动实例时据此检测定义是否已被修改
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate 校验定义结构，在写入时调用
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errs.Validation("malformed_definition", "workflow name is required")
	}
	if len(d.Stages) == 0 {
		return errs.Validation("malformed_definition", "workflow must declare at least one stage")
	}

	ids := make(map[string]struct{}, len(d.Stages))
	for _, s := range d.Stages {
		if s.ID == "" {
			return errs.Validation("malformed_definition", "stage id is required")
		}
		if _, dup := ids[s.ID]; dup {
			return errs.Validation("duplicate_stage_id", "stage id %q is declared more than once", s.ID)
		}
		ids[s.ID] = struct{}{}
	}

	for _, s := range d.Stages {
		seen := make(map[string]struct{}, len(s.AllowedNext))
		for _, next := range s.AllowedNext {
			if _, ok := ids[next]; !ok {
				return errs.Validation("unknown_stage_reference", "stage %q allows unknown stage %q", s.ID, next)
			}
			if _, dup := seen[next]; dup {
				return errs.Validation("malformed_definition", "stage %q lists %q twice", s.ID, next)
			}
			seen[next] = struct{}{}
		}
	}

	if d.InitialStageID != "" {
		if _, ok := ids[d.InitialStageID]; !ok {
			return errs.Validation("unknown_stage_reference", "initial stage %q is not declared", d.InitialStageID)
		}
	}
	return nil
}

// Stage 按ID查找阶段
func (d *Definition) Stage(id string) (Stage, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// InitialStage 返回初始阶段
func (d *Definition) InitialStage() Stage {
	if d.InitialStageID != "" {
		if s, ok := d.Stage(d.InitialStageID); ok {
			return s
		}
	}
	return d.Stages[0]
}

// StageIDs 按定义顺序返回阶段ID
func (d *Definition) StageIDs() []string {
	ids := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		ids[i] = s.ID
	}
	return ids
}

// Clone 深拷贝
func (d *Definition) Clone() *Definition {
	c := *d
	c.Stages = make([]Stage, len(d.Stages))
	for i, s := range d.Stages {
		s.AllowedNext = append([]string(nil), s.AllowedNext...)
		c.Stages[i] = s
	}
	return &c
}

// RemovedStageIDs 返回old中存在但next中已删除的阶段ID
func RemovedStageIDs(old, next *Definition) []string {
	var removed []string
	for _, s := range old.Stages {
		if _, ok := next.Stage(s.ID); !ok {
			removed = append(removed, s.ID)
		}
	}
	return removed
}
