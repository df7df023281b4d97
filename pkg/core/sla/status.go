package sla

// Status SLA实例状态枚举（对外导出）
type Status string

const (
	// StatusActive 计时中
	StatusActive Status = "active"
	// StatusPaused 已暂停，倒计时冻结
	StatusPaused Status = "paused"
	// StatusResolved 已解决（终态）
	StatusResolved Status = "resolved"
	// StatusBreached 已超时（终态）
	StatusBreached Status = "breached"
)

// IsValid 检查状态是否有效
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusResolved, StatusBreached:
		return true
	default:
		return false
	}
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusBreached
}

// IsOpen 是否仍在计时（active或paused）
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusPaused
}

// CanTransitionTo 检查是否可以转换到目标状态
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusActive:
		// Active可以暂停、解决或超时
		return target == StatusPaused || target == StatusResolved || target == StatusBreached
	case StatusPaused:
		// Paused可以恢复、解决或超时
		return target == StatusActive || target == StatusResolved || target == StatusBreached
	case StatusResolved, StatusBreached:
		return false
	default:
		return false
	}
}
