package output

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
)

// FormatStatus 按SLA状态着色
func FormatStatus(status sla.Status) string {
	switch status {
	case sla.StatusActive:
		return color.GreenString(string(status))
	case sla.StatusPaused:
		return color.YellowString(string(status))
	case sla.StatusBreached:
		return color.New(color.FgRed, color.Bold).Sprint(string(status))
	case sla.StatusResolved:
		return color.HiBlackString(string(status))
	default:
		return string(status)
	}
}

// FormatRemaining 格式化剩余时间，超时显示为负值
func FormatRemaining(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%s%dh%02dm", sign, h, m)
	}
	return fmt.Sprintf("%s%dm%02ds", sign, m, s)
}

// FormatTime 格式化时间，nil显示为"-"
func FormatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// SLATable 生成SLA实例表格
func SLATable(snapshots []sla.Snapshot) *Table {
	table := NewTable([]string{"INSTANCE_ID", "TASK", "DEFINITION", "STATUS", "DEADLINE", "REMAINING"})
	for _, s := range snapshots {
		deadline := s.EffectiveDeadline
		remaining := FormatRemaining(s.Remaining)
		if s.Instance.Status.IsTerminal() {
			remaining = "-"
		}
		table.AddRow([]string{
			s.Instance.ID,
			s.Instance.TaskID,
			s.Instance.DefinitionID,
			FormatStatus(s.Instance.Status),
			FormatTime(&deadline),
			remaining,
		})
	}
	return table
}
