package sla

import "time"

// EffectiveDeadline 名义截止时间加上已累计的暂停时长
func EffectiveDeadline(deadline time.Time, accumulatedPaused time.Duration) time.Time {
	return deadline.Add(accumulatedPaused)
}

// RemainingTime 剩余时间
// 暂停期间以pausedAt为基准冻结；其余状态以now为基准。结果可为负。
func RemainingTime(status Status, now, deadline time.Time, accumulatedPaused time.Duration, pausedAt *time.Time) time.Duration {
	effective := EffectiveDeadline(deadline, accumulatedPaused)
	if status == StatusPaused && pausedAt != nil {
		return effective.Sub(*pausedAt)
	}
	return effective.Sub(now)
}

// IsBreached 未处于终态且剩余时间 <= 0
func IsBreached(status Status, now, deadline time.Time, accumulatedPaused time.Duration, pausedAt *time.Time) bool {
	if status.IsTerminal() {
		return false
	}
	return RemainingTime(status, now, deadline, accumulatedPaused, pausedAt) <= 0
}
