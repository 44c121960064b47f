package domain

import "time"

// EvaluateMilestoneStatus 按固定优先级计算里程碑状态，先命中者生效：
// completed, cancelled, 目标日期已过则 overdue, 完成度大于 0 则 in_progress, 其余 pending
func EvaluateMilestoneStatus(status MilestoneStatus, targetDate time.Time, completion *int, now time.Time) MilestoneStatus {
	switch {
	case status == MilestoneStatusCompleted:
		return MilestoneStatusCompleted
	case status == MilestoneStatusCancelled:
		return MilestoneStatusCancelled
	case !targetDate.IsZero() && targetDate.Before(now):
		return MilestoneStatusOverdue
	case completion != nil && *completion > 0:
		return MilestoneStatusInProgress
	default:
		return MilestoneStatusPending
	}
}

// Evaluate 里程碑在 now 时刻的状态
func (m Milestone) Evaluate(now time.Time) MilestoneStatus {
	return EvaluateMilestoneStatus(m.Status, m.TargetDate, m.CompletionPercentage, now)
}
