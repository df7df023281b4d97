package sla

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from   Status
		to     Status
		expect bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusResolved, true},
		{StatusActive, StatusBreached, true},
		{StatusActive, StatusActive, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusResolved, true},
		{StatusPaused, StatusBreached, true},
		{StatusPaused, StatusPaused, false},
		{StatusResolved, StatusActive, false},
		{StatusResolved, StatusBreached, false},
		{StatusBreached, StatusResolved, false},
		{StatusBreached, StatusPaused, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.False(t, Status("unknown").IsValid())
	assert.True(t, StatusBreached.IsTerminal())
	assert.True(t, StatusPaused.IsOpen())
}

func TestRemainingTimeFrozenWhilePaused(t *testing.T) {
	deadline := t0.Add(4 * time.Hour)
	pausedAt := t0.Add(time.Hour)

	// 暂停后无论now走多远，剩余时间都停在暂停那一刻
	for _, now := range []time.Time{pausedAt, t0.Add(10 * time.Hour), t0.Add(100 * time.Hour)} {
		assert.Equal(t, 3*time.Hour, RemainingTime(StatusPaused, now, deadline, 0, &pausedAt))
	}
	assert.Equal(t, time.Hour, RemainingTime(StatusActive, t0.Add(3*time.Hour), deadline, 0, nil))
	assert.Equal(t, -time.Hour, RemainingTime(StatusActive, t0.Add(5*time.Hour), deadline, 0, nil))
}

func TestIsBreachedBoundaries(t *testing.T) {
	deadline := t0.Add(4 * time.Hour)
	banked := 2 * time.Hour

	assert.False(t, IsBreached(StatusActive, t0.Add(6*time.Hour-time.Nanosecond), deadline, banked, nil))
	assert.True(t, IsBreached(StatusActive, t0.Add(6*time.Hour), deadline, banked, nil), "剩余时间为0即视为超时")
	assert.False(t, IsBreached(StatusResolved, t0.Add(99*time.Hour), deadline, banked, nil))
	assert.False(t, IsBreached(StatusBreached, t0.Add(99*time.Hour), deadline, banked, nil))

	// 超时后才暂停的实例仍应被判定超时
	late := t0.Add(7 * time.Hour)
	assert.True(t, IsBreached(StatusPaused, t0.Add(8*time.Hour), deadline, banked, &late))
}

func TestScenarioA_PureArithmetic(t *testing.T) {
	inst := &Instance{ID: "i", Status: StatusActive, StartedAt: t0, Deadline: t0.Add(4 * time.Hour)}

	require.NoError(t, inst.pause(t0.Add(time.Hour)))
	require.NoError(t, inst.resume(t0.Add(3*time.Hour)))

	assert.Equal(t, 2*time.Hour, inst.AccumulatedPaused)
	assert.Equal(t, t0.Add(4*time.Hour), inst.Deadline, "名义截止时间不变")
	assert.Equal(t, t0.Add(6*time.Hour), inst.EffectiveDeadline())
	assert.False(t, inst.Breached(t0.Add(5*time.Hour)))
	assert.True(t, inst.Breached(t0.Add(6*time.Hour+30*time.Minute)))
}

// TestBankedPauseIsAssociative 多次暂停/恢复后，恢复时刻的剩余时间等于第一次暂停前的剩余时间
func TestBankedPauseIsAssociative(t *testing.T) {
	for _, cycles := range [][]time.Duration{
		{2 * time.Hour},
		{time.Hour, time.Hour},
		{15 * time.Minute, 30 * time.Minute, 45 * time.Minute, 30 * time.Minute},
		{time.Second, 3 * time.Hour, time.Minute},
	} {
		inst := &Instance{ID: "i", Status: StatusActive, StartedAt: t0, Deadline: t0.Add(8 * time.Hour)}
		firstPause := t0.Add(90 * time.Minute)
		before := inst.Remaining(firstPause)

		now := firstPause
		var total time.Duration
		for _, d := range cycles {
			require.NoError(t, inst.pause(now))
			assert.Equal(t, before, inst.Remaining(now.Add(d/2)), "暂停中剩余时间冻结")
			now = now.Add(d)
			total += d
			require.NoError(t, inst.resume(now))
		}

		assert.Equal(t, total, inst.AccumulatedPaused)
		assert.Equal(t, before, inst.Remaining(now))
	}
}

func TestResolveWhilePausedDoesNotBankCurrentPause(t *testing.T) {
	inst := &Instance{ID: "i", Status: StatusActive, StartedAt: t0, Deadline: t0.Add(4 * time.Hour)}
	require.NoError(t, inst.pause(t0.Add(time.Hour)))
	require.NoError(t, inst.resolve(t0.Add(3*time.Hour)))

	assert.Equal(t, StatusResolved, inst.Status)
	assert.Zero(t, inst.AccumulatedPaused)
	assert.Nil(t, inst.PausedAt)
	require.NotNil(t, inst.ResolvedAt)
	assert.Equal(t, t0.Add(3*time.Hour), *inst.ResolvedAt)
}

func TestTerminalInstancesRejectEveryMutation(t *testing.T) {
	for _, status := range []Status{StatusResolved, StatusBreached} {
		inst := &Instance{ID: "i", Status: status}
		for _, op := range []func(*Instance, time.Time) error{
			(*Instance).pause, (*Instance).resume, (*Instance).resolve, (*Instance).breach,
		} {
			err := op(inst.Clone(), t0)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		}
	}
}

func TestAppliesToMatches(t *testing.T) {
	all := AppliesTo{}
	assert.True(t, all.IsEmpty())
	assert.True(t, all.Matches(types.TaskAttributes{Priority: "low"}))

	urgent := AppliesTo{Priorities: []string{"high", "urgent"}}
	assert.True(t, urgent.Matches(types.TaskAttributes{Priority: "urgent", Category: "maintenance"}))
	assert.False(t, urgent.Matches(types.TaskAttributes{Priority: "low"}))

	both := AppliesTo{Priorities: []string{"high"}, Categories: []string{"leasing"}}
	assert.True(t, both.Matches(types.TaskAttributes{Priority: "high", Category: "leasing"}))
	assert.False(t, both.Matches(types.TaskAttributes{Priority: "high", Category: "maintenance"}))
}

func TestDefinitionValidate(t *testing.T) {
	assert.True(t, errs.IsValidation((&Definition{TimeLimit: time.Hour}).Validate()))
	assert.True(t, errs.IsValidation((&Definition{Name: "x"}).Validate()))
	assert.True(t, errs.IsValidation((&Definition{Name: "x", TimeLimit: 1500 * time.Millisecond}).Validate()))
	assert.NoError(t, (&Definition{Name: "x", TimeLimit: 15 * time.Minute}).Validate())
}

func TestHoursToDuration(t *testing.T) {
	cases := map[float64]time.Duration{
		4:         4 * time.Hour,
		0.25:      15 * time.Minute,
		1.0 / 3.0: 20 * time.Minute,
		0:         0,
	}
	for hours, want := range cases {
		got, err := HoursToDuration(hours)
		require.NoError(t, err, "hours=%v", hours)
		assert.Equal(t, want, got, "hours=%v", hours)
	}
	assert.Equal(t, 0.5, (&Definition{TimeLimit: 30 * time.Minute}).TimeLimitHours())
}

func TestHoursToDurationRejectsOverflow(t *testing.T) {
	// 2562048小时以内可表示，再往上int64纳秒溢出
	got, err := HoursToDuration(2562047)
	require.NoError(t, err)
	assert.Equal(t, 2562047*time.Hour, got)
	assert.LessOrEqual(t, got, MaxTimeLimit)

	for _, hours := range []float64{2562048, 3e6, 1e300, math.Inf(1), math.NaN()} {
		_, err := HoursToDuration(hours)
		require.Error(t, err, "hours=%v", hours)
		assert.True(t, errs.IsValidation(err))
		assert.Equal(t, "malformed_definition", errs.RuleOf(err))
		assert.NotContains(t, err.Error(), "must be positive", "hours=%v", hours)
	}
	_, err = HoursToDuration(3e6)
	assert.Contains(t, err.Error(), "too large")

	_, err = HoursToDuration(-1e300)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")

	d, err := HoursToDuration(-2)
	require.NoError(t, err)
	assert.True(t, errs.IsValidation((&Definition{Name: "x", TimeLimit: d}).Validate()))
}
