package sla_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/task-lifecycle/pkg/core/automation"
	"github.com/LENAX/task-lifecycle/pkg/core/clock"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/storage/memory"
)

const tenant = "tenant-a"

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []automation.Event
}

func (s *recordingSink) Notify(_ context.Context, _ automation.TriggerEvent, payload automation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, payload)
	return nil
}

func (s *recordingSink) count(event automation.TriggerEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == event {
			n++
		}
	}
	return n
}

type fixture struct {
	repo    sla.Repository
	engine  *sla.Engine
	scanner *sla.BreachScanner
	clock   *clock.Fake
	tasks   *types.MemoryTaskStore
	sink    *recordingSink
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWithRepo(t, memory.NewSLAStore())
}

func setupWithRepo(t *testing.T, repo sla.Repository) *fixture {
	t.Helper()
	f := &fixture{
		repo:  repo,
		clock: clock.NewFake(t0),
		tasks: types.NewMemoryTaskStore(),
		sink:  &recordingSink{},
	}
	f.tasks.Add(tenant, "task-1", "task-2")
	f.engine = sla.NewEngine(repo, f.tasks, sla.WithClock(f.clock), sla.WithSink(f.sink))
	f.scanner = sla.NewBreachScanner(repo, sla.WithScannerClock(f.clock), sla.WithScannerSink(f.sink))
	return f
}

func (f *fixture) definition(t *testing.T, limit time.Duration) *sla.Definition {
	t.Helper()
	def, err := f.engine.CreateDefinition(context.Background(), tenant, &sla.Definition{
		Name:      "Resolution",
		SLAType:   "resolution",
		TimeLimit: limit,
		Active:    true,
	})
	require.NoError(t, err)
	return def
}

func TestScenarioA_PauseExtendsEffectiveDeadline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, 4*time.Hour)

	inst, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.StatusActive, inst.Status)
	assert.Equal(t, t0.Add(4*time.Hour), inst.Deadline)

	f.clock.Set(t0.Add(time.Hour))
	_, err = f.engine.PauseSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)

	f.clock.Set(t0.Add(3 * time.Hour))
	inst, err = f.engine.ResumeSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, inst.AccumulatedPaused)
	assert.Equal(t, t0.Add(6*time.Hour), inst.EffectiveDeadline())
	assert.Equal(t, t0.Add(4*time.Hour), inst.Deadline)

	f.clock.Set(t0.Add(5 * time.Hour))
	snap := f.engine.Snapshot(inst)
	assert.False(t, snap.Breached)
	assert.Equal(t, time.Hour, snap.Remaining)
	breached, err := f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, breached)

	f.clock.Set(t0.Add(6*time.Hour + 30*time.Minute))
	assert.True(t, f.engine.Snapshot(inst).Breached)
	breached, err = f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, sla.StatusBreached, breached[0].Status)
	require.NotNil(t, breached[0].BreachedAt)
	assert.Equal(t, t0.Add(6*time.Hour+30*time.Minute), *breached[0].BreachedAt)
}

func TestDuplicateTimerRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)

	inst, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)

	_, err = f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, "duplicate_active_timer", errs.RuleOf(err))

	// 暂停中同样算未结束
	_, err = f.engine.PauseSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	_, err = f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	assert.Equal(t, "duplicate_active_timer", errs.RuleOf(err))

	// 其他任务、其他定义不受影响
	_, err = f.engine.StartSLAForTask(ctx, tenant, "task-2", def.ID)
	assert.NoError(t, err)
	other := f.definition(t, 2*time.Hour)
	_, err = f.engine.StartSLAForTask(ctx, tenant, "task-1", other.ID)
	assert.NoError(t, err)

	// 解决后可重新启动
	_, err = f.engine.ResolveSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	_, err = f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	assert.NoError(t, err)

	list, err := f.engine.GetTaskSLAs(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestStartPreconditions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)

	_, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", "missing")
	assert.True(t, errs.IsNotFound(err))

	_, err = f.engine.StartSLAForTask(ctx, tenant, "ghost-task", def.ID)
	assert.True(t, errs.IsNotFound(err))

	f.tasks.Add("tenant-b", "task-1")
	_, err = f.engine.StartSLAForTask(ctx, "tenant-b", "task-1", def.ID)
	assert.True(t, errs.IsNotFound(err), "跨租户的定义不可见")

	disabled := def.Clone()
	disabled.Active = false
	_, err = f.engine.UpdateDefinition(ctx, tenant, disabled)
	require.NoError(t, err)
	_, err = f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	assert.Equal(t, "definition_inactive", errs.RuleOf(err))
}

func TestStateMachineViolations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)
	inst, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)

	_, err = f.engine.ResumeSLAInstance(ctx, tenant, inst.ID)
	assert.True(t, errs.IsValidation(err), "未暂停的实例不能恢复")

	_, err = f.engine.PauseSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	_, err = f.engine.PauseSLAInstance(ctx, tenant, inst.ID)
	assert.True(t, errs.IsValidation(err), "不能重复暂停")

	_, err = f.engine.PauseSLAInstance(ctx, "tenant-b", inst.ID)
	assert.True(t, errs.IsNotFound(err), "其他租户看不到该实例")

	_, err = f.engine.PauseSLAInstance(ctx, tenant, "nope")
	assert.True(t, errs.IsNotFound(err))
}

func TestTerminalFinality(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)

	resolved, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)
	_, err = f.engine.ResolveSLAInstance(ctx, tenant, resolved.ID)
	require.NoError(t, err)

	overdue, err := f.engine.StartSLAForTask(ctx, tenant, "task-2", def.ID)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	breached, err := f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, overdue.ID, breached[0].ID)

	for _, id := range []string{resolved.ID, overdue.ID} {
		for name, op := range map[string]func(context.Context, string, string) (*sla.Instance, error){
			"pause":   f.engine.PauseSLAInstance,
			"resume":  f.engine.ResumeSLAInstance,
			"resolve": f.engine.ResolveSLAInstance,
		} {
			_, err := op(ctx, tenant, id)
			require.Error(t, err, name)
			assert.True(t, errs.IsValidation(err), "%s on terminal instance %s", name, id)
		}
	}

	got, err := f.engine.GetInstance(ctx, tenant, resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.StatusResolved, got.Status)
	assert.Nil(t, got.BreachedAt)
}

func TestBreachIdempotence(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)

	for _, task := range []string{"task-1", "task-2"} {
		_, err := f.engine.StartSLAForTask(ctx, tenant, task, def.ID)
		require.NoError(t, err)
	}
	f.clock.Advance(90 * time.Minute)

	first, err := f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 2, f.sink.count(automation.EventSLABreached))
}

func TestPausedBeforeDeadlineIsNeverBreached(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)
	inst, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.engine.PauseSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	breached, err := f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, breached)

	got, err := f.engine.GetInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, f.engine.Snapshot(got).Remaining)
}

// barrierRepo 让前n次GetInstance都读到旧版本后才放行，用于复现读-改-写竞争
type barrierRepo struct {
	sla.Repository
	wg sync.WaitGroup
}

func newBarrierRepo(inner sla.Repository, readers int) *barrierRepo {
	r := &barrierRepo{Repository: inner}
	r.wg.Add(readers)
	return r
}

func (r *barrierRepo) GetInstance(ctx context.Context, tenantID, id string) (*sla.Instance, error) {
	inst, err := r.Repository.GetInstance(ctx, tenantID, id)
	r.wg.Done()
	r.wg.Wait()
	return inst, err
}

func TestScenarioC_ConcurrentResumeCreditsOnce(t *testing.T) {
	inner := memory.NewSLAStore()
	f := setupWithRepo(t, inner)
	ctx := context.Background()
	def := f.definition(t, 4*time.Hour)

	inst, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)
	f.clock.Set(t0.Add(time.Hour))
	_, err = f.engine.PauseSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	f.clock.Set(t0.Add(3 * time.Hour))

	racing := sla.NewEngine(newBarrierRepo(inner, 2), f.tasks, sla.WithClock(f.clock))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = racing.ResumeSLAInstance(ctx, tenant, inst.ID)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errs.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	got, err := f.engine.GetInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.StatusActive, got.Status)
	assert.Equal(t, 2*time.Hour, got.AccumulatedPaused, "暂停时长只累计一次")
}

// TestResolveRacingScanner 解决与超时扫描竞争时，只有一方生效
func TestResolveRacingScanner(t *testing.T) {
	inner := memory.NewSLAStore()
	f := setupWithRepo(t, inner)
	ctx := context.Background()
	def := f.definition(t, time.Hour)
	inst, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	// 扫描器先读取候选，随后用户抢先解决
	stale, err := inner.ListBreachCandidates(ctx, tenant, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, stale, 1)

	_, err = f.engine.ResolveSLAInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)

	scanner := sla.NewBreachScanner(staleCandidates{Repository: inner, list: stale}, sla.WithScannerClock(f.clock))
	breached, err := scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, breached, "输掉竞争的扫描写入应被丢弃")

	got, err := f.engine.GetInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.StatusResolved, got.Status)
	assert.Nil(t, got.BreachedAt)
}

type staleCandidates struct {
	sla.Repository
	list []*sla.Instance
}

func (s staleCandidates) ListBreachCandidates(context.Context, string, time.Time) ([]*sla.Instance, error) {
	return s.list, nil
}

// failingUpdates 对指定实例的写入返回错误，用于验证扫描继续执行
type failingUpdates struct {
	sla.Repository
	failID string
}

func (f failingUpdates) UpdateInstance(ctx context.Context, inst *sla.Instance, expected int) error {
	if inst.ID == f.failID {
		return errors.New("disk full")
	}
	return f.Repository.UpdateInstance(ctx, inst, expected)
}

func TestScannerContinuesPastFailures(t *testing.T) {
	inner := memory.NewSLAStore()
	f := setupWithRepo(t, inner)
	ctx := context.Background()
	def := f.definition(t, time.Hour)

	bad, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)
	good, err := f.engine.StartSLAForTask(ctx, tenant, "task-2", def.ID)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	scanner := sla.NewBreachScanner(failingUpdates{Repository: inner, failID: bad.ID}, sla.WithScannerClock(f.clock))
	breached, err := scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, good.ID, breached[0].ID)
}

func TestCheckAllTenants(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tenants := []string{"t1", "t2", "t3"}
	for _, tn := range tenants {
		f.tasks.Add(tn, "task-x")
		def, err := f.engine.CreateDefinition(ctx, tn, &sla.Definition{Name: "r", TimeLimit: time.Hour, Active: true})
		require.NoError(t, err)
		_, err = f.engine.StartSLAForTask(ctx, tn, "task-x", def.ID)
		require.NoError(t, err)
	}
	// t3的计时在截止前被解决
	list, err := f.engine.GetTaskSLAs(ctx, "t3", "task-x")
	require.NoError(t, err)
	_, err = f.engine.ResolveSLAInstance(ctx, "t3", list[0].ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	scanner := sla.NewBreachScanner(f.repo, sla.WithScannerClock(f.clock), sla.WithTenantConcurrency(2))
	results, err := scanner.CheckAllTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, results["t1"], 1)
	assert.Len(t, results["t2"], 1)
	assert.NotContains(t, results, "t3")
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}

func (busyLocker) Unlock(context.Context, string, string) error { return nil }

func TestScannerSkipsTenantHeldElsewhere(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)
	_, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	scanner := sla.NewBreachScanner(f.repo, sla.WithScannerClock(f.clock), sla.WithSweepLocker(busyLocker{}, time.Minute))
	breached, err := scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, breached)

	// 默认租约下正常扫描
	breached, err = f.scanner.CheckBreaches(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, breached, 1)
}

func TestStartApplicableSLAs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	mk := func(name string, applies sla.AppliesTo, active bool) *sla.Definition {
		def, err := f.engine.CreateDefinition(ctx, tenant, &sla.Definition{
			Name: name, TimeLimit: time.Hour, AppliesTo: applies, Active: active,
		})
		require.NoError(t, err)
		return def
	}
	response := mk("response", sla.AppliesTo{}, true)
	urgent := mk("urgent", sla.AppliesTo{Priorities: []string{"urgent"}}, true)
	mk("leasing", sla.AppliesTo{Categories: []string{"leasing"}}, true)
	mk("retired", sla.AppliesTo{}, false)

	started, err := f.engine.StartApplicableSLAs(ctx, tenant, "task-1", types.TaskAttributes{Priority: "urgent", Category: "maintenance"})
	require.NoError(t, err)
	ids := make([]string, 0, len(started))
	for _, inst := range started {
		ids = append(ids, inst.DefinitionID)
	}
	assert.ElementsMatch(t, []string{response.ID, urgent.ID}, ids)

	// 再次调用跳过已在计时的定义
	again, err := f.engine.StartApplicableSLAs(ctx, tenant, "task-1", types.TaskAttributes{Priority: "urgent"})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDeleteTaskInstances(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	def := f.definition(t, time.Hour)
	_, err := f.engine.StartSLAForTask(ctx, tenant, "task-1", def.ID)
	require.NoError(t, err)

	n, err := f.engine.DeleteTaskInstances(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err := f.engine.GetTaskSLAs(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
