package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/task-lifecycle/pkg/api"
	"github.com/LENAX/task-lifecycle/pkg/api/dto"
	"github.com/LENAX/task-lifecycle/pkg/core/clock"
	"github.com/LENAX/task-lifecycle/pkg/core/engine"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	t      *testing.T
	router http.Handler
	clock  *clock.Fake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	tasks := types.NewMemoryTaskStore()
	tasks.Add("tenant-a", "task-1", "task-2")
	tasks.Add("tenant-b", "task-9")

	eng, err := engine.New(engine.Options{Store: memory.NewStore(), Tasks: tasks, Clock: fake})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	return &testServer{t: t, router: api.SetupRouter(eng, "1.0.0-test", nil), clock: fake}
}

// do 发送请求并把响应解析到out（可为nil）
func (s *testServer) do(method, path, tenant string, body interface{}, out interface{}) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
		req.Header.Set("X-Actor-ID", "user-1")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func boardRequest() dto.WorkflowDefinitionRequest {
	return dto.WorkflowDefinitionRequest{
		Name: "Support board",
		Stages: []dto.StageRequest{
			{ID: "todo", AllowedNext: []string{"doing"}},
			{ID: "doing", AllowedNext: []string{"done", "todo"}},
			{ID: "done"},
		},
	}
}

func slaScope(priorities ...string) sla.AppliesTo {
	return sla.AppliesTo{Priorities: priorities}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var resp dto.APIResponse[dto.HealthResponse]
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil, &resp))
	assert.Equal(t, "healthy", resp.Data.Status)
	assert.Equal(t, "1.0.0-test", resp.Data.Version)
}

// unreachableStore 数据库连接断开后的存储
type unreachableStore struct {
	*memory.Store
}

func (unreachableStore) Ping(context.Context) error { return errors.New("dial tcp 10.0.0.5:5432: connection refused") }

func TestReady(t *testing.T) {
	s := newTestServer(t)

	var resp dto.APIResponse[dto.ReadyResponse]
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ready", "", nil, &resp))
	assert.Equal(t, "ready", resp.Data.Status)

	eng, err := engine.New(engine.Options{Store: unreachableStore{memory.NewStore()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	down := &testServer{t: t, router: api.SetupRouter(eng, "1.0.0-test", nil)}

	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/ready", "", nil, &resp))
	assert.Equal(t, "unavailable", resp.Data.Status)
	assert.Contains(t, resp.Data.Reason, "connection refused")

	// 存活检查不依赖存储
	assert.Equal(t, http.StatusOK, down.do(http.MethodGet, "/health", "", nil, nil))
}

func TestMissingTenantRejected(t *testing.T) {
	s := newTestServer(t)

	var resp dto.APIResponse[dto.ErrorDetail]
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodGet, "/api/v1/workflow-definitions", "", nil, &resp))
	assert.Equal(t, "missing_tenant", resp.Data.Rule)
}

func TestWorkflowLifecycle(t *testing.T) {
	s := newTestServer(t)

	var created dto.APIResponse[workflow.Definition]
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/workflow-definitions", "tenant-a", boardRequest(), &created))
	defID := created.Data.ID
	require.NotEmpty(t, defID)
	assert.True(t, created.Data.Active)

	var inst dto.APIResponse[workflow.Instance]
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/tasks/task-1/workflow", "tenant-a",
		dto.StartWorkflowRequest{DefinitionID: defID}, &inst))
	assert.Equal(t, "todo", inst.Data.CurrentStageID)

	t.Run("重复启动返回409", func(t *testing.T) {
		var resp dto.APIResponse[dto.ErrorDetail]
		assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/tasks/task-1/workflow", "tenant-a",
			dto.StartWorkflowRequest{DefinitionID: defID}, &resp))
		assert.Equal(t, "duplicate_active_workflow", resp.Data.Rule)
	})

	t.Run("非法转换返回422", func(t *testing.T) {
		var resp dto.APIResponse[dto.ErrorDetail]
		assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/v1/tasks/task-1/workflow/advance", "tenant-a",
			dto.AdvanceWorkflowRequest{NextStageID: "done"}, &resp))
		assert.Equal(t, "invalid_transition", resp.Data.Rule)
	})

	var transitions dto.APIResponse[dto.AvailableTransitionsResponse]
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/tasks/task-1/workflow/transitions", "tenant-a", nil, &transitions))
	assert.Equal(t, []string{"doing"}, transitions.Data.Available)

	for _, next := range []string{"doing", "done"} {
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/tasks/task-1/workflow/advance", "tenant-a",
			dto.AdvanceWorkflowRequest{NextStageID: next}, &inst))
	}
	assert.NotNil(t, inst.Data.CompletedAt)
	require.Len(t, inst.Data.History, 3)
	assert.Equal(t, "user-1", inst.Data.History[2].ActorID)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/tasks/task-1/workflow/transitions", "tenant-a", nil, &transitions))
	assert.Empty(t, transitions.Data.Available)
	assert.True(t, transitions.Data.Completed)

	t.Run("其他租户不可见", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/tasks/task-1/workflow", "tenant-b", nil, nil))
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/workflow-definitions/"+defID, "tenant-b", nil, nil))
	})

	t.Run("未知任务返回404", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/tasks/ghost/workflow", "tenant-a",
			dto.StartWorkflowRequest{DefinitionID: defID}, nil))
	})

	t.Run("请求体缺少字段返回400", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/tasks/task-2/workflow", "tenant-a",
			map[string]string{}, nil))
	})

	var list dto.APIResponse[dto.ListResponse[workflow.Definition]]
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/workflow-definitions", "tenant-a", nil, &list))
	assert.Equal(t, 1, list.Data.Total)

	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/v1/workflow-definitions/"+defID, "tenant-a", nil, nil))
}

func TestMalformedDefinition(t *testing.T) {
	s := newTestServer(t)
	req := boardRequest()
	req.Stages[0].AllowedNext = []string{"nowhere"}

	var resp dto.APIResponse[dto.ErrorDetail]
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/v1/workflow-definitions", "tenant-a", req, &resp))
	assert.Equal(t, "validation", resp.Data.Kind)
}

func TestSLALifecycle(t *testing.T) {
	s := newTestServer(t)

	var def dto.APIResponse[dto.SLADefinitionDetail]
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/sla-definitions", "tenant-a",
		dto.SLADefinitionRequest{Name: "First response", TimeLimitHours: 2}, &def))
	assert.Equal(t, 2.0, def.Data.TimeLimitHours)

	var inst dto.APIResponse[dto.SLAInstanceDetail]
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/tasks/task-1/slas", "tenant-a",
		dto.StartSLARequest{DefinitionID: def.Data.ID}, &inst))
	id := inst.Data.ID
	assert.Equal(t, "active", inst.Data.Status)
	assert.Equal(t, int64(7200), inst.Data.RemainingSeconds)

	var dup dto.APIResponse[dto.ErrorDetail]
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/v1/tasks/task-1/slas", "tenant-a",
		dto.StartSLARequest{DefinitionID: def.Data.ID}, &dup))
	assert.Equal(t, "duplicate_active_timer", dup.Data.Rule)

	// 1小时后暂停30分钟
	s.clock.Advance(time.Hour)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/sla-instances/"+id+"/pause", "tenant-a", nil, &inst))
	assert.Equal(t, "paused", inst.Data.Status)
	s.clock.Advance(30 * time.Minute)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/sla-instances/"+id+"/resume", "tenant-a", nil, &inst))
	assert.Equal(t, int64(1800), inst.Data.AccumulatedPausedSeconds)
	assert.Equal(t, int64(3600), inst.Data.RemainingSeconds)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/v1/sla-instances/"+id+"/resume", "tenant-a", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/sla-instances/"+id, "tenant-b", nil, nil))

	// 超过实际截止时间后扫描
	s.clock.Advance(time.Hour + time.Minute)
	var scan dto.APIResponse[dto.ScanResponse]
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/breaches/scan", "tenant-a", nil, &scan))
	require.Len(t, scan.Data.Breached, 1)
	assert.Equal(t, id, scan.Data.Breached[0].ID)
	assert.True(t, scan.Data.Breached[0].Breached)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/breaches/scan", "tenant-a", nil, &scan))
	assert.Empty(t, scan.Data.Breached)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/v1/sla-instances/"+id+"/resolve", "tenant-a", nil, nil))

	var list dto.APIResponse[dto.ListResponse[dto.SLAInstanceDetail]]
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/tasks/task-1/slas", "tenant-a", nil, &list))
	require.Equal(t, 1, list.Data.Total)
	assert.Equal(t, "breached", list.Data.Items[0].Status)
}

func TestSLADefinitionTimeLimitTooLarge(t *testing.T) {
	s := newTestServer(t)

	var resp dto.APIResponse[dto.ErrorDetail]
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/v1/sla-definitions", "tenant-a",
		dto.SLADefinitionRequest{Name: "Forever", TimeLimitHours: 3e6}, &resp))
	assert.Equal(t, "malformed_definition", resp.Data.Rule)
	assert.Contains(t, resp.Message, "too large")
	assert.NotContains(t, resp.Message, "positive")
}

func TestApplySLAs(t *testing.T) {
	s := newTestServer(t)

	for _, req := range []dto.SLADefinitionRequest{
		{Name: "Urgent", TimeLimitHours: 0.5, AppliesTo: slaScope("urgent")},
		{Name: "Default", TimeLimitHours: 24},
	} {
		require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/sla-definitions", "tenant-a", req, nil))
	}

	var started dto.APIResponse[dto.ListResponse[dto.SLAInstanceDetail]]
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/tasks/task-2/slas/apply", "tenant-a",
		dto.ApplySLAsRequest{Priority: "low"}, &started))
	assert.Equal(t, 1, started.Data.Total)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/tasks/task-1/slas/apply", "tenant-a",
		dto.ApplySLAsRequest{Priority: "urgent"}, &started))
	assert.Equal(t, 2, started.Data.Total)
}

func TestPurgeTask(t *testing.T) {
	s := newTestServer(t)

	var def dto.APIResponse[dto.SLADefinitionDetail]
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/sla-definitions", "tenant-a",
		dto.SLADefinitionRequest{Name: "Resolve", TimeLimitHours: 8}, &def))
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/tasks/task-1/slas", "tenant-a",
		dto.StartSLARequest{DefinitionID: def.Data.ID}, nil))

	var purge dto.APIResponse[dto.PurgeResponse]
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/v1/tasks/task-1", "tenant-a", nil, &purge))
	assert.Equal(t, 1, purge.Data.SLAInstances)
	assert.Equal(t, 0, purge.Data.WorkflowInstances)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/workflow-definitions", "tenant-a", boardRequest(), nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "task_lifecycle_")
}
