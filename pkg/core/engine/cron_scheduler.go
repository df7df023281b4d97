package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/logging"
)

// Sweeper 一次全租户超时扫描（对外导出）
type Sweeper interface {
	CheckAllTenants(ctx context.Context) (map[string][]*sla.Instance, error)
}

// SweepReport 单次扫描结果
type SweepReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Breached  map[string][]*sla.Instance
	Err       error
}

// Total 本次新超时实例总数
func (r SweepReport) Total() int {
	n := 0
	for _, list := range r.Breached {
		n += len(list)
	}
	return n
}

// CronScheduler 定时调度超时扫描（对外导出）
type CronScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	expr    string
	entry   cron.EntryID
	logger  *zap.Logger
	running bool
	last    *SweepReport
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

var secondsParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCronScheduler 创建定时调度器（对外导出）
// expr 为带秒字段的cron表达式，上一轮扫描未结束时本轮跳过。
func NewCronScheduler(sweeper Sweeper, expr string, logger *zap.Logger) (*CronScheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper不能为空")
	}
	if _, err := secondsParser.Parse(expr); err != nil {
		return nil, fmt.Errorf("无效的Cron表达式 %s: %w", expr, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLogger := logging.NewCronAdapter(logger)
	ctx, cancel := context.WithCancel(context.Background())
	cs := &CronScheduler{
		cron: cron.New(
			cron.WithSeconds(), // 支持秒级精度
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		sweeper: sweeper,
		expr:    expr,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	entry, err := cs.cron.AddFunc(expr, func() { cs.RunOnce(cs.runContext()) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("注册超时扫描任务失败: %w", err)
	}
	cs.entry = entry
	return cs, nil
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return
	}
	if cs.ctx.Err() != nil {
		cs.ctx, cs.cancel = context.WithCancel(context.Background())
	}
	cs.cron.Start()
	cs.running = true
	cs.logger.Info("✅ [Cron调度器] 已启动", zap.String("cron", cs.expr))
}

// Stop 停止定时调度器，等待正在进行的扫描结束（对外导出）
func (cs *CronScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.cancel()
	cs.mu.Unlock()

	<-cs.cron.Stop().Done()
	cs.logger.Info("✅ [Cron调度器] 已停止")
}

// RunOnce 立即执行一次扫描并记录结果（对外导出）
func (cs *CronScheduler) RunOnce(ctx context.Context) SweepReport {
	started := time.Now()
	breached, err := cs.sweeper.CheckAllTenants(ctx)
	report := SweepReport{
		StartedAt: started,
		Duration:  time.Since(started),
		Breached:  breached,
		Err:       err,
	}

	if err != nil {
		cs.logger.Warn("⚠️ [Cron调度器] 超时扫描部分失败", zap.Error(err), zap.Int("breached", report.Total()))
	} else {
		cs.logger.Debug("[Cron调度器] 超时扫描完成",
			zap.Int("breached", report.Total()), zap.Duration("duration", report.Duration))
	}

	cs.mu.Lock()
	cs.last = &report
	cs.mu.Unlock()
	return report
}

func (cs *CronScheduler) runContext() context.Context {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.ctx
}

// LastReport 最近一次扫描结果，尚未扫描时返回false
func (cs *CronScheduler) LastReport() (SweepReport, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.last == nil {
		return SweepReport{}, false
	}
	return *cs.last, true
}

// Next 下一次计划扫描时间
func (cs *CronScheduler) Next() time.Time {
	return cs.cron.Entry(cs.entry).Next
}

// IsRunning 是否已启动
func (cs *CronScheduler) IsRunning() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.running
}
