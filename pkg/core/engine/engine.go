package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	istorage "github.com/LENAX/task-lifecycle/internal/storage"
	"github.com/LENAX/task-lifecycle/pkg/config"
	"github.com/LENAX/task-lifecycle/pkg/core/automation"
	"github.com/LENAX/task-lifecycle/pkg/core/clock"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/logging"
	"github.com/LENAX/task-lifecycle/pkg/metrics"
	"github.com/LENAX/task-lifecycle/pkg/storage/lease"
)

// Engine 任务生命周期引擎（对外导出）
// 组合工作流引擎、SLA引擎、超时扫描器以及自动化事件总线。
type Engine struct {
	Workflows  *workflow.Engine
	SLAs       *sla.Engine
	Scanner    *sla.BreachScanner
	Dispatcher *automation.Dispatcher
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry

	store     istorage.Store
	scheduler *CronScheduler
	consumer  *automation.Consumer
	bus       *gochannel.GoChannel
	locker    *lease.RedisLocker
	logger    *zap.Logger

	running bool
	stopped bool
	done    chan struct{}
	mu      sync.Mutex
}

// Options 组装Engine所需的协作方（对外导出）
// 除Store外均可为零值。
type Options struct {
	Store      istorage.Store
	Tasks      types.TaskStore
	Clock      clock.Clock
	Logger     *zap.Logger
	Sink       automation.Sink
	Locker     sla.SweepLocker
	LockTTL    time.Duration
	ScanCron   string // 为空时不启用定时扫描
	TenantScan int    // 跨租户并行度
}

// New 用给定协作方创建Engine（对外导出）
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("存储不能为空")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)
	dispatcher := automation.NewDispatcher()

	sink := opts.Sink
	if sink == nil {
		sink = dispatcher
	}

	eng := &Engine{
		Dispatcher: dispatcher,
		Metrics:    collector,
		Registry:   registry,
		store:      opts.Store,
		logger:     opts.Logger,
	}
	eng.Workflows = workflow.NewEngine(opts.Store.Workflows(), opts.Tasks,
		workflow.WithClock(opts.Clock),
		workflow.WithSink(sink),
		workflow.WithLogger(opts.Logger),
		workflow.WithMetrics(collector),
	)
	eng.SLAs = sla.NewEngine(opts.Store.SLAs(), opts.Tasks,
		sla.WithClock(opts.Clock),
		sla.WithSink(sink),
		sla.WithLogger(opts.Logger),
		sla.WithMetrics(collector),
	)

	scannerOpts := []sla.ScannerOption{
		sla.WithScannerClock(opts.Clock),
		sla.WithScannerSink(sink),
		sla.WithScannerLogger(opts.Logger),
		sla.WithScannerMetrics(collector),
		sla.WithTenantConcurrency(opts.TenantScan),
	}
	if opts.Locker != nil {
		scannerOpts = append(scannerOpts, sla.WithSweepLocker(opts.Locker, opts.LockTTL))
	}
	eng.Scanner = sla.NewBreachScanner(opts.Store.SLAs(), scannerOpts...)

	if opts.ScanCron != "" {
		scheduler, err := NewCronScheduler(eng.Scanner, opts.ScanCron, opts.Logger)
		if err != nil {
			return nil, err
		}
		eng.scheduler = scheduler
	}
	return eng, nil
}

// NewFromConfig 按配置创建Engine（对外导出）
// 打开存储，按需连接Redis扫描租约，并把事件经watermill总线投递给Dispatcher。
func NewFromConfig(ctx context.Context, cfg *config.EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tl := cfg.TaskLifecycle

	backend, err := istorage.Open(cfg)
	if err != nil {
		return nil, err
	}

	opts := Options{
		Store:      backend.Store,
		Tasks:      backend.Tasks,
		Logger:     logger,
		Sink:       automation.NoopSink{},
		TenantScan: tl.Scanner.TenantConcurrency,
		LockTTL:    tl.Scanner.Lock.TTL,
	}
	if tl.Scanner.Enabled {
		opts.ScanCron = tl.Scanner.Cron
	}

	var locker *lease.RedisLocker
	if cfg.LockEnabled() {
		lock := tl.Scanner.Lock
		locker, err = lease.NewRedisLockerFromAddr(ctx, lock.RedisAddr, lock.RedisPassword, lock.RedisDB, lock.KeyPrefix)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		opts.Locker = locker
		logger.Info("✅ [引擎] 已启用Redis扫描租约", zap.String("addr", lock.RedisAddr))
	}

	var (
		bus      *gochannel.GoChannel
		wmLogger watermill.LoggerAdapter
	)
	if tl.Automation.Enabled {
		wmLogger = logging.NewWatermillAdapter(logger)
		bus = automation.NewGoChannelBus(wmLogger)
		opts.Sink = automation.NewWatermillSink(bus, tl.Automation.TopicPrefix)
	}

	eng, err := New(opts)
	if err != nil {
		if locker != nil {
			_ = locker.Close()
		}
		_ = backend.Close()
		return nil, err
	}
	eng.locker = locker

	if bus != nil {
		consumer, err := automation.NewConsumer(eng.Dispatcher, bus, tl.Automation.TopicPrefix, wmLogger)
		if err != nil {
			_ = eng.Close()
			_ = bus.Close()
			return nil, err
		}
		eng.bus = bus
		eng.consumer = consumer
	}

	if tl.Automation.LogEvents {
		if err := eng.logEvents(); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}
	return eng, nil
}

// logEvents 注册一个记录全部事件的处理器
func (e *Engine) logEvents() error {
	h := automation.HandlerFunc{
		HandlerName: "event-log",
		Fn: func(_ context.Context, ev automation.Event) error {
			e.logger.Info("[自动化] 收到事件",
				zap.String("event_type", string(ev.Type)),
				zap.String("tenant_id", ev.TenantID),
				zap.String("task_id", ev.TaskID),
				zap.String("instance_id", ev.InstanceID))
			return nil
		},
	}
	if err := e.Dispatcher.Register(h); err != nil {
		return err
	}
	for _, ev := range automation.AllEvents {
		if err := e.Dispatcher.Bind(automation.Binding{HandlerName: h.HandlerName, Event: ev}); err != nil {
			return err
		}
	}
	return nil
}

// Start 启动事件消费与定时扫描（对外导出）
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("引擎已在运行")
	}
	if e.stopped {
		return fmt.Errorf("引擎已停止，不能再次启动")
	}

	if e.consumer != nil {
		e.done = make(chan struct{})
		go func() {
			defer close(e.done)
			if err := e.consumer.Run(context.Background()); err != nil {
				e.logger.Error("❌ [引擎] 事件消费退出", zap.Error(err))
			}
		}()
		select {
		case <-e.consumer.Running():
		case <-ctx.Done():
			// 路由器关闭后不能重启，引擎随之进入停止状态
			if err := e.consumer.Close(); err != nil {
				e.logger.Warn("⚠️ [引擎] 关闭事件消费失败", zap.Error(err))
			}
			<-e.done
			e.stopped = true
			return ctx.Err()
		}
	}
	if e.scheduler != nil {
		e.scheduler.Start()
	}

	e.running = true
	e.logger.Info("✅ [引擎] 已启动", zap.Bool("scanner", e.scheduler != nil), zap.Bool("automation", e.consumer != nil))
	return nil
}

// Stop 停止定时扫描与事件消费（对外导出）
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.consumer != nil {
		if err := e.consumer.Close(); err != nil {
			e.logger.Warn("⚠️ [引擎] 关闭事件消费失败", zap.Error(err))
		}
		<-e.done
	}
	e.running = false
	e.stopped = true
	e.logger.Info("✅ [引擎] 已停止")
}

// Close 停止引擎并释放存储、事件总线与Redis连接（对外导出）
func (e *Engine) Close() error {
	e.Stop()

	var failures []error
	if e.bus != nil {
		failures = append(failures, e.bus.Close())
	}
	if e.locker != nil {
		failures = append(failures, e.locker.Close())
	}
	failures = append(failures, e.store.Close())
	return errors.Join(failures...)
}

// Ping 检查存储与扫描租约用的Redis是否可用（对外导出）
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("存储不可用: %w", err)
	}
	if e.locker != nil {
		if err := e.locker.Ping(ctx); err != nil {
			return fmt.Errorf("redis不可用: %w", err)
		}
	}
	return nil
}

// Scan 立即执行一次全租户超时扫描（对外导出）
func (e *Engine) Scan(ctx context.Context) SweepReport {
	if e.scheduler != nil {
		return e.scheduler.RunOnce(ctx)
	}
	started := time.Now()
	breached, err := e.Scanner.CheckAllTenants(ctx)
	return SweepReport{StartedAt: started, Duration: time.Since(started), Breached: breached, Err: err}
}

// Scheduler 定时扫描调度器，未启用时为nil
func (e *Engine) Scheduler() *CronScheduler {
	return e.scheduler
}

// PurgeResult 任务级联删除结果
type PurgeResult struct {
	WorkflowInstances int `json:"workflow_instances"`
	SLAInstances      int `json:"sla_instances"`
}

// PurgeTask 任务被删除后级联删除其全部工作流与SLA实例（对外导出）
// 不检查任务是否存在，调用方通常在任务已删除之后调用。
func (e *Engine) PurgeTask(ctx context.Context, tenantID, taskID string) (PurgeResult, error) {
	if tenantID == "" {
		return PurgeResult{}, errs.Validation("missing_tenant", "tenant id is required")
	}
	if taskID == "" {
		return PurgeResult{}, errs.Validation("missing_task", "task id is required")
	}

	var result PurgeResult
	n, err := e.Workflows.DeleteTaskInstances(ctx, tenantID, taskID)
	if err != nil {
		return result, err
	}
	result.WorkflowInstances = n

	n, err = e.SLAs.DeleteTaskInstances(ctx, tenantID, taskID)
	if err != nil {
		return result, err
	}
	result.SLAInstances = n

	e.logger.Info("[引擎] 已清理任务实例",
		zap.String("tenant_id", tenantID), zap.String("task_id", taskID),
		zap.Int("workflow_instances", result.WorkflowInstances), zap.Int("sla_instances", result.SLAInstances))
	return result, nil
}
