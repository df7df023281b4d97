package sla

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LENAX/task-lifecycle/pkg/core/automation"
	"github.com/LENAX/task-lifecycle/pkg/core/clock"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/metrics"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// SweepLocker 租户级扫描租约（对外导出）
// 多副本部署时保证同一租户同一时刻只有一个扫描者。
type SweepLocker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// NoopLocker 总是获得租约
type NoopLocker struct{}

// TryLock 实现SweepLocker接口
func (NoopLocker) TryLock(context.Context, string, string, time.Duration) (bool, error) { return true, nil }

// Unlock 实现SweepLocker接口
func (NoopLocker) Unlock(context.Context, string, string) error { return nil }

// BreachScanner 超时扫描器（对外导出）
// 只做 active/paused -> breached 的转换，写入方式与引擎相同。
type BreachScanner struct {
	repo        Repository
	clock       clock.Clock
	sink        automation.Sink
	logger      *zap.Logger
	metrics     *metrics.Collector
	locker      SweepLocker
	lockTTL     time.Duration
	concurrency int
	owner       string
}

// ScannerOption 扫描器配置项
type ScannerOption func(*BreachScanner)

// WithScannerClock 设置时钟
func WithScannerClock(c clock.Clock) ScannerOption {
	return func(s *BreachScanner) { s.clock = c }
}

// WithScannerSink 设置自动化事件出口
func WithScannerSink(sink automation.Sink) ScannerOption {
	return func(s *BreachScanner) { s.sink = sink }
}

// WithScannerLogger 设置日志
func WithScannerLogger(l *zap.Logger) ScannerOption {
	return func(s *BreachScanner) { s.logger = l }
}

// WithScannerMetrics 设置指标
func WithScannerMetrics(m *metrics.Collector) ScannerOption {
	return func(s *BreachScanner) { s.metrics = m }
}

// WithSweepLocker 设置扫描租约及其有效期
func WithSweepLocker(l SweepLocker, ttl time.Duration) ScannerOption {
	return func(s *BreachScanner) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithTenantConcurrency 设置跨租户并行度
func WithTenantConcurrency(n int) ScannerOption {
	return func(s *BreachScanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewBreachScanner 创建超时扫描器
func NewBreachScanner(repo Repository, opts ...ScannerOption) *BreachScanner {
	s := &BreachScanner{
		repo:        repo,
		clock:       clock.System{},
		sink:        automation.NoopSink{},
		logger:      zap.NewNop(),
		locker:      NoopLocker{},
		lockTTL:     time.Minute,
		concurrency: 4,
		owner:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckBreaches 扫描一个租户，返回本次新标记为超时的实例
// 单个实例失败只记录日志，不会中断扫描；已被其他写入者结算的实例会被跳过。
func (s *BreachScanner) CheckBreaches(ctx context.Context, tenantID string) ([]*Instance, error) {
	if tenantID == "" {
		return nil, errs.Validation("missing_tenant", "tenant id is required")
	}

	lockKey := "sla-sweep:" + tenantID
	ok, err := s.locker.TryLock(ctx, lockKey, s.owner, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("获取扫描租约失败: %w", err)
	}
	if !ok {
		s.logger.Debug("[超时扫描] 租户正由其他实例扫描，跳过", zap.String("tenant_id", tenantID))
		return nil, nil
	}
	defer func() {
		if err := s.locker.Unlock(context.Background(), lockKey, s.owner); err != nil {
			s.logger.Warn("[超时扫描] 释放扫描租约失败", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}()

	begin := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(begin)) }()

	now := s.clock.Now()
	candidates, err := s.repo.ListBreachCandidates(ctx, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("查询待扫描SLA实例失败: %w", err)
	}

	breached := make([]*Instance, 0)
	for _, inst := range candidates {
		if inst.TenantID != tenantID || !inst.Breached(now) {
			continue
		}

		next := inst.Clone()
		if err := next.breach(now); err != nil {
			s.logger.Warn("[超时扫描] 实例状态异常，跳过", zap.String("instance_id", inst.ID), zap.Error(err))
			s.metrics.SweepFailed()
			continue
		}
		next.Version = inst.Version + 1

		if err := s.repo.UpdateInstance(ctx, next, inst.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrNotFound) {
				s.logger.Debug("[超时扫描] 实例已被并发结算，跳过", zap.String("instance_id", inst.ID))
				continue
			}
			s.logger.Error("[超时扫描] 标记超时失败", zap.String("instance_id", inst.ID), zap.Error(err))
			s.metrics.SweepFailed()
			continue
		}

		breached = append(breached, next)
		automation.Fire(ctx, s.sink, s.logger, instanceEvent(automation.EventSLABreached, next, now))
	}

	s.metrics.Breached(len(breached))
	if len(breached) > 0 {
		s.logger.Info("[超时扫描] 扫描完成",
			zap.String("tenant_id", tenantID), zap.Int("candidates", len(candidates)), zap.Int("breached", len(breached)))
	}
	return breached, nil
}

// CheckAllTenants 并行扫描所有存在未结束实例的租户
// 某个租户失败不影响其他租户，所有失败合并返回。
func (s *BreachScanner) CheckAllTenants(ctx context.Context) (map[string][]*Instance, error) {
	tenants, err := s.repo.ListTenantsWithOpenInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询租户失败: %w", err)
	}
	sort.Strings(tenants)

	var (
		mu       sync.Mutex
		results  = make(map[string][]*Instance, len(tenants))
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, tenantID := range tenants {
		g.Go(func() error {
			list, err := s.CheckBreaches(gctx, tenantID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("[超时扫描] 租户扫描失败", zap.String("tenant_id", tenantID), zap.Error(err))
				failures = append(failures, fmt.Errorf("tenant %s: %w", tenantID, err))
				return nil
			}
			if len(list) > 0 {
				results[tenantID] = list
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(failures...)
}
