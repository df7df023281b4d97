package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sink 自动化触发器出口（对外导出）
type Sink interface {
	Notify(ctx context.Context, event TriggerEvent, payload Event) error
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, event TriggerEvent, payload Event) error

// Notify 实现Sink接口
func (f SinkFunc) Notify(ctx context.Context, event TriggerEvent, payload Event) error {
	return f(ctx, event, payload)
}

// NoopSink 丢弃所有事件
type NoopSink struct{}

// Notify 实现Sink接口
func (NoopSink) Notify(context.Context, TriggerEvent, Event) error { return nil }

// Fire 尽力投递事件：失败或panic只记录日志，不向调用方返回
func Fire(ctx context.Context, sink Sink, logger *zap.Logger, payload Event) {
	if sink == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[自动化] 事件投递panic",
				zap.String("event", string(payload.Type)),
				zap.String("task_id", payload.TaskID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := sink.Notify(ctx, payload.Type, payload); err != nil {
		logger.Warn("[自动化] 事件投递失败",
			zap.String("event", string(payload.Type)),
			zap.String("tenant_id", payload.TenantID),
			zap.String("task_id", payload.TaskID),
			zap.Error(err))
	}
}

// MultiSink 依次投递到多个Sink，聚合错误
type MultiSink []Sink

// Notify 实现Sink接口
func (m MultiSink) Notify(ctx context.Context, event TriggerEvent, payload Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("投递事件失败: %v", errs)
	}
	return nil
}
