package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Handler 自动化事件处理器（对外导出）
// 下游的规则引擎以Handler的形式挂接到Dispatcher上。
type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc 函数适配器
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, event Event) error
}

// Name 返回处理器名称
func (h HandlerFunc) Name() string { return h.HandlerName }

// Handle 执行处理函数
func (h HandlerFunc) Handle(ctx context.Context, event Event) error { return h.Fn(ctx, event) }

// Binding 处理器绑定规则（对外导出）
type Binding struct {
	HandlerName string           // 处理器名称
	Event       TriggerEvent     // 触发事件
	Condition   func(Event) bool // 可选：条件函数，满足条件才触发
}

// Dispatcher 事件分发器（对外导出）
// 既可直接作为Sink（同步分发），也可通过Consumer挂到watermill订阅端。
type Dispatcher struct {
	handlers map[string]Handler         // 处理器名称 -> 处理器
	bindings map[TriggerEvent][]Binding // 事件类型 -> 绑定列表
	mu       sync.RWMutex
}

// NewDispatcher 创建分发器
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		bindings: make(map[TriggerEvent][]Binding),
	}
}

// Register 注册处理器
func (d *Dispatcher) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("处理器不能为空")
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("处理器名称不能为空")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("处理器 %s 已注册", name)
	}
	d.handlers[name] = h
	return nil
}

// Bind 绑定处理器到事件
func (d *Dispatcher) Bind(b Binding) error {
	if b.HandlerName == "" {
		return fmt.Errorf("处理器名称不能为空")
	}
	if b.Event == "" {
		return fmt.Errorf("触发事件不能为空")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[b.HandlerName]; !exists {
		return fmt.Errorf("处理器 %s 未注册", b.HandlerName)
	}
	d.bindings[b.Event] = append(d.bindings[b.Event], b)
	return nil
}

// Unregister 取消注册处理器，同时移除其绑定
func (d *Dispatcher) Unregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[name]; !exists {
		return fmt.Errorf("处理器 %s 未注册", name)
	}
	delete(d.handlers, name)
	for ev, list := range d.bindings {
		kept := list[:0]
		for _, b := range list {
			if b.HandlerName != name {
				kept = append(kept, b)
			}
		}
		d.bindings[ev] = kept
	}
	return nil
}

// Handlers 列出已注册的处理器名称
func (d *Dispatcher) Handlers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Notify 实现Sink接口，同步分发
func (d *Dispatcher) Notify(ctx context.Context, event TriggerEvent, payload Event) error {
	payload.Type = event
	return d.Trigger(ctx, payload)
}

// Trigger 分发事件到所有匹配的处理器，聚合错误
func (d *Dispatcher) Trigger(ctx context.Context, payload Event) error {
	d.mu.RLock()
	bindings := append([]Binding(nil), d.bindings[payload.Type]...)
	d.mu.RUnlock()

	if len(bindings) == 0 {
		return nil
	}

	var errs []error
	for _, b := range bindings {
		if b.Condition != nil && !b.Condition(payload) {
			continue
		}

		d.mu.RLock()
		h, exists := d.handlers[b.HandlerName]
		d.mu.RUnlock()
		if !exists {
			continue
		}

		if err := h.Handle(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("处理器 %s 执行失败: %w", b.HandlerName, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("分发事件失败: %v", errs)
	}
	return nil
}

// Consumer 把watermill订阅端接到Dispatcher（对外导出）
type Consumer struct {
	router     *message.Router
	dispatcher *Dispatcher
}

// NewConsumer 为每种事件注册一个订阅处理器
// 处理器失败只记录日志并确认消息，gochannel对Nack会无限重投。
func NewConsumer(dispatcher *Dispatcher, subscriber message.Subscriber, topicPrefix string, logger watermill.LoggerAdapter) (*Consumer, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("创建消息路由器失败: %w", err)
	}

	for _, ev := range AllEvents {
		router.AddNoPublisherHandler(
			"automation_"+string(ev),
			topicPrefix+string(ev),
			subscriber,
			func(msg *message.Message) error {
				payload, err := DecodeMessage(msg)
				if err != nil {
					// 格式错误的消息重投也无法处理，直接丢弃
					logger.Error("丢弃无法解析的事件", err, watermill.LogFields{"uuid": msg.UUID})
					return nil
				}
				if err := dispatcher.Trigger(msg.Context(), payload); err != nil {
					logger.Error("自动化处理器执行失败", err, watermill.LogFields{"uuid": msg.UUID, "event_type": string(payload.Type)})
				}
				return nil
			},
		)
	}

	return &Consumer{router: router, dispatcher: dispatcher}, nil
}

// Run 运行路由器，阻塞直到ctx取消或Close
func (c *Consumer) Run(ctx context.Context) error {
	return c.router.Run(ctx)
}

// Running 路由器开始处理消息后关闭
func (c *Consumer) Running() chan struct{} {
	return c.router.Running()
}

// Close 关闭路由器
func (c *Consumer) Close() error {
	return c.router.Close()
}

var _ Sink = (*Dispatcher)(nil)
