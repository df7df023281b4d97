// Package metrics 状态引擎的Prometheus指标（对外导出）
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "task_lifecycle"

// Collector 指标集合（对外导出）
// 方法对nil接收者安全，未配置指标时引擎可直接传nil。
type Collector struct {
	WorkflowEvents *prometheus.CounterVec
	SLATransitions *prometheus.CounterVec
	SLABreaches    prometheus.Counter
	SweepFailures  prometheus.Counter
	SweepDuration  prometheus.Histogram
}

// New 创建指标并注册到reg；reg为nil时只创建不注册
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		WorkflowEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow lifecycle events by type.",
		}, []string{"event"}),
		SLATransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_transitions_total",
			Help:      "SLA instance status changes by target status.",
		}, []string{"to"}),
		SLABreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_breaches_total",
			Help:      "SLA instances flagged as breached by the scanner.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breach_sweep_failures_total",
			Help:      "Per-instance failures skipped during breach sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "breach_sweep_duration_seconds",
			Help:      "Duration of a single tenant breach sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.WorkflowEvents, c.SLATransitions, c.SLABreaches, c.SweepFailures, c.SweepDuration)
	}
	return c
}

// WorkflowEvent 记录一次工作流事件
func (c *Collector) WorkflowEvent(event string) {
	if c == nil {
		return
	}
	c.WorkflowEvents.WithLabelValues(event).Inc()
}

// SLATransition 记录一次SLA状态变化
func (c *Collector) SLATransition(to string) {
	if c == nil {
		return
	}
	c.SLATransitions.WithLabelValues(to).Inc()
}

// Breached 记录新超时数量
func (c *Collector) Breached(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.SLABreaches.Add(float64(n))
}

// SweepFailed 记录一次扫描中的单实例失败
func (c *Collector) SweepFailed() {
	if c == nil {
		return
	}
	c.SweepFailures.Inc()
}

// ObserveSweep 记录一次租户扫描耗时
func (c *Collector) ObserveSweep(d time.Duration) {
	if c == nil {
		return
	}
	c.SweepDuration.Observe(d.Seconds())
}
