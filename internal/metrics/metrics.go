// Package metrics 暴露 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicketsCreated 按类别统计创建的工单数
	TicketsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolvify_tickets_created_total",
		Help: "Tickets created, by category.",
	}, []string{"category"})

	// TicketTransitions 状态迁移计数
	TicketTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolvify_ticket_transitions_total",
		Help: "Ticket status transitions.",
	}, []string{"from", "to"})

	// PolicyDecisions 策略评估结果计数
	PolicyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolvify_policy_decisions_total",
		Help: "Policy evaluator decisions.",
	}, []string{"decision"})

	// AutomationExecutions 自动化执行结果计数
	AutomationExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolvify_automation_executions_total",
		Help: "Automation executions by type and outcome.",
	}, []string{"type", "outcome"})

	// AutomationDuration 自动化执行耗时分布
	AutomationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolvify_automation_duration_seconds",
		Help:    "Automation execution duration in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300},
	}, []string{"type"})

	// StuckTicketsSwept 被定时清扫强制失败的工单数
	StuckTicketsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolvify_stuck_tickets_swept_total",
		Help: "Tickets forced to failed by the stuck-ticket sweep.",
	})

	// QueueDepth 当前队列深度
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolvify_queue_depth",
		Help: "Jobs currently buffered in the in-process queue.",
	})

	// RateLimitDrops 被限流拒绝的请求数
	RateLimitDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolvify_rate_limit_drops_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"scope"})
)
