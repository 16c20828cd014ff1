// Package queue 提供进程内后台任务队列。
// 单二进制部署下代替外部消息中间件：有界 channel 加固定 worker 池。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 任务类型
const (
	JobProcessTicket   = "process_ticket"
	JobExecuteApproved = "execute_approved"
	JobRetryExecution  = "retry_execution"
)

// Job 一个待处理的后台任务
type Job struct {
	Type        string
	TicketID    uint
	ExecutionID uint
	ApproverID  uint

	// 队列级投递次数，与业务层的 retry_count 分开计数
	deliveries int
}

// Handler 处理一种任务类型
// 返回错误触发重投；达到重投上限后任务被丢弃并记录。
type Handler func(ctx context.Context, job Job) error

var ErrQueueFull = errors.New("queue: buffer full")
var ErrStopped = errors.New("queue: stopped")

// Queue 进程内任务队列
type Queue struct {
	jobs         chan Job
	workers      int
	maxRedeliver int
	logger       *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	stopped  bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New 创建队列
func New(workers, bufferSize, maxRedeliver int, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 64
	}
	if maxRedeliver < 0 {
		maxRedeliver = 0
	}
	return &Queue{
		jobs:         make(chan Job, bufferSize),
		workers:      workers,
		maxRedeliver: maxRedeliver,
		logger:       logger,
		handlers:     make(map[string]Handler),
	}
}

// Register 注册任务处理器，必须在 Start 之前调用
func (q *Queue) Register(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Start 启动 worker 池
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < q.workers; i++ {
		worker := i
		q.group.Go(func() error {
			q.logger.Debugf("queue worker %d started", worker)
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-q.jobs:
					if !ok {
						return nil
					}
					q.process(ctx, job)
				}
			}
		})
	}
	q.logger.Infof("job queue started with %d workers (buffer=%d)", q.workers, cap(q.jobs))
}

// Enqueue 投递任务
// 缓冲满时立即返回 ErrQueueFull 而不是阻塞请求路径。
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	stopped := q.stopped
	q.mu.RUnlock()
	if stopped {
		return ErrStopped
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Errorf("no handler for job type %s (ticket=%d), dropping", job.Type, job.TicketID)
		return
	}

	err := q.invoke(ctx, handler, job)
	if err == nil {
		return
	}

	job.deliveries++
	if job.deliveries > q.maxRedeliver {
		q.logger.Errorf("job %s (ticket=%d) dropped after %d deliveries: %v",
			job.Type, job.TicketID, job.deliveries, err)
		return
	}

	q.logger.Warnf("job %s (ticket=%d) failed, redelivering (%d/%d): %v",
		job.Type, job.TicketID, job.deliveries, q.maxRedeliver, err)
	select {
	case q.jobs <- job:
	default:
		q.logger.Errorf("job %s (ticket=%d) dropped: buffer full on redelivery", job.Type, job.TicketID)
	}
}

// invoke 隔离 handler panic，转成普通错误参与重投
func (q *Queue) invoke(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Stop 停止接收新任务并等待 worker 退出
// 已入队但尚未开始的任务被丢弃（挂起的工单由定时清扫兜底）。
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	if q.group != nil {
		_ = q.group.Wait()
	}
	q.logger.Info("job queue stopped")
}

// Depth 当前排队深度，用于指标上报
func (q *Queue) Depth() int {
	return len(q.jobs)
}
