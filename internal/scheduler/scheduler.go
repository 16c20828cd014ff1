package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler 周期任务调度器
// 承载卡单清扫等后台周期任务，进程退出时随 context 停止。
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	logger *logrus.Logger
}

// New 创建调度器
func New(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]cron.EntryID),
		logger: logger,
	}
}

// AddJob 注册一个周期任务
// schedule 支持标准 5 段 cron 表达式或 @every 1h 这类预定义写法。
func (s *Scheduler) AddJob(name, schedule string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debugf("scheduled job %s fired", name)
		fn(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %s: %w", schedule, name, err)
	}

	s.jobs[name] = id
	s.logger.Infof("scheduled job %s registered (schedule=%s)", name, schedule)
	return nil
}

// RemoveJob 按名称移除任务
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// JobCount 当前注册的任务数
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start 启动调度循环，阻塞直到 context 取消
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}
