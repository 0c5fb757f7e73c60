package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"shayak-swasth-rag/pkg/logger"
)

const (
	evictionTag     = "index-eviction"
	staleRecoverTag = "stale-processing-recovery"
)

// StaleRecoverer 回收失联的处理
type StaleRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// Scheduler 周期清理过期索引版本与失联的处理
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewEvictionScheduler 每 interval 执行一次 EvictAll
func NewEvictionScheduler(ev Evictor, interval, retention time.Duration) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	_, err := s.Every(interval).Tag(evictionTag).SingletonMode().Do(func() {
		start := time.Now()
		removed, err := ev.EvictAll(ctx, retention)
		if err != nil {
			logger.Error(ctx, "scheduled index eviction failed", err)
			return
		}
		logger.Info(ctx, "scheduled index eviction finished",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &Scheduler{scheduler: s, ctx: ctx, cancel: cancel}, nil
}

// ScheduleStaleRecovery 每 interval 把失联的 processing 文档置为 error
func (s *Scheduler) ScheduleStaleRecovery(r StaleRecoverer, interval time.Duration) error {
	_, err := s.scheduler.Every(interval).Tag(staleRecoverTag).SingletonMode().Do(func() {
		n, err := r.RecoverStale(s.ctx)
		if err != nil {
			logger.Error(s.ctx, "stale processing recovery failed", err)
			return
		}
		if n > 0 {
			logger.Warn(s.ctx, "stale processing recovered", "documents", n)
		}
	})
	return err
}

// Start 异步启动
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop 停止调度并取消进行中的清理
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// Jobs 已注册的任务
func (s *Scheduler) Jobs() []*gocron.Job {
	return s.scheduler.Jobs()
}
