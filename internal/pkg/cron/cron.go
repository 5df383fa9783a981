package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HistoryPurger 历史记录清理
type HistoryPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPurger 终态会话清理
type SessionPurger interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QueueTrimmer 队列完成/失败记录清理
type QueueTrimmer interface {
	Trim(ctx context.Context, before time.Time) (int64, error)
}

type Options struct {
	Interval       time.Duration
	DataRetention  time.Duration // 历史记录和终态会话
	QueueRetention time.Duration // 队列记录
	RunOnStart     bool
}

// Summary 一次清理的结果
type Summary struct {
	History  int64
	Sessions int64
	Queue    int64
}

func (s Summary) Total() int64 {
	return s.History + s.Sessions + s.Queue
}

type Service struct {
	history  HistoryPurger
	sessions SessionPurger
	queue    QueueTrimmer
	opts     Options
	log      *zap.SugaredLogger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewService queue 为 nil 时跳过队列清理
func NewService(history HistoryPurger, sessions SessionPurger, queue QueueTrimmer, opts Options, log *zap.SugaredLogger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Service{
		history:  history,
		sessions: sessions,
		queue:    queue,
		opts:     opts,
		log:      log,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(1)
	go s.runCleanup()
	s.log.Infow("cron service started", "interval", s.opts.Interval)
}

// Stop 停止定时任务
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.log.Infow("cron service stopped")
}

// runCleanup 每个周期执行一次全量清理
func (s *Service) runCleanup() {
	defer s.wg.Done()

	if s.opts.RunOnStart {
		s.RunNow(context.Background())
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunNow(context.Background())
		}
	}
}

// RunNow 立即执行所有清理任务，单项失败只记日志
func (s *Service) RunNow(ctx context.Context) Summary {
	now := s.now()
	var sum Summary

	if s.opts.DataRetention > 0 {
		cutoff := now.Add(-s.opts.DataRetention)
		if s.history != nil {
			n, err := s.history.DeleteBefore(ctx, cutoff)
			if err != nil {
				s.log.Errorw("cleanup history failed", "error", err)
			}
			sum.History = n
		}
		if s.sessions != nil {
			n, err := s.sessions.DeleteTerminalBefore(ctx, cutoff)
			if err != nil {
				s.log.Errorw("cleanup sessions failed", "error", err)
			}
			sum.Sessions = n
		}
	}

	if s.queue != nil && s.opts.QueueRetention > 0 {
		n, err := s.queue.Trim(ctx, now.Add(-s.opts.QueueRetention))
		if err != nil {
			s.log.Errorw("cleanup queue records failed", "error", err)
		}
		sum.Queue = n
	}

	if sum.Total() > 0 {
		s.log.Infow("cleanup summary", "history", sum.History, "sessions", sum.Sessions, "queue", sum.Queue)
	}
	return sum
}
