package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	popTimeout      = 5 * time.Second
	promoteInterval = time.Second
	promoteBatch    = 100
	popErrorBackoff = time.Second
)

// Runner 多个消费循环加一个延迟任务搬运循环
type Runner struct {
	queue     JobQueue
	processor *Processor
	workers   int
	log       *zap.SugaredLogger

	popTimeout      time.Duration
	promoteInterval time.Duration
}

func NewRunner(jobQueue JobQueue, processor *Processor, workers int, log *zap.SugaredLogger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		queue:           jobQueue,
		processor:       processor,
		workers:         workers,
		log:             log,
		popTimeout:      popTimeout,
		promoteInterval: promoteInterval,
	}
}

// Run 阻塞直到 ctx 取消且所有循环退出
func (r *Runner) Run(ctx context.Context) {
	r.log.Infow("worker started", "max_workers", r.workers)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.consume(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.promote(ctx)
	}()

	wg.Wait()
	r.log.Infow("worker shutdown complete")
}

func (r *Runner) consume(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("worker shutting down", "worker_id", workerID)
			return
		default:
		}

		msg, err := r.queue.Pop(ctx, r.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Errorw("failed to pop job", "worker_id", workerID, "error", err)
			time.Sleep(popErrorBackoff)
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		if err := r.processor.Process(ctx, msg); err != nil {
			r.log.Debugw("job attempt ended with error", "worker_id", workerID, "job_id", msg.JobID, "error", err)
		}
	}
}

func (r *Runner) promote(ctx context.Context) {
	ticker := time.NewTicker(r.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := r.queue.PromoteDue(ctx, now, promoteBatch)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warnw("failed to promote delayed jobs", "error", err)
				}
				continue
			}
			if n > 0 {
				r.log.Infow("promoted delayed jobs", "count", n)
			}
		}
	}
}
