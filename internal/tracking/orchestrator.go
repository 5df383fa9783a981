package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
)

// 阶段边界进度
const (
	ProgressStarted   = 10
	ProgressGenerated = 30
	ProgressAggregate = 90
	ProgressDone      = 100
)

type Options struct {
	PromptCount        int
	ConcurrencyLimit   int           // 1 表示顺序执行
	RateLimitDelay     time.Duration // 两次调用（或两个批次）之间的间隔
	ExecuteProgressEnd int           // 执行阶段结束时的进度，80 或 90
}

// Orchestrator 生成提示词、批量查询并聚合指标
type Orchestrator struct {
	prompts  PromptSource
	query    ExternalQuery
	executor *resilience.Executor
	opts     Options
	log      *zap.SugaredLogger
}

func NewOrchestrator(prompts PromptSource, query ExternalQuery, executor *resilience.Executor, opts Options, log *zap.SugaredLogger) *Orchestrator {
	if opts.ConcurrencyLimit < 1 {
		opts.ConcurrencyLimit = 1
	}
	if opts.ExecuteProgressEnd <= ProgressGenerated || opts.ExecuteProgressEnd > ProgressAggregate {
		opts.ExecuteProgressEnd = 80
	}
	return &Orchestrator{
		prompts:  prompts,
		query:    query,
		executor: executor,
		opts:     opts,
		log:      log,
	}
}

// Execute 运行一次追踪任务。任一提示词最终失败即整体失败，不产生部分结果
func (o *Orchestrator) Execute(ctx context.Context, p model.TrackingPayload, sink ProgressSink) (*model.TrackingResult, error) {
	if sink == nil {
		sink = func(int) {}
	}

	sink(ProgressStarted)
	prompts := o.generate(ctx, p.Category)
	sink(ProgressGenerated)

	var (
		results []model.QueryResult
		err     error
	)
	if o.opts.ConcurrencyLimit > 1 {
		results, err = o.executeConcurrent(ctx, prompts, p, sink)
	} else {
		results, err = o.executeSequential(ctx, prompts, p, sink)
	}
	if err != nil {
		return nil, err
	}

	sink(ProgressAggregate)
	metrics := Compute(results, p.Brands, p.Competitors)
	sink(ProgressDone)

	return &model.TrackingResult{
		Category:      p.Category,
		Brands:        p.Brands,
		Competitors:   p.Competitors,
		Mode:          p.Mode,
		Metrics:       metrics,
		PromptResults: results,
		CompletedAt:   time.Now(),
	}, nil
}

func (o *Orchestrator) generate(ctx context.Context, category string) []string {
	count := o.opts.PromptCount
	if o.prompts != nil {
		prompts, err := o.prompts.GeneratePrompts(ctx, category, count)
		if err == nil && len(prompts) > 0 {
			if len(prompts) > count {
				prompts = prompts[:count]
			}
			return prompts
		}
		o.log.Warnw("prompt generation failed, using templates", "category", category, "error", err)
	}
	return FallbackPrompts(category, count)
}

func (o *Orchestrator) executeSequential(ctx context.Context, prompts []string, p model.TrackingPayload, sink ProgressSink) ([]model.QueryResult, error) {
	results := make([]model.QueryResult, len(prompts))
	for i, prompt := range prompts {
		res, err := o.ask(ctx, prompt, p)
		if err != nil {
			return nil, fmt.Errorf("query prompt %d: %w", i+1, err)
		}
		results[i] = *res
		sink(o.executeProgress(i+1, len(prompts)))

		if i < len(prompts)-1 {
			if err := sleep(ctx, o.opts.RateLimitDelay); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// executeConcurrent 按批次并发，批次之间是严格屏障
func (o *Orchestrator) executeConcurrent(ctx context.Context, prompts []string, p model.TrackingPayload, sink ProgressSink) ([]model.QueryResult, error) {
	results := make([]model.QueryResult, len(prompts))
	limit := o.opts.ConcurrencyLimit

	for start := 0; start < len(prompts); start += limit {
		end := min(start+limit, len(prompts))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := o.ask(gctx, prompts[i], p)
				if err != nil {
					return fmt.Errorf("query prompt %d: %w", i+1, err)
				}
				results[i] = *res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		sink(o.executeProgress(end, len(prompts)))

		if end < len(prompts) {
			if err := sleep(ctx, o.opts.RateLimitDelay); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

func (o *Orchestrator) ask(ctx context.Context, prompt string, p model.TrackingPayload) (*model.QueryResult, error) {
	req := QueryRequest{
		Prompt:      prompt,
		Entities:    append(append([]string{}, p.Brands...), p.Competitors...),
		Competitors: p.Competitors,
		Mode:        p.Mode,
	}
	return resilience.Run(ctx, o.executor, func(ctx context.Context) (*model.QueryResult, error) {
		res, err := o.query.Ask(ctx, req)
		if err == nil && res == nil {
			return nil, resilience.Permanent(errors.New("empty query result"))
		}
		return res, err
	})
}

func (o *Orchestrator) executeProgress(done, total int) int {
	span := o.opts.ExecuteProgressEnd - ProgressGenerated
	return ProgressGenerated + done*span/total
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
