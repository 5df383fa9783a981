package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryOptions 重试参数
type RetryOptions struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	PerAttemptTimeout time.Duration // <= 0 表示不限时
	ShouldRetry       func(error) bool
	OnRetry           func(attempt int, delay time.Duration, err error)
}

// Executor 单次调用超时 + 整体重试退避，每次尝试都经过熔断器
type Executor struct {
	breaker *CircuitBreaker
	opts    RetryOptions
	jitter  func() float64
}

func NewExecutor(breaker *CircuitBreaker, opts RetryOptions) *Executor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = IsRetryable
	}
	return &Executor{
		breaker: breaker,
		opts:    opts,
		jitter:  rand.Float64,
	}
}

func (e *Executor) Breaker() *CircuitBreaker {
	return e.breaker
}

// Do 执行 op，失败时按退避策略重试
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Run(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run 与 Do 相同，但返回 op 的结果
func Run[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		val, err := attemptOnce(ctx, e, op)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if errors.Is(err, ErrCircuitOpen) || attempt >= e.opts.MaxAttempts || !e.opts.ShouldRetry(err) {
			return zero, &RetryExhaustedError{Attempts: attempt, LastErr: err}
		}

		delay := e.Backoff(attempt)
		if e.opts.OnRetry != nil {
			e.opts.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// Backoff 计算第 attempt 次失败后的等待时间（指数退避 + 0~30% 抖动）
func (e *Executor) Backoff(attempt int) time.Duration {
	d := float64(e.opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	if limit := float64(e.opts.MaxDelay); e.opts.MaxDelay > 0 && d > limit {
		d = limit
	}
	return time.Duration(d + e.jitter()*0.3*d)
}

func attemptOnce[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	if e.breaker == nil {
		return withTimeout(ctx, e.opts.PerAttemptTimeout, op)
	}

	var val T
	err := e.breaker.ExecuteContext(ctx, func() error {
		v, err := withTimeout(ctx, e.opts.PerAttemptTimeout, op)
		val = v
		return err
	})
	return val, err
}

type attemptResult[T any] struct {
	val T
	err error
}

// withTimeout 让 op 与计时器赛跑；超时后不再等待 op，op 通过 ctx 得知取消
func withTimeout[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := op(actx)
		done <- attemptResult[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("attempt timed out after %s", timeout),
			Err:     context.DeadlineExceeded,
		}
	}
}
