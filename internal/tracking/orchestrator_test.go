package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/logger"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
)

type fakePrompts struct {
	prompts []string
	err     error
}

func (f *fakePrompts) GeneratePrompts(_ context.Context, _ string, count int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prompts, nil
}

// fakeQuery 第 i 个提示词（p1..pN）的结果固定：A 总是出现，B 在偶数编号出现
type fakeQuery struct {
	mu       sync.Mutex
	calls    int
	asked    []string
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	fail     func(call int, prompt string) error
}

func (f *fakeQuery) Ask(ctx context.Context, req QueryRequest) (*model.QueryResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.asked = append(f.asked, req.Prompt)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		if err := f.fail(call, req.Prompt); err != nil {
			return nil, err
		}
	}

	var idx int
	fmt.Sscanf(req.Prompt, "p%d", &idx)
	mentions := []model.Mention{{Entity: "A", Count: 1, Citations: []string{"https://a.example"}}}
	if idx%2 == 0 {
		mentions = append(mentions, model.Mention{Entity: "B", Count: idx, Citations: []string{"Documentation"}})
	}
	return &model.QueryResult{Prompt: req.Prompt, Response: "answer " + req.Prompt, Mentions: mentions}, nil
}

func (f *fakeQuery) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func numberedPrompts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i+1)
	}
	return out
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.NewCircuitBreaker(5, time.Minute), resilience.RetryOptions{
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		PerAttemptTimeout: time.Second,
	})
}

func testPayload() model.TrackingPayload {
	return model.TrackingPayload{
		Category:    "project management",
		Brands:      []string{"A", "B"},
		Competitors: []string{"C"},
		Mode:        model.ModeNormal,
	}
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) sink(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func TestOrchestrator_SequentialProgress(t *testing.T) {
	query := &fakeQuery{}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(5)}, query, testExecutor(),
		Options{PromptCount: 5, ConcurrencyLimit: 1, RateLimitDelay: time.Millisecond, ExecuteProgressEnd: 80}, logger.Nop())

	var progress progressLog
	result, err := o.Execute(context.Background(), testPayload(), progress.sink)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 30, 40, 50, 60, 70, 80, 90, 100}, progress.values)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, query.asked)
	assert.Equal(t, "project management", result.Category)
	assert.Equal(t, []string{"C"}, result.Competitors)
	assert.Len(t, result.PromptResults, 5)
	assert.Equal(t, 100.0, result.Metrics.BrandStats["A"].VisibilityScore)
	assert.Equal(t, 40.0, result.Metrics.BrandStats["B"].VisibilityScore)
	assert.Equal(t, 0.0, result.Metrics.BrandStats["C"].VisibilityScore)
	assert.False(t, result.CompletedAt.IsZero())
}

func TestOrchestrator_ConcurrentMatchesSequential(t *testing.T) {
	run := func(limit int) (*model.TrackingResult, []int) {
		o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(6)}, &fakeQuery{delay: time.Millisecond}, testExecutor(),
			Options{PromptCount: 6, ConcurrencyLimit: limit, ExecuteProgressEnd: 80}, logger.Nop())
		var progress progressLog
		result, err := o.Execute(context.Background(), testPayload(), progress.sink)
		require.NoError(t, err)
		return result, progress.values
	}

	seq, seqProgress := run(1)
	con, conProgress := run(3)

	assert.Equal(t, seq.Metrics, con.Metrics)
	assert.Equal(t, seq.PromptResults, con.PromptResults)
	assert.Equal(t, []int{10, 30, 38, 46, 55, 63, 71, 80, 90, 100}, seqProgress)
	assert.Equal(t, []int{10, 30, 55, 80, 90, 100}, conProgress)
}

func TestOrchestrator_BatchBarrier(t *testing.T) {
	query := &fakeQuery{delay: 5 * time.Millisecond}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(7)}, query, testExecutor(),
		Options{PromptCount: 7, ConcurrencyLimit: 3, ExecuteProgressEnd: 80}, logger.Nop())

	var progress progressLog
	_, err := o.Execute(context.Background(), testPayload(), progress.sink)
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt32(&query.maxSeen), int32(3))
	assert.Equal(t, 7, query.callCount())
	// 批次边界 3, 6, 7
	assert.Equal(t, []int{10, 30, 51, 72, 80, 90, 100}, progress.values)
}

func TestOrchestrator_PermanentErrorFailsAfterOneAttempt(t *testing.T) {
	cause := resilience.FromStatus(401, errors.New("invalid api key"))
	query := &fakeQuery{fail: func(int, string) error { return cause }}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(3)}, query, testExecutor(),
		Options{PromptCount: 3, ConcurrencyLimit: 1, ExecuteProgressEnd: 80}, logger.Nop())

	var progress progressLog
	result, err := o.Execute(context.Background(), testPayload(), progress.sink)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, query.callCount())
	assert.Equal(t, resilience.KindPermanent, resilience.KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "query prompt 1")
	assert.Equal(t, []int{10, 30}, progress.values)
}

func TestOrchestrator_TransientErrorRetried(t *testing.T) {
	query := &fakeQuery{fail: func(call int, _ string) error {
		if call == 2 {
			return resilience.FromStatus(503, errors.New("overloaded"))
		}
		return nil
	}}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(3)}, query, testExecutor(),
		Options{PromptCount: 3, ConcurrencyLimit: 1, ExecuteProgressEnd: 80}, logger.Nop())

	result, err := o.Execute(context.Background(), testPayload(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, query.callCount())
	assert.Len(t, result.PromptResults, 3)
}

func TestOrchestrator_ConcurrentFailureFailsJob(t *testing.T) {
	query := &fakeQuery{fail: func(_ int, prompt string) error {
		if prompt == "p5" {
			return resilience.Permanent(errors.New("content policy"))
		}
		return nil
	}}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(6)}, query, testExecutor(),
		Options{PromptCount: 6, ConcurrencyLimit: 3, ExecuteProgressEnd: 80}, logger.Nop())

	var progress progressLog
	result, err := o.Execute(context.Background(), testPayload(), progress.sink)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "query prompt 5")
	assert.Equal(t, []int{10, 30, 55}, progress.values)
}

// blockingQuery p1 直接失败，其余调用阻塞到 ctx 取消
type blockingQuery struct {
	err error
}

func (b *blockingQuery) Ask(ctx context.Context, req QueryRequest) (*model.QueryResult, error) {
	if req.Prompt == "p1" {
		return nil, b.err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_CancelledSiblingsNotCountedByBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker(3, time.Hour)
	exec := resilience.NewExecutor(cb, resilience.RetryOptions{
		MaxAttempts:       1,
		BaseDelay:         time.Millisecond,
		PerAttemptTimeout: 5 * time.Second,
	})
	query := &blockingQuery{err: resilience.Permanent(errors.New("bad request"))}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(3)}, query, exec,
		Options{PromptCount: 3, ConcurrencyLimit: 3, ExecuteProgressEnd: 80}, logger.Nop())

	_, err := o.Execute(context.Background(), testPayload(), nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.KindOf(err))

	snap := cb.Snapshot()
	assert.Equal(t, resilience.StateClosed, snap.State)
	assert.Equal(t, 1, snap.FailureCount)
}

func TestOrchestrator_PromptFallback(t *testing.T) {
	query := &fakeQuery{}
	o := NewOrchestrator(&fakePrompts{err: errors.New("rate limited")}, query, testExecutor(),
		Options{PromptCount: 2, ConcurrencyLimit: 1, ExecuteProgressEnd: 80}, logger.Nop())

	_, err := o.Execute(context.Background(), testPayload(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackPrompts("project management", 2), query.asked)
}

func TestOrchestrator_TruncatesGeneratedPrompts(t *testing.T) {
	query := &fakeQuery{}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(8)}, query, testExecutor(),
		Options{PromptCount: 4, ConcurrencyLimit: 2, ExecuteProgressEnd: 90}, logger.Nop())

	var progress progressLog
	_, err := o.Execute(context.Background(), testPayload(), progress.sink)
	require.NoError(t, err)
	assert.Equal(t, 4, query.callCount())
	assert.Equal(t, []int{10, 30, 60, 90, 90, 100}, progress.values)
}

func TestOrchestrator_CircuitOpenFailsFast(t *testing.T) {
	cb := resilience.NewCircuitBreaker(1, time.Hour)
	exec := resilience.NewExecutor(cb, resilience.RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond, PerAttemptTimeout: time.Second})
	query := &fakeQuery{fail: func(int, string) error { return resilience.Transient(errors.New("reset")) }}
	o := NewOrchestrator(&fakePrompts{prompts: numberedPrompts(3)}, query, exec,
		Options{PromptCount: 3, ConcurrencyLimit: 1, ExecuteProgressEnd: 80}, logger.Nop())

	_, err := o.Execute(context.Background(), testPayload(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, query.callCount())
}

func TestMonotonic(t *testing.T) {
	var progress progressLog
	sink := Monotonic(progress.sink)
	for _, v := range []int{10, 30, 20, 30, 55, 90, 90, 100} {
		sink(v)
	}
	assert.Equal(t, []int{10, 30, 55, 90, 100}, progress.values)
}
