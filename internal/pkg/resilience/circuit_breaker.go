package resilience

import (
	"context"
	"sync"
	"time"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Snapshot 熔断器状态快照，用于健康检查
type Snapshot struct {
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// CircuitBreaker 保护单个下游依赖，所有任务共享同一个实例
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	resetTimeout  time.Duration
	state         State
	failureCount  int
	lastFailureAt time.Time
	trialInFlight bool
	now           func() time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Execute 经过熔断器执行 op
func (cb *CircuitBreaker) Execute(op func() error) error {
	trial, err := cb.acquire()
	if err != nil {
		return err
	}

	opErr := op()
	cb.record(trial, opErr)
	return opErr
}

// ExecuteContext 与 Execute 相同，但 ctx 已被取消时的结果不计入失败，
// 同批次被取消的调用和进程退出不代表下游故障
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, op func() error) error {
	trial, err := cb.acquire()
	if err != nil {
		return err
	}

	opErr := op()
	if opErr != nil && ctx.Err() != nil {
		cb.release(trial)
		return opErr
	}
	cb.record(trial, opErr)
	return opErr
}

func (cb *CircuitBreaker) acquire() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		return true, nil
	case StateHalfOpen:
		// 半开状态只放行一次试探
		if cb.trialInFlight {
			return false, ErrCircuitOpen
		}
		cb.trialInFlight = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.failureCount = 0
		}
		return
	}

	cb.failureCount++
	cb.lastFailureAt = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
}

// release 放弃本次结果；半开试探被放弃时下一次调用重新试探
func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	cb.trialInFlight = false
	cb.mu.Unlock()
}

// Reset 强制回到 CLOSED
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.lastFailureAt = time.Time{}
	cb.trialInFlight = false
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{State: cb.state, FailureCount: cb.failureCount}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		s.LastFailureAt = &t
	}
	return s
}
