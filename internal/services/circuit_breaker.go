package services

import (
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常放行
	BreakerOpen                         // 熔断中
	BreakerHalfOpen                     // 冷却后试探
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器阈值配置
type BreakerConfig struct {
	MaxFailures     int           // 连续失败多少次后打开
	ResetTimeout    time.Duration // 打开后多久允许试探
	HalfOpenMaxReqs int           // 半开状态最多放行的试探请求数
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:     5,
		ResetTimeout:    60 * time.Second,
		HalfOpenMaxReqs: 3,
	}
}

// CircuitBreaker 外部能力调用的熔断器
// 目录、VPN 这类下游挂掉时快速失败，避免每个工单都撞满超时。
type CircuitBreaker struct {
	cfg          BreakerConfig
	state        BreakerState
	failureCount int
	lastFailTime time.Time
	halfOpenReqs int
	mu           sync.Mutex
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// Allow 判断本次调用是否放行
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailTime) > cb.cfg.ResetTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenReqs = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.halfOpenReqs < cb.cfg.HalfOpenMaxReqs {
			cb.halfOpenReqs++
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess 成功一次即恢复
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerClosed
		cb.halfOpenReqs = 0
	}
}

// OnFailure 累计失败；半开状态失败立即回到打开
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailTime = time.Now()

	switch cb.state {
	case BreakerClosed:
		if cb.failureCount >= cb.cfg.MaxFailures {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.halfOpenReqs = 0
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats 当前熔断器快照，用于运维接口
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"state":         cb.state.String(),
		"failure_count": cb.failureCount,
		"max_failures":  cb.cfg.MaxFailures,
		"reset_timeout": cb.cfg.ResetTimeout.String(),
	}
}
