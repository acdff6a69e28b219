package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	failureThreshold = 3
	resetTimeout     = 2 * time.Minute
)

type circuitBreaker struct {
	mu           sync.Mutex
	failures     int
	lastFailedAt time.Time
	state        string
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state: "closed",
	}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "closed" {
		return true
	}

	if cb.state == "open" {
		if time.Since(cb.lastFailedAt) >= resetTimeout {
			cb.state = "half-open"
			return true
		}
		return false
	}

	return true
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = "closed"
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailedAt = time.Now()

	if cb.failures >= failureThreshold {
		cb.state = "open"
		slog.Debug("ai: circuit breaker opened", "failures", cb.failures)
	}
}

// ChainProvider tries each backend in order, skipping providers whose
// circuit breaker is open, until one succeeds.
type ChainProvider struct {
	providers []Provider
	breakers  map[string]*circuitBreaker
	mu        sync.RWMutex
	current   string
	fallback  bool
}

func NewChain(providers []Provider) *ChainProvider {
	breakers := make(map[string]*circuitBreaker)
	for _, p := range providers {
		breakers[p.Name()] = newCircuitBreaker()
	}

	current := ""
	if len(providers) > 0 {
		current = providers[0].Name()
	}

	return &ChainProvider{
		providers: providers,
		breakers:  breakers,
		current:   current,
	}
}

func (c *ChainProvider) Name() string {
	return "chain"
}

func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

func (c *ChainProvider) AnalyzeIssues(ctx context.Context, req Request) (*Analysis, error) {
	var lastErr error
	var usedFallback bool

	for _, p := range c.providers {
		if !c.breakers[p.Name()].allow() {
			slog.Debug("ai: circuit open, skipping provider", "provider", p.Name())
			continue
		}

		result, err := p.AnalyzeIssues(ctx, req)
		if err == nil {
			c.breakers[p.Name()].recordSuccess()
			c.mu.Lock()
			c.current = p.Name()
			c.fallback = usedFallback
			c.mu.Unlock()

			if usedFallback {
				slog.Info("ai: provider succeeded after failover", "provider", p.Name())
			}
			return result, nil
		}

		if isRetriableError(err) {
			c.breakers[p.Name()].recordFailure()
		} else if isAuthError(err) {
			c.breakers[p.Name()].recordFailure()
			cb := c.breakers[p.Name()]
			cb.mu.Lock()
			cb.state = "open"
			cb.mu.Unlock()
			slog.Warn("ai: auth error, opening circuit", "provider", p.Name(), "error", err)
		}

		slog.Warn("ai: provider failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
		usedFallback = true
	}

	return nil, fmt.Errorf("all AI providers failed; last error: %w", lastErr)
}

// CurrentProvider reports which backend served the last successful call
// and whether it was reached by falling back past an earlier provider.
func (c *ChainProvider) CurrentProvider() (provider string, fallback bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.fallback
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "error 429"):
		return true
	case strings.Contains(errStr, "error 5"):
		return true
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection refused"):
		return true
	case isAuthError(err):
		return false
	case strings.Contains(errStr, "error 4"):
		return false
	default:
		return true
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "error 401") || strings.Contains(errStr, "error 403")
}
