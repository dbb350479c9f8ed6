// Package ratelimit serializes outbound calls per source and enforces the
// per-source delay, request cap, and call timeout.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// Policy describes how calls to one source are paced.
type Policy struct {
	// RequestsPerMinute caps the call rate. Zero disables the cap.
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Delay             time.Duration `mapstructure:"delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Merge returns p with zero fields taken from defaults.
func (p Policy) Merge(defaults Policy) Policy {
	if p.RequestsPerMinute == 0 {
		p.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if p.Delay == 0 {
		p.Delay = defaults.Delay
	}
	if p.Timeout == 0 {
		p.Timeout = defaults.Timeout
	}
	return p
}

// Gate is one policy instance. Calls through the same gate never overlap.
type Gate struct {
	name    string
	policy  Policy
	mu      sync.Mutex
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGate builds a gate for a single source.
func NewGate(name string, policy Policy, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		name:   name,
		policy: policy,
		logger: logger.Named("ratelimit").With(zap.String("source", name)),
	}
	if policy.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(policy.RequestsPerMinute)/60.0), 1)
	}
	return g
}

// Name returns the source label used in logs and metrics.
func (g *Gate) Name() string { return g.name }

// Policy returns the gate's policy.
func (g *Gate) Policy() Policy { return g.policy }

// Do waits for the gate, then runs fn under the policy timeout. A deadline hit
// inside fn surfaces as records.ErrTimeout.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if g.policy.Delay > 0 {
		if err := sleep(ctx, g.policy.Delay); err != nil {
			return fmt.Errorf("rate limit delay: %w", err)
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(g.name, waited)
		if waited > g.policy.Delay+time.Millisecond {
			g.logger.Debug("source call delayed",
				zap.String("state", string(records.StatusRateLimited)),
				zap.Duration("waited", waited),
			)
		}
	}

	callCtx := ctx
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s after %s: %w", g.name, g.policy.Timeout, records.ErrTimeout)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limiter hands out one Gate per source name so sources never interfere.
type Limiter struct {
	mu       sync.Mutex
	gates    map[string]*Gate
	defaults Policy
	logger   *zap.Logger
}

// New creates a Limiter whose gates fall back to defaults.
func New(defaults Policy, logger *zap.Logger) *Limiter {
	return &Limiter{
		gates:    make(map[string]*Gate),
		defaults: defaults,
		logger:   logger,
	}
}

// Gate returns the gate for name, creating it with policy merged over the
// defaults on first use.
func (l *Limiter) Gate(name string, policy Policy) *Gate {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.gates[name]; ok {
		return g
	}
	g := NewGate(name, policy.Merge(l.defaults), l.logger)
	l.gates[name] = g
	return g
}
