package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/records"
)

func TestGateAppliesDelayBeforeDispatch(t *testing.T) {
	t.Parallel()

	g := NewGate("recorder", Policy{Delay: 60 * time.Millisecond}, zap.NewNop())
	start := time.Now()
	err := g.Do(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestGateSerializesCalls(t *testing.T) {
	t.Parallel()

	g := NewGate("assessor", Policy{}, zap.NewNop())
	var inFlight, maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxSeen)
					if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen)
}

func TestGateTimeoutSurfacesErrTimeout(t *testing.T) {
	t.Parallel()

	g := NewGate("court", Policy{Timeout: 20 * time.Millisecond}, zap.NewNop())
	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, records.ErrTimeout))
}

func TestGateCallerCancellationIsNotTimeout(t *testing.T) {
	t.Parallel()

	g := NewGate("court", Policy{Delay: time.Second}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, func(context.Context) error { return nil })
	require.Error(t, err)
	require.False(t, errors.Is(err, records.ErrTimeout))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestGateRequestsPerMinuteCap(t *testing.T) {
	t.Parallel()

	// 600 rpm = one token every 100ms.
	g := NewGate("registry", Policy{RequestsPerMinute: 600}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))

	start := time.Now()
	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterSeparatesSources(t *testing.T) {
	t.Parallel()

	l := New(Policy{Timeout: time.Second}, zap.NewNop())
	a := l.Gate("a", Policy{Delay: 200 * time.Millisecond})
	b := l.Gate("b", Policy{})
	require.Same(t, a, l.Gate("a", Policy{}))
	require.Equal(t, time.Second, b.Policy().Timeout)

	release := make(chan struct{})
	go func() {
		_ = a.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()

	start := time.Now()
	require.NoError(t, b.Do(context.Background(), func(context.Context) error { return nil }))
	require.Less(t, time.Since(start), 100*time.Millisecond)
	close(release)
}

func TestPolicyMerge(t *testing.T) {
	t.Parallel()

	got := Policy{Delay: time.Second}.Merge(Policy{RequestsPerMinute: 30, Delay: 2 * time.Second, Timeout: 5 * time.Second})
	require.Equal(t, Policy{RequestsPerMinute: 30, Delay: time.Second, Timeout: 5 * time.Second}, got)
}
