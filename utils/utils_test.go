package utils

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Circuit Breaker Tests

func testSettings() BreakerSettings {
	s := DefaultBreakerSettings()
	s.MinRequests = 5
	s.FailureRatio = 0.6
	s.Timeout = 100 * time.Millisecond
	return s
}

var errFailure = errors.New("failure")

func fail(context.Context) error    { return errFailure }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("provider", DefaultBreakerSettings())

	assert.Equal(t, "provider", cb.Name())
	assert.Equal(t, uint32(20), cb.settings.MinRequests)
	assert.Equal(t, uint32(1), cb.settings.HalfOpenRequests)
	assert.Equal(t, 0.6, cb.settings.FailureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CallSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", testSettings())

	err := cb.Call(context.Background(), succeed)

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_CallFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", testSettings())

	err := cb.Call(context.Background(), fail)

	assert.Equal(t, errFailure, err)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", testSettings())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Call(ctx, succeed))
	}
	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Call(ctx, fail))
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(ctx, func(context.Context) error {
		t.Fatal("This should not be executed when circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", testSettings())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Call(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", testSettings())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Call(ctx, fail)
	}
	time.Sleep(150 * time.Millisecond)

	assert.Error(t, cb.Call(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb := NewCircuitBreaker("test", testSettings())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Call(ctx, fail)
	}
	time.Sleep(150 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- cb.Call(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Call(ctx, succeed), ErrTooManyRequests)

	close(release)
	assert.NoError(t, <-done)
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	notFound := errors.New("not found")
	s := testSettings()
	s.IsFailure = func(err error) bool { return !errors.Is(err, notFound) }
	cb := NewCircuitBreaker("test", s)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := cb.Call(ctx, func(context.Context) error { return notFound })
		assert.ErrorIs(t, err, notFound)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.counts.TotalFailures)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	s := testSettings()
	s.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb := NewCircuitBreaker("test", s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Call(ctx, fail)
	}
	time.Sleep(150 * time.Millisecond)
	cb.Call(ctx, succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	s := testSettings()
	s.MinRequests = 1000
	cb := NewCircuitBreaker("concurrent-test", s)
	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 100
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			err := cb.Call(ctx, func(context.Context) error {
				time.Sleep(time.Millisecond)
				if id%10 == 0 {
					return errFailure
				}
				return nil
			})

			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 90, successCount)
	assert.Equal(t, uint32(numGoroutines), cb.counts.Requests)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test", testSettings())
	ctx := context.Background()

	assert.Panics(t, func() {
		cb.Call(ctx, func(context.Context) error {
			panic("test panic")
		})
	})

	assert.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := NewCircuitBreaker("trip-test", testSettings())

	tests := []struct {
		name           string
		requests       uint32
		failures       uint32
		minRequests    uint32
		failureRatio   float64
		expectedResult bool
	}{
		{"Not enough requests", 5, 5, 10, 0.5, false},
		{"High failure ratio", 10, 8, 10, 0.6, true},
		{"Low failure ratio", 10, 3, 10, 0.6, false},
		{"Exact failure ratio threshold", 10, 6, 10, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.settings.MinRequests = tt.minRequests
			cb.settings.FailureRatio = tt.failureRatio
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures

			assert.Equal(t, tt.expectedResult, cb.readyToTrip())
		})
	}
}

// Random Tests

func TestGenerateID(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z0-9]{15}$`)
	seen := map[string]bool{}

	for i := 0; i < 200; i++ {
		id, err := GenerateID(RecordIDLength)
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(2)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{4}$`, code)
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func BenchmarkCircuitBreaker_Call(b *testing.B) {
	cb := NewCircuitBreaker("benchmark", DefaultBreakerSettings())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Call(ctx, succeed)
	}
}
