package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func failTransient(ctx context.Context) error {
	return NewTransientError(eris.New("down"), 503)
}

func succeed(ctx context.Context) error { return nil }

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb, _ := testBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, CircuitClosed, cb.State())
		require.Error(t, cb.Execute(ctx, failTransient))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuit_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := testBreaker(3, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failTransient))
	require.Error(t, cb.Execute(ctx, failTransient))
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Error(t, cb.Execute(ctx, failTransient))
	require.Error(t, cb.Execute(ctx, failTransient))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuit_PermanentErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	cb, _ := testBreaker(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.Error(t, cb.Execute(ctx, func(ctx context.Context) error {
			return NewPermanentError(eris.New("not found"), 404)
		}))
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuit_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	t.Parallel()

	cb, now := testBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failTransient))
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuit_HalfOpenProbeReopensOnFailure(t *testing.T) {
	t.Parallel()

	cb, now := testBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failTransient))
	*now = now.Add(31 * time.Second)

	require.Error(t, cb.Execute(ctx, failTransient))
	*now = now.Add(time.Second)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuit_Reset(t *testing.T) {
	t.Parallel()

	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(from, to CircuitState) { transitions = append(transitions, to) },
	})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failTransient))
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitClosed}, transitions)
}

func TestExecuteVal_PassesValueThrough(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	got, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestProviderBreakers_PerProviderIsolation(t *testing.T) {
	t.Parallel()

	pb := NewProviderBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	require.Error(t, pb.Get("coresignal").Execute(ctx, failTransient))
	require.NoError(t, pb.Get("lusha").Execute(ctx, succeed))

	states := pb.States()
	assert.Equal(t, CircuitOpen, states["coresignal"])
	assert.Equal(t, CircuitClosed, states["lusha"])

	// Same name returns the same breaker.
	assert.Same(t, pb.Get("coresignal"), pb.Get("coresignal"))
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
