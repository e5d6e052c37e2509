package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func TestChecker_ChecksImmediatelyAndAlerts(t *testing.T) {
	st := newTestStore(t)
	seedExecution(t, st, "ex-1", model.ExecutionFailed, time.Hour)

	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(
		NewCollector(st, nil),
		NewAlerter(srv.URL, AlertThresholds{FailureRate: 0.25}),
		time.Hour, // first check happens before the first tick
		24,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return posts.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestChecker_StopsOnCancel(t *testing.T) {
	st := newTestStore(t)

	checker := NewChecker(
		NewCollector(st, nil),
		NewAlerter("", AlertThresholds{}),
		10*time.Millisecond,
		24,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}

func TestChecker_HealthySystemSendsNothing(t *testing.T) {
	st := newTestStore(t)
	seedExecution(t, st, "ex-1", model.ExecutionCompleted, time.Hour)

	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(
		NewCollector(st, nil),
		NewAlerter(srv.URL, AlertThresholds{FailureRate: 0.5, SystemicErrors: 1}),
		time.Hour,
		24,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	checker.Run(ctx)

	assert.Zero(t, posts.Load())
}
