package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(completed, failed int) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		ExecutionsCompleted: completed,
		ExecutionsFailed:    failed,
		LookbackHours:       24,
	}
	if finished := completed + failed; finished > 0 {
		snap.ExecutionFailRate = float64(failed) / float64(finished)
	}
	return snap
}

func TestEvaluate_FailureRateBreached(t *testing.T) {
	a := NewAlerter("", AlertThresholds{FailureRate: 0.25})

	alerts := a.Evaluate(snapshot(1, 1))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.InDelta(t, 0.5, alerts[0].Value, 1e-9)
	assert.Contains(t, alerts[0].Message, "50.0%")
}

func TestEvaluate_FailureRateWithinThreshold(t *testing.T) {
	a := NewAlerter("", AlertThresholds{FailureRate: 0.25})

	assert.Empty(t, a.Evaluate(snapshot(9, 1)))
}

func TestEvaluate_NoFinishedExecutionsNoAlert(t *testing.T) {
	a := NewAlerter("", AlertThresholds{FailureRate: 0.25})

	snap := snapshot(0, 0)
	snap.ExecutionsRunning = 5
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluate_SystemicErrors(t *testing.T) {
	a := NewAlerter("", AlertThresholds{SystemicErrors: 1})

	snap := snapshot(5, 0)
	snap.ErrorsSystemic = 2
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSystemicErrors, alerts[0].Type)
	assert.Equal(t, float64(2), alerts[0].Value)
}

func TestEvaluate_SystemicDisabledByZeroThreshold(t *testing.T) {
	a := NewAlerter("", AlertThresholds{})

	snap := snapshot(5, 0)
	snap.ErrorsSystemic = 3
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluate_DisabledProviders(t *testing.T) {
	a := NewAlerter("", AlertThresholds{})

	snap := snapshot(5, 0)
	snap.ProvidersDisabled = []string{"lusha", "hunter"}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertProviderDisabled, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "lusha")
	assert.Contains(t, alerts[1].Message, "hunter")
}

func TestSendAlerts_PostsToWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Alert
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		mu.Lock()
		received = append(received, alert)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL, AlertThresholds{FailureRate: 0.25})
	alerts := a.Evaluate(snapshot(0, 2))
	require.NoError(t, a.SendAlerts(context.Background(), alerts))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, AlertFailureRate, received[0].Type)
}

func TestSendAlerts_WebhookErrorReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL, AlertThresholds{})
	err := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate, Message: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSendAlerts_NoWebhookLogsOnly(t *testing.T) {
	a := NewAlerter("", AlertThresholds{})
	require.NoError(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate, Message: "x"}}))
}

func TestSendAlerts_EmptyIsNoop(t *testing.T) {
	a := NewAlerter("http://unreachable.invalid", AlertThresholds{})
	require.NoError(t, a.SendAlerts(context.Background(), nil))
}
