package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the class of threshold breach.
type AlertType string

const (
	AlertFailureRate      AlertType = "execution_failure_rate"
	AlertSystemicErrors   AlertType = "systemic_errors"
	AlertProviderDisabled AlertType = "provider_disabled"
)

// Alert is a single threshold breach ready for delivery.
type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	// FailureRate fires when failed/finished executions exceed this ratio.
	FailureRate float64
	// SystemicErrors fires when at least this many systemic errors were
	// recorded in the lookback window. Zero disables the check.
	SystemicErrors int
}

// Alerter evaluates snapshots against thresholds and delivers alerts to
// a webhook endpoint.
type Alerter struct {
	webhookURL string
	thresholds AlertThresholds
	client     *http.Client
}

// NewAlerter creates an alerter. An empty webhookURL means alerts are
// logged but not delivered.
func NewAlerter(webhookURL string, thresholds AlertThresholds) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		thresholds: thresholds,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks a snapshot against the configured thresholds.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.ExecutionsCompleted + snap.ExecutionsFailed
	if a.thresholds.FailureRate > 0 && finished > 0 && snap.ExecutionFailRate > a.thresholds.FailureRate {
		alerts = append(alerts, Alert{
			Type: AlertFailureRate,
			Message: fmt.Sprintf("execution failure rate %.1f%% over last %dh (%d of %d finished)",
				snap.ExecutionFailRate*100, snap.LookbackHours, snap.ExecutionsFailed, finished),
			Value:     snap.ExecutionFailRate,
			Threshold: a.thresholds.FailureRate,
			Timestamp: now,
		})
	}

	if a.thresholds.SystemicErrors > 0 && snap.ErrorsSystemic >= a.thresholds.SystemicErrors {
		alerts = append(alerts, Alert{
			Type: AlertSystemicErrors,
			Message: fmt.Sprintf("%d systemic errors recorded over last %dh",
				snap.ErrorsSystemic, snap.LookbackHours),
			Value:     float64(snap.ErrorsSystemic),
			Threshold: float64(a.thresholds.SystemicErrors),
			Timestamp: now,
		})
	}

	for _, name := range snap.ProvidersDisabled {
		alerts = append(alerts, Alert{
			Type:      AlertProviderDisabled,
			Message:   fmt.Sprintf("provider %s is disabled or circuit-broken", name),
			Value:     1,
			Threshold: 0,
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the webhook. Failures are logged per
// alert; the first delivery error is returned.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if a.webhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("alert (no webhook configured)",
				zap.String("type", string(alert.Type)),
				zap.String("message", alert.Message))
		}
		return nil
	}

	var firstErr error
	for _, alert := range alerts {
		if err := a.send(ctx, alert); err != nil {
			zap.L().Error("alert delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Alerter) send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "post alert")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
