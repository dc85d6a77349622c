package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ryansname/sensorctl/src/config"
	"github.com/ryansname/sensorctl/src/sampling"
)

// ErrUnexpectedStatus is returned when the webhook answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected status")

// ErrNoWebhook is returned when no webhook URL is configured
var ErrNoWebhook = errors.New("no webhook url configured")

// responseExcerpt is how much of the response body gets logged
const responseExcerpt = 200

// ReportSink delivers a completed report
type ReportSink interface {
	Deliver(ctx context.Context, report sampling.Report) (int, error)
}

// WebhookSink posts reports as JSON to an HTTPS endpoint. Delivery is
// attempted once; failures are returned and logged, never retried.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink from the webhook configuration
func NewWebhookSink(cfg config.WebhookConfig) *WebhookSink {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // endpoint has no trusted certificate
	}

	return &WebhookSink{
		url: cfg.URL,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Deliver posts the report and returns the HTTP status code
func (w *WebhookSink) Deliver(ctx context.Context, report sampling.Report) (int, error) {
	if w.url == "" {
		return 0, ErrNoWebhook
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	log.Printf("Webhook: posting report %s: %s\n", report.ID(), payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Report-Id", report.ID().String())

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerpt))
	log.Printf("Webhook: report %s answered %d: %s\n", report.ID(), resp.StatusCode, body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// DeliveryResult records the outcome of one delivery attempt
type DeliveryResult struct {
	ReportID  string    `json:"report_id"`
	WindowEnd time.Time `json:"window_end"`
	Samples   int       `json:"samples"`
	Status    int       `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// deliver runs one attempt against sink and summarises it
func deliver(ctx context.Context, sink ReportSink, report sampling.Report, at time.Time) DeliveryResult {
	status, err := sink.Deliver(ctx, report)
	result := DeliveryResult{
		ReportID:  report.ID().String(),
		WindowEnd: report.WindowEnd(),
		Samples:   report.Samples(),
		Status:    status,
		At:        at,
	}
	if err != nil {
		result.Error = err.Error()
		log.Printf("Webhook: delivery of report %s failed: %v\n", result.ReportID, err)
	}
	return result
}

// deliveryWorker delivers reports handed over by the scheduler when async
// delivery is enabled
func deliveryWorker(
	ctx context.Context,
	reports <-chan sampling.Report,
	sink ReportSink,
	resultChan chan<- DeliveryResult,
) {
	log.Println("Delivery worker started")
	for {
		select {
		case report := <-reports:
			result := deliver(ctx, sink, report, time.Now())
			select {
			case resultChan <- result:
			default:
			}
		case <-ctx.Done():
			log.Println("Delivery worker stopped")
			return
		}
	}
}
