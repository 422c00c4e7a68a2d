// Package webhook delivers scrape outcomes to caller-supplied endpoints
// through a bounded queue drained by a worker pool.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/use-agent/scrapeflow/models"
	"github.com/use-agent/scrapeflow/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event types.
const (
	EventCompleted = "scrape.completed"
	EventFailed    = "scrape.failed"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Scrapeflow-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Failure is the Data of a scrape.failed event.
type Failure struct {
	URL   string              `json:"url"`
	Error *models.ErrorDetail `json:"error"`
}

// NewEvent builds the event for a finished scrape. Failed results become
// scrape.failed events carrying the URL and error.
func NewEvent(taskID string, result *models.ScrapeResult) *Event {
	ev := &Event{
		Type:      EventCompleted,
		TaskID:    taskID,
		Timestamp: time.Now().Unix(),
		Data:      result,
	}
	if result == nil || !result.Success {
		ev.Type = EventFailed
		f := &Failure{}
		if result != nil {
			f.URL = result.URL
			f.Error = result.Error
		}
		ev.Data = f
	}
	return ev
}

// StatusError reports a non-success response from the endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: endpoint returned status %d", e.StatusCode)
}

// Permanent is true for 4xx responses other than 408 and 429.
func (e *StatusError) Permanent() bool {
	return !retry.StatusRetryable(e.StatusCode)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver makes one delivery attempt. The body is signed when secret is
// non-empty. Any 2xx or 3xx response counts as delivered.
func (d *Dispatcher) Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return retry.Permanent(fmt.Errorf("webhook: marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("webhook: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Scrapeflow-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
