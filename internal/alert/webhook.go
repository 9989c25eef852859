package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	closeGrace     = 10 * time.Second
	maxAttempts    = 3

	// maxServerWait caps a receiver's Retry-After.
	maxServerWait = 30 * time.Second

	userAgent = "toolgate-alert/1"
)

// Delivery headers. The decision id doubles as the idempotency key, so a
// receiver can drop duplicates produced by retries.
const (
	HeaderDecisionID = "X-Toolgate-Decision-Id"
	HeaderStage      = "X-Toolgate-Stage"
	HeaderAttempt    = "X-Toolgate-Attempt"
	headerIdempotent = "Idempotency-Key"
)

// retryDelay is the backoff before the given attempt (2, 3, ...).
var retryDelay = func(attempt int) time.Duration { return time.Duration(attempt-1) * time.Second }

// Deliver posts one alert. 5xx and 429 responses are retried, honouring
// Retry-After; any other non-2xx status is final.
func Deliver(ctx context.Context, client *http.Client, cfg Config, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	var serverWait time.Duration
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			if err := pause(ctx, max(serverWait, retryDelay(n))); err != nil {
				return err
			}
		}

		status, after, err := post(ctx, client, cfg, event, body, n)
		switch {
		case err != nil:
			lastErr = err
			serverWait = 0
		case status >= 200 && status < 300:
			return nil
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("webhook returned HTTP %d", status)
			serverWait = after
		default:
			return fmt.Errorf("webhook rejected alert %s: HTTP %d", event.DecisionID, status)
		}
	}
	return fmt.Errorf("alert %s undelivered after %d attempts: %w", event.DecisionID, maxAttempts, lastErr)
}

// post makes a single attempt and reports the status and any Retry-After.
func post(ctx context.Context, client *http.Client, cfg Config, event Event, body []byte, n int) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderStage, event.Stage)
	req.Header.Set(HeaderAttempt, strconv.Itoa(n))
	if event.DecisionID != "" {
		req.Header.Set(HeaderDecisionID, event.DecisionID)
		req.Header.Set(headerIdempotent, event.DecisionID)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), nil
}

// retryAfter parses a delay-seconds Retry-After value. HTTP dates and junk
// yield zero.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxServerWait)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
