package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/audit"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func noRetryDelay(t *testing.T) {
	t.Helper()
	orig := retryDelay
	retryDelay = func(int) time.Duration { return 0 }
	t.Cleanup(func() { retryDelay = orig })
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv.URL, Format: "generic", Events: []string{"block"}},
	}, quietLogger())

	d.Dispatch(Event{Decision: "block", Stage: "scope", Tool: "shell_exec"})
	d.Close()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv.URL, Format: "generic", Events: []string{"injection"}},
	}, quietLogger())

	d.Dispatch(Event{Decision: "allow", Stage: "scope", Tool: "get_weather"})
	d.Dispatch(Event{Decision: "block", Stage: "ratelimit", Tool: "deploy"})
	d.Close()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching events, got %d", called.Load())
	}
}

func TestDispatchMatchesStage(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv.URL, Events: []string{"injection", "ratelimit"}},
	}, quietLogger())

	d.Dispatch(Event{Decision: "block", Stage: "injection"})
	d.Dispatch(Event{Decision: "block", Stage: "ratelimit"})
	d.Dispatch(Event{Decision: "block", Stage: "scope"})
	d.Close()

	if called.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", called.Load())
	}
}

func TestDispatchDefaultsToBlocks(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{{URL: srv.URL}}, quietLogger())
	d.Dispatch(Event{Decision: "allow", Stage: "scope"})
	d.Dispatch(Event{Decision: "block", Stage: "policy"})
	d.Close()

	if called.Load() != 1 {
		t.Errorf("expected only the block to alert, got %d calls", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv1.URL, Events: []string{"block"}},
		{URL: srv2.URL, Events: []string{"block", "allow"}},
	}, quietLogger())

	d.Dispatch(Event{Decision: "block", Stage: "scope"})
	d.Close()

	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called1.Load()+called2.Load())
	}
}

func TestDispatchThrottles(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{{URL: srv.URL}}, quietLogger())
	for range defaultBurst + 5 {
		d.Dispatch(Event{Decision: "block", Stage: "scope"})
	}
	d.Close()

	// One token may refill while the burst is dispatched.
	if n := called.Load(); n < defaultBurst || n > defaultBurst+1 {
		t.Errorf("expected about %d calls, got %d", defaultBurst, n)
	}
}

func TestRecordImplementsSink(t *testing.T) {
	var got Event
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		received <- struct{}{}
	}))
	defer srv.Close()

	var sink audit.Sink = NewDispatcher([]Config{{URL: srv.URL}}, quietLogger())
	err := sink.Record(context.Background(), audit.Record{
		DecisionID: "d-1",
		Identity:   "dev",
		Tool:       "shell_exec",
		Decision:   "block",
		Stage:      "scope",
		Reason:     "rule no-shell denies",
		RuleID:     "no-shell",
		ArgsDigest: "sha256:abc",
	})
	if err != nil {
		t.Fatal(err)
	}
	sink.Close()

	select {
	case <-received:
	default:
		t.Fatal("webhook not called")
	}
	if got.DecisionID != "d-1" || got.RuleID != "no-shell" || got.Identity != "dev" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	noRetryDelay(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Deliver(context.Background(), srv.Client(), Config{URL: srv.URL}, Event{Decision: "block"})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	noRetryDelay(t)
	srv, attempts := countingServer(t, http.StatusBadRequest)

	err := Deliver(context.Background(), srv.Client(), Config{URL: srv.URL}, Event{Decision: "block"})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestDeliverHonoursCancelledContext(t *testing.T) {
	srv, _ := countingServer(t, http.StatusInternalServerError)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Deliver(ctx, srv.Client(), Config{URL: srv.URL}, Event{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestHeadersSent(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t0k"}}
	if err := Deliver(context.Background(), srv.Client(), cfg, Event{}); err != nil {
		t.Fatal(err)
	}
	if got := <-auth; got != "Bearer t0k" {
		t.Errorf("expected header to be sent, got %q", got)
	}
}

func TestDeliveryHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	event := Event{DecisionID: "d-42", Decision: "block", Stage: "injection"}
	if err := Deliver(context.Background(), srv.Client(), Config{URL: srv.URL}, event); err != nil {
		t.Fatal(err)
	}
	h := <-got
	if h.Get(HeaderDecisionID) != "d-42" || h.Get("Idempotency-Key") != "d-42" {
		t.Errorf("expected decision id headers, got %v", h)
	}
	if h.Get(HeaderStage) != "injection" {
		t.Errorf("expected stage header, got %q", h.Get(HeaderStage))
	}
	if h.Get(HeaderAttempt) != "1" {
		t.Errorf("expected attempt 1, got %q", h.Get(HeaderAttempt))
	}
	if h.Get("User-Agent") != userAgent {
		t.Errorf("expected user agent %q, got %q", userAgent, h.Get("User-Agent"))
	}
}

func TestRetryOnTooManyRequests(t *testing.T) {
	noRetryDelay(t)
	var attempts atomic.Int32
	var lastAttempt atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAttempt.Store(r.Header.Get(HeaderAttempt))
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.Client(), Config{URL: srv.URL}, Event{DecisionID: "d-1"}); err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
	if lastAttempt.Load() != strconv.Itoa(2) {
		t.Errorf("expected attempt header 2, got %v", lastAttempt.Load())
	}
}

func TestRetryAfterParsing(t *testing.T) {
	cases := map[string]time.Duration{
		"":                              0,
		"3":                             3 * time.Second,
		"-1":                            0,
		"600":                           maxServerWait,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
	}
	for in, want := range cases {
		if got := retryAfter(in); got != want {
			t.Errorf("retryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRecordAfterCloseDropped(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Config{{URL: srv.URL}}, quietLogger())
	d.Close()

	if err := d.Record(context.Background(), audit.Record{Decision: "block", Stage: "scope"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if called.Load() != 0 {
		t.Errorf("expected no calls after close, got %d", called.Load())
	}
}

func TestRecordConcurrentWithClose(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Config{{URL: srv.URL}}, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Record(context.Background(), audit.Record{Decision: "block", Stage: "scope"})
			}
		}()
	}
	d.Close()
	wg.Wait()
	d.Close()
}

func TestFormatGenericJSON(t *testing.T) {
	event := Event{
		Timestamp:  "2025-01-15T14:00:00.000Z",
		DecisionID: "d-123",
		Identity:   "dev",
		Tool:       "shell_exec",
		Decision:   "block",
		Stage:      "scope",
		Reason:     "rule no-shell denies",
	}

	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed != event {
		t.Errorf("expected %+v, got %+v", event, parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", Event{Identity: "dev", Tool: "shell_exec", Decision: "block", Stage: "scope"})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) < 2 {
		t.Fatalf("expected at least 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Errorf("expected header block, got %s", header["type"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if !ok || len(fields) != 4 {
		t.Errorf("expected 4 fields in section, got %v", fields)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Decision: "block", Stage: "injection"}, "critical"},
		{Event{Decision: "block", Stage: "policy"}, "error"},
		{Event{Decision: "block", Stage: "ratelimit"}, "warning"},
		{Event{Decision: "allow", Stage: "scope"}, "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload("pagerduty", tt.event)
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("pagerduty format is not valid JSON: %v", err)
		}
		if parsed["event_action"] != "trigger" {
			t.Errorf("expected event_action trigger, got %v", parsed["event_action"])
		}
		payload, _ := parsed["payload"].(map[string]any)
		if payload["severity"] != tt.want {
			t.Errorf("%s/%s: expected severity %s, got %v", tt.event.Decision, tt.event.Stage, tt.want, payload["severity"])
		}
		if payload["source"] != "toolgate" {
			t.Errorf("expected source toolgate, got %v", payload["source"])
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{URL: "https://hooks.example.com/x", Format: "slack"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Config{URL: "ftp://x"}).Validate(); err == nil {
		t.Error("expected error for non-http url")
	}
	if err := (Config{URL: "http://x", Format: "teams"}).Validate(); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if d := NewDispatcher(nil, nil); d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
}
