package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/amishk599/jobflow/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecords() []model.ExecutionRecord {
	return []model.ExecutionRecord{
		{
			ID: "e1", Workflow: "bnppf", Source: model.SourceBNPPF, Status: model.StatusSucceeded,
			Listings: 3, Persistence: model.PersistenceReport{Inserted: 2, SkippedDuplicate: 1},
		},
		{
			ID: "e2", Workflow: "connecting_expertise", Source: model.SourceConnectingExpertise,
			Status: model.StatusFailed, Reason: model.ReasonStep, FailedStep: "login", Attempts: 1,
			Error: "missing username or password",
		},
	}
}

func TestSlackNotifier_EmptyRecords(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), nil); err != nil {
		t.Errorf("Notify(nil) = %v, want nil", err)
	}
	if c := calls.Load(); c != 0 {
		t.Errorf("expected 0 HTTP calls, got %d", c)
	}
}

func TestSlackNotifier_PayloadFormat(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Notify() = %v", err)
	}

	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// header, context, one section per record, divider
	if len(payload.Blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(payload.Blocks))
	}
	if payload.Blocks[0].Type != "header" || payload.Blocks[0].Text.Text != "jobflow run: 2 new listing(s)" {
		t.Errorf("header = %+v", payload.Blocks[0].Text)
	}
	if got := payload.Blocks[1].Elements[0].Text; got != "1 succeeded, 0 partial, 1 failed, 0 pending" {
		t.Errorf("context = %q", got)
	}
	if payload.Blocks[2].Text != nil {
		t.Errorf("succeeded record should carry no error text")
	}
	failed := payload.Blocks[3]
	if failed.Text == nil || !strings.Contains(failed.Text.Text, "`login` after 1 attempt(s)") {
		t.Errorf("failed record text = %+v", failed.Text)
	}
	if !strings.Contains(failed.Fields[0].Text, ":x: failed") {
		t.Errorf("status field = %q", failed.Fields[0].Text)
	}
	if payload.Blocks[4].Type != "divider" {
		t.Errorf("block[4] type = %q, want divider", payload.Blocks[4].Type)
	}
}

func TestSlackNotifier_SlackReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), sampleRecords()); err == nil {
		t.Error("expected error on 500, got nil")
	}
}

func TestSlackNotifier_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := calls.Add(1)
		if c == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("expected nil after retry, got %v", err)
	}
	if c := calls.Load(); c != 2 {
		t.Errorf("expected 2 HTTP calls (initial + retry), got %d", c)
	}
}

func TestSlackNotifier_RateLimitedTwice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), sampleRecords()); err == nil {
		t.Error("expected error after second 429, got nil")
	}
}

func TestSlackNotifier_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	done := make(chan error, 1)
	go func() { done <- n.Notify(ctx, sampleRecords()) }()
	cancel()

	if err := <-done; err == nil {
		t.Error("expected error when cancelled, got nil")
	}
}

func TestBuildPayload_CapsBlocks(t *testing.T) {
	records := make([]model.ExecutionRecord, 60)
	for i := range records {
		records[i] = model.ExecutionRecord{Workflow: "bnppf", Status: model.StatusSucceeded}
	}
	p := buildPayload(records)
	if len(p.Blocks) > 50 {
		t.Fatalf("payload has %d blocks, Slack allows 50", len(p.Blocks))
	}
	last := p.Blocks[len(p.Blocks)-2]
	if last.Text == nil || last.Text.Text != "_and 15 more_" {
		t.Errorf("overflow block = %+v", last.Text)
	}
}
