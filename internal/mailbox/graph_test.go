package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/jobflow/internal/model"
)

func graphMsg(id, from, subject, body string, received time.Time) map[string]any {
	return map[string]any{
		"id":               id,
		"subject":          subject,
		"receivedDateTime": received.UTC().Format(time.RFC3339),
		"body":             map[string]string{"contentType": "html", "content": body},
		"from":             map[string]any{"emailAddress": map[string]string{"address": from}},
	}
}

// newGraphServer serves a token endpoint and two pages of messages.
func newGraphServer(t *testing.T, tokenCalls *atomic.Int32, lastFilter *atomic.Value) *httptest.Server {
	t.Helper()
	now := time.Now()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			tokenCalls.Add(1)
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse token form: %v", err)
			}
			if r.Form.Get("grant_type") != "client_credentials" {
				t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})

		case r.URL.Path == "/users/jobs@example.com/messages":
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("Authorization = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("page") == "2" {
				json.NewEncoder(w).Encode(map[string]any{"value": []any{
					graphMsg("3", "cces@bnpparibasfortis.com", "New BNP Paribas Fortis request for external staff: Tester (ABC3)", "<p>c</p>", now.Add(-3*time.Hour)),
				}})
				return
			}
			lastFilter.Store(r.URL.Query().Get("$filter"))
			json.NewEncoder(w).Encode(map[string]any{
				"value": []any{
					graphMsg("1", "cces@bnpparibasfortis.com", "New BNP Paribas Fortis request for external staff: Go Dev (ABC1)", "<p>a</p>", now.Add(-time.Hour)),
					graphMsg("2", "cces@bnpparibasfortis.com", "Newsletter", "<p>b</p>", now.Add(-2*time.Hour)),
				},
				"@odata.nextLink": srv.URL + "/users/jobs@example.com/messages?page=2",
			})

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGraphSearch_FiltersAndFollowsNextLink(t *testing.T) {
	var tokenCalls atomic.Int32
	var lastFilter atomic.Value
	srv := newGraphServer(t, &tokenCalls, &lastFilter)

	mb := NewGraphMailbox(context.Background(), GraphConfig{
		ClientID: "id", ClientSecret: "secret", User: "jobs@example.com",
		BaseURL: srv.URL, TokenURL: srv.URL + "/token",
	}, discardLogger())

	msgs, err := mb.Search(context.Background(), Query{
		Sender:          "cces@bnpparibasfortis.com",
		SubjectContains: "request for external staff",
		Since:           time.Now().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "1" || msgs[1].ID != "3" {
		t.Errorf("ids = %s,%s, want 1,3", msgs[0].ID, msgs[1].ID)
	}
	if !msgs[0].HTML {
		t.Error("expected HTML body")
	}
	if tokenCalls.Load() != 1 {
		t.Errorf("token fetched %d times, want 1", tokenCalls.Load())
	}
	filter, _ := lastFilter.Load().(string)
	if !strings.Contains(filter, "receivedDateTime ge ") || !strings.Contains(filter, "from/emailAddress/address eq 'cces@bnpparibasfortis.com'") {
		t.Errorf("filter = %q", filter)
	}
}

func TestGraphSearch_StatusMapsToHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
			return
		}
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	mb := NewGraphMailbox(context.Background(), GraphConfig{
		User: "jobs@example.com", BaseURL: srv.URL, TokenURL: srv.URL + "/token",
	}, discardLogger())

	_, err := mb.Search(context.Background(), Query{})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 429 || httpErr.RetryAfter != 7*time.Second {
		t.Errorf("got status %d retry-after %v", httpErr.StatusCode, httpErr.RetryAfter)
	}
}

func TestGraphSearch_TokenRejectionIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	mb := NewGraphMailbox(context.Background(), GraphConfig{
		User: "jobs@example.com", BaseURL: srv.URL, TokenURL: srv.URL + "/token",
	}, discardLogger())

	_, err := mb.Search(context.Background(), Query{})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 401 {
		t.Fatalf("expected HTTPError 401, got %v", err)
	}
}
