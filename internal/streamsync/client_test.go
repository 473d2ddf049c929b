package streamsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, "tok_test", server.Client())
	client.baseDelay = time.Millisecond
	client.maxDelay = 5 * time.Millisecond
	return client, server
}

func TestStreamTokenSendsBearerAndDecodes(t *testing.T) {
	var gotAuth, gotCorrelation string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream/token" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":     "stok_1",
			"expiresAt": time.Now().Add(time.Minute).Format(time.RFC3339),
		})
	}))

	resp, err := client.StreamToken(context.Background())
	if err != nil {
		t.Fatalf("stream token failed: %v", err)
	}
	if resp.Token != "stok_1" {
		t.Fatalf("expected token stok_1, got %q", resp.Token)
	}
	if gotAuth != "Bearer tok_test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotCorrelation == "" {
		t.Fatalf("expected a correlation id header")
	}
}

func TestListOrdersPassesStatusFilter(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "ready" {
			t.Fatalf("expected status=ready, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{{"id": "900", "status": "ready"}},
		})
	}))

	orders, err := client.ListOrders(context.Background(), "ready")
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "900" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestListNotificationsTriStateReadFilter(t *testing.T) {
	var gotRead []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		read, present := "", false
		if values, ok := r.URL.Query()["read"]; ok && len(values) > 0 {
			read, present = values[0], true
		}
		if present {
			gotRead = append(gotRead, read)
		} else {
			gotRead = append(gotRead, "<absent>")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"notifications": []any{}})
	}))

	unread := false
	if _, err := client.ListNotifications(context.Background(), 1, &unread); err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if _, err := client.ListNotifications(context.Background(), 1, nil); err != nil {
		t.Fatalf("unfiltered list failed: %v", err)
	}
	if len(gotRead) != 2 || gotRead[0] != "false" || gotRead[1] != "<absent>" {
		t.Fatalf("unexpected read params: %v", gotRead)
	}
}

func TestRetriesTransientFailuresThenSucceeds(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 2})
	}))

	count, err := client.UnreadCount(context.Background())
	if err != nil {
		t.Fatalf("unread count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    "order_not_found",
			"message": "no such order",
		})
	}))

	_, err := client.Order(context.Background(), "999")
	if err == nil {
		t.Fatalf("expected error for 404")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if httpErr.StatusCode != http.StatusNotFound || httpErr.Code != "order_not_found" {
		t.Fatalf("unexpected typed error: %+v", httpErr)
	}
	if !errors.Is(err, orderfeed.ErrNotFound) {
		t.Fatalf("expected 404 to match ErrNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry on 404, got %d attempts", attempts)
	}
}

func TestUnauthorizedMatchesSentinel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.StreamToken(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMarkNotificationReadPostsToReadPath(t *testing.T) {
	var gotMethod, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.MarkNotificationRead(context.Background(), "n1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/notifications/n1/read" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
}

func TestParseRetryAfterSecondsAndGarbage(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0 for empty header, got %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0 for garbage header, got %v", got)
	}
}

func TestRetryDelayCapsAtMax(t *testing.T) {
	c := NewClient("http://example.invalid", "tok", nil)
	if got := c.retryDelay(1, ""); got != 100*time.Millisecond {
		t.Fatalf("expected base delay, got %v", got)
	}
	if got := c.retryDelay(10, ""); got != 2*time.Second {
		t.Fatalf("expected capped delay, got %v", got)
	}
	if got := c.retryDelay(1, "30"); got != 2*time.Second {
		t.Fatalf("expected Retry-After clamped to cap, got %v", got)
	}
}
