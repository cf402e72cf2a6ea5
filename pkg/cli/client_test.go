package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/server"
	"mercator-hq/packlimit/pkg/telemetry/logging"
)

type stubEngine struct {
	replenish limits.ReplenishRequest
}

func (s *stubEngine) Check(ctx context.Context, key string) limits.Decision {
	if key == "blocked" {
		return limits.Decision{MaxPermits: 1, Message: "Exceeded rate limit", RetryAfter: time.Minute}
	}
	return limits.Decision{Allowed: true, MaxPermits: 10}
}

func (s *stubEngine) ListAll(ctx context.Context) []limits.Status {
	return []limits.Status{{Key: "1000", DisplayName: "1000 (alice)", MaxPermits: 10, Available: 9, Used: 1}}
}

func (s *stubEngine) ReplenishRequest(ctx context.Context, req limits.ReplenishRequest) (int, error) {
	s.replenish = req
	if req.All {
		return 5, nil
	}
	return len(req.Users), nil
}

func newStubServer(t *testing.T, token string) (*httptest.Server, *stubEngine) {
	t.Helper()
	engine := &stubEngine{}
	srv := httptest.NewServer(server.NewRouter(server.Options{
		Engine:     engine,
		AdminToken: token,
		Logger:     logging.Discard(),
	}))
	t.Cleanup(srv.Close)
	return srv, engine
}

func TestNewClient_Address(t *testing.T) {
	c := NewClient("127.0.0.1:8089", "", 0)
	if c.baseURL != "http://127.0.0.1:8089" {
		t.Errorf("Expected http scheme to be added, got %q", c.baseURL)
	}
	c = NewClient("https://limits.example.com/", "", 0)
	if c.baseURL != "https://limits.example.com" {
		t.Errorf("Expected trailing slash trimmed, got %q", c.baseURL)
	}
}

func TestClient_List(t *testing.T) {
	srv, _ := newStubServer(t, "tok")
	entries, err := NewClient(srv.URL, "tok", time.Second).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].AccountID != "1000 (alice)" || entries[0].UsedPermits != "1" {
		t.Errorf("Unexpected entries %+v", entries)
	}
}

func TestClient_AuthFailure(t *testing.T) {
	srv, _ := newStubServer(t, "tok")
	_, err := NewClient(srv.URL, "wrong", time.Second).List(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "Authentication failed" {
		t.Errorf("Unexpected error %+v", apiErr)
	}
}

func TestClient_Replenish(t *testing.T) {
	srv, engine := newStubServer(t, "")
	c := NewClient(srv.URL, "", time.Second)

	n, err := c.Replenish(context.Background(), server.ReplenishBody{Users: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("Replenish() error = %v", err)
	}
	if n != 2 || len(engine.replenish.Users) != 2 {
		t.Errorf("Expected 2 users replenished, got %d (%+v)", n, engine.replenish)
	}

	n, err = c.Replenish(context.Background(), server.ReplenishBody{All: true})
	if err != nil || n != 5 {
		t.Errorf("Replenish(all) = %d, %v; want 5", n, err)
	}
}

func TestClient_Acquire(t *testing.T) {
	srv, _ := newStubServer(t, "")
	c := NewClient(srv.URL, "", time.Second)

	resp, err := c.Acquire(context.Background(), "1000")
	if err != nil || !resp.Allowed {
		t.Errorf("Acquire(1000) = %+v, %v; want allowed", resp, err)
	}

	resp, err = c.Acquire(context.Background(), "blocked")
	if err != nil {
		t.Fatalf("Denial should not be an error, got %v", err)
	}
	if resp.Allowed || resp.RetryAfterSeconds != 60 {
		t.Errorf("Unexpected denial %+v", resp)
	}
}

func TestClient_Unreachable(t *testing.T) {
	_, err := NewClient("127.0.0.1:1", "", 200*time.Millisecond).List(context.Background())
	if err == nil || !strings.Contains(err.Error(), "request to") {
		t.Errorf("Expected connection error, got %v", err)
	}
}
