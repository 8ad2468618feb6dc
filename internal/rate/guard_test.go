package rate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNetatmoDeclaration(t *testing.T) {
	decl := Netatmo()
	if decl.ProviderName() != "netatmo" {
		t.Fatalf("unexpected provider: %s", decl.ProviderName())
	}
	limits := decl.Limits()
	if limits[TenSeconds] != 50 || limits[Hour] != 500 {
		t.Fatalf("unexpected limits: %+v", limits)
	}
	if decl.BudgetFloors()[Hour] != 20 {
		t.Fatalf("unexpected budget floor: %+v", decl.BudgetFloors())
	}
	if decl.CacheTTL() != 5*time.Second {
		t.Fatalf("unexpected cache ttl: %s", decl.CacheTTL())
	}
	if decl.Headers().RetryAfter != "Retry-After" {
		t.Fatalf("unexpected headers: %+v", decl.Headers())
	}
}

func TestGuardBudgetFloor(t *testing.T) {
	guard := newGuard(Provider("test").MaxRequestsPer(Hour, 500).BudgetFloor(Hour, 20))

	// Half-token offsets keep the assertions away from the refill
	// boundary.
	bucket := guard.state.buckets[Hour]
	bucket.tokens = 21.5
	bucket.last = time.Now()

	for i := 0; i < 2; i++ {
		if d := guard.ShouldCall(time.Now(), true); !d.Allowed {
			t.Fatalf("read %d above the floor should pass, blocked: %s", i, d.Reason)
		}
	}
	if d := guard.ShouldCall(time.Now(), true); d.Allowed || d.Reason != "budget" {
		t.Fatalf("read at the floor should be blocked, got %+v", d)
	}
	if d := guard.ShouldCall(time.Now(), false); !d.Allowed {
		t.Fatalf("write below the floor should still pass, blocked: %s", d.Reason)
	}

	bucket.tokens = 0.5
	blocked := guard.ShouldCall(time.Now(), false)
	if blocked.Allowed || blocked.Reason != "budget" {
		t.Fatalf("write on an empty bucket should be blocked, got %+v", blocked)
	}
	if blocked.RetryAt.IsZero() {
		t.Fatalf("expected a retry hint")
	}
}

func TestGuardCooldown(t *testing.T) {
	guard := newGuard(Provider("test").MaxRequestsPer(Hour, 500).ReadHeaders(Headers{RetryAfter: "Retry-After"}))

	guard.RecordResponse(http.StatusTooManyRequests, http.Header{})
	d := guard.ShouldCall(time.Now(), false)
	if d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown after 429, got %+v", d)
	}
	if d.RetryAt.IsZero() {
		t.Fatalf("expected a cooldown deadline")
	}

	headers := http.Header{}
	headers.Set("Retry-After", "120")
	guard.RecordResponse(http.StatusTooManyRequests, headers)
	d = guard.ShouldCall(time.Now(), false)
	if d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown with Retry-After, got %+v", d)
	}
	if time.Until(d.RetryAt) < time.Minute {
		t.Fatalf("Retry-After should extend the cooldown, retry at %s", d.RetryAt)
	}

	if d := guard.ShouldCall(time.Now().Add(3*time.Minute), false); !d.Allowed {
		t.Fatalf("cooldown should expire, blocked: %s", d.Reason)
	}
}

func TestGuardDisabled(t *testing.T) {
	guard := newGuard(Provider("test"))
	if d := guard.ShouldCall(time.Now(), false); d.Allowed || d.Reason != "disabled" {
		t.Fatalf("guard without limits should refuse calls, got %+v", d)
	}
}

func TestWrapHTTPServesCachedReads(t *testing.T) {
	var serverHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverHits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer server.Close()

	client := WrapHTTP(Provider("test").MaxRequestsPer(Hour, 2).CacheFor(time.Minute), &http.Client{})

	for i := 0; i < 3; i++ {
		resp, err := client.Get(server.URL + "/api/homesdata")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
			t.Fatalf("get %d: unexpected response %d %s", i, resp.StatusCode, body)
		}
	}
	if serverHits != 2 {
		t.Fatalf("expected the third read to come from cache, server saw %d requests", serverHits)
	}

	// writes are never served from cache; with the budget gone they fail
	_, err := client.Post(server.URL+"/api/setthermmode", "application/x-www-form-urlencoded", strings.NewReader("home_id=h&mode=away"))
	var rateErr RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.Reason != "budget" {
		t.Fatalf("unexpected block reason: %s", rateErr.Reason)
	}
	if serverHits != 2 {
		t.Fatalf("blocked write still reached the server")
	}
}
