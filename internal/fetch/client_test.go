package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/driftscan/internal/model"
)

// newTestClient builds a Client against a test server with fast timing.
func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithDelay(0),
		WithTimeout(2 * time.Second),
	}
	c, err := NewClient(srv.URL, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.backoffBase = 5 * time.Millisecond
	return c
}

// TestFetchForwardsPageAsString tests that arbitrary-precision page
// numbers reach the server verbatim.
func TestFetchForwardsPageAsString(t *testing.T) {
	t.Parallel()

	var gotPage atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPage.Store(r.URL.Query().Get("page"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	// Beyond int64, and negative: both must pass through untouched.
	for _, page := range []string{"18446744073709551616", "-1", "0"} {
		res, err := c.Fetch(context.Background(), model.PageNumber(page))
		if err != nil {
			t.Fatalf("Fetch(%s): %v", page, err)
		}
		if !res.OK() {
			t.Errorf("status = %d, want 200", res.StatusCode)
		}
		if got := gotPage.Load().(string); got != page {
			t.Errorf("server saw page %q, want %q", got, page)
		}
	}
}

// TestFetchRetriesTransportErrors tests bounded retry on connection
// failures.
func TestFetchRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			// Drop the connection to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("hijacking unsupported")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithMaxAttempts(3))

	res, err := c.Fetch(context.Background(), "5")
	if err != nil {
		t.Fatalf("expected third attempt to succeed: %v", err)
	}
	if !res.OK() {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

// TestFetchExhaustedRetries tests TransportError after the retry budget.
func TestFetchExhaustedRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("hijacking unsupported")
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithMaxAttempts(2))

	_, err := c.Fetch(context.Background(), "5")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", te.Attempts)
	}
}

// TestFetchNonSuccessStatusIsNotAnError tests that HTTP error statuses
// come back as results, not errors; boundary probing depends on seeing
// the status.
func TestFetchNonSuccessStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	res, err := c.Fetch(context.Background(), "999999")
	if err != nil {
		t.Fatalf("404 must not be a transport error: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
	if StatusFailure(res.StatusCode) != "http_404" {
		t.Errorf("StatusFailure = %s, want http_404", StatusFailure(res.StatusCode))
	}
}

// TestRateLimitWidensDelay tests that a 429 widens the politeness
// interval for the remainder of the run.
func TestRateLimitWidensDelay(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithMaxAttempts(3), WithDelay(10*time.Millisecond))

	before := c.currentDelay()
	res, err := c.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.OK() {
		t.Errorf("status = %d, want 200 after retry", res.StatusCode)
	}
	if after := c.currentDelay(); after <= before {
		t.Errorf("delay did not widen: before %v, after %v", before, after)
	}
}

// TestFetchCancellation tests that a cancelled context aborts promptly.
func TestFetchCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, "1")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation took too long")
	}
}
