package quotes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("returns quotes for all symbols", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path + "?" + r.URL.RawQuery
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"quotes":[
				{"symbol":"AAPL","bid":150.00,"ask":151.00},
				{"symbol":"MSFT","bid":300.00,"ask":301.00}
			]}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second)
		results, err := c.Latest(ctx, []string{"AAPL", "MSFT"})
		if err != nil {
			t.Fatalf("Latest returned error: %v", err)
		}
		if gotPath != "/v1/quotes?symbols=AAPL%2CMSFT" {
			t.Errorf("unexpected request path: %s", gotPath)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if res := results["AAPL"]; res.Err != nil || res.Quote.Midpoint() != 150.50 {
			t.Errorf("unexpected AAPL result: %+v", res)
		}
		if res := results["MSFT"]; res.Err != nil || res.Quote.Midpoint() != 300.50 {
			t.Errorf("unexpected MSFT result: %+v", res)
		}
	})

	t.Run("per-symbol error does not fail the batch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"quotes":[
				{"symbol":"AAPL","bid":150.00,"ask":151.00},
				{"symbol":"MSFT","error":"instrument halted"}
			]}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second)
		results, err := c.Latest(ctx, []string{"AAPL", "MSFT"})
		if err != nil {
			t.Fatalf("Latest returned error: %v", err)
		}
		if results["AAPL"].Err != nil {
			t.Errorf("AAPL should succeed: %v", results["AAPL"].Err)
		}
		if results["MSFT"].Err == nil {
			t.Error("MSFT should carry the upstream error")
		}
	})

	t.Run("silently dropped symbol reads as missing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"quotes":[{"symbol":"AAPL","bid":150.00,"ask":151.00}]}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second)
		results, err := c.Latest(ctx, []string{"AAPL", "TSLA"})
		if err != nil {
			t.Fatalf("Latest returned error: %v", err)
		}
		if !errors.Is(results["TSLA"].Err, ErrQuoteMissing) {
			t.Errorf("expected ErrQuoteMissing for TSLA, got %v", results["TSLA"].Err)
		}
	})

	t.Run("non-200 fails the whole batch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second)
		if _, err := c.Latest(ctx, []string{"AAPL"}); err == nil {
			t.Fatal("expected error on 502")
		}
	})

	t.Run("empty symbol set is rejected", func(t *testing.T) {
		c := NewClient("http://localhost:0", 5*time.Second)
		if _, err := c.Latest(ctx, nil); !errors.Is(err, ErrNoSymbols) {
			t.Fatalf("expected ErrNoSymbols, got %v", err)
		}
	})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Latest(ctx, []string{"AAPL"}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	// Three consecutive failures trip the breaker; the next call fails
	// fast without reaching the upstream.
	if _, err := c.Latest(ctx, []string{"AAPL"}); err == nil {
		t.Fatal("expected fail-fast error while breaker is open")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("expected 3 upstream hits, got %d", got)
	}
}
