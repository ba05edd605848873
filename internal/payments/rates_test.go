package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestRateOracleFetchesAndCaches(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("ids") != "bitcoin" || r.URL.Query().Get("vs_currencies") != "eur" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"bitcoin":{"eur":58000.5}}`)
	}))
	defer server.Close()

	oracle := NewRateOracle(server.URL, "bitcoin", "EUR", 5*time.Second, logrus.New())

	rate, err := oracle.Rate(context.Background())
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if rate != 58000.5 {
		t.Fatalf("expected 58000.5, got %f", rate)
	}

	// Second call within the TTL must come from cache.
	if _, err := oracle.Rate(context.Background()); err != nil {
		t.Fatalf("Rate (cached): %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", n)
	}
}

func TestRateOracleStaleFallback(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ethereum":{"eur":2400}}`)
	}))
	defer server.Close()

	oracle := NewRateOracle(server.URL, "ethereum", "eur", 5*time.Second, logrus.New())

	if _, err := oracle.Rate(context.Background()); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	// Expire the cache and make the upstream fail. The stale rate must
	// still be served.
	oracle.mu.Lock()
	oracle.fetchedAt = time.Now().Add(-time.Hour)
	oracle.mu.Unlock()
	failing.Store(true)

	rate, err := oracle.Rate(context.Background())
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if rate != 2400 {
		t.Fatalf("expected stale rate 2400, got %f", rate)
	}
}

func TestRateOracleFailsWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	oracle := NewRateOracle(server.URL, "bitcoin", "eur", 5*time.Second, logrus.New())
	if _, err := oracle.Rate(context.Background()); err == nil {
		t.Fatal("expected error with no cached rate")
	}
}

func TestRateOracleRejectsMissingRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	oracle := NewRateOracle(server.URL, "bitcoin", "eur", 5*time.Second, logrus.New())
	if _, err := oracle.Rate(context.Background()); err == nil {
		t.Fatal("expected error for missing rate in response")
	}
}
