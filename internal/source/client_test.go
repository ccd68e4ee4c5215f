package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, home, data string) *Client {
	t.Helper()
	return NewClient(Options{
		HomeURL:     home,
		DataURL:     data,
		TokenMaxAge: 10 * time.Minute,
		HTTPTimeout: 5 * time.Second,
	}, zerolog.Nop())
}

func landingHTML(token string, singleQuoted bool) string {
	if singleQuoted {
		return fmt.Sprintf(`<html><script>$.post('/json', {param: '%s'}, function(r){});</script></html>`, token)
	}
	return fmt.Sprintf(`<html><script>$.post('/json', {param: "%s"}, function(r){});</script></html>`, token)
}

func TestFetchHappyPath(t *testing.T) {
	t.Parallel()
	for _, quoted := range []bool{false, true} {
		name := "double_quoted"
		if quoted {
			name = "single_quoted"
		}
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, landingHTML("tok-123", quoted))
			})
			mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
				if got := r.FormValue("param"); got != "tok-123" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]any{
					"usd1": "105,500", "usd2": 104900,
					"ounce": "2,650.25",
					"year":  1404, "month": 6, "day": 5, "hour": 14, "minute": 30,
				})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			c := newTestClient(t, srv.URL+"/", srv.URL+"/json")
			snap, err := c.Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if snap.Values["usd1"] != 105500 {
				t.Fatalf("usd1 = %v, want 105500", snap.Values["usd1"])
			}
			if snap.Values["ounce"] != 2650.25 {
				t.Fatalf("ounce = %v, want 2650.25", snap.Values["ounce"])
			}
			if !snap.Clock.Valid || snap.Clock.Year != 1404 || snap.Clock.Minute != 30 {
				t.Fatalf("clock = %+v", snap.Clock)
			}
			if _, ok := snap.Values["year"]; ok {
				t.Fatal("calendar fields should not appear in Values")
			}
			if !c.TokenCached() {
				t.Fatal("token should be cached after success")
			}
		})
	}
}

func TestFetchRetriesWithFreshToken(t *testing.T) {
	t.Parallel()
	var homeHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := homeHits.Add(1)
		fmt.Fprint(w, landingHTML(fmt.Sprintf("tok-%d", n), false))
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		// The first token has expired server-side; only the second works.
		if r.FormValue("param") != "tok-2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"usd1": 105000})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", srv.URL+"/json")
	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch should succeed after retry: %v", err)
	}
	if snap.Values["usd1"] != 105000 {
		t.Fatalf("usd1 = %v", snap.Values["usd1"])
	}
	if got := homeHits.Load(); got != 2 {
		t.Fatalf("landing page hits = %d, want 2", got)
	}
	if !c.TokenCached() {
		t.Fatal("token cache should hold the fresh token after a successful retry")
	}
}

func TestFetchResetSignalTriggersRetry(t *testing.T) {
	t.Parallel()
	var dataHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingHTML("tok-abc", false))
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		if dataHits.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{"reset": true})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"usd1": 99000})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", srv.URL+"/json")
	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Values["usd1"] != 99000 {
		t.Fatalf("usd1 = %v", snap.Values["usd1"])
	}
	if got := dataHits.Load(); got != 2 {
		t.Fatalf("data hits = %d, want 2", got)
	}
}

func TestFetchTokenExtractionFailed(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>nothing to see</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", srv.URL+"/json")
	_, err := c.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("final error should wrap ErrSourceUnavailable, got %v", err)
	}
	if c.TokenCached() {
		t.Fatal("token cache should be empty after final failure")
	}
}

func TestFetchBothAttemptsFail(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingHTML("tok-x", false))
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", srv.URL+"/json")
	_, err := c.Fetch(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}
	if c.TokenCached() {
		t.Fatal("token cache must be left empty")
	}
}

func TestCoerceFloat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"json number", json.Number("42.5"), 42.5, true},
		{"float", 7.0, 7, true},
		{"plain string", "1234", 1234, true},
		{"comma grouped", "1,234,567", 1234567, true},
		{"comma decimal", "2,650.25", 2650.25, true},
		{"empty string", "", 0, false},
		{"non numeric", "Shahrivar", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceFloat(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("coerceFloat(%v) = (%v,%v), want (%v,%v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
