package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whalescope/internal/faults"
)

func TestParseFloat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"0", 0},
		{"-1.5", -1.5},
		{"50000.25", 50000.25},
		{"garbage", 0},
	}
	for _, tc := range cases {
		if got := ParseFloat(tc.in); got != tc.want {
			t.Fatalf("ParseFloat(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestInfoClientOpenBreakerMapsToUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewInfoClient(srv.URL, time.Second)
	c.limiter.SetLimit(1_000_000)

	for i := 0; i < 5; i++ {
		if _, err := c.ClearinghouseState(context.Background(), "0xabc"); !errors.Is(err, faults.ErrUpstreamUnavailable) {
			t.Fatalf("request %d: err=%v", i, err)
		}
	}

	// Short-circuited calls keep the upstream fault kind.
	_, err := c.ClearinghouseState(context.Background(), "0xabc")
	if !errors.Is(err, faults.ErrUpstreamUnavailable) {
		t.Fatalf("open-breaker err=%v, want upstream unavailable", err)
	}
}
