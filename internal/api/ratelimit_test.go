package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		xff        string
		xRealIP    string
		remoteAddr string
		want       string
	}{
		{
			name:       "forwarded-for wins",
			xff:        "203.0.113.9, 10.0.0.1",
			xRealIP:    "198.51.100.2",
			remoteAddr: "10.0.0.1:4321",
			want:       "203.0.113.9",
		},
		{
			name:       "real-ip fallback",
			xRealIP:    "198.51.100.2",
			remoteAddr: "10.0.0.1:4321",
			want:       "198.51.100.2",
		},
		{
			name:       "remote addr host",
			remoteAddr: "10.0.0.1:4321",
			want:       "10.0.0.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
		{
			name:       "empty forwarded-for entry skipped",
			xff:        " , 10.0.0.1",
			remoteAddr: "192.0.2.7:80",
			want:       "192.0.2.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := clientIP(r); got != tt.want {
				t.Fatalf("clientIP=%q want %q", got, tt.want)
			}
		})
	}
}

func TestIPLimiterDisabledByZeroRPS(t *testing.T) {
	t.Parallel()

	if l := newIPLimiter(0, 20, time.Minute); l != nil {
		t.Fatal("zero rps should disable the limiter")
	}
}

func TestIPLimiterBurstThenBlock(t *testing.T) {
	t.Parallel()

	l := &ipLimiter{
		entries: make(map[string]*ipLimiterEntry),
		rps:     1,
		burst:   3,
		ttl:     time.Minute,
	}

	for i := 0; i < 3; i++ {
		if !l.allow("203.0.113.9") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if l.allow("203.0.113.9") {
		t.Fatal("request over burst allowed")
	}

	// Other clients have their own bucket.
	if !l.allow("198.51.100.2") {
		t.Fatal("fresh client denied")
	}
}

func TestIPLimiterCleanup(t *testing.T) {
	t.Parallel()

	l := &ipLimiter{
		entries: make(map[string]*ipLimiterEntry),
		rps:     1,
		burst:   1,
		ttl:     10 * time.Millisecond,
	}
	l.allow("203.0.113.9")
	if len(l.entries) != 1 {
		t.Fatalf("entries=%d", len(l.entries))
	}

	// Force the cleanup pass to see the entry as stale.
	l.mu.Lock()
	l.entries["203.0.113.9"].lastSeen = time.Now().Add(-time.Minute)
	l.lastCleanup = time.Now().Add(-2 * time.Minute)
	l.mu.Unlock()

	l.allow("198.51.100.2")
	l.mu.Lock()
	_, stale := l.entries["203.0.113.9"]
	l.mu.Unlock()
	if stale {
		t.Fatal("stale entry survived cleanup")
	}
}
