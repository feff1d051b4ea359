package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"whalescope/internal/faults"
)

// upstream wraps the price API with a client-side rate limit and a
// circuit breaker so a flapping provider degrades lookups instead of
// stalling every caller.
type upstream struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newUpstream(baseURL string, timeout time.Duration) *upstream {
	return &upstream{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		// Public CoinGecko allows roughly 30 req/min.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "price-api",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (u *upstream) getJSON(ctx context.Context, path string, out interface{}) error {
	if err := u.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := u.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", faults.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, faults.ErrRateLimited
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", faults.ErrUpstreamUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("price api status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", faults.ErrUpstreamUnavailable, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("%w: %v", faults.ErrDecode, err)
		}
		return nil, nil
	})
	// An open breaker is the upstream being unavailable, not an
	// internal fault.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", faults.ErrUpstreamUnavailable, err)
	}
	return err
}
