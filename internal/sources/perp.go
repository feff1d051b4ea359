package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"whalescope/internal/faults"
)

// PerpFill is one executed fill from the exchange's info endpoint.
// Numeric fields arrive as strings on the wire.
type PerpFill struct {
	Coin      string `json:"coin"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"` // "B" or "A"
	Time      int64  `json:"time"` // ms epoch
	Dir       string `json:"dir"`  // "Open Long", "Close Short", ...
	ClosedPnl string `json:"closedPnl"`
	Hash      string `json:"hash"`
	Fee       string `json:"fee"`
	OID       int64  `json:"oid"`
}

// PerpPosition is one open position from clearinghouseState.
type PerpPosition struct {
	Position PerpPositionDetail `json:"position"`
}

type PerpPositionDetail struct {
	Coin           string       `json:"coin"`
	Szi            string       `json:"szi"` // signed size, negative = short
	EntryPx        string       `json:"entryPx"`
	PositionValue  string       `json:"positionValue"`
	UnrealizedPnl  string       `json:"unrealizedPnl"`
	ReturnOnEquity string       `json:"returnOnEquity"`
	Leverage       PerpLeverage `json:"leverage"`
}

type PerpLeverage struct {
	Value float64 `json:"value"`
}

// PerpState is the account snapshot from clearinghouseState.
type PerpState struct {
	AssetPositions []PerpPosition    `json:"assetPositions"`
	MarginSummary  PerpMarginSummary `json:"marginSummary"`
}

type PerpMarginSummary struct {
	AccountValue string `json:"accountValue"`
}

// PerpLedgerUpdate is one non-funding ledger entry (deposits and
// withdrawals).
type PerpLedgerUpdate struct {
	Time  int64           `json:"time"`
	Hash  string          `json:"hash"`
	Delta PerpLedgerDelta `json:"delta"`
}

type PerpLedgerDelta struct {
	Type string `json:"type"` // "deposit", "withdraw", ...
	Usdc string `json:"usdc"`
}

// PerpClient talks to a Hyperliquid-style /info endpoint.
type PerpClient interface {
	ClearinghouseState(ctx context.Context, address string) (*PerpState, error)
	FillsByTime(ctx context.Context, address string, startMs, endMs int64) ([]PerpFill, error)
	LedgerUpdates(ctx context.Context, address string, startMs int64) ([]PerpLedgerUpdate, error)
}

// InfoClient is the HTTP implementation of PerpClient. Calls go through
// a circuit breaker so a flapping exchange degrades the perp tick
// instead of stalling it.
type InfoClient struct {
	infoURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewInfoClient(infoURL string, timeout time.Duration) *InfoClient {
	return &InfoClient{
		infoURL: infoURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "perp-info",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *InfoClient) post(ctx context.Context, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: perp info: %v", faults.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, faults.ErrRateLimited
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: perp info status %d", faults.ErrUpstreamUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("perp info status %d", resp.StatusCode)
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: perp info: %v", faults.ErrUpstreamUnavailable, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: perp info: %v", faults.ErrDecode, err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: perp info: %v", faults.ErrUpstreamUnavailable, err)
	}
	return err
}

func (c *InfoClient) ClearinghouseState(ctx context.Context, address string) (*PerpState, error) {
	var state PerpState
	err := c.post(ctx, map[string]string{"type": "clearinghouseState", "user": address}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// FillsByTime returns fills in [startMs, endMs], oldest first per the
// upstream contract. The endpoint caps each page at 2000 fills; callers
// advance startMs past the last fill to page forward.
func (c *InfoClient) FillsByTime(ctx context.Context, address string, startMs, endMs int64) ([]PerpFill, error) {
	payload := map[string]interface{}{
		"type":      "userFillsByTime",
		"user":      address,
		"startTime": startMs,
	}
	if endMs > 0 {
		payload["endTime"] = endMs
	}
	var fills []PerpFill
	if err := c.post(ctx, payload, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

func (c *InfoClient) LedgerUpdates(ctx context.Context, address string, startMs int64) ([]PerpLedgerUpdate, error) {
	payload := map[string]interface{}{
		"type":      "userNonFundingLedgerUpdates",
		"user":      address,
		"startTime": startMs,
	}
	var updates []PerpLedgerUpdate
	if err := c.post(ctx, payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// ParseFloat converts the exchange's string-encoded numerics, returning
// 0 for empty strings.
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
