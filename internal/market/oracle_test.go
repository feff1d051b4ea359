package market

import (
	"context"
	"testing"
	"time"

	"whalescope/internal/models"
)

func pt(ts time.Time, price float64) models.PricePoint {
	return models.PricePoint{Asset: "BTC", Timestamp: ts, PriceUSD: price}
}

func TestInterpolateAt(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	series := []models.PricePoint{
		pt(base, 100),
		pt(base.Add(time.Hour), 200),
		pt(base.Add(2*time.Hour), 150),
	}

	cases := []struct {
		name string
		ts   time.Time
		want float64
	}{
		{"before range clamps", base.Add(-time.Hour), 100},
		{"after range clamps", base.Add(3 * time.Hour), 150},
		{"exact point", base.Add(time.Hour), 200},
		{"midpoint", base.Add(30 * time.Minute), 150},
		{"three quarters", base.Add(90 * time.Minute), 175},
	}
	for _, tc := range cases {
		got, ok := InterpolateAt(series, tc.ts)
		if !ok {
			t.Fatalf("%s: not ok", tc.name)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestInterpolateAtEmpty(t *testing.T) {
	t.Parallel()

	if _, ok := InterpolateAt(nil, time.Now()); ok {
		t.Fatal("empty series interpolated")
	}
}

func TestPriceCacheTTL(t *testing.T) {
	t.Parallel()

	c := newPriceCache(50*time.Millisecond, "")
	c.setLocal("BTC", 50_000)

	if v, ok := c.get(context.Background(), "BTC"); !ok || v != 50_000 {
		t.Fatalf("fresh entry: %v %v", v, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.get(context.Background(), "BTC"); ok {
		t.Fatal("expired entry served")
	}
}
