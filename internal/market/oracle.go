package market

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"whalescope/internal/faults"
	"whalescope/internal/models"
	"whalescope/internal/telemetry"
)

// PriceStore is the persistence the oracle needs; satisfied by
// repository.Repository.
type PriceStore interface {
	UpsertPricePoints(ctx context.Context, points []models.PricePoint) error
	GetPriceSeries(ctx context.Context, asset string, from, to time.Time) ([]models.PricePoint, error)
	GetPriceAt(ctx context.Context, asset string, ts time.Time, tolerance time.Duration) (float64, error)
}

// Known symbol to provider id mapping. Symbols outside this table are
// reported as unknown rather than guessed.
var providerIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"WETH": "weth",
	"WBTC": "wrapped-bitcoin",
	"USDC": "usd-coin",
	"USDT": "tether",
	"DAI":  "dai",
	"SOL":  "solana",
	"LINK": "chainlink",
	"UNI":  "uniswap",
	"AAVE": "aave",
	"ARB":  "arbitrum",
	"OP":   "optimism",
	"MATIC": "matic-network",
	"PEPE": "pepe",
	"DOGE": "dogecoin",
	"AVAX": "avalanche-2",
	"SUI":  "sui",
	"HYPE": "hyperliquid",
}

// Stablecoins short-circuit to 1.0 without an upstream call.
var stableSymbols = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "USD": true}

const spotTTL = 5 * time.Minute

// Oracle answers USD price questions, caching spot quotes and persisting
// historical series into price_history.
type Oracle struct {
	upstream *upstream
	cache    *priceCache
	store    PriceStore
}

func NewOracle(baseURL, redisURL string, timeout time.Duration, store PriceStore) *Oracle {
	return &Oracle{
		upstream: newUpstream(baseURL, timeout),
		cache:    newPriceCache(spotTTL, redisURL),
		store:    store,
	}
}

// Spot returns the current USD price. Unknown symbols yield
// faults.ErrNotFound so callers can mark values as unpriced instead of
// inventing zeros.
func (o *Oracle) Spot(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	if stableSymbols[symbol] {
		return 1.0, nil
	}
	id, ok := providerIDs[symbol]
	if !ok {
		telemetry.PriceLookups.WithLabelValues("unknown").Inc()
		return 0, fmt.Errorf("%w: unknown asset %s", faults.ErrNotFound, symbol)
	}

	if price, ok := o.cache.get(ctx, symbol); ok {
		telemetry.PriceLookups.WithLabelValues("cache_hit").Inc()
		return price, nil
	}

	var out map[string]map[string]float64
	path := "/simple/price?ids=" + url.QueryEscape(id) + "&vs_currencies=usd"
	if err := o.upstream.getJSON(ctx, path, &out); err != nil {
		telemetry.PriceLookups.WithLabelValues("error").Inc()
		return 0, err
	}
	price, ok := out[id]["usd"]
	if !ok {
		telemetry.PriceLookups.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("%w: no usd quote for %s", faults.ErrDecode, symbol)
	}

	telemetry.PriceLookups.WithLabelValues("fetch").Inc()
	o.cache.set(ctx, symbol, price)
	return price, nil
}

// SpotMany batches spot lookups into one upstream call where possible.
func (o *Oracle) SpotMany(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var ids []string
	idToSymbol := map[string]string{}

	for _, s := range symbols {
		s = strings.ToUpper(s)
		if stableSymbols[s] {
			out[s] = 1.0
			continue
		}
		if price, ok := o.cache.get(ctx, s); ok {
			out[s] = price
			continue
		}
		if id, ok := providerIDs[s]; ok {
			ids = append(ids, id)
			idToSymbol[id] = s
		}
	}
	if len(ids) == 0 {
		return out, nil
	}

	var resp map[string]map[string]float64
	path := "/simple/price?ids=" + url.QueryEscape(strings.Join(ids, ",")) + "&vs_currencies=usd"
	if err := o.upstream.getJSON(ctx, path, &resp); err != nil {
		return out, err
	}
	for id, quote := range resp {
		symbol := idToSymbol[id]
		if price, ok := quote["usd"]; ok && symbol != "" {
			out[symbol] = price
			o.cache.set(ctx, symbol, price)
		}
	}
	return out, nil
}

// Historical returns the USD price at ts, serving from price_history
// when a point within an hour exists and fetching the surrounding day
// otherwise.
func (o *Oracle) Historical(ctx context.Context, symbol string, ts time.Time) (float64, error) {
	symbol = strings.ToUpper(symbol)
	if stableSymbols[symbol] {
		return 1.0, nil
	}
	if _, ok := providerIDs[symbol]; !ok {
		return 0, fmt.Errorf("%w: unknown asset %s", faults.ErrNotFound, symbol)
	}

	if price, err := o.store.GetPriceAt(ctx, symbol, ts, time.Hour); err == nil {
		telemetry.PriceLookups.WithLabelValues("cache_hit").Inc()
		return price, nil
	}

	series, err := o.Series(ctx, symbol, ts.Add(-12*time.Hour), ts.Add(12*time.Hour))
	if err != nil {
		return 0, err
	}
	price, ok := InterpolateAt(series, ts)
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s at %s", faults.ErrNotFound, symbol, ts.Format(time.RFC3339))
	}
	return price, nil
}

// Series returns price points covering [from, to], fetching from the
// upstream and persisting whenever the stored series is too sparse.
func (o *Oracle) Series(ctx context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error) {
	symbol = strings.ToUpper(symbol)
	id, ok := providerIDs[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %s", faults.ErrNotFound, symbol)
	}

	stored, err := o.store.GetPriceSeries(ctx, symbol, from, to)
	if err == nil && seriesCovers(stored, from, to) {
		return stored, nil
	}

	var resp struct {
		Prices [][2]float64 `json:"prices"`
	}
	path := fmt.Sprintf("/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		url.PathEscape(id), from.Unix(), to.Unix())
	if err := o.upstream.getJSON(ctx, path, &resp); err != nil {
		if len(stored) > 0 {
			log.Warn().Err(err).Str("asset", symbol).Msg("price fetch failed, serving stale series")
			return stored, nil
		}
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		points = append(points, models.PricePoint{
			Asset:     symbol,
			Timestamp: time.UnixMilli(int64(p[0])).UTC(),
			PriceUSD:  p[1],
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	if err := o.store.UpsertPricePoints(ctx, points); err != nil {
		log.Warn().Err(err).Str("asset", symbol).Msg("failed to persist price series")
	}
	return points, nil
}

// InterpolateAt linearly interpolates the series at ts. Outside the
// series range it clamps to the nearest endpoint.
func InterpolateAt(series []models.PricePoint, ts time.Time) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	if !ts.After(series[0].Timestamp) {
		return series[0].PriceUSD, true
	}
	last := series[len(series)-1]
	if !ts.Before(last.Timestamp) {
		return last.PriceUSD, true
	}

	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(ts)
	})
	hi := series[idx]
	lo := series[idx-1]
	if hi.Timestamp.Equal(ts) {
		return hi.PriceUSD, true
	}

	span := hi.Timestamp.Sub(lo.Timestamp).Seconds()
	if span <= 0 {
		return lo.PriceUSD, true
	}
	frac := ts.Sub(lo.Timestamp).Seconds() / span
	return lo.PriceUSD + (hi.PriceUSD-lo.PriceUSD)*frac, true
}

// seriesCovers reports whether stored points span the window densely
// enough (endpoints within an hour of each bound).
func seriesCovers(series []models.PricePoint, from, to time.Time) bool {
	if len(series) < 2 {
		return false
	}
	return series[0].Timestamp.Sub(from) < time.Hour &&
		to.Sub(series[len(series)-1].Timestamp) < time.Hour
}
