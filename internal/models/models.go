package models

import (
	"encoding/json"
	"time"
)

// Chain slugs are a static enumeration seeded by migrate.
const (
	ChainEVM  = "evm"
	ChainUTXO = "utxo"
	ChainPerp = "perp"
)

// Whale classification.
const (
	WhaleTypeUnclassified = ""
	WhaleTypeHolder       = "holder"
	WhaleTypeTrader       = "trader"
	WhaleTypeHolderTrader = "holder_trader"
)

// Trade sources.
const (
	SourceOnchain      = "onchain"
	SourcePerp         = "perp"
	SourceExchangeFlow = "exchange_flow"
)

// Trade directions.
const (
	DirBuy        = "buy"
	DirSell       = "sell"
	DirDeposit    = "deposit"
	DirWithdraw   = "withdraw"
	DirLong       = "long"
	DirShort      = "short"
	DirCloseLong  = "close_long"
	DirCloseShort = "close_short"
)

// Event types.
const (
	EventLargeSwap     = "large_swap"
	EventLargeTransfer = "large_transfer"
	EventExchangeFlow  = "exchange_flow"
	EventPerpTrade     = "perp_trade"
)

type Chain struct {
	ID   int    `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type Whale struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	ChainID      int        `json:"chain_id"`
	ChainSlug    string     `json:"chain"`
	Type         string     `json:"type"`
	Labels       []string   `json:"labels"`
	ExplorerURL  string     `json:"external_explorer_url,omitempty"`
	FirstSeenAt  *time.Time `json:"first_seen_at,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasLabel reports whether the whale carries the given label.
func (w *Whale) HasLabel(label string) bool {
	for _, l := range w.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Trade is an append-only normalized action attributable to a whale.
// AmountBase is signed for perp fills: closes carry negative size.
type Trade struct {
	ID          int64      `json:"id"`
	WhaleID     string     `json:"whale_id"`
	Timestamp   time.Time  `json:"timestamp"`
	ChainID     int        `json:"chain_id"`
	Source      string     `json:"source"`
	Platform    string     `json:"platform,omitempty"`
	Direction   string     `json:"direction"`
	BaseAsset   string     `json:"base_asset"`
	QuoteAsset  *string    `json:"quote_asset,omitempty"`
	AmountBase  *float64   `json:"amount_base,omitempty"`
	AmountQuote *float64   `json:"amount_quote,omitempty"`
	ValueUSD    *float64   `json:"value_usd,omitempty"`
	PnLUSD      *float64   `json:"pnl_usd,omitempty"`
	PnLPercent  *float64   `json:"pnl_percent,omitempty"`
	OpenPrice   *float64   `json:"open_price,omitempty"`
	ClosePrice  *float64   `json:"close_price,omitempty"`
	TxHash      *string    `json:"tx_hash,omitempty"`
	ExternalURL string     `json:"external_url,omitempty"`
	// CatalogVersion records which address catalog tagged the
	// counterparty, so mis-tagged history can be re-tagged later.
	CatalogVersion string    `json:"catalog_version,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsEntry reports whether the direction opens or adds exposure.
func IsEntry(direction string) bool {
	switch direction {
	case DirBuy, DirLong, DirShort, DirDeposit:
		return true
	}
	return false
}

// IsExit reports whether the direction reduces or closes exposure.
func IsExit(direction string) bool {
	switch direction {
	case DirSell, DirCloseLong, DirCloseShort, DirWithdraw:
		return true
	}
	return false
}

type Event struct {
	ID        int64           `json:"id"`
	WhaleID   string          `json:"whale_id"`
	Timestamp time.Time       `json:"timestamp"`
	ChainID   int             `json:"chain_id"`
	Type      string          `json:"type"`
	Summary   string          `json:"summary"`
	ValueUSD  *float64        `json:"value_usd,omitempty"`
	TxHash    *string         `json:"tx_hash,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Holding is the current snapshot per (whale, asset, chain). Replaced
// wholesale on refresh; history lives in WalletMetricsDaily.
type Holding struct {
	ID               int64     `json:"id"`
	WhaleID          string    `json:"whale_id"`
	AssetSymbol      string    `json:"asset_symbol"`
	AssetName        string    `json:"asset_name,omitempty"`
	ChainID          int       `json:"chain_id"`
	Amount           *float64  `json:"amount,omitempty"`
	ValueUSD         *float64  `json:"value_usd,omitempty"`
	PortfolioPercent *float64  `json:"portfolio_percent,omitempty"`
	CostBasisUSD     *float64  `json:"cost_basis_usd,omitempty"`
	AvgUnitCostUSD   *float64  `json:"avg_unit_cost_usd,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type WalletMetricsDaily struct {
	WhaleID           string    `json:"whale_id"`
	Date              time.Time `json:"date"`
	PortfolioValueUSD float64   `json:"portfolio_value_usd"`
	ROIPercent        float64   `json:"roi_percent"`
	RealizedPnLUSD    float64   `json:"realized_pnl_usd"`
	UnrealizedPnLUSD  float64   `json:"unrealized_pnl_usd"`
	Volume1dUSD       float64   `json:"volume_1d_usd"`
	Trades1d          int       `json:"trades_1d"`
	WinRatePercent    *float64  `json:"win_rate_percent,omitempty"`
}

type CurrentWalletMetrics struct {
	WhaleID           string    `json:"whale_id"`
	PortfolioValueUSD float64   `json:"portfolio_value_usd"`
	ROIPercent        float64   `json:"roi_percent"`
	RealizedPnLUSD    float64   `json:"realized_pnl_usd"`
	UnrealizedPnLUSD  float64   `json:"unrealized_pnl_usd"`
	Volume30dUSD      float64   `json:"volume_30d_usd"`
	Trades30d         int       `json:"trades_30d"`
	WinRatePercent    *float64  `json:"win_rate_percent,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IngestionCheckpoint marks how far a (whale, source) pair has been
// ingested. Exactly one of the cursor fields is meaningful per source:
// LastBlockHeight for EVM, LastTxID for UTXO, LastFillTime for perp.
type IngestionCheckpoint struct {
	WhaleID          string     `json:"whale_id"`
	Source           string     `json:"source"`
	LastBlockHeight  uint64     `json:"last_block_height"`
	LastTxID         string     `json:"last_tx_id,omitempty"`
	LastFillTime     int64      `json:"last_fill_time"` // ms epoch
	LastPositionTime *time.Time `json:"last_position_time,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Backfill job states.
const (
	BackfillIdle    = "idle"
	BackfillRunning = "running"
	BackfillDone    = "done"
	BackfillError   = "error"
)

type BackfillStatus struct {
	WhaleID   string    `json:"whale_id"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BacktestRun struct {
	ID                int64     `json:"id"`
	WhaleID           string    `json:"whale_id"`
	CreatedAt         time.Time `json:"created_at"`
	InitialDepositUSD float64   `json:"initial_deposit_usd"`
	PositionSizePct   float64   `json:"position_size_pct"`
	FeeBps            float64   `json:"fee_bps"`
	SlippageBps       float64   `json:"slippage_bps"`
	Leverage          float64   `json:"leverage"`
	AssetSymbols      []string  `json:"asset_symbols,omitempty"`
	TradesCopied      int       `json:"trades_copied"`
	WinRatePercent    *float64  `json:"win_rate_percent,omitempty"`
	MaxDrawdownPct    float64   `json:"max_drawdown_percent"`
	MaxDrawdownUSD    float64   `json:"max_drawdown_usd"`
	NetPnLUSD         float64   `json:"net_pnl_usd"`
	ROIPercent        float64   `json:"roi_percent"`
}

// CopierSession is one live shadow-copying session. Notifications and
// Errors are bounded ring buffers.
type CopierSession struct {
	ID              string     `json:"id"`
	WhaleID         string     `json:"whale_id"`
	RunID           *int64     `json:"run_id,omitempty"`
	Active          bool       `json:"active"`
	PositionPct     float64    `json:"position_pct"`
	FeeBps          float64    `json:"fee_bps"`
	SlippageBps     float64    `json:"slippage_bps"`
	Leverage        float64    `json:"leverage"`
	InitialUSD      float64    `json:"initial_deposit_usd"`
	EquityUSD       float64    `json:"equity_usd"`
	NetPnLUSD       float64    `json:"net_pnl_usd"`
	ProcessedTrades int        `json:"processed_trades"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
	Notifications   []string   `json:"notifications"`
	Errors          []string   `json:"errors"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PricePoint is one row of the persisted price_history series.
type PricePoint struct {
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"timestamp"`
	PriceUSD  float64   `json:"price_usd"`
}

// LiveEvent is the frame delivered to websocket subscribers.
type LiveEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Chain     string          `json:"chain"`
	Type      string          `json:"type"`
	Wallet    LiveEventWallet `json:"wallet"`
	Summary   string          `json:"summary"`
	ValueUSD  float64         `json:"value_usd"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type LiveEventWallet struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Label   string `json:"label,omitempty"`
}
