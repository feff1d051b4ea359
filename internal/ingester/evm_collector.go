package ingester

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"whalescope/internal/config"
	"whalescope/internal/models"
	"whalescope/internal/repository"
	"whalescope/internal/sources"
	"whalescope/internal/telemetry"
)

// Pricer is the slice of the market oracle collectors need.
type Pricer interface {
	Spot(ctx context.Context, symbol string) (float64, error)
}

// ERC-20 Transfer(address,address,uint256).
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

type erc20Token struct {
	symbol   string
	decimals int
}

// Tracked mainnet tokens. Transfers of anything else are ignored rather
// than priced blind.
var erc20Registry = map[common.Address]erc20Token{
	common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"): {"WETH", 18},
	common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"): {"USDC", 6},
	common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"): {"USDT", 6},
	common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"): {"WBTC", 8},
	common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"): {"DAI", 18},
	common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"): {"LINK", 18},
	common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"): {"UNI", 18},
	common.HexToAddress("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"): {"AAVE", 18},
	common.HexToAddress("0x6982508145454Ce325dDbE47a25d4ec3d2311933"): {"PEPE", 18},
}

const (
	evmInitialLookback = 5000 // blocks scanned for a fresh whale
	evmMaxSpan         = 2000 // blocks per tick
)

// EVMCollector scans ERC-20 Transfer logs touching a whale's address and
// classifies them against the exchange, bridge, and router catalog.
type EVMCollector struct {
	client     sources.EVMClient
	oracle     Pricer
	catalog    *config.AddressCatalog
	thresholds config.EventThresholds
	chainID    int
}

func NewEVMCollector(client sources.EVMClient, oracle Pricer, catalog *config.AddressCatalog, thresholds config.EventThresholds, chainID int) *EVMCollector {
	return &EVMCollector{client: client, oracle: oracle, catalog: catalog, thresholds: thresholds, chainID: chainID}
}

func (c *EVMCollector) Source() string { return models.SourceOnchain }
func (c *EVMCollector) Chain() string  { return models.ChainEVM }

func (c *EVMCollector) Collect(ctx context.Context, whale *models.Whale, cp models.IngestionCheckpoint) (repository.TradeBatch, error) {
	batch := repository.TradeBatch{WhaleID: whale.ID, Source: c.Source()}

	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return batch, err
	}

	from := cp.LastBlockHeight + 1
	if cp.LastBlockHeight == 0 {
		if head > evmInitialLookback {
			from = head - evmInitialLookback
		} else {
			from = 1
		}
	}
	if from > head {
		return batch, nil
	}
	to := head
	if to-from > evmMaxSpan {
		to = from + evmMaxSpan
	}

	addr := common.HexToAddress(whale.Address)
	addrTopic := common.BytesToHash(addr.Bytes())
	tokens := make([]common.Address, 0, len(erc20Registry))
	for a := range erc20Registry {
		tokens = append(tokens, a)
	}

	// Two passes: whale as sender, whale as recipient.
	queries := []ethereum.FilterQuery{
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: tokens,
			Topics:    [][]common.Hash{{transferTopic}, {addrTopic}},
		},
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: tokens,
			Topics:    [][]common.Hash{{transferTopic}, nil, {addrTopic}},
		},
	}

	blockTimes := map[uint64]time.Time{}
	for i, q := range queries {
		logs, err := c.client.FilterLogs(ctx, q)
		if err != nil {
			return batch, err
		}
		outgoing := i == 0
		for _, lg := range logs {
			item, err := c.normalizeLog(ctx, whale, lg, outgoing, blockTimes)
			if err != nil {
				telemetry.DecodeErrors.WithLabelValues(c.Source()).Inc()
				log.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("skipping undecodable transfer log")
				continue
			}
			if item != nil {
				batch.Items = append(batch.Items, *item)
			}
		}
	}

	batch.Items = sortBatchItems(batch.Items)
	batch.Checkpoint = models.IngestionCheckpoint{
		WhaleID:         whale.ID,
		Source:          c.Source(),
		LastBlockHeight: to,
	}
	return batch, nil
}

func (c *EVMCollector) normalizeLog(ctx context.Context, whale *models.Whale, lg types.Log, outgoing bool, blockTimes map[uint64]time.Time) (*repository.BatchItem, error) {
	token, ok := erc20Registry[lg.Address]
	if !ok || len(lg.Topics) < 3 || len(lg.Data) < 32 {
		return nil, fmt.Errorf("unexpected transfer log shape")
	}

	amount := new(big.Float).SetInt(new(big.Int).SetBytes(lg.Data[:32]))
	scale := new(big.Float).SetFloat64(math.Pow10(token.decimals))
	amountF, _ := new(big.Float).Quo(amount, scale).Float64()
	if amountF == 0 {
		return nil, nil
	}

	ts, ok := blockTimes[lg.BlockNumber]
	if !ok {
		header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
		if err != nil {
			return nil, err
		}
		ts = time.Unix(int64(header.Time), 0).UTC()
		blockTimes[lg.BlockNumber] = ts
	}

	var counterparty common.Address
	if outgoing {
		counterparty = common.BytesToAddress(lg.Topics[2].Bytes())
	} else {
		counterparty = common.BytesToAddress(lg.Topics[1].Bytes())
	}

	var valueUSD *float64
	if price, err := c.oracle.Spot(ctx, token.symbol); err == nil {
		v := amountF * price
		valueUSD = &v
	}

	source := models.SourceOnchain
	direction := models.DirBuy
	if outgoing {
		direction = models.DirSell
	}
	platform := ""
	eventType := models.EventLargeTransfer
	catalogVersion := ""

	if kind, label, ok := c.catalog.Classify(strings.ToLower(counterparty.Hex())); ok {
		catalogVersion = c.catalog.Version
		switch kind {
		case config.KindExchange:
			source = models.SourceExchangeFlow
			eventType = models.EventExchangeFlow
			platform = label
			if outgoing {
				direction = models.DirDeposit
			} else {
				direction = models.DirWithdraw
			}
		case config.KindRouter:
			platform = label
			eventType = models.EventLargeSwap
		case config.KindBridge:
			platform = label
		}
	}

	txKey := fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index)
	extURL := "https://etherscan.io/tx/" + lg.TxHash.Hex()
	quote := "USD"

	trade := models.Trade{
		WhaleID:        whale.ID,
		Timestamp:      ts,
		ChainID:        c.chainID,
		Source:         source,
		Platform:       platform,
		Direction:      direction,
		BaseAsset:      token.symbol,
		QuoteAsset:     &quote,
		AmountBase:     &amountF,
		ValueUSD:       valueUSD,
		TxHash:         &txKey,
		ExternalURL:    extURL,
		CatalogVersion: catalogVersion,
	}

	item := repository.BatchItem{Trade: trade}
	if valueUSD != nil && *valueUSD >= c.thresholds.ForType(eventType) {
		txh := lg.TxHash.Hex()
		item.Event = &models.Event{
			WhaleID:   whale.ID,
			Timestamp: ts,
			ChainID:   c.chainID,
			Type:      eventType,
			Summary:   eventSummary(direction, amountF, token.symbol, *valueUSD, platform),
			ValueUSD:  valueUSD,
			TxHash:    &txh,
		}
	}
	return &item, nil
}
