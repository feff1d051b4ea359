package ingester

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"whalescope/internal/config"
	"whalescope/internal/models"
)

var (
	wethAddr    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	whaleAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	binanceAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	randomAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type evmClientStub struct {
	head uint64
	logs [][]types.Log // one slice per FilterLogs call
	call int
}

func (s *evmClientStub) BlockNumber(ctx context.Context) (uint64, error) {
	return s.head, nil
}

func (s *evmClientStub) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if s.call >= len(s.logs) {
		return nil, nil
	}
	logs := s.logs[s.call]
	s.call++
	return logs, nil
}

func (s *evmClientStub) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Time: 1_750_000_000}, nil
}

type spotStub struct {
	prices map[string]float64
}

func (s *spotStub) Spot(ctx context.Context, symbol string) (float64, error) {
	return s.prices[symbol], nil
}

func testCatalogForEVM(t *testing.T) *config.AddressCatalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exchanges.yaml")
	yaml := "version: \"2025-06\"\nexchanges:\n  binance:\n    - \"" +
		strings.ToLower(binanceAddr.Hex()) + "\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := config.LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func transferLog(token, from, to common.Address, amountWei *big.Int, block uint64, tx string, index uint) types.Log {
	data := make([]byte, 32)
	amountWei.FillBytes(data)
	return types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Index:       index,
	}
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestEVMCollectClassifiesExchangeFlow(t *testing.T) {
	t.Parallel()

	client := &evmClientStub{
		head: 10_000,
		logs: [][]types.Log{
			// Outgoing pass: whale sends 200 WETH to a known exchange.
			{transferLog(wethAddr, whaleAddr, binanceAddr, eth(200), 9_500, "0xaaa", 0)},
			// Incoming pass: whale receives 5 WETH from a fresh wallet.
			{transferLog(wethAddr, randomAddr, whaleAddr, eth(5), 9_600, "0xbbb", 1)},
		},
	}
	c := NewEVMCollector(client, &spotStub{prices: map[string]float64{"WETH": 3_000}},
		testCatalogForEVM(t), config.EventThresholds{ExchangeFlow: 500_000, LargeTransfer: 1_000_000}, 1)

	whale := &models.Whale{ID: "w1", Address: whaleAddr.Hex(), ChainSlug: models.ChainEVM}
	batch, err := c.Collect(context.Background(), whale, models.IngestionCheckpoint{LastBlockHeight: 9_000})
	if err != nil {
		t.Fatal(err)
	}

	if len(batch.Items) != 2 {
		t.Fatalf("items=%d want 2", len(batch.Items))
	}

	deposit := batch.Items[0]
	if deposit.Trade.Source != models.SourceExchangeFlow {
		t.Fatalf("source=%q", deposit.Trade.Source)
	}
	if deposit.Trade.Direction != models.DirDeposit {
		t.Fatalf("direction=%q", deposit.Trade.Direction)
	}
	if deposit.Trade.Platform != "binance" {
		t.Fatalf("platform=%q", deposit.Trade.Platform)
	}
	if deposit.Trade.CatalogVersion == "" {
		t.Fatal("catalog version not stamped on classified flow")
	}
	// 200 WETH at 3000 = 600k, above the exchange-flow threshold.
	if deposit.Event == nil || deposit.Event.Type != models.EventExchangeFlow {
		t.Fatalf("expected exchange_flow event, got %+v", deposit.Event)
	}

	plain := batch.Items[1]
	if plain.Trade.Source != models.SourceOnchain || plain.Trade.Direction != models.DirBuy {
		t.Fatalf("plain transfer misclassified: %+v", plain.Trade)
	}
	if plain.Trade.CatalogVersion != "" {
		t.Fatal("catalog version stamped on unclassified transfer")
	}
	if plain.Event != nil {
		t.Fatal("15k transfer produced an event")
	}

	if batch.Checkpoint.LastBlockHeight != 10_000 {
		t.Fatalf("checkpoint=%d want head", batch.Checkpoint.LastBlockHeight)
	}
}

func TestEVMCollectClampsSpan(t *testing.T) {
	t.Parallel()

	client := &evmClientStub{head: 100_000}
	c := NewEVMCollector(client, &spotStub{}, testCatalogForEVM(t), config.EventThresholds{}, 1)

	whale := &models.Whale{ID: "w1", Address: whaleAddr.Hex()}
	batch, err := c.Collect(context.Background(), whale, models.IngestionCheckpoint{LastBlockHeight: 50_000})
	if err != nil {
		t.Fatal(err)
	}
	if got := batch.Checkpoint.LastBlockHeight; got != 50_001+evmMaxSpan {
		t.Fatalf("checkpoint=%d want %d", got, 50_001+evmMaxSpan)
	}
}

func TestEVMCollectNothingNew(t *testing.T) {
	t.Parallel()

	client := &evmClientStub{head: 500}
	c := NewEVMCollector(client, &spotStub{}, testCatalogForEVM(t), config.EventThresholds{}, 1)

	whale := &models.Whale{ID: "w1", Address: whaleAddr.Hex()}
	batch, err := c.Collect(context.Background(), whale, models.IngestionCheckpoint{LastBlockHeight: 500})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != 0 || batch.Checkpoint.WhaleID != "" {
		t.Fatalf("expected empty batch, got %+v", batch)
	}
}
