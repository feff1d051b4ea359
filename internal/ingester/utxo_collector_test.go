package ingester

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"whalescope/internal/config"
	"whalescope/internal/models"
	"whalescope/internal/sources"
)

const utxoWhaleAddr = "bc1qwhale000000000000000000000000000000000"

type utxoClientStub struct {
	pages map[string][]sources.EsploraTx // keyed by afterTxID
}

func (s *utxoClientStub) AddressTxs(ctx context.Context, address, afterTxID string) ([]sources.EsploraTx, error) {
	return s.pages[afterTxID], nil
}

func utxoTx(txID string, height uint64, blockTime int64, inputs, outputs map[string]int64) sources.EsploraTx {
	tx := sources.EsploraTx{
		TxID: txID,
		Status: sources.EsploraStatus{
			Confirmed:   true,
			BlockHeight: height,
			BlockTime:   blockTime,
		},
	}
	for addr, sats := range inputs {
		tx.Vin = append(tx.Vin, sources.EsploraVin{
			Prevout: sources.EsploraTxOut{ScriptPubKeyAddress: addr, Value: sats},
		})
	}
	for addr, sats := range outputs {
		tx.Vout = append(tx.Vout, sources.EsploraTxOut{ScriptPubKeyAddress: addr, Value: sats})
	}
	return tx
}

func TestUTXOCollectStopsAtCheckpoint(t *testing.T) {
	t.Parallel()

	exchange := strings.ToLower(binanceAddr.Hex())
	client := &utxoClientStub{pages: map[string][]sources.EsploraTx{
		"": {
			// Newest first, as Esplora returns them. 0.6 BTC to the
			// exchange with 0.395 change back.
			utxoTx("tx3", 903, 1_700_000_300,
				map[string]int64{utxoWhaleAddr: 100_000_000},
				map[string]int64{exchange: 60_000_000, utxoWhaleAddr: 39_500_000}),
			// Incoming 0.2 BTC from an unlabeled wallet.
			utxoTx("tx2", 902, 1_700_000_200,
				map[string]int64{"bc1qsomeone": 20_000_000},
				map[string]int64{utxoWhaleAddr: 20_000_000}),
			// Already ingested last tick.
			utxoTx("tx1", 901, 1_700_000_100,
				map[string]int64{"bc1qsomeone": 10_000_000},
				map[string]int64{utxoWhaleAddr: 10_000_000}),
		},
	}}

	c := NewUTXOCollector(client, &spotStub{prices: map[string]float64{"BTC": 100_000}},
		testCatalogForEVM(t), config.EventThresholds{ExchangeFlow: 50_000, LargeTransfer: 1_000_000}, 2)

	whale := &models.Whale{ID: "w1", Address: utxoWhaleAddr, ChainSlug: models.ChainUTXO}
	batch, err := c.Collect(context.Background(), whale, models.IngestionCheckpoint{
		LastTxID: "tx1", LastBlockHeight: 901,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(batch.Items) != 2 {
		t.Fatalf("items=%d want 2", len(batch.Items))
	}

	// Oldest first after sorting.
	in := batch.Items[0]
	if in.Trade.Direction != models.DirBuy || in.Trade.Source != models.SourceOnchain {
		t.Fatalf("incoming misclassified: %+v", in.Trade)
	}
	if *in.Trade.AmountBase != 0.2 {
		t.Fatalf("amount=%v", *in.Trade.AmountBase)
	}
	if in.Event != nil {
		t.Fatal("20k transfer produced an event")
	}

	dep := batch.Items[1]
	if dep.Trade.Direction != models.DirDeposit || dep.Trade.Source != models.SourceExchangeFlow {
		t.Fatalf("deposit misclassified: %+v", dep.Trade)
	}
	if dep.Trade.Platform != "binance" {
		t.Fatalf("platform=%q", dep.Trade.Platform)
	}
	// Net outflow is 1.0 - 0.395 = 0.605 BTC = $60.5k, over threshold.
	if *dep.Trade.AmountBase != 0.605 {
		t.Fatalf("amount=%v", *dep.Trade.AmountBase)
	}
	if dep.Event == nil || dep.Event.Type != models.EventExchangeFlow {
		t.Fatalf("expected exchange_flow event, got %+v", dep.Event)
	}

	if batch.Checkpoint.LastTxID != "tx3" || batch.Checkpoint.LastBlockHeight != 903 {
		t.Fatalf("checkpoint=%+v", batch.Checkpoint)
	}
}

// A burst of activity larger than the page window must be walked in
// full before the checkpoint advances; otherwise the unfetched tail is
// skipped forever on the next tick.
func TestUTXOCollectWalksAllPages(t *testing.T) {
	t.Parallel()

	const total = 150
	newestFirst := make([]sources.EsploraTx, 0, total)
	for i := total; i >= 1; i-- {
		newestFirst = append(newestFirst, utxoTx(fmt.Sprintf("tx%03d", i), uint64(1000+i), int64(1_700_000_000+i*60),
			map[string]int64{"bc1qsomeone": 1_000_000},
			map[string]int64{utxoWhaleAddr: 1_000_000}))
	}

	// 25 txs per page, chained by the last tx id of the previous page.
	pages := map[string][]sources.EsploraTx{}
	after := ""
	for start := 0; start < total; start += 25 {
		page := newestFirst[start : start+25]
		pages[after] = page
		after = page[len(page)-1].TxID
	}

	client := &utxoClientStub{pages: pages}
	c := NewUTXOCollector(client, &spotStub{prices: map[string]float64{"BTC": 100_000}},
		testCatalogForEVM(t), config.EventThresholds{LargeTransfer: 10_000_000}, 2)
	whale := &models.Whale{ID: "w1", Address: utxoWhaleAddr, ChainSlug: models.ChainUTXO}

	batch, err := c.Collect(context.Background(), whale, models.IngestionCheckpoint{})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != total {
		t.Fatalf("items=%d want %d", len(batch.Items), total)
	}
	if got := *batch.Items[0].Trade.TxHash; got != "tx001" {
		t.Fatalf("oldest item=%q", got)
	}
	if got := *batch.Items[total-1].Trade.TxHash; got != "tx150" {
		t.Fatalf("newest item=%q", got)
	}
	if batch.Checkpoint.LastTxID != "tx150" || batch.Checkpoint.LastBlockHeight != 1150 {
		t.Fatalf("checkpoint=%+v", batch.Checkpoint)
	}

	// Nothing new on the next tick.
	next, err := c.Collect(context.Background(), whale, batch.Checkpoint)
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 0 {
		t.Fatalf("second tick re-ingested %d items", len(next.Items))
	}
}

func TestUTXOCollectNothingNew(t *testing.T) {
	t.Parallel()

	client := &utxoClientStub{pages: map[string][]sources.EsploraTx{
		"": {utxoTx("tx1", 901, 1_700_000_100,
			map[string]int64{"bc1qsomeone": 10_000_000},
			map[string]int64{utxoWhaleAddr: 10_000_000})},
	}}
	c := NewUTXOCollector(client, &spotStub{}, testCatalogForEVM(t), config.EventThresholds{}, 2)

	whale := &models.Whale{ID: "w1", Address: utxoWhaleAddr}
	batch, err := c.Collect(context.Background(), whale, models.IngestionCheckpoint{LastTxID: "tx1", LastBlockHeight: 901})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != 0 || batch.Checkpoint.WhaleID != "" {
		t.Fatalf("expected empty batch, got %+v", batch)
	}
}

func TestUTXOCollectSkipsUnconfirmed(t *testing.T) {
	t.Parallel()

	mempoolTx := utxoTx("tx9", 0, 0,
		map[string]int64{"bc1qsomeone": 10_000_000},
		map[string]int64{utxoWhaleAddr: 10_000_000})
	mempoolTx.Status.Confirmed = false

	client := &utxoClientStub{pages: map[string][]sources.EsploraTx{"": {mempoolTx}}}
	c := NewUTXOCollector(client, &spotStub{}, testCatalogForEVM(t), config.EventThresholds{}, 2)

	batch, err := c.Collect(context.Background(), &models.Whale{ID: "w1", Address: utxoWhaleAddr}, models.IngestionCheckpoint{})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != 0 {
		t.Fatalf("unconfirmed tx ingested: %+v", batch.Items)
	}
}
