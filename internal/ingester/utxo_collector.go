package ingester

import (
	"context"
	"strings"
	"time"

	"whalescope/internal/config"
	"whalescope/internal/models"
	"whalescope/internal/repository"
	"whalescope/internal/sources"
)

const satoshisPerBTC = 1e8

// UTXOCollector walks an address's confirmed transactions via an
// Esplora-compatible API, newest first, stopping at the checkpointed
// tx id.
type UTXOCollector struct {
	client     sources.UTXOClient
	oracle     Pricer
	catalog    *config.AddressCatalog
	thresholds config.EventThresholds
	chainID    int
}

func NewUTXOCollector(client sources.UTXOClient, oracle Pricer, catalog *config.AddressCatalog, thresholds config.EventThresholds, chainID int) *UTXOCollector {
	return &UTXOCollector{client: client, oracle: oracle, catalog: catalog, thresholds: thresholds, chainID: chainID}
}

func (c *UTXOCollector) Source() string { return models.SourceOnchain }
func (c *UTXOCollector) Chain() string  { return models.ChainUTXO }

func (c *UTXOCollector) Collect(ctx context.Context, whale *models.Whale, cp models.IngestionCheckpoint) (repository.TradeBatch, error) {
	batch := repository.TradeBatch{WhaleID: whale.ID, Source: c.Source()}

	// Page until the checkpointed tx or the end of history. Advancing
	// the checkpoint past txs we never fetched would lose them for good,
	// so the walk must reach the previous checkpoint before it stops.
	var fresh []sources.EsploraTx
	afterTxID := ""

pages:
	for {
		txs, err := c.client.AddressTxs(ctx, whale.Address, afterTxID)
		if err != nil {
			return batch, err
		}
		if len(txs) == 0 {
			break
		}
		for _, tx := range txs {
			if !tx.Status.Confirmed {
				continue
			}
			if tx.TxID == cp.LastTxID {
				break pages
			}
			// Past the checkpointed height means the checkpointed tx was
			// pruned from the page window; stop rather than re-walk history.
			if cp.LastBlockHeight > 0 && tx.Status.BlockHeight < cp.LastBlockHeight {
				break pages
			}
			fresh = append(fresh, tx)
		}
		afterTxID = txs[len(txs)-1].TxID
	}

	if len(fresh) == 0 {
		return batch, nil
	}

	price, priceErr := c.oracle.Spot(ctx, "BTC")
	newestTxID := fresh[0].TxID
	newestHeight := fresh[0].Status.BlockHeight

	for _, tx := range fresh {
		item := c.normalizeTx(whale, tx, price, priceErr == nil)
		if item != nil {
			batch.Items = append(batch.Items, *item)
		}
	}

	batch.Items = sortBatchItems(batch.Items)
	batch.Checkpoint = models.IngestionCheckpoint{
		WhaleID:         whale.ID,
		Source:          c.Source(),
		LastBlockHeight: newestHeight,
		LastTxID:        newestTxID,
	}
	return batch, nil
}

func (c *UTXOCollector) normalizeTx(whale *models.Whale, tx sources.EsploraTx, btcPrice float64, priced bool) *repository.BatchItem {
	addr := whale.Address

	var sentSats, receivedSats int64
	counterparties := map[string]bool{}
	for _, vin := range tx.Vin {
		if vin.Prevout.ScriptPubKeyAddress == addr {
			sentSats += vin.Prevout.Value
		} else if vin.Prevout.ScriptPubKeyAddress != "" {
			counterparties[vin.Prevout.ScriptPubKeyAddress] = true
		}
	}
	for _, vout := range tx.Vout {
		if vout.ScriptPubKeyAddress == addr {
			receivedSats += vout.Value
		} else if vout.ScriptPubKeyAddress != "" {
			counterparties[vout.ScriptPubKeyAddress] = true
		}
	}

	netSats := receivedSats - sentSats
	if netSats == 0 {
		return nil
	}
	amountBTC := float64(netSats) / satoshisPerBTC
	outgoing := amountBTC < 0
	if outgoing {
		amountBTC = -amountBTC
	}

	source := models.SourceOnchain
	direction := models.DirBuy
	if outgoing {
		direction = models.DirSell
	}
	platform := ""
	eventType := models.EventLargeTransfer
	catalogVersion := ""
	for cp := range counterparties {
		if kind, label, ok := c.catalog.Classify(strings.ToLower(cp)); ok && kind == config.KindExchange {
			catalogVersion = c.catalog.Version
			source = models.SourceExchangeFlow
			eventType = models.EventExchangeFlow
			platform = label
			if outgoing {
				direction = models.DirDeposit
			} else {
				direction = models.DirWithdraw
			}
			break
		}
	}

	ts := time.Unix(tx.Status.BlockTime, 0).UTC()
	txID := tx.TxID
	quote := "USD"
	var valueUSD *float64
	if priced {
		v := amountBTC * btcPrice
		valueUSD = &v
	}

	trade := models.Trade{
		WhaleID:        whale.ID,
		Timestamp:      ts,
		ChainID:        c.chainID,
		Source:         source,
		Platform:       platform,
		Direction:      direction,
		BaseAsset:      "BTC",
		QuoteAsset:     &quote,
		AmountBase:     &amountBTC,
		ValueUSD:       valueUSD,
		TxHash:         &txID,
		ExternalURL:    "https://mempool.space/tx/" + tx.TxID,
		CatalogVersion: catalogVersion,
	}

	item := repository.BatchItem{Trade: trade}
	if valueUSD != nil && *valueUSD >= c.thresholds.ForType(eventType) {
		item.Event = &models.Event{
			WhaleID:   whale.ID,
			Timestamp: ts,
			ChainID:   c.chainID,
			Type:      eventType,
			Summary:   eventSummary(direction, amountBTC, "BTC", *valueUSD, platform),
			ValueUSD:  valueUSD,
			TxHash:    &txID,
		}
	}
	return &item
}
