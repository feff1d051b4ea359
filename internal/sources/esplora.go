package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"whalescope/internal/faults"
)

// EsploraTx mirrors the Esplora /address/{addr}/txs response shape,
// trimmed to the fields the UTXO collector reads.
type EsploraTx struct {
	TxID   string         `json:"txid"`
	Status EsploraStatus  `json:"status"`
	Vin    []EsploraVin   `json:"vin"`
	Vout   []EsploraTxOut `json:"vout"`
}

type EsploraStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

type EsploraVin struct {
	Prevout EsploraTxOut `json:"prevout"`
}

type EsploraTxOut struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// UTXOClient pages through an address's confirmed transaction history.
type UTXOClient interface {
	AddressTxs(ctx context.Context, address, afterTxID string) ([]EsploraTx, error)
}

// EsploraClient is the HTTP implementation of UTXOClient.
type EsploraClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewEsploraClient(baseURL string, timeout time.Duration) *EsploraClient {
	return &EsploraClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 4),
	}
}

// AddressTxs returns up to 25 confirmed transactions for an address,
// newest first. A non-empty afterTxID pages past that transaction.
func (c *EsploraClient) AddressTxs(ctx context.Context, address, afterTxID string) ([]EsploraTx, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	path := c.baseURL + "/address/" + url.PathEscape(address) + "/txs"
	if afterTxID != "" {
		path += "/chain/" + url.PathEscape(afterTxID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: esplora: %v", faults.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, faults.ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: esplora status %d", faults.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("esplora status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: esplora: %v", faults.ErrUpstreamUnavailable, err)
	}
	var txs []EsploraTx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("%w: esplora: %v", faults.ErrDecode, err)
	}
	return txs, nil
}
