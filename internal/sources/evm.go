package sources

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"whalescope/internal/faults"
)

// EVMClient is the slice of an Ethereum JSON-RPC client the collector
// needs. ethclient.Client satisfies it; tests substitute a fake.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// DialEVM connects to an EVM JSON-RPC endpoint.
func DialEVM(ctx context.Context, rawurl string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("%w: evm dial: %v", faults.ErrUpstreamUnavailable, err)
	}
	return client, nil
}
