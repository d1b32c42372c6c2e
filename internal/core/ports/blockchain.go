package ports

import (
	"context"
	"errors"
)

var ErrTransactionNotFound = errors.New("transaction not found")

type Utxo struct {
	Txid          string
	VOut          uint32
	Amount        uint64
	Script        string
	Confirmations uint32
}

// BlockchainService is the gateway to the Bitcoin network.
type BlockchainService interface {
	// Broadcast publishes the hex encoded tx and returns its txid.
	Broadcast(ctx context.Context, txHex string) (string, error)
	// GetConfirmations returns 0 for txs in mempool and ErrTransactionNotFound
	// for unknown ones.
	GetConfirmations(ctx context.Context, txid string) (uint32, error)
	FetchUtxos(ctx context.Context, address string) ([]Utxo, error)
	GetTransaction(ctx context.Context, txid string) (string, error)
	GetTipHeight(ctx context.Context) (uint32, error)
	// Notifications emits whenever a new block or tx is seen, it's closed
	// once ctx is done.
	Notifications(ctx context.Context) (<-chan struct{}, error)
	Close()
}
