package ports

import (
	"context"
	"errors"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

var (
	ErrWalletLocked         = errors.New("wallet is locked")
	ErrWalletNotInitialized = errors.New("wallet not initialized")
)

// Signer holds the contract signing key. The key never leaves the signer,
// callers only get signatures.
type Signer interface {
	GetPubkey(ctx context.Context) (*btcec.PublicKey, error)
	// GetAddress returns the taproot address owning the funding utxos.
	GetAddress(ctx context.Context) (string, error)
	Sign(ctx context.Context, msgHash []byte) (*schnorr.Signature, error)
	AdaptorSign(
		ctx context.Context, msgHash []byte, encryptionPoint *btcec.PublicKey,
	) (*adaptor.Signature, error)
	// SignFundingInputs signs the key path of every input locked by the
	// signer address and returns the indexes of the signed inputs.
	SignFundingInputs(ctx context.Context, ptx *psbt.Packet) ([]int, error)
}

type WalletService interface {
	Signer
	Create(ctx context.Context, password string) error
	Unlock(ctx context.Context, password string) error
	Lock(ctx context.Context) error
	Status(ctx context.Context) (WalletStatus, error)
	Close()
}

type WalletStatus interface {
	IsInitialized() bool
	IsUnlocked() bool
}
