package keystore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

type WalletOptions struct {
	SeedRepository ports.SeedRepository
	Cypher         ports.Cypher
	Network        *chaincfg.Params
}

type walletStatus struct {
	initialized bool
	unlocked    bool
}

func (s walletStatus) IsInitialized() bool { return s.initialized }
func (s walletStatus) IsUnlocked() bool    { return s.unlocked }

type wallet struct {
	WalletOptions

	lock   sync.RWMutex
	keyMgr *keyManager
}

func New(opts WalletOptions) (ports.WalletService, error) {
	if opts.SeedRepository == nil {
		return nil, fmt.Errorf("missing seed repository")
	}
	if opts.Cypher == nil {
		return nil, fmt.Errorf("missing cypher")
	}
	if opts.Network == nil {
		return nil, fmt.Errorf("missing network")
	}
	return &wallet{WalletOptions: opts}, nil
}

// Create generates a new random seed and stores it encrypted with password.
func (w *wallet) Create(ctx context.Context, password string) error {
	if w.SeedRepository.IsInitialized(ctx) {
		return fmt.Errorf("wallet already initialized")
	}

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return err
	}
	if _, err := newKeyManager(seed, w.Network); err != nil {
		return err
	}

	encryptedSeed, err := w.Cypher.Encrypt(ctx, seed, password)
	if err != nil {
		return err
	}
	if err := w.SeedRepository.AddEncryptedSeed(ctx, encryptedSeed); err != nil {
		return err
	}

	log.Info("wallet created")
	return nil
}

func (w *wallet) Unlock(ctx context.Context, password string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.keyMgr != nil {
		return nil
	}
	if !w.SeedRepository.IsInitialized(ctx) {
		return ports.ErrWalletNotInitialized
	}

	encryptedSeed, err := w.SeedRepository.GetEncryptedSeed(ctx)
	if err != nil {
		return err
	}
	seed, err := w.Cypher.Decrypt(ctx, encryptedSeed, password)
	if err != nil {
		return err
	}

	keyMgr, err := newKeyManager(seed, w.Network)
	if err != nil {
		return err
	}
	w.keyMgr = keyMgr

	log.Info("wallet unlocked")
	return nil
}

func (w *wallet) Lock(_ context.Context) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.keyMgr == nil {
		return fmt.Errorf("wallet is already locked")
	}
	w.keyMgr = nil
	return nil
}

func (w *wallet) Status(ctx context.Context) (ports.WalletStatus, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	return walletStatus{
		initialized: w.SeedRepository.IsInitialized(ctx),
		unlocked:    w.keyMgr != nil,
	}, nil
}

func (w *wallet) GetPubkey(_ context.Context) (*btcec.PublicKey, error) {
	keyMgr, err := w.keys()
	if err != nil {
		return nil, err
	}
	return keyMgr.contractPrvKey.PubKey(), nil
}

// GetAddress returns the BIP86 key-path only taproot address of the wallet.
func (w *wallet) GetAddress(_ context.Context) (string, error) {
	keyMgr, err := w.keys()
	if err != nil {
		return "", err
	}
	addr, err := w.address(keyMgr)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (w *wallet) Sign(_ context.Context, msgHash []byte) (*schnorr.Signature, error) {
	keyMgr, err := w.keys()
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(keyMgr.contractPrvKey, msgHash)
}

func (w *wallet) AdaptorSign(
	_ context.Context, msgHash []byte, encryptionPoint *btcec.PublicKey,
) (*adaptor.Signature, error) {
	keyMgr, err := w.keys()
	if err != nil {
		return nil, err
	}
	return adaptor.Encrypt(msgHash, keyMgr.contractPrvKey, encryptionPoint)
}

// SignFundingInputs adds a key path signature to every input of the packet
// locked by the wallet address. All inputs must carry their witness utxo.
func (w *wallet) SignFundingInputs(_ context.Context, ptx *psbt.Packet) ([]int, error) {
	keyMgr, err := w.keys()
	if err != nil {
		return nil, err
	}
	addr, err := w.address(keyMgr)
	if err != nil {
		return nil, err
	}
	walletScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range ptx.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("missing witness utxo for input %d", i)
		}
		prevouts[ptx.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	prevoutFetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	sigHashes := txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher)

	signed := make([]int, 0)
	for i, in := range ptx.Inputs {
		if !bytes.Equal(in.WitnessUtxo.PkScript, walletScript) {
			continue
		}

		sig, err := txscript.RawTxInTaprootSignature(
			ptx.UnsignedTx, sigHashes, i, in.WitnessUtxo.Value,
			in.WitnessUtxo.PkScript, nil, txscript.SigHashDefault,
			keyMgr.walletPrvKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %s", i, err)
		}
		ptx.Inputs[i].TaprootKeySpendSig = sig
		signed = append(signed, i)
	}
	return signed, nil
}

func (w *wallet) Close() {
	w.lock.Lock()
	w.keyMgr = nil
	w.lock.Unlock()
	w.SeedRepository.Close()
}

func (w *wallet) keys() (*keyManager, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	if w.keyMgr == nil {
		return nil, ports.ErrWalletLocked
	}
	return w.keyMgr, nil
}

func (w *wallet) address(keyMgr *keyManager) (*btcutil.AddressTaproot, error) {
	taprootKey := txscript.ComputeTaprootKeyNoScript(keyMgr.walletPrvKey.PubKey())
	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(taprootKey), w.Network)
}
