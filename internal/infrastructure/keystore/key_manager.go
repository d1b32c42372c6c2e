package keystore

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

type keyManager struct {
	// m/86'/(cointype)'/0'/0/0, owner of the funding utxos.
	walletPrvKey *btcec.PrivateKey
	// m/86'/(cointype)'/1'/0/0, used in the funding output script and to
	// sign CETs and refund txs.
	contractPrvKey *btcec.PrivateKey
}

// newKeyManager takes the seed and derives the BIP86 keys of the wallet.
func newKeyManager(seed []byte, network *chaincfg.Params) (*keyManager, error) {
	masterKey, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, err
	}

	// m/86'
	taprootPurposeKey, err := masterKey.Derive(hdkeychain.HardenedKeyStart + 86)
	if err != nil {
		return nil, err
	}

	cointypeIndex := uint32(0)
	if network.Name != chaincfg.MainNetParams.Name {
		cointypeIndex = 1
	}
	// m/86'/0' for mainnet, m/86'/1' for testnet/signet/regtest
	coinTypeKey, err := taprootPurposeKey.Derive(hdkeychain.HardenedKeyStart + cointypeIndex)
	if err != nil {
		return nil, err
	}

	walletPrvKey, err := deriveFirstKey(coinTypeKey, 0)
	if err != nil {
		return nil, err
	}
	contractPrvKey, err := deriveFirstKey(coinTypeKey, 1)
	if err != nil {
		return nil, err
	}

	return &keyManager{walletPrvKey, contractPrvKey}, nil
}

// deriveFirstKey returns the private key at <account>'/0/0.
func deriveFirstKey(coinTypeKey *hdkeychain.ExtendedKey, account uint32) (*btcec.PrivateKey, error) {
	key, err := coinTypeKey.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, err
	}
	for _, i := range []uint32{0, 0} {
		if key, err = key.Derive(i); err != nil {
			return nil, err
		}
	}
	return key.ECPrivKey()
}
