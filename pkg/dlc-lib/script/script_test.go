package script_test

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const (
	exPubKey1 = "f8352deebdf5658d95875d89656112b1dd150f176c702eea4f91a91527e48e26"
	exPubKey2 = "fc68d5ea9279cc9d2c57e6885e21bbaee9c3aec85089f1d6c705c017d321ea84"
)

func TestMultisigClosure(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fixtures := []struct {
			name   string
			script string
			keys   int
		}{
			{
				name: "1 key",
				script: fmt.Sprintf("%x", txscript.OP_DATA_32) +
					exPubKey1 +
					fmt.Sprintf("%x", txscript.OP_CHECKSIG),
				keys: 1,
			},
			{
				name: "2 keys",
				script: fmt.Sprintf("%x", txscript.OP_DATA_32) +
					exPubKey1 +
					fmt.Sprintf("%x", txscript.OP_CHECKSIGVERIFY) +
					fmt.Sprintf("%x", txscript.OP_DATA_32) +
					exPubKey2 +
					fmt.Sprintf("%x", txscript.OP_CHECKSIG),
				keys: 2,
			},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				buf, err := hex.DecodeString(f.script)
				require.NoError(t, err)

				closure := &script.MultisigClosure{}
				valid, err := closure.Decode(buf)
				require.NoError(t, err)
				require.True(t, valid)
				require.Len(t, closure.PubKeys, f.keys)

				rebuilt, err := closure.Script()
				require.NoError(t, err)
				require.Equal(t, buf, rebuilt)
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name   string
			script string
		}{
			{
				name:   "no checksig",
				script: fmt.Sprintf("%x", txscript.OP_DATA_32) + exPubKey1,
			},
			{
				name: "checksigverify last",
				script: fmt.Sprintf("%x", txscript.OP_DATA_32) +
					exPubKey1 +
					fmt.Sprintf("%x", txscript.OP_CHECKSIGVERIFY),
			},
			{
				name: "checkmultisig",
				script: fmt.Sprintf("%x", txscript.OP_DATA_32) +
					exPubKey1 +
					fmt.Sprintf("%x", txscript.OP_CHECKMULTISIG),
			},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				buf, err := hex.DecodeString(f.script)
				require.NoError(t, err)

				valid, err := (&script.MultisigClosure{}).Decode(buf)
				require.NoError(t, err)
				require.False(t, valid)
			})
		}
	})
}

func TestFundingScript(t *testing.T) {
	keyA, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	keyB, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	t.Run("key order does not matter", func(t *testing.T) {
		f1, err := script.NewFundingScript(keyA.PubKey(), keyB.PubKey())
		require.NoError(t, err)
		f2, err := script.NewFundingScript(keyB.PubKey(), keyA.PubKey())
		require.NoError(t, err)

		s1, err := f1.PkScript()
		require.NoError(t, err)
		s2, err := f2.PkScript()
		require.NoError(t, err)
		require.Equal(t, s1, s2)

		addr, err := f1.Address(&chaincfg.RegressionNetParams)
		require.NoError(t, err)
		require.Contains(t, addr, "bcrt1p")
	})

	t.Run("spend with both signatures", func(t *testing.T) {
		funding, err := script.NewFundingScript(keyA.PubKey(), keyB.PubKey())
		require.NoError(t, err)
		pkScript, err := funding.PkScript()
		require.NoError(t, err)

		prevOut := wire.NewTxOut(100_000, pkScript)
		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
		tx.AddTxOut(wire.NewTxOut(99_000, pkScript))

		fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, prevOut.Value)
		sigHashes := txscript.NewTxSigHashes(tx, fetcher)
		leaf := funding.Leaf()
		sighash, err := txscript.CalcTapscriptSignaturehash(
			sigHashes, txscript.SigHashDefault, tx, 0, fetcher, leaf,
		)
		require.NoError(t, err)

		signatures := make(map[string][]byte)
		for _, key := range []*btcec.PrivateKey{keyA, keyB} {
			sig, err := schnorr.Sign(key, sighash)
			require.NoError(t, err)
			signatures[hex.EncodeToString(schnorr.SerializePubKey(key.PubKey()))] = sig.Serialize()
		}

		witness, err := funding.Witness(signatures)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		engine, err := txscript.NewEngine(
			pkScript, tx, 0, txscript.StandardVerifyFlags, nil, sigHashes,
			prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute())

		delete(signatures, hex.EncodeToString(schnorr.SerializePubKey(keyB.PubKey())))
		_, err = funding.Witness(signatures)
		require.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := script.NewFundingScript(keyA.PubKey(), keyA.PubKey())
		require.Error(t, err)
		_, err = script.NewFundingScript(keyA.PubKey(), nil)
		require.Error(t, err)
	})
}
