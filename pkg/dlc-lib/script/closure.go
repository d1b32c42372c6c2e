package script

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MultisigClosure is a closure that contains a list of public keys and a
// CHECKSIG for each key. The witness size is 64 bytes per key, admitting the
// sighash type is SIGHASH_DEFAULT.
type MultisigClosure struct {
	PubKeys []*btcec.PublicKey
}

func (f *MultisigClosure) Script() ([]byte, error) {
	if len(f.PubKeys) == 0 {
		return nil, fmt.Errorf("missing pubkeys")
	}
	scriptBuilder := txscript.NewScriptBuilder()
	for i, pubkey := range f.PubKeys {
		scriptBuilder.AddData(schnorr.SerializePubKey(pubkey))
		if i == len(f.PubKeys)-1 {
			scriptBuilder.AddOp(txscript.OP_CHECKSIG)
			continue
		}
		scriptBuilder.AddOp(txscript.OP_CHECKSIGVERIFY)
	}
	return scriptBuilder.Script()
}

func (f *MultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("failed to decode: script is empty")
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	pubkeys := make([]*btcec.PublicKey, 0)

	for tokenizer.Next() {
		if tokenizer.Opcode() != txscript.OP_DATA_32 {
			return false, nil
		}
		pubkey, err := schnorr.ParsePubKey(tokenizer.Data())
		if err != nil {
			return false, err
		}
		pubkeys = append(pubkeys, pubkey)

		if !tokenizer.Next() {
			return false, nil
		}
		if tokenizer.Opcode() != txscript.OP_CHECKSIGVERIFY {
			break
		}
	}

	// This should be the last operation
	if tokenizer.Err() != nil || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return false, nil
	}
	if len(pubkeys) == 0 {
		return false, nil
	}

	f.PubKeys = pubkeys
	rebuilt, err := f.Script()
	if err != nil {
		f.PubKeys = nil
		return false, err
	}
	if !bytes.Equal(rebuilt, script) {
		f.PubKeys = nil
		return false, nil
	}
	return true, nil
}

func (f *MultisigClosure) Witness(
	controlBlock []byte, signatures map[string][]byte,
) (wire.TxWitness, error) {
	witness := make(wire.TxWitness, 0, len(f.PubKeys)+2)

	// Add signatures in the reverse order as public keys
	for i := len(f.PubKeys) - 1; i >= 0; i-- {
		xOnlyPubkey := schnorr.SerializePubKey(f.PubKeys[i])
		sig, ok := signatures[hex.EncodeToString(xOnlyPubkey)]
		if !ok {
			return nil, fmt.Errorf("missing signature for pubkey %x", xOnlyPubkey)
		}
		witness = append(witness, sig)
	}

	script, err := f.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}

	witness = append(witness, script)
	witness = append(witness, controlBlock)
	return witness, nil
}
