package script

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// 0250929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0
var unspendablePoint = []byte{
	0x02, 0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a,
	0x5e, 0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

// UnspendableKey is the NUMS point used as taproot internal key so that the
// funding output can only be spent through its script path.
func UnspendableKey() *btcec.PublicKey {
	key, _ := btcec.ParsePubKey(unspendablePoint)
	return key
}

func P2TRScript(taprootKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(taprootKey)).
		Script()
}

// FundingScript is the 2-of-2 taproot output locking the contract collateral.
// Its only leaf is a multisig closure of both parties' funding keys, sorted
// by x-only encoding so that both parties derive the same output.
type FundingScript struct {
	Closure *MultisigClosure

	tree *txscript.IndexedTapScriptTree
	leaf txscript.TapLeaf
}

func NewFundingScript(pubkeyA, pubkeyB *btcec.PublicKey) (*FundingScript, error) {
	if pubkeyA == nil || pubkeyB == nil {
		return nil, fmt.Errorf("missing funding pubkey")
	}
	keys := []*btcec.PublicKey{pubkeyA, pubkeyB}
	sort.SliceStable(keys, func(i, j int) bool {
		return bytes.Compare(
			schnorr.SerializePubKey(keys[i]), schnorr.SerializePubKey(keys[j]),
		) < 0
	})
	if bytes.Equal(schnorr.SerializePubKey(keys[0]), schnorr.SerializePubKey(keys[1])) {
		return nil, fmt.Errorf("funding pubkeys must be distinct")
	}

	closure := &MultisigClosure{PubKeys: keys}
	leafScript, err := closure.Script()
	if err != nil {
		return nil, err
	}
	leaf := txscript.NewBaseTapLeaf(leafScript)
	tree := txscript.AssembleTaprootScriptTree(leaf)

	return &FundingScript{Closure: closure, tree: tree, leaf: leaf}, nil
}

func (f *FundingScript) TaprootKey() *btcec.PublicKey {
	root := f.tree.RootNode.TapHash()
	return txscript.ComputeTaprootOutputKey(UnspendableKey(), root[:])
}

func (f *FundingScript) PkScript() ([]byte, error) {
	return P2TRScript(f.TaprootKey())
}

func (f *FundingScript) Address(net *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(f.TaprootKey()), net,
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (f *FundingScript) Leaf() txscript.TapLeaf {
	return f.leaf
}

func (f *FundingScript) ControlBlock() ([]byte, error) {
	proof := f.tree.LeafMerkleProofs[0]
	controlBlock := proof.ToControlBlock(UnspendableKey())
	return controlBlock.ToBytes()
}

// Witness returns the script path witness spending the funding output with
// the signatures of both parties, keyed by hex x-only pubkey.
func (f *FundingScript) Witness(signatures map[string][]byte) (wire.TxWitness, error) {
	controlBlock, err := f.ControlBlock()
	if err != nil {
		return nil, err
	}
	return f.Closure.Witness(controlBlock, signatures)
}
