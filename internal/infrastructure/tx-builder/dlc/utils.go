package txbuilder

import (
	"encoding/hex"
	"fmt"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// SpendFee returns the fee of a tx spending the funding output to the payout
// scripts of the counterparties. The offerer pays the odd satoshi.
func SpendFee(terms domain.ContractTerms) (offerFee, acceptFee uint64, err error) {
	return spendFees(terms)
}

func spendFees(terms domain.ContractTerms) (uint64, uint64, error) {
	funding, err := fundingScript(terms)
	if err != nil {
		return 0, 0, err
	}
	controlBlock, err := funding.ControlBlock()
	if err != nil {
		return 0, 0, err
	}
	ctrlBlock, err := txscript.ParseControlBlock(controlBlock)
	if err != nil {
		return 0, 0, err
	}

	weightEstimator := &input.TxWeightEstimator{}
	// Two schnorr signatures satisfy the funding leaf.
	weightEstimator.AddTapscriptInput(64*2, &waddrmgr.Tapscript{
		RevealedScript: funding.Leaf().Script,
		ControlBlock:   ctrlBlock,
	})
	for _, script := range []string{terms.Offer.PayoutScript, terms.Accept.PayoutScript} {
		pkScript, err := hex.DecodeString(script)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid payout script: %s", err)
		}
		weightEstimator.AddOutput(pkScript)
	}

	offerFee, acceptFee := splitFee(feeForVSize(terms.FeeRate, lntypes.VByte(weightEstimator.VSize())))
	return offerFee, acceptFee, nil
}

// The shared part of the funding tx is split, each party pays for its own
// inputs and change output.
func fundingFees(terms domain.ContractTerms) (uint64, uint64, error) {
	shared := &input.TxWeightEstimator{}
	shared.AddP2TROutput()
	offerShared, acceptShared := splitFee(feeForVSize(terms.FeeRate, lntypes.VByte(shared.VSize())))

	offerWeight, err := partyFundingWeight(terms.Offer)
	if err != nil {
		return 0, 0, err
	}
	acceptWeight, err := partyFundingWeight(terms.Accept)
	if err != nil {
		return 0, 0, err
	}
	offerFee := offerShared + feeForVSize(terms.FeeRate, offerWeight.ToVB())
	acceptFee := acceptShared + feeForVSize(terms.FeeRate, acceptWeight.ToVB())
	return offerFee, acceptFee, nil
}

// partyFundingWeight is the weight added to the funding tx by the inputs and
// the change output of a party. Wallet inputs are taproot key spends.
func partyFundingWeight(party domain.PartyParams) (lntypes.WeightUnit, error) {
	if len(party.Inputs) <= 0 {
		return 0, nil
	}
	pkScript, err := hex.DecodeString(changeScript(party))
	if err != nil {
		return 0, fmt.Errorf("invalid change script: %s", err)
	}

	weightEstimator := &input.TxWeightEstimator{}
	empty := weightEstimator.Weight()
	for range party.Inputs {
		weightEstimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
	}
	weightEstimator.AddOutput(pkScript)
	return weightEstimator.Weight() - empty, nil
}

// feeForVSize expects a fee rate in sat/vbyte already capped by the terms
// validation.
func feeForVSize(feeRate uint64, vsize lntypes.VByte) uint64 {
	fee := chainfee.SatPerKVByte(feeRate * 1000).FeeForVSize(vsize)
	return uint64(fee)
}

func splitFee(fee uint64) (uint64, uint64) {
	return fee - fee/2, fee / 2
}

func subtractFee(amount, fee uint64) uint64 {
	if amount <= fee {
		return 0
	}
	return amount - fee
}

func changeScript(party domain.PartyParams) string {
	if len(party.ChangeScript) > 0 {
		return party.ChangeScript
	}
	return party.PayoutScript
}

// newOutput returns nil for outputs below the dust limit.
func newOutput(amount uint64, script string) (*wire.TxOut, error) {
	if amount <= 0 {
		return nil, nil
	}
	pkScript, err := hex.DecodeString(script)
	if err != nil {
		return nil, fmt.Errorf("invalid output script: %s", err)
	}
	out := wire.NewTxOut(int64(amount), pkScript)
	if mempool.IsDust(out, mempool.DefaultMinRelayTxFee) {
		return nil, nil
	}
	return out, nil
}

func toOutpoint(in domain.FundingInput) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(in.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid funding input txid %s: %s", in.Txid, err)
	}
	return wire.NewOutPoint(hash, in.VOut), nil
}
