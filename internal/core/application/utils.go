package application

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/coinset"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var coinSelector = coinset.MinNumberCoinSelector{
	MaxInputs:       20,
	MinChangeAmount: 1000,
}

// coin implements coinset.Coin interface
type coin struct {
	utxo ports.Utxo
	hash chainhash.Hash
}

func (u coin) Value() btcutil.Amount {
	return btcutil.Amount(u.utxo.Amount)
}

func (u coin) ValueAge() int64 {
	return int64(u.utxo.Amount) * int64(u.utxo.Confirmations)
}

func (u coin) PkScript() []byte {
	script, err := hex.DecodeString(u.utxo.Script)
	if err != nil {
		return nil
	}
	return script
}

func (u coin) Hash() *chainhash.Hash {
	return &u.hash
}

func (u coin) Index() uint32 {
	return u.utxo.VOut
}

func (u coin) NumConfs() int64 {
	return int64(u.utxo.Confirmations)
}

// selectFundingInputs selects confirmed wallet utxos covering the collateral
// and the party share of the funding fee.
func selectFundingInputs(
	ctx context.Context, chain ports.BlockchainService, address, pkScript string,
	collateral, feeRate uint64, minConfirmations uint32,
) ([]domain.FundingInput, error) {
	if collateral <= 0 {
		return nil, nil
	}

	utxos, err := chain.FetchUtxos(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet utxos: %w", err)
	}

	coins := make([]coinset.Coin, 0, len(utxos))
	for _, u := range utxos {
		if u.Confirmations < minConfirmations {
			continue
		}
		hash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			continue
		}
		coins = append(coins, coin{u, *hash})
	}

	changeScript, err := hex.DecodeString(pkScript)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet script: %s", err)
	}

	numOfInputs := 1
	for {
		fee := fundingFeeEstimate(numOfInputs, changeScript, feeRate)
		selected, err := coinSelector.CoinSelect(btcutil.Amount(collateral+fee), coins)
		if err != nil {
			return nil, fmt.Errorf(
				"not enough funds to cover collateral %d plus fees %d: %s", collateral, fee, err,
			)
		}
		if n := len(selected.Coins()); n > numOfInputs {
			numOfInputs = n
			continue
		}

		inputs := make([]domain.FundingInput, 0, len(selected.Coins()))
		for _, c := range selected.Coins() {
			inputs = append(inputs, domain.FundingInput{
				Txid:     c.Hash().String(),
				VOut:     c.Index(),
				Amount:   uint64(c.Value()),
				PkScript: pkScript,
			})
		}
		return inputs, nil
	}
}

// fundingFeeEstimate bounds the party share of the funding fee, the whole
// funding output is accounted for.
func fundingFeeEstimate(numOfInputs int, changeScript []byte, feeRate uint64) uint64 {
	weightEstimator := &input.TxWeightEstimator{}
	weightEstimator.AddP2TROutput()
	for i := 0; i < numOfInputs; i++ {
		weightEstimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
	}
	weightEstimator.AddOutput(changeScript)

	vsize := lntypes.VByte(weightEstimator.VSize())
	return uint64(chainfee.SatPerKVByte(feeRate * 1000).FeeForVSize(vsize))
}
